package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/gstdesign/internal/modules/progress"
	"github.com/rs/zerolog"
)

// State is a phase of a selection run.
type State int

const (
	StateBuildingPool State = iota
	StateCheckingInitialCompleteness
	StateFailed
	StateSearching
	StateConverged
	StateReturningBest
)

var stateNames = map[State]string{
	StateBuildingPool:                "building_pool",
	StateCheckingInitialCompleteness: "checking_initial_completeness",
	StateFailed:                      "failed",
	StateSearching:                   "searching",
	StateConverged:                   "converged",
	StateReturningBest:               "returning_best",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st, n := range stateNames {
		if n == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

var transitions = map[State][]State{
	StateBuildingPool:                {StateCheckingInitialCompleteness, StateFailed},
	StateCheckingInitialCompleteness: {StateSearching, StateFailed},
	StateSearching:                   {StateConverged, StateFailed},
	StateConverged:                   {StateReturningBest},
}

// ErrInvalidTransition is returned when a run skips or repeats a state.
var ErrInvalidTransition = errors.New("search: invalid state transition")

// Machine tracks the state of one selection run.
type Machine struct {
	mu       sync.Mutex
	state    State
	history  []State
	log      zerolog.Logger
	progress progress.DetailedCallback
}

// NewMachine starts a run in StateBuildingPool.
func NewMachine(log zerolog.Logger, cb progress.DetailedCallback) *Machine {
	m := &Machine{
		state:    StateBuildingPool,
		history:  []State{StateBuildingPool},
		log:      log.With().Str("component", "search").Logger(),
		progress: cb,
	}
	progress.CallDetailed(cb, progress.Update{Phase: StateBuildingPool.String(), Message: "Building candidate pool"})
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state entered, in order.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// Advance moves to the next state.
func (m *Machine) Advance(to State, details map[string]any) error {
	m.mu.Lock()
	from := m.state
	allowed := false
	for _, s := range transitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.history = append(m.history, to)
	m.mu.Unlock()

	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Fields(details).Msg("State transition")
	progress.CallDetailed(m.progress, progress.Update{
		Phase:   to.String(),
		Message: "Entered " + to.String(),
		Details: details,
	})
	return nil
}

// Fail moves to StateFailed from any state that allows it.
func (m *Machine) Fail(reason error) error {
	return m.Advance(StateFailed, map[string]any{"reason": reason.Error()})
}

// Run drives a search through the state machine. The machine must be in
// StateBuildingPool with the pool already built. If the full pool is not
// complete, or smaller than the target size, Run fails with
// ErrPoolIncomplete without searching. The returned result is non-nil
// whenever an evaluation was made, including on failure.
func Run(ctx context.Context, m *Machine, d Driver, p Problem) (*Result, error) {
	if err := m.Advance(StateCheckingInitialCompleteness, nil); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	size := p.Objective.Size()
	full := make([]int, size)
	for i := range full {
		full[i] = i
	}
	ev, err := p.Objective.Evaluate(full)
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}
	initial := &Result{Driver: d.Name(), Selected: full, Evaluation: ev, Evaluations: 1}
	if size < p.TargetSize {
		err := fmt.Errorf("%w: %d candidates, need at least %d", ErrPoolIncomplete, size, p.TargetSize)
		_ = m.Fail(err)
		return initial, err
	}
	if !ev.Complete {
		err := fmt.Errorf("%w: full pool spans %d of %d directions", ErrPoolIncomplete, ev.Informative, ev.Required)
		_ = m.Fail(err)
		return initial, err
	}

	if err := m.Advance(StateSearching, map[string]any{"driver": d.Name(), "pool_size": size}); err != nil {
		return nil, err
	}
	res, err := d.Search(ctx, p)
	if err != nil {
		_ = m.Fail(err)
		return res, err
	}
	if err := m.Advance(StateConverged, map[string]any{"iterations": res.Iterations, "evaluations": res.Evaluations}); err != nil {
		return nil, err
	}
	if err := m.Advance(StateReturningBest, map[string]any{"size": len(res.Selected)}); err != nil {
		return nil, err
	}
	return res, nil
}
