// Package search explores subsets of a candidate pool for the smallest,
// best-scoring complete set. Three drivers share one objective contract:
// Greedy, GRASP and Slack.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/workers"
)

var (
	// ErrPoolIncomplete means even the full pool fails completeness or holds
	// fewer candidates than the target size.
	ErrPoolIncomplete = errors.New("search: candidate pool cannot reach completeness")
	// ErrExhausted means the driver stopped without a complete set.
	ErrExhausted = errors.New("search: exhausted without a complete set")
	// ErrInvalidProblem is returned for malformed problems.
	ErrInvalidProblem = errors.New("search: invalid problem")
)

// Objective scores subsets of a pool of Size() candidates. Evaluate must be
// safe for concurrent use.
type Objective interface {
	Size() int
	Evaluate(selected []int) (scoring.Evaluation, error)
}

// Step is one accepted move, surfaced when a Problem has an Observer.
type Step struct {
	Driver    string        `json:"driver" msgpack:"driver"`
	Restart   int           `json:"restart" msgpack:"restart"`
	Iteration int           `json:"iteration" msgpack:"iteration"`
	Move      string        `json:"move" msgpack:"move"`
	Selected  []int         `json:"selected" msgpack:"selected"`
	Score     scoring.Score `json:"score" msgpack:"score"`
	Complete  bool          `json:"complete" msgpack:"complete"`
}

// Problem is one search over a pool.
type Problem struct {
	Objective Objective
	// Forced candidates start every search and are never removed.
	Forced []int
	// TargetSize is the smallest acceptable set size.
	TargetSize int
	// Observer, when non-nil, receives every accepted move. It may be called
	// from several goroutines.
	Observer func(Step)
}

// Validate checks forced indices and the target size.
func (p Problem) Validate() error {
	if p.Objective == nil {
		return fmt.Errorf("%w: nil objective", ErrInvalidProblem)
	}
	if p.TargetSize < 0 {
		return fmt.Errorf("%w: negative target size %d", ErrInvalidProblem, p.TargetSize)
	}
	for _, f := range p.Forced {
		if f < 0 || f >= p.Objective.Size() {
			return fmt.Errorf("%w: forced index %d outside pool of %d", ErrInvalidProblem, f, p.Objective.Size())
		}
	}
	return nil
}

func (p Problem) observe(s Step) {
	if p.Observer != nil {
		s.Selected = append([]int(nil), s.Selected...)
		p.Observer(s)
	}
}

// Result is the best set a driver found.
type Result struct {
	Driver      string             `json:"driver" msgpack:"driver"`
	Selected    []int              `json:"selected" msgpack:"selected"`
	Evaluation  scoring.Evaluation `json:"evaluation" msgpack:"evaluation"`
	Iterations  int                `json:"iterations" msgpack:"iterations"`
	Evaluations int                `json:"evaluations" msgpack:"evaluations"`
}

// Driver is a search algorithm.
type Driver interface {
	Name() string
	Search(ctx context.Context, p Problem) (*Result, error)
}

// forcedSet returns the distinct forced indices in order.
func forcedSet(p Problem) []int {
	seen := make(map[int]bool, len(p.Forced))
	out := make([]int, 0, len(p.Forced))
	for _, f := range p.Forced {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func isForced(p Problem, idx int) bool {
	for _, f := range p.Forced {
		if f == idx {
			return true
		}
	}
	return false
}

// unused returns the pool indices not in selected, ascending.
func unused(size int, selected []int) []int {
	in := make(map[int]bool, len(selected))
	for _, s := range selected {
		in[s] = true
	}
	out := make([]int, 0, size-len(selected))
	for i := 0; i < size; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}

func withAdded(sel []int, idx int) []int {
	out := make([]int, len(sel), len(sel)+1)
	copy(out, sel)
	return append(out, idx)
}

func withRemoved(sel []int, pos int) []int {
	out := make([]int, 0, len(sel)-1)
	out = append(out, sel[:pos]...)
	return append(out, sel[pos+1:]...)
}

func withSwapped(sel []int, pos, idx int) []int {
	out := append([]int(nil), sel...)
	out[pos] = idx
	return out
}

// setKey identifies a selection independent of order.
func setKey(sel []int) string {
	s := append([]int(nil), sel...)
	sort.Ints(s)
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// evaluateAll scores each candidate selection in parallel, keeping order.
func evaluateAll(ctx context.Context, wp *workers.WorkerPool, obj Objective, sels [][]int) ([]scoring.Evaluation, error) {
	return workers.Map(ctx, wp, sels, func(_ context.Context, sel []int) (scoring.Evaluation, error) {
		return obj.Evaluate(sel)
	})
}

// argBest returns the index of the best evaluation, the first on ties.
func argBest(evals []scoring.Evaluation) int {
	best := -1
	for i, ev := range evals {
		if best < 0 || ev.Score.Less(evals[best].Score) {
			best = i
		}
	}
	return best
}
