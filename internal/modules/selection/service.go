// Package selection is the top-level policy for choosing fiducials and
// germs: it builds the candidate pool, scores it, runs the configured search
// driver and reports either the winning set or a failure value.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/gstdesign/internal/modules/amplification"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/processcache"
	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/modules/search"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Service runs selections. It holds no per-model state; every call gets its
// own process cache.
type Service struct {
	pool *workers.WorkerPool
	log  zerolog.Logger
}

// NewService creates a selection service.
func NewService(wp *workers.WorkerPool, log zerolog.Logger) *Service {
	if wp == nil {
		wp = workers.NewWorkerPool(0)
	}
	return &Service{
		pool: wp,
		log:  log.With().Str("component", "selection").Logger(),
	}
}

// minimumFiducials is the fewest circuits that can span d² directions: every
// prep circuit adds one vector, every meas circuit at most nEffects-1 new
// directions beyond the shared identity.
func minimumFiducials(role pool.Role, gs model.GateSet) int {
	dim := gs.Dim()
	if role == pool.RolePrep {
		return dim
	}
	per := len(gs.Effects()) - 1
	if per < 1 {
		return dim
	}
	return (dim - 1 + per - 1) / per
}

// traceRecorder collects accepted moves and logs them by verbosity.
type traceRecorder struct {
	mu        sync.Mutex
	steps     []search.Step
	verbosity int
	log       zerolog.Logger
}

func (t *traceRecorder) observe(s search.Step) {
	ev := t.log.Debug()
	if t.verbosity >= 2 {
		ev = t.log.Info()
	}
	ev.Str("driver", s.Driver).
		Int("restart", s.Restart).
		Int("iteration", s.Iteration).
		Str("move", s.Move).
		Ints("selected", s.Selected).
		Str("score", s.Score.String()).
		Bool("complete", s.Complete).
		Msg("Search step")

	if t.verbosity >= 1 {
		t.mu.Lock()
		t.steps = append(t.steps, s)
		t.mu.Unlock()
	}
}

// outcome is what every selection shares.
type outcome struct {
	selected   []circuits.Circuit
	evaluation scoring.Evaluation
	states     []search.State
	trace      []search.Step
	failure    *Failure
	poolSize   int
	dropped    pool.DropCounts
}

// run builds a problem from a pool and its contributions, and drives the
// search through the state machine.
func (s *Service) run(ctx context.Context, m *search.Machine, cfg Config, p *pool.Pool, obj *scoring.Objective, target int) (*outcome, error) {
	rec := &traceRecorder{verbosity: cfg.Verbosity, log: s.log}
	driver, err := cfg.driver(s.pool, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.TargetSize > target {
		target = cfg.TargetSize
	}
	res, err := search.Run(ctx, m, driver, search.Problem{
		Objective:  obj,
		Forced:     p.Forced,
		TargetSize: target,
		Observer:   rec.observe,
	})

	out := &outcome{states: m.History(), trace: rec.steps, poolSize: p.Size(), dropped: p.Dropped}
	if res != nil {
		out.evaluation = res.Evaluation
	}
	switch {
	case errors.Is(err, search.ErrPoolIncomplete):
		out.failure = &Failure{Kind: FailurePoolInsufficient, Message: err.Error()}
	case errors.Is(err, search.ErrExhausted):
		out.failure = &Failure{Kind: FailureSearchExhausted, Message: err.Error()}
	case err != nil:
		return nil, err
	default:
		out.selected = make([]circuits.Circuit, len(res.Selected))
		for i, idx := range res.Selected {
			out.selected[i] = p.Circuits[idx]
		}
	}
	if out.failure != nil {
		out.failure.Informative = out.evaluation.Informative
		out.failure.Required = out.evaluation.Required
	}
	return out, nil
}

// SelectFiducials selects preparation or measurement fiducials. Failures to
// reach completeness are reported in the result; errors mean the call could
// not run.
func (s *Service) SelectFiducials(ctx context.Context, target model.GateSet, role pool.Role, cfg Config) (*FiducialResult, error) {
	if !role.IsFiducial() {
		return nil, fmt.Errorf("%w: role %q is not a fiducial role", ErrInvalidConfig, role)
	}
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	m := search.NewMachine(s.log, cfg.Progress)

	cache := processcache.New(target)
	p, err := pool.NewGenerator(cache, s.log).Build(role, pool.Options{
		Schedule:     cfg.Schedule,
		OmitIdentity: cfg.OmitIdentity,
		OpsToOmit:    cfg.OpsToOmit,
		Force:        cfg.forced(role, target.Labels()),
		Seed:         cfg.Seed,
	})
	if err != nil {
		_ = m.Fail(err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	contribs, err := workers.Map(ctx, s.pool, p.Circuits, func(_ context.Context, c circuits.Circuit) (*mat.SymDense, error) {
		if role == pool.RolePrep {
			v, err := cache.PrepVector(c)
			if err != nil {
				return nil, err
			}
			return scoring.VectorContribution(v), nil
		}
		vs, err := cache.EffectVectors(c)
		if err != nil {
			return nil, err
		}
		return scoring.VectorContribution(vs...), nil
	})
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	obj, err := scoring.NewObjective(scoring.Spectrum{
		Required:  target.Dim(),
		Policy:    cfg.ScorePolicy,
		Threshold: cfg.Threshold,
	}, contribs)
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	out, err := s.run(ctx, m, cfg, p, obj, minimumFiducials(role, target))
	if err != nil {
		return nil, err
	}

	res := &FiducialResult{
		Role:        role,
		Algorithm:   cfg.Algorithm,
		Fiducials:   out.selected,
		Complete:    out.failure == nil && out.evaluation.Complete,
		Evaluation:  out.evaluation,
		Threshold:   cfg.Threshold,
		PoolSize:    out.poolSize,
		Dropped:     out.dropped,
		States:      out.states,
		Trace:       out.trace,
		Failure:     out.failure,
		Diagnostics: cfg.Diagnostics,
	}
	s.logOutcome(string(role), target.Name(), res.Complete, len(res.Fiducials), out)
	return res, nil
}

// SelectFiducialPair selects prep and meas fiducials independently.
func (s *Service) SelectFiducialPair(ctx context.Context, target model.GateSet, cfg Config) (*FiducialPairResult, error) {
	prep, err := s.SelectFiducials(ctx, target, pool.RolePrep, cfg)
	if err != nil {
		return nil, fmt.Errorf("prep fiducials: %w", err)
	}
	meas, err := s.SelectFiducials(ctx, target, pool.RoleMeas, cfg)
	if err != nil {
		return nil, fmt.Errorf("meas fiducials: %w", err)
	}
	return &FiducialPairResult{Prep: prep, Meas: meas}, nil
}

// SelectGerms selects an amplificationally complete germ set.
func (s *Service) SelectGerms(ctx context.Context, target model.Target, cfg Config) (*GermResult, error) {
	if err := cfg.Validate(pool.RoleGerm); err != nil {
		return nil, err
	}
	m := search.NewMachine(s.log, cfg.Progress)

	analyzer, err := amplification.NewAnalyzer(target, cfg.Amplification, s.pool, s.log)
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	// Germs are told apart on the first perturbed copy: sequences that only
	// differ by idle gates act alike on the target but not on its neighbours.
	p, err := pool.NewGenerator(analyzer.Cache(0), s.log).Build(pool.RoleGerm, pool.Options{
		Schedule:     cfg.Schedule,
		OmitIdentity: cfg.OmitIdentity,
		OpsToOmit:    cfg.OpsToOmit,
		Force:        cfg.forced(pool.RoleGerm, target.Labels()),
		Seed:         cfg.Seed,
	})
	if err != nil {
		_ = m.Fail(err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	copies, err := analyzer.Contributions(ctx, p.Circuits)
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	obj, err := scoring.NewObjective(scoring.Spectrum{
		Required:  analyzer.NumNonGaugeParams(),
		Policy:    cfg.ScorePolicy,
		Threshold: cfg.Threshold,
	}, copies...)
	if err != nil {
		_ = m.Fail(err)
		return nil, err
	}

	// A single germ can amplify many directions, so the only lower bound on
	// the set size is one. A pool that cannot reach the non-gauge count is
	// rejected by the full-pool check in search.Run.
	out, err := s.run(ctx, m, cfg, p, obj, 1)
	if err != nil {
		return nil, err
	}

	res := &GermResult{
		Algorithm:      cfg.Algorithm,
		Germs:          out.selected,
		Complete:       out.failure == nil && out.evaluation.Complete,
		Evaluation:     out.evaluation,
		Threshold:      cfg.Threshold,
		NumParams:      analyzer.NumParams(),
		NonGaugeParams: analyzer.NumNonGaugeParams(),
		NumCopies:      analyzer.NumCopies(),
		PoolSize:       out.poolSize,
		Dropped:        out.dropped,
		States:         out.states,
		Trace:          out.trace,
		Failure:        out.failure,
		Diagnostics:    cfg.Diagnostics,
	}
	s.logOutcome("germ", target.Name(), res.Complete, len(res.Germs), out)
	return res, nil
}

// Design selects fiducials and germs and expands them into the circuit list
// prep + germ^p + meas for every maximum length. Circuits are only listed
// when every selection succeeded.
func (s *Service) Design(ctx context.Context, target model.Target, fidCfg, germCfg Config, maxLengths []int) (*DesignResult, error) {
	for _, l := range maxLengths {
		if l < 1 {
			return nil, fmt.Errorf("%w: max lengths must be positive, got %d", ErrInvalidConfig, l)
		}
	}
	pair, err := s.SelectFiducialPair(ctx, target, fidCfg)
	if err != nil {
		return nil, err
	}
	germs, err := s.SelectGerms(ctx, target, germCfg)
	if err != nil {
		return nil, fmt.Errorf("germs: %w", err)
	}

	res := &DesignResult{Prep: pair.Prep, Meas: pair.Meas, Germs: germs, MaxLengths: maxLengths}
	if !res.Failed() {
		res.Circuits = circuits.ExpandDesign(pair.Prep.Fiducials, germs.Germs, pair.Meas.Fiducials, maxLengths)
	}
	return res, nil
}

func (s *Service) logOutcome(role, gateSet string, complete bool, size int, out *outcome) {
	if out.failure != nil {
		s.log.Warn().
			Str("role", role).
			Str("gate_set", gateSet).
			Int("pool_size", out.poolSize).
			Str("failure", string(out.failure.Kind)).
			Int("informative", out.failure.Informative).
			Int("required", out.failure.Required).
			Msg("Selection failed")
		return
	}
	s.log.Info().
		Str("role", role).
		Str("gate_set", gateSet).
		Int("pool_size", out.poolSize).
		Int("size", size).
		Bool("complete", complete).
		Str("score", out.evaluation.Score.String()).
		Msg("Selection finished")
}
