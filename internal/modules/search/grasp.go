package search

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
)

// restartSeedStride separates the random streams of GRASP restarts.
const restartSeedStride = 1_000_003

// GRASPOptions configures the GRASP driver.
type GRASPOptions struct {
	// Iterations is the number of independent restarts.
	Iterations int `json:"iterations" yaml:"iterations"`
	// Alpha widens the restricted candidate list: 0 is pure greedy, 1 takes
	// any candidate with the best major score.
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Seed  int64   `json:"seed" yaml:"seed"`
	// MaxLocalSteps bounds the accepted swaps per restart.
	MaxLocalSteps int `json:"max_local_steps" yaml:"max_local_steps"`
}

// DefaultGRASPOptions returns the GRASP defaults.
func DefaultGRASPOptions() GRASPOptions {
	return GRASPOptions{Iterations: 5, Alpha: 0.1, MaxLocalSteps: 1000}
}

// Validate checks the options.
func (o GRASPOptions) Validate() error {
	if o.Iterations < 1 {
		return fmt.Errorf("search: grasp iterations must be at least 1, got %d", o.Iterations)
	}
	if o.Alpha < 0 || o.Alpha > 1 || math.IsNaN(o.Alpha) {
		return fmt.Errorf("search: grasp alpha must be in [0, 1], got %v", o.Alpha)
	}
	if o.MaxLocalSteps < 0 {
		return fmt.Errorf("search: negative max_local_steps %d", o.MaxLocalSteps)
	}
	return nil
}

// GRASP runs independent randomized-greedy constructions, each followed by
// first-improvement swap local search, and keeps the best local optimum.
// Restarts run in parallel, each with its own seeded source, and are merged
// by score with ties going to the lower restart index.
type GRASP struct {
	opts GRASPOptions
	pool *workers.WorkerPool
	log  zerolog.Logger
}

// NewGRASP creates a GRASP driver. Restarts are spread over pool.
func NewGRASP(opts GRASPOptions, pool *workers.WorkerPool, log zerolog.Logger) (*GRASP, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = workers.NewWorkerPool(0)
	}
	return &GRASP{
		opts: opts,
		pool: pool,
		log:  log.With().Str("component", "search").Str("driver", "grasp").Logger(),
	}, nil
}

// Name returns "grasp".
func (g *GRASP) Name() string { return "grasp" }

type restartOutcome struct {
	selected    []int
	eval        scoring.Evaluation
	steps       int
	evaluations int
}

// Search returns ErrExhausted, with the best partial set, when no restart
// constructs a complete set.
func (g *GRASP) Search(ctx context.Context, p Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	outcomes := make([]restartOutcome, g.opts.Iterations)
	tasks := make([]func(context.Context) error, g.opts.Iterations)
	for r := range tasks {
		r := r
		tasks[r] = func(ctx context.Context) error {
			rng := rand.New(rand.NewSource(g.opts.Seed + int64(r)*restartSeedStride))
			out, err := g.restart(ctx, p, r, rng)
			if err != nil {
				return fmt.Errorf("restart %d: %w", r, err)
			}
			outcomes[r] = out
			return nil
		}
	}
	if err := g.pool.Run(ctx, tasks...); err != nil {
		return nil, err
	}

	res := &Result{Driver: g.Name(), Iterations: g.opts.Iterations}
	best := -1
	for r, out := range outcomes {
		res.Evaluations += out.evaluations
		if best < 0 {
			best = r
			continue
		}
		cur := outcomes[best]
		switch {
		case out.eval.Complete && !cur.eval.Complete:
			best = r
		case out.eval.Complete == cur.eval.Complete && out.eval.Score.Less(cur.eval.Score):
			best = r
		}
	}
	res.Selected = outcomes[best].selected
	res.Evaluation = outcomes[best].eval

	g.log.Debug().Int("best_restart", best).Str("score", res.Evaluation.Score.String()).Bool("complete", res.Evaluation.Complete).Msg("GRASP merged restarts")
	if !res.Evaluation.Complete {
		return res, ErrExhausted
	}
	return res, nil
}

func (g *GRASP) restart(ctx context.Context, p Problem, r int, rng *rand.Rand) (restartOutcome, error) {
	obj := p.Objective
	sel := forcedSet(p)
	cur, err := obj.Evaluate(sel)
	if err != nil {
		return restartOutcome{}, err
	}
	out := restartOutcome{evaluations: 1}

	// Construction.
	for !(cur.Complete && len(sel) >= p.TargetSize) {
		if err := ctx.Err(); err != nil {
			return restartOutcome{}, err
		}
		free := unused(obj.Size(), sel)
		if len(free) == 0 {
			break
		}
		evals := make([]scoring.Evaluation, len(free))
		for i, idx := range free {
			if evals[i], err = obj.Evaluate(withAdded(sel, idx)); err != nil {
				return restartOutcome{}, err
			}
		}
		out.evaluations += len(evals)

		rcl := restricted(evals, g.opts.Alpha)
		pick := rcl[rng.Intn(len(rcl))]
		if !cur.Complete && evals[pick].Score.Major >= cur.Score.Major {
			break
		}
		sel = withAdded(sel, free[pick])
		cur = evals[pick]
		p.observe(Step{Driver: g.Name(), Restart: r, Iteration: len(sel), Move: "construct", Selected: sel, Score: cur.Score, Complete: cur.Complete})
	}
	if !cur.Complete {
		out.selected, out.eval = sel, cur
		return out, nil
	}

	// Local search: first improving swap in random order.
	for out.steps < g.opts.MaxLocalSteps {
		if err := ctx.Err(); err != nil {
			return restartOutcome{}, err
		}
		free := unused(obj.Size(), sel)
		type move struct{ pos, idx int }
		var moves []move
		for pos, s := range sel {
			if isForced(p, s) {
				continue
			}
			for _, idx := range free {
				moves = append(moves, move{pos, idx})
			}
		}
		rng.Shuffle(len(moves), func(i, j int) { moves[i], moves[j] = moves[j], moves[i] })

		improved := false
		for _, mv := range moves {
			cand := withSwapped(sel, mv.pos, mv.idx)
			ev, err := obj.Evaluate(cand)
			if err != nil {
				return restartOutcome{}, err
			}
			out.evaluations++
			if ev.Complete && ev.Score.Less(cur.Score) {
				sel, cur = cand, ev
				improved = true
				break
			}
		}
		if !improved {
			break
		}
		out.steps++
		p.observe(Step{Driver: g.Name(), Restart: r, Iteration: out.steps, Move: "swap", Selected: sel, Score: cur.Score, Complete: true})
	}

	out.selected, out.eval = sel, cur
	return out, nil
}

// restricted returns the candidates whose major score is the best and whose
// minor score lies within alpha of the best-to-worst finite range. Without
// finite minors every best-major candidate qualifies.
func restricted(evals []scoring.Evaluation, alpha float64) []int {
	bestMajor := math.MaxInt
	for _, ev := range evals {
		if ev.Score.Major < bestMajor {
			bestMajor = ev.Score.Major
		}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	var tier []int
	for i, ev := range evals {
		if ev.Score.Major != bestMajor {
			continue
		}
		tier = append(tier, i)
		if m := ev.Score.Minor; !math.IsInf(m, 0) && !math.IsNaN(m) {
			lo = math.Min(lo, m)
			hi = math.Max(hi, m)
		}
	}
	if math.IsInf(lo, 1) {
		return tier
	}
	cut := lo + alpha*(hi-lo)
	var rcl []int
	for _, i := range tier {
		if m := evals[i].Score.Minor; m <= cut {
			rcl = append(rcl, i)
		}
	}
	return rcl
}
