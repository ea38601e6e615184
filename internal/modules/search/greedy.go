package search

import (
	"context"

	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
)

// GreedyOptions configures the greedy driver.
type GreedyOptions struct {
	// ExtendWhileImproving keeps adding candidates past the target size
	// while the score improves.
	ExtendWhileImproving bool `json:"extend_while_improving" yaml:"extend_while_improving"`
}

// Greedy grows the forced set one candidate at a time, always taking the
// candidate with the best composite score, so missing directions are filled
// before conditioning is improved.
type Greedy struct {
	opts GreedyOptions
	pool *workers.WorkerPool
	log  zerolog.Logger
}

// NewGreedy creates a greedy driver. Candidates are scored on pool.
func NewGreedy(opts GreedyOptions, pool *workers.WorkerPool, log zerolog.Logger) *Greedy {
	if pool == nil {
		pool = workers.NewWorkerPool(0)
	}
	return &Greedy{
		opts: opts,
		pool: pool,
		log:  log.With().Str("component", "search").Str("driver", "greedy").Logger(),
	}
}

// Name returns "greedy".
func (g *Greedy) Name() string { return "greedy" }

// Search returns ErrExhausted, with the partial set, when no candidate adds
// a missing direction to an incomplete set.
func (g *Greedy) Search(ctx context.Context, p Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	obj := p.Objective

	sel := forcedSet(p)
	cur, err := obj.Evaluate(sel)
	if err != nil {
		return nil, err
	}
	res := &Result{Driver: g.Name(), Evaluations: 1}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done := cur.Complete && len(sel) >= p.TargetSize
		if done && !g.opts.ExtendWhileImproving {
			break
		}
		free := unused(obj.Size(), sel)
		if len(free) == 0 {
			break
		}

		cands := make([][]int, len(free))
		for i, idx := range free {
			cands[i] = withAdded(sel, idx)
		}
		evals, err := evaluateAll(ctx, g.pool, obj, cands)
		if err != nil {
			return nil, err
		}
		res.Evaluations += len(evals)

		bi := argBest(evals)
		best := evals[bi]
		if !cur.Complete && best.Score.Major >= cur.Score.Major {
			g.log.Debug().Int("size", len(sel)).Int("informative", cur.Informative).Msg("No candidate adds a direction")
			break
		}
		if done && !best.Score.Less(cur.Score) {
			break
		}

		sel = cands[bi]
		cur = best
		res.Iterations++
		p.observe(Step{Driver: g.Name(), Iteration: res.Iterations, Move: "add", Selected: sel, Score: cur.Score, Complete: cur.Complete})
		g.log.Debug().Int("added", free[bi]).Int("size", len(sel)).Str("score", cur.Score.String()).Msg("Greedy step")
	}

	res.Selected = sel
	res.Evaluation = cur
	if !cur.Complete {
		return res, ErrExhausted
	}
	return res, nil
}
