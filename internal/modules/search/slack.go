package search

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
)

// SlackOptions configures the slack driver. FixedSlack, when positive, is an
// additive allowance on the minor score; otherwise SlackFrac times the
// current minor score is used.
type SlackOptions struct {
	MaxIter    int     `json:"max_iter" yaml:"max_iter"`
	SlackFrac  float64 `json:"slack_frac" yaml:"slack_frac"`
	FixedSlack float64 `json:"fixed_slack" yaml:"fixed_slack"`
}

// DefaultSlackOptions returns the slack defaults.
func DefaultSlackOptions() SlackOptions {
	return SlackOptions{MaxIter: 100, SlackFrac: 0.1}
}

// Validate checks the options.
func (o SlackOptions) Validate() error {
	if o.MaxIter < 1 {
		return fmt.Errorf("search: slack max_iter must be at least 1, got %d", o.MaxIter)
	}
	if o.FixedSlack < 0 || o.SlackFrac < 0 {
		return fmt.Errorf("search: slack must be non-negative")
	}
	if o.FixedSlack == 0 && o.SlackFrac == 0 {
		return fmt.Errorf("search: one of slack_frac and fixed_slack must be positive")
	}
	return nil
}

// Slack starts from the whole pool and walks to smaller sets. A neighbour
// (one removal, or one swap with an unused candidate) is acceptable when it
// is complete, unvisited and scores within the slack of the current set.
// Removals are preferred, then the lowest score. The best complete set of
// the smallest size reached is returned.
type Slack struct {
	opts SlackOptions
	pool *workers.WorkerPool
	log  zerolog.Logger
}

// NewSlack creates a slack driver. Neighbours are scored on pool.
func NewSlack(opts SlackOptions, pool *workers.WorkerPool, log zerolog.Logger) (*Slack, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = workers.NewWorkerPool(0)
	}
	return &Slack{
		opts: opts,
		pool: pool,
		log:  log.With().Str("component", "search").Str("driver", "slack").Logger(),
	}, nil
}

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

func (s *Slack) allowance(cur scoring.Score) float64 {
	if s.opts.FixedSlack > 0 {
		return s.opts.FixedSlack
	}
	return s.opts.SlackFrac * math.Abs(cur.Minor)
}

// Search returns ErrExhausted when the whole pool is not complete.
func (s *Slack) Search(ctx context.Context, p Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	obj := p.Objective

	sel := make([]int, obj.Size())
	for i := range sel {
		sel[i] = i
	}
	cur, err := obj.Evaluate(sel)
	if err != nil {
		return nil, err
	}
	res := &Result{Driver: s.Name(), Evaluations: 1}
	if !cur.Complete {
		res.Selected, res.Evaluation = sel, cur
		return res, ErrExhausted
	}

	visited := map[string]bool{setKey(sel): true}
	bestSel, best := sel, cur

	for res.Iterations < s.opts.MaxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var cands [][]int
		var removal []bool
		free := unused(obj.Size(), sel)
		for pos, idx := range sel {
			if isForced(p, idx) {
				continue
			}
			if len(sel) > p.TargetSize {
				cands = append(cands, withRemoved(sel, pos))
				removal = append(removal, true)
			}
			for _, f := range free {
				cands = append(cands, withSwapped(sel, pos, f))
				removal = append(removal, false)
			}
		}
		// Drop visited sets before scoring them.
		var fresh [][]int
		var freshRemoval []bool
		for i, c := range cands {
			if !visited[setKey(c)] {
				fresh = append(fresh, c)
				freshRemoval = append(freshRemoval, removal[i])
			}
		}
		if len(fresh) == 0 {
			break
		}

		evals, err := evaluateAll(ctx, s.pool, obj, fresh)
		if err != nil {
			return nil, err
		}
		res.Evaluations += len(evals)

		limit := cur.Score.Minor + s.allowance(cur.Score)
		pick := -1
		for i, ev := range evals {
			if !ev.Complete || ev.Score.Major > cur.Score.Major || !(ev.Score.Minor <= limit) {
				continue
			}
			if pick < 0 ||
				(freshRemoval[i] && !freshRemoval[pick]) ||
				(freshRemoval[i] == freshRemoval[pick] && ev.Score.Less(evals[pick].Score)) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}

		sel, cur = fresh[pick], evals[pick]
		visited[setKey(sel)] = true
		res.Iterations++
		move := "swap"
		if freshRemoval[pick] {
			move = "remove"
		}
		p.observe(Step{Driver: s.Name(), Iteration: res.Iterations, Move: move, Selected: sel, Score: cur.Score, Complete: true})

		if len(sel) < len(bestSel) || (len(sel) == len(bestSel) && cur.Score.Less(best.Score)) {
			bestSel, best = sel, cur
		}
	}

	s.log.Debug().Int("iterations", res.Iterations).Int("size", len(bestSel)).Str("score", best.Score.String()).Msg("Slack search finished")
	res.Selected, res.Evaluation = bestSel, best
	return res, nil
}
