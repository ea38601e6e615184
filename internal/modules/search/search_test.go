package search

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/aristath/gstdesign/internal/modules/progress"
	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// vectorObjective scores sets of 3-vectors by the spectrum of Σ v vᵀ.
func vectorObjective(t *testing.T, vs ...[]float64) *scoring.Objective {
	t.Helper()
	contribs := make([]*mat.SymDense, len(vs))
	for i, v := range vs {
		contribs[i] = scoring.VectorContribution(mat.NewVecDense(len(v), v))
	}
	obj, err := scoring.NewObjective(scoring.Spectrum{Required: 3, Policy: scoring.PolicyAll, Threshold: 1e-6}, contribs)
	require.NoError(t, err)
	return obj
}

func spanningPool(t *testing.T) *scoring.Objective {
	return vectorObjective(t,
		[]float64{1, 0, 0},
		[]float64{0, 1, 0},
		[]float64{0, 0, 1},
		[]float64{1, 1, 0},
		[]float64{0, 1, 1},
	)
}

func planarPool(t *testing.T) *scoring.Objective {
	return vectorObjective(t,
		[]float64{1, 0, 0},
		[]float64{0, 1, 0},
		[]float64{1, 1, 0},
	)
}

func drivers(t *testing.T) []Driver {
	t.Helper()
	wp := workers.NewWorkerPool(2)
	grasp, err := NewGRASP(GRASPOptions{Iterations: 3, Alpha: 0.5, Seed: 9, MaxLocalSteps: 100}, wp, quietLogger())
	require.NoError(t, err)
	slack, err := NewSlack(SlackOptions{MaxIter: 50, FixedSlack: 1e9}, wp, quietLogger())
	require.NoError(t, err)
	return []Driver{NewGreedy(GreedyOptions{}, wp, quietLogger()), grasp, slack}
}

func TestGreedy_FillsMissingDirectionsFirst(t *testing.T) {
	g := NewGreedy(GreedyOptions{}, workers.NewWorkerPool(2), quietLogger())

	obj := vectorObjective(t,
		[]float64{1, 0, 0},
		[]float64{0, 1, 0},
		[]float64{0, 0, 1},
		[]float64{1, 1, 0},
	)
	res, err := g.Search(context.Background(), Problem{Objective: obj, Forced: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, res.Selected)
	assert.True(t, res.Evaluation.Complete)
	assert.Equal(t, -3, res.Evaluation.Score.Major)
	assert.InDelta(t, 9.0, res.Evaluation.Score.Minor, 1e-9)
	assert.Equal(t, 2, res.Iterations)
}

func TestGreedy_TargetSizeAndExtension(t *testing.T) {
	wp := workers.NewWorkerPool(2)
	obj := spanningPool(t)

	res, err := NewGreedy(GreedyOptions{}, wp, quietLogger()).Search(context.Background(), Problem{Objective: obj, TargetSize: 4})
	require.NoError(t, err)
	assert.Len(t, res.Selected, 4)
	assert.True(t, res.Evaluation.Complete)

	base, err := NewGreedy(GreedyOptions{}, wp, quietLogger()).Search(context.Background(), Problem{Objective: obj})
	require.NoError(t, err)
	ext, err := NewGreedy(GreedyOptions{ExtendWhileImproving: true}, wp, quietLogger()).Search(context.Background(), Problem{Objective: obj})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ext.Selected), len(base.Selected))
	assert.False(t, base.Evaluation.Score.Less(ext.Evaluation.Score))
}

func TestDrivers_ExhaustOnPlanarPool(t *testing.T) {
	for _, d := range drivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			res, err := d.Search(context.Background(), Problem{Objective: planarPool(t)})
			assert.ErrorIs(t, err, ErrExhausted)
			require.NotNil(t, res)
			assert.False(t, res.Evaluation.Complete)
		})
	}
}

func TestDrivers_ReturnCompleteSetsWithForced(t *testing.T) {
	for _, d := range drivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			res, err := d.Search(context.Background(), Problem{Objective: spanningPool(t), Forced: []int{3}})
			require.NoError(t, err)
			assert.True(t, res.Evaluation.Complete)
			assert.Contains(t, res.Selected, 3)

			// Completeness is checked independently of the driver.
			again, err := spanningPool(t).Evaluate(res.Selected)
			require.NoError(t, err)
			assert.True(t, again.Complete)
			assert.Equal(t, 3, again.Informative)
		})
	}
}

func TestGRASP_IsDeterministicForSeed(t *testing.T) {
	opts := GRASPOptions{Iterations: 4, Alpha: 1, Seed: 123, MaxLocalSteps: 100}
	run := func() *Result {
		g, err := NewGRASP(opts, workers.NewWorkerPool(4), quietLogger())
		require.NoError(t, err)
		res, err := g.Search(context.Background(), Problem{Objective: spanningPool(t), TargetSize: 3})
		require.NoError(t, err)
		return res
	}
	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.Selected, run().Selected)
	}
}

func TestGRASP_LocalSearchFindsOptimumOfItsSize(t *testing.T) {
	g, err := NewGRASP(GRASPOptions{Iterations: 2, Alpha: 1, Seed: 1, MaxLocalSteps: 100}, nil, quietLogger())
	require.NoError(t, err)

	res, err := g.Search(context.Background(), Problem{Objective: spanningPool(t), TargetSize: 3})
	require.NoError(t, err)
	// {x, y, z} is the unique best orthogonal triple.
	assert.ElementsMatch(t, []int{0, 1, 2}, res.Selected)
}

func TestSlack_ShrinksToSmallestCompleteSet(t *testing.T) {
	s, err := NewSlack(SlackOptions{MaxIter: 50, FixedSlack: 1e9}, nil, quietLogger())
	require.NoError(t, err)

	res, err := s.Search(context.Background(), Problem{Objective: spanningPool(t)})
	require.NoError(t, err)
	assert.Len(t, res.Selected, 3)
	assert.True(t, res.Evaluation.Complete)
	assert.LessOrEqual(t, res.Iterations, 50)
}

func TestSlack_RespectsTargetAndBudget(t *testing.T) {
	s, err := NewSlack(SlackOptions{MaxIter: 1, SlackFrac: 10}, nil, quietLogger())
	require.NoError(t, err)

	res, err := s.Search(context.Background(), Problem{Objective: spanningPool(t), TargetSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, res.Selected, 4)
}

func TestRun_StateMachine(t *testing.T) {
	wp := workers.NewWorkerPool(2)
	g := NewGreedy(GreedyOptions{}, wp, quietLogger())

	var phases []string
	var mu sync.Mutex
	m := NewMachine(quietLogger(), func(u progress.Update) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, u.Phase)
	})
	res, err := Run(context.Background(), m, g, Problem{Objective: spanningPool(t), Forced: []int{0}})
	require.NoError(t, err)
	assert.True(t, res.Evaluation.Complete)
	assert.Equal(t, []State{
		StateBuildingPool, StateCheckingInitialCompleteness, StateSearching, StateConverged, StateReturningBest,
	}, m.History())
	assert.Equal(t, []string{"building_pool", "checking_initial_completeness", "searching", "converged", "returning_best"}, phases)

	_, err = Run(context.Background(), m, g, Problem{Objective: spanningPool(t)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRun_FailsFastOnIncompletePool(t *testing.T) {
	g := NewGreedy(GreedyOptions{}, nil, quietLogger())

	m := NewMachine(quietLogger(), nil)
	res, err := Run(context.Background(), m, g, Problem{Objective: planarPool(t)})
	assert.ErrorIs(t, err, ErrPoolIncomplete)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Evaluation.Informative)
	assert.Equal(t, []State{StateBuildingPool, StateCheckingInitialCompleteness, StateFailed}, m.History())

	m = NewMachine(quietLogger(), nil)
	_, err = Run(context.Background(), m, g, Problem{Objective: spanningPool(t), TargetSize: 6})
	assert.ErrorIs(t, err, ErrPoolIncomplete)

	m = NewMachine(quietLogger(), nil)
	_, err = Run(context.Background(), m, g, Problem{Objective: spanningPool(t), Forced: []int{9}})
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestProblem_ObserverSeesAcceptedMoves(t *testing.T) {
	var steps []Step
	p := Problem{Objective: spanningPool(t), Observer: func(s Step) { steps = append(steps, s) }}

	res, err := NewGreedy(GreedyOptions{}, workers.NewWorkerPool(1), quietLogger()).Search(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, steps, res.Iterations)
	assert.Equal(t, "add", steps[0].Move)
	assert.Equal(t, res.Selected, steps[len(steps)-1].Selected)
}

func TestRestricted(t *testing.T) {
	evals := []scoring.Evaluation{
		{Score: scoring.Score{Major: -2, Minor: 4}},
		{Score: scoring.Score{Major: -3, Minor: 10}},
		{Score: scoring.Score{Major: -3, Minor: 6}},
		{Score: scoring.Score{Major: -3, Minor: 8}},
		{Score: scoring.Score{Major: -3, Minor: math.NaN()}},
	}
	assert.Equal(t, []int{2}, restricted(evals, 0))
	assert.Equal(t, []int{2, 3}, restricted(evals, 0.5))
	assert.Equal(t, []int{1, 2, 3}, restricted(evals, 1))

	inf := []scoring.Evaluation{
		{Score: scoring.Score{Major: -1, Minor: math.Inf(1)}},
		{Score: scoring.Score{Major: -1, Minor: math.Inf(1)}},
	}
	assert.Equal(t, []int{0, 1}, restricted(inf, 0))
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultGRASPOptions().Validate())
	assert.Error(t, GRASPOptions{Iterations: 0, Alpha: 0.1}.Validate())
	assert.Error(t, GRASPOptions{Iterations: 1, Alpha: 2}.Validate())
	assert.NoError(t, DefaultSlackOptions().Validate())
	assert.Error(t, SlackOptions{MaxIter: 1}.Validate())
	assert.Error(t, SlackOptions{MaxIter: 0, SlackFrac: 0.1}.Validate())
}
