package selection

import (
	"context"
	"math"
	"testing"

	"github.com/aristath/gstdesign/internal/modules/amplification"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/modules/search"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newService() *Service {
	return NewService(workers.NewWorkerPool(4), zerolog.New(nil).Level(zerolog.Disabled))
}

func xyi(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Builtin("std1Q_XYI")
	require.NoError(t, err)
	return m
}

func containsEmpty(cs []circuits.Circuit) bool {
	return circuits.Index(cs, circuits.Empty()) >= 0
}

// independentRank recomputes the rank of M Mᵀ from the selected circuits.
func independentRank(t *testing.T, m *model.Model, role pool.Role, cs []circuits.Circuit) int {
	t.Helper()
	var cols []*mat.VecDense
	for _, c := range cs {
		p, err := m.Product(c)
		require.NoError(t, err)
		if role == pool.RolePrep {
			var v mat.VecDense
			v.MulVec(p, m.Prep())
			cols = append(cols, &v)
			continue
		}
		for _, e := range m.Effects() {
			var v mat.VecDense
			v.MulVec(p.T(), e)
			cols = append(cols, &v)
		}
	}
	mm := mat.NewDense(m.Dim(), len(cols), nil)
	for j, v := range cols {
		mm.SetCol(j, v.RawVector().Data)
	}
	var svd mat.SVD
	require.True(t, svd.Factorize(mm, mat.SVDNone))
	rank := 0
	for _, s := range svd.Values(nil) {
		if s > 1e-8 {
			rank++
		}
	}
	return rank
}

func TestSelectFiducials_DefaultXYI(t *testing.T) {
	svc := newService()
	m := xyi(t)

	pair, err := svc.SelectFiducialPair(context.Background(), m, DefaultFiducialConfig())
	require.NoError(t, err)
	require.False(t, pair.Failed())

	prep, meas := pair.Prep, pair.Meas
	assert.True(t, prep.Complete)
	assert.True(t, meas.Complete)
	assert.True(t, containsEmpty(prep.Fiducials))
	assert.True(t, containsEmpty(meas.Fiducials))
	assert.GreaterOrEqual(t, len(prep.Fiducials), 4)
	assert.GreaterOrEqual(t, len(meas.Fiducials), 3)

	// Three measurement fiducials measuring X, Y and Z give eigenvalues
	// {3, 1, 1, 1}, so 3·(1/3 + 3) = 10.
	assert.InDelta(t, 10.0, meas.Evaluation.Score.Minor, 1e-9)
	assert.Equal(t, 1e-6, meas.Threshold)

	assert.Equal(t, 4, independentRank(t, m, pool.RolePrep, prep.Fiducials))
	assert.Equal(t, 4, independentRank(t, m, pool.RoleMeas, meas.Fiducials))

	assert.Equal(t, []search.State{
		search.StateBuildingPool,
		search.StateCheckingInitialCompleteness,
		search.StateSearching,
		search.StateConverged,
		search.StateReturningBest,
	}, meas.States)
}

func TestSelectFiducials_PoliciesAgreeOnCompleteness(t *testing.T) {
	svc := newService()
	m := xyi(t)

	cfg := DefaultFiducialConfig()
	cfg.ScorePolicy = scoring.PolicyWorst
	worst, err := svc.SelectFiducials(context.Background(), m, pool.RoleMeas, cfg)
	require.NoError(t, err)

	all, err := svc.SelectFiducials(context.Background(), m, pool.RoleMeas, DefaultFiducialConfig())
	require.NoError(t, err)

	assert.Equal(t, all.Complete, worst.Complete)
	assert.Len(t, worst.Fiducials, 3)
	assert.InDelta(t, 3.0, worst.Evaluation.Score.Minor, 1e-9)
}

func TestSelectFiducials_ShortCandidatesSplitRoles(t *testing.T) {
	svc := newService()
	m := xyi(t)

	cfg, err := DecodeOptions(DefaultFiducialConfig(), map[string]any{"max_fid_length": 1}, m.Labels())
	require.NoError(t, err)
	require.Len(t, cfg.Diagnostics, 1)
	assert.Equal(t, "max_fid_length", cfg.Diagnostics[0].Option)

	pair, err := svc.SelectFiducialPair(context.Background(), m, cfg)
	require.NoError(t, err)

	assert.Nil(t, pair.Meas.Failure)
	assert.True(t, pair.Meas.Complete)
	assert.Len(t, pair.Meas.Fiducials, 3)

	require.NotNil(t, pair.Prep.Failure)
	assert.Equal(t, FailurePoolInsufficient, pair.Prep.Failure.Kind)
	assert.False(t, pair.Prep.Complete)
	assert.Empty(t, pair.Prep.Fiducials)
	assert.Equal(t, 3, pair.Prep.PoolSize)
	assert.Equal(t, search.StateFailed, pair.Prep.States[len(pair.Prep.States)-1])
	assert.Equal(t, cfg.Diagnostics, pair.Prep.Diagnostics)
}

func TestSelectFiducials_DeterministicForSeed(t *testing.T) {
	m := xyi(t)
	for _, alg := range []Algorithm{AlgorithmGRASP, AlgorithmSlack, AlgorithmGreedy} {
		t.Run(string(alg), func(t *testing.T) {
			cfg := DefaultFiducialConfig()
			cfg.Algorithm = alg
			cfg.Seed = 2024

			first, err := newService().SelectFiducials(context.Background(), m, pool.RolePrep, cfg)
			require.NoError(t, err)
			second, err := newService().SelectFiducials(context.Background(), m, pool.RolePrep, cfg)
			require.NoError(t, err)

			assert.True(t, first.Complete)
			assert.Equal(t, circuits.Strings(first.Fiducials), circuits.Strings(second.Fiducials))
			assert.Equal(t, first.Evaluation.Score, second.Evaluation.Score)
		})
	}
}

func TestSelectFiducials_VerbosityAttachesTraceOnly(t *testing.T) {
	svc := newService()
	m := xyi(t)

	quiet, err := svc.SelectFiducials(context.Background(), m, pool.RoleMeas, DefaultFiducialConfig())
	require.NoError(t, err)
	assert.Empty(t, quiet.Trace)

	cfg := DefaultFiducialConfig()
	cfg.Verbosity = 2
	loud, err := svc.SelectFiducials(context.Background(), m, pool.RoleMeas, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, loud.Trace)
	assert.Equal(t, circuits.Strings(quiet.Fiducials), circuits.Strings(loud.Fiducials))
}

func TestSelectFiducials_InvalidConfig(t *testing.T) {
	svc := newService()
	m := xyi(t)

	cfg := DefaultFiducialConfig()
	cfg.Threshold = 0
	_, err := svc.SelectFiducials(context.Background(), m, pool.RolePrep, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = svc.SelectFiducials(context.Background(), m, pool.RoleGerm, DefaultFiducialConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultFiducialConfig()
	cfg.Algorithm = "annealing"
	_, err = svc.SelectFiducials(context.Background(), m, pool.RoleMeas, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSelectGerms_SingleGatesCannotAmplifyEverything(t *testing.T) {
	svc := newService()

	cfg := DefaultGermConfig()
	cfg.Schedule = circuits.UpTo(1)
	res, err := svc.SelectGerms(context.Background(), xyi(t), cfg)
	require.NoError(t, err)

	require.NotNil(t, res.Failure)
	assert.Contains(t, []FailureKind{FailurePoolInsufficient, FailureSearchExhausted}, res.Failure.Kind)
	assert.False(t, res.Complete)
	assert.Equal(t, 25, res.NonGaugeParams)
	assert.Less(t, res.Failure.Informative, 25)
}

func TestSelectGerms_IdealIdle(t *testing.T) {
	svc := newService()
	idle, err := model.New("idle", 1, []model.GateSpec{{Label: "Gi"}})
	require.NoError(t, err)

	cfg := DefaultGermConfig()
	cfg.Schedule = circuits.UpTo(1)
	cfg.Amplification.Strength = 0
	res, err := svc.SelectGerms(context.Background(), idle, cfg)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.True(t, res.Complete)
	assert.Equal(t, []string{"Gi"}, circuits.Strings(res.Germs))
	assert.Equal(t, 12, res.Evaluation.Informative)

	cfg.Amplification.Strength = 0.1
	res, err = svc.SelectGerms(context.Background(), idle, cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailurePoolInsufficient, res.Failure.Kind)
}

func TestSelectGerms_DefaultXYI(t *testing.T) {
	svc := newService()
	m := xyi(t)
	cfg := DefaultGermConfig()

	res, err := svc.SelectGerms(context.Background(), m, cfg)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.True(t, res.Complete)
	assert.Equal(t, 25, res.Evaluation.Informative)
	for _, l := range []circuits.Label{"Gi", "Gx", "Gy"} {
		assert.GreaterOrEqual(t, circuits.Index(res.Germs, circuits.New(l)), 0, "forced %s", l)
	}

	assert.Equal(t, res.NonGaugeParams, amplifiedDirections(t, m, cfg, res.Germs))
}

// amplifiedDirections recomputes Σ JᵀJ over the germs from their twirled
// Jacobians and counts the eigenvalues above the relative threshold. The
// smallest count over the perturbed copies is returned.
func amplifiedDirections(t *testing.T, m *model.Model, cfg Config, germs []circuits.Circuit) int {
	t.Helper()
	analyzer, err := amplification.NewAnalyzer(m, cfg.Amplification, workers.NewWorkerPool(2), zerolog.Nop())
	require.NoError(t, err)

	n := analyzer.NumParams()
	lowest := n + 1
	for k := 0; k < analyzer.NumCopies(); k++ {
		sum := mat.NewDense(n, n, nil)
		for _, g := range germs {
			jac, err := analyzer.TwirledJacobian(k, g)
			require.NoError(t, err)
			var jtj mat.Dense
			jtj.Mul(jac.T(), jac)
			sum.Add(sum, &jtj)
		}

		sym := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sym.SetSym(i, j, (sum.At(i, j)+sum.At(j, i))/2)
			}
		}
		var es mat.EigenSym
		require.True(t, es.Factorize(sym, false))
		vals := es.Values(nil)

		largest := 0.0
		for _, v := range vals {
			largest = math.Max(largest, v)
		}
		count := 0
		for _, v := range vals {
			if v > cfg.Threshold*largest {
				count++
			}
		}
		if count < lowest {
			lowest = count
		}
	}
	return lowest
}

func TestSelectGerms_LengthThreeIsInsufficient(t *testing.T) {
	m := xyi(t)
	for _, alg := range []Algorithm{AlgorithmGreedy, AlgorithmGRASP, AlgorithmSlack} {
		t.Run(string(alg), func(t *testing.T) {
			cfg := DefaultGermConfig()
			cfg.Algorithm = alg
			cfg.Schedule = circuits.UpTo(3)

			res, err := newService().SelectGerms(context.Background(), m, cfg)
			require.NoError(t, err)
			require.NotNil(t, res.Failure)
			assert.Equal(t, FailurePoolInsufficient, res.Failure.Kind)
			assert.False(t, res.Complete)
			assert.Empty(t, res.Germs)
			assert.Equal(t, 25, res.Failure.Required)
			assert.Less(t, res.Failure.Informative, 25)
		})
	}
}

func TestSelectGerms_DeterministicForSeed(t *testing.T) {
	m := xyi(t)
	for _, alg := range []Algorithm{AlgorithmGRASP, AlgorithmSlack} {
		t.Run(string(alg), func(t *testing.T) {
			cfg := DefaultGermConfig()
			cfg.Algorithm = alg
			cfg.Schedule = circuits.UpTo(4)
			cfg.Seed = 7

			first, err := newService().SelectGerms(context.Background(), m, cfg)
			require.NoError(t, err)
			second, err := newService().SelectGerms(context.Background(), m, cfg)
			require.NoError(t, err)

			require.Nil(t, first.Failure)
			assert.True(t, first.Complete)
			assert.Equal(t, circuits.Strings(first.Germs), circuits.Strings(second.Germs))
			assert.Equal(t, first.Evaluation.Score, second.Evaluation.Score)
			assert.Equal(t, first.NonGaugeParams, amplifiedDirections(t, m, cfg, first.Germs))
		})
	}
}

// measContribution is Σ e eᵀ over the effect vectors measured after c.
func measContribution(t *testing.T, m *model.Model, c circuits.Circuit) *mat.SymDense {
	t.Helper()
	p, err := m.Product(c)
	require.NoError(t, err)
	var vs []*mat.VecDense
	for _, e := range m.Effects() {
		v := mat.NewVecDense(m.Dim(), nil)
		v.MulVec(p.T(), e)
		vs = append(vs, v)
	}
	return scoring.VectorContribution(vs...)
}

// bestComplete scores every non-empty subset and returns the best complete one.
func bestComplete(t *testing.T, obj *scoring.Objective) scoring.Score {
	t.Helper()
	best := scoring.Inf
	n := obj.Size()
	for mask := 1; mask < 1<<n; mask++ {
		var sel []int
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sel = append(sel, i)
			}
		}
		ev, err := obj.Evaluate(sel)
		require.NoError(t, err)
		if ev.Complete && ev.Score.Less(best) {
			best = ev.Score
		}
	}
	return best
}

func TestSelectFiducials_ExtraCandidateNeverWorsensBest(t *testing.T) {
	m := xyi(t)
	res, err := newService().SelectFiducials(context.Background(), m, pool.RoleMeas, DefaultFiducialConfig())
	require.NoError(t, err)
	require.True(t, res.Complete)

	sp := scoring.Spectrum{Required: m.Dim(), Policy: scoring.PolicyAll, Threshold: res.Threshold}
	var base []*mat.SymDense
	for _, c := range res.Fiducials {
		base = append(base, measContribution(t, m, c))
	}
	obj, err := scoring.NewObjective(sp, base)
	require.NoError(t, err)
	before := bestComplete(t, obj)
	require.False(t, before.IsInf())

	added := 0
	for _, c := range circuits.UpTo(2).Expand(m.Labels(), 0) {
		extra := measContribution(t, m, c)
		distinct := true
		for _, b := range base {
			if mat.EqualApprox(b, extra, 1e-9) {
				distinct = false
				break
			}
		}
		if !distinct {
			continue
		}
		added++

		obj, err := scoring.NewObjective(sp, append(append([]*mat.SymDense(nil), base...), extra))
		require.NoError(t, err)
		after := bestComplete(t, obj)
		assert.False(t, before.Less(after), "adding %s worsened %s to %s", c, before, after)
	}
	assert.Positive(t, added)
}

func TestDesign_ExpandsOnlyOnSuccess(t *testing.T) {
	svc := newService()
	idle, err := model.New("idle", 1, []model.GateSpec{{Label: "Gi"}})
	require.NoError(t, err)

	germCfg := DefaultGermConfig()
	germCfg.Schedule = circuits.UpTo(1)
	germCfg.Amplification.Strength = 0

	res, err := svc.Design(context.Background(), idle, DefaultFiducialConfig(), germCfg, []int{1, 2})
	require.NoError(t, err)
	assert.True(t, res.Failed(), "an idle gate cannot prepare informationally complete states")
	assert.Empty(t, res.Circuits)

	_, err = svc.Design(context.Background(), idle, DefaultFiducialConfig(), germCfg, []int{0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
