package amplification

import (
	"context"
	"testing"

	"github.com/aristath/gstdesign/internal/linalg"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newAnalyzer(t *testing.T, target model.Target, cfg Config) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(target, cfg, workers.NewWorkerPool(2), quietLogger())
	require.NoError(t, err)
	return a
}

func xyi(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Builtin("std1Q_XYI")
	require.NoError(t, err)
	return m
}

// twirlOperator applies the twirl to x given in the original basis.
func twirlOperator(tw *twirler, x linalg.CMatrix) linalg.CMatrix {
	y := linalg.CMul(linalg.CMul(tw.eig.Inverse, x), tw.eig.Vectors)
	return tw.twirlEigenbasis(y)
}

func TestTwirl_DistinctSpectrumKeepsDiagonal(t *testing.T) {
	p := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3})
	eig, err := linalg.Decompose(p)
	require.NoError(t, err)
	tw := newTwirler(eig, 1e-6)

	x := linalg.RealC(mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	got := twirlOperator(tw, x)
	want := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 5, 0, 0, 0, 9})
	assert.True(t, mat.EqualApprox(got.Re, want, 1e-12))
	assert.True(t, mat.EqualApprox(got.Im, mat.NewDense(3, 3, nil), 1e-12))
}

func TestTwirl_DegenerateSpectrumKeepsBlock(t *testing.T) {
	p := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 2})
	eig, err := linalg.Decompose(p)
	require.NoError(t, err)
	tw := newTwirler(eig, 1e-6)

	x := linalg.RealC(mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	got := twirlOperator(tw, x)
	want := mat.NewDense(3, 3, []float64{1, 2, 0, 4, 5, 0, 0, 0, 9})
	assert.True(t, mat.EqualApprox(got.Re, want, 1e-12))
}

func TestTwirl_IsIdempotent(t *testing.T) {
	m := xyi(t)
	p, err := m.Product(circuits.New("Gx", "Gy"))
	require.NoError(t, err)
	eig, err := linalg.Decompose(p)
	require.NoError(t, err)
	tw := newTwirler(eig, 1e-6)

	x := linalg.RealC(mat.NewDense(4, 4, []float64{
		0, 0, 0, 0,
		0.3, 1, -2, 0.5,
		0.1, 0.7, 0.2, -1,
		-0.4, 2, 0.9, 0.6,
	}))
	once := twirlOperator(tw, x)
	twice := twirlOperator(tw, once)
	assert.True(t, mat.EqualApprox(once.Re, twice.Re, 1e-9))
	assert.True(t, mat.EqualApprox(once.Im, twice.Im, 1e-9))
}

func TestAnalyzer_JacobianShapeAndGaugeBlindness(t *testing.T) {
	m := xyi(t)
	cfg := DefaultConfig()
	cfg.Strength = 0
	a := newAnalyzer(t, m, cfg)

	assert.Equal(t, 36, a.NumParams())
	assert.Equal(t, 25, a.NumNonGaugeParams())

	germ := circuits.New("Gx", "Gy")
	jac, err := a.TwirledJacobian(0, germ)
	require.NoError(t, err)
	r, c := jac.Dims()
	assert.Equal(t, 32, r)
	assert.Equal(t, 36, c)

	// A TP gauge generator moves every gate by XG - GX; no germ amplifies it.
	x := mat.NewDense(4, 4, nil)
	x.Set(2, 1, 1)
	dir := mat.NewVecDense(36, nil)
	for gi, l := range m.Labels() {
		g, err := m.Gate(l)
		require.NoError(t, err)
		var xg, gx mat.Dense
		xg.Mul(x, g)
		gx.Mul(g, x)
		for row := 1; row < 4; row++ {
			for col := 0; col < 4; col++ {
				dir.SetVec(gi*12+(row-1)*4+col, xg.At(row, col)-gx.At(row, col))
			}
		}
	}
	var out mat.VecDense
	out.MulVec(jac, dir)
	assert.InDelta(t, 0.0, mat.Norm(&out, 2), 1e-9)
	assert.Greater(t, mat.Norm(dir, 2), 0.1)
}

func TestAnalyzer_IdleGermOnIdealIdleIsComplete(t *testing.T) {
	idle, err := model.New("idle", 1, []model.GateSpec{{Label: "Gi"}})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Strength = 0
	a := newAnalyzer(t, idle, cfg)
	assert.Equal(t, 12, a.NumNonGaugeParams())

	c, err := a.Contribution(0, circuits.New("Gi"))
	require.NoError(t, err)
	rank, err := linalg.Rank(c, 1e-6)
	require.NoError(t, err)
	assert.Equal(t, 12, rank)

	// A perturbed idle is a small rotation and only amplifies what commutes with it.
	cfg.Strength = 0.1
	p := newAnalyzer(t, idle, cfg)
	c, err = p.Contribution(0, circuits.New("Gi"))
	require.NoError(t, err)
	rank, err = linalg.Rank(c, 1e-6)
	require.NoError(t, err)
	assert.Less(t, rank, 12)
}

func TestAnalyzer_ContributionsAreDeterministic(t *testing.T) {
	m := xyi(t)
	cfg := DefaultConfig()
	cfg.NumCopies = 2
	cfg.Seed = 11
	germs := []circuits.Circuit{circuits.New("Gx"), circuits.New("Gy"), circuits.New("Gx", "Gy")}

	first, err := newAnalyzer(t, m, cfg).Contributions(context.Background(), germs)
	require.NoError(t, err)
	second, err := newAnalyzer(t, m, cfg).Contributions(context.Background(), germs)
	require.NoError(t, err)

	require.Len(t, first, 2)
	for ci := range first {
		require.Len(t, first[ci], 3)
		for gi := range first[ci] {
			assert.True(t, mat.EqualApprox(first[ci][gi], second[ci][gi], 1e-12))
		}
	}
	assert.False(t, mat.EqualApprox(first[0][2], first[1][2], 1e-9), "copies differ")
}

func TestAnalyzer_Errors(t *testing.T) {
	m := xyi(t)
	a := newAnalyzer(t, m, DefaultConfig())

	_, err := a.TwirledJacobian(0, circuits.Empty())
	assert.ErrorIs(t, err, ErrEmptyGerm)
	_, err = a.TwirledJacobian(5, circuits.New("Gx"))
	assert.Error(t, err)
	_, err = a.TwirledJacobian(0, circuits.New("Gq"))
	assert.ErrorIs(t, err, model.ErrUnknownGate)

	bad := DefaultConfig()
	bad.NumCopies = 0
	_, err = NewAnalyzer(m, bad, nil, quietLogger())
	assert.Error(t, err)
}
