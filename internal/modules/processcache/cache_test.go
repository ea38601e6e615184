package processcache

import (
	"sync"
	"testing"

	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newXYI(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Builtin("std1Q_XYI")
	require.NoError(t, err)
	return m
}

func TestCache_ProductMatchesModel(t *testing.T) {
	m := newXYI(t)
	c := New(m)

	for _, circ := range circuits.All(m.Labels(), 3) {
		got, err := c.Product(circ)
		require.NoError(t, err)
		want, err := m.Product(circ)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(got, want, 1e-12), "circuit %s", circ)
	}
}

func TestCache_ReusesPrefixes(t *testing.T) {
	c := New(newXYI(t))

	_, err := c.Product(circuits.New("Gx", "Gy", "Gx"))
	require.NoError(t, err)
	// GxGyGx, GxGy and Gx are each computed once.
	assert.Equal(t, int64(3), c.Stats().Misses)
	assert.Equal(t, 3, c.Stats().Entries)

	_, err = c.Product(circuits.New("Gx", "Gy"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Stats().Misses)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestCache_ComputesOnceUnderConcurrency(t *testing.T) {
	c := New(newXYI(t))
	circ := circuits.New("Gx", "Gx", "Gy", "Gi")

	var wg sync.WaitGroup
	results := make([]*mat.Dense, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Product(circ)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(4), c.Stats().Misses)
	for _, p := range results[1:] {
		assert.Same(t, results[0], p)
	}
}

func TestCache_Vectors(t *testing.T) {
	m := newXYI(t)
	c := New(m)

	v, err := c.PrepVector(circuits.Empty())
	require.NoError(t, err)
	assert.True(t, mat.Equal(v, m.Prep()))

	// Gx Gx maps |0> to |1>, so effect 1 seen through it fires on |0>.
	effects, err := c.EffectVectors(circuits.New("Gx", "Gx"))
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.InDelta(t, 0.0, mat.Dot(effects[0], m.Prep()), 1e-9)
	assert.InDelta(t, 1.0, mat.Dot(effects[1], m.Prep()), 1e-9)

	_, err = c.Product(circuits.New("Gq"))
	assert.ErrorIs(t, err, model.ErrUnknownGate)
}
