package linalg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCMul(t *testing.T) {
	// (1+i) * (2-i) = 3+i
	a := NewCMatrix(1, 1)
	a.Re.Set(0, 0, 1)
	a.Im.Set(0, 0, 1)
	b := NewCMatrix(1, 1)
	b.Re.Set(0, 0, 2)
	b.Im.Set(0, 0, -1)

	got := CMul(a, b).At(0, 0)
	assert.InDelta(t, 3, real(got), 1e-12)
	assert.InDelta(t, 1, imag(got), 1e-12)
}

func TestCInverse(t *testing.T) {
	a := NewCMatrix(2, 2)
	a.Re.Set(0, 0, 1)
	a.Im.Set(0, 1, 2)
	a.Re.Set(1, 0, 3)
	a.Re.Set(1, 1, 4)
	a.Im.Set(1, 1, -1)

	inv, err := CInverse(a)
	require.NoError(t, err)

	id := CMul(a, inv)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, id.Re.At(i, j), 1e-10)
			assert.InDelta(t, 0, id.Im.At(i, j), 1e-10)
		}
	}
}

func TestCInverse_Singular(t *testing.T) {
	a := NewCMatrix(2, 2)
	a.Re.Set(0, 0, 1)
	a.Re.Set(0, 1, 1)
	a.Re.Set(1, 0, 1)
	a.Re.Set(1, 1, 1)
	_, err := CInverse(a)
	assert.ErrorIs(t, err, ErrSingular)
}

func TestDecompose_RotationReconstructs(t *testing.T) {
	// quarter turn in the plane plus a fixed axis: eigenvalues {1, i, -i}
	a := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, -1,
		0, 1, 0,
	})
	eig, err := Decompose(a)
	require.NoError(t, err)
	require.Len(t, eig.Values, 3)

	diag := NewCMatrix(3, 3)
	for i, v := range eig.Values {
		diag.Re.Set(i, i, real(v))
		diag.Im.Set(i, i, imag(v))
	}
	got := CMul(CMul(eig.Vectors, diag), eig.Inverse)
	assert.True(t, mat.EqualApprox(got.Re, a, 1e-10))
	assert.True(t, mat.EqualApprox(got.Im, mat.NewDense(3, 3, nil), 1e-10))

	id := CMul(eig.Vectors, eig.Inverse)
	assert.InDelta(t, 3, real(id.Trace()), 1e-10)
	assert.InDelta(t, 0, imag(id.Trace()), 1e-10)
}

func TestCKron_PauliProducts(t *testing.T) {
	x := NewCMatrix(2, 2)
	x.Re.Set(0, 1, 1)
	x.Re.Set(1, 0, 1)
	y := NewCMatrix(2, 2)
	y.Im.Set(0, 1, -1)
	y.Im.Set(1, 0, 1)

	// (X⊗Y)² = I and Tr(X⊗Y) = 0
	xy := CKron(x, y)
	r, c := xy.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)
	assert.Equal(t, complex(0, 0), xy.Trace())
	assert.Equal(t, complex(0, -1), xy.At(0, 3))

	sq := CMul(xy, xy)
	assert.Equal(t, complex(4, 0), sq.Trace())

	// Y⊗Y is real
	yy := CKron(y, y)
	assert.True(t, mat.EqualApprox(yy.Im, mat.NewDense(4, 4, nil), 1e-15))
	assert.Equal(t, complex(-1, 0), yy.At(0, 3))

	sum := NewCMatrix(4, 4)
	CAddScaled(sum, 2, xy)
	assert.Equal(t, complex(0, -2), sum.At(0, 3))
}

func TestSymEigenvalues_Descending(t *testing.T) {
	s := mat.NewSymDense(3, []float64{
		1, 0, 0,
		0, 3, 0,
		0, 0, 2,
	})
	vals, err := SymEigenvalues(s)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 2, 1}, vals, 1e-12)
}

func TestRank(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		2, 4, 6,
		1, 0, 1,
	})
	r, err := Rank(a, 1e-10)
	require.NoError(t, err)
	assert.Equal(t, 2, r)

	zero := mat.NewDense(2, 2, nil)
	r, err = Rank(zero, 1e-10)
	require.NoError(t, err)
	assert.Equal(t, 0, r)
}

func TestGramSym(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	g := GramSym(a)
	assert.InDelta(t, 10, g.At(0, 0), 1e-12)
	assert.InDelta(t, 14, g.At(0, 1), 1e-12)
	assert.InDelta(t, 20, g.At(1, 1), 1e-12)
	assert.False(t, math.IsNaN(g.At(1, 0)))
}
