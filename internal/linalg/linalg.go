// Package linalg holds the small numerical helpers the selection engine needs
// on top of gonum: complex matrices stored as real/imaginary pairs, general
// eigendecomposition with the inverse eigenvector matrix, symmetric spectra
// and numerical rank.
package linalg

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoConvergence is returned when a gonum factorization reports failure.
	ErrNoConvergence = errors.New("linalg: factorization did not converge")
	// ErrSingular is returned when an eigenvector matrix cannot be inverted,
	// i.e. the input is defective.
	ErrSingular = errors.New("linalg: matrix is singular")
)

// CMatrix is a dense complex matrix kept as two real gonum matrices.
// gonum's CDense has no arithmetic, so products are expanded by hand.
type CMatrix struct {
	Re *mat.Dense
	Im *mat.Dense
}

// NewCMatrix allocates a zero r x c complex matrix.
func NewCMatrix(r, c int) CMatrix {
	return CMatrix{Re: mat.NewDense(r, c, nil), Im: mat.NewDense(r, c, nil)}
}

// RealC wraps a real matrix as a complex one with zero imaginary part.
func RealC(a mat.Matrix) CMatrix {
	r, c := a.Dims()
	out := NewCMatrix(r, c)
	out.Re.Copy(a)
	return out
}

// FromCDense converts a gonum complex matrix.
func FromCDense(a *mat.CDense) CMatrix {
	r, c := a.Dims()
	out := NewCMatrix(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			out.Re.Set(i, j, real(v))
			out.Im.Set(i, j, imag(v))
		}
	}
	return out
}

// Dims returns the matrix shape.
func (m CMatrix) Dims() (int, int) { return m.Re.Dims() }

// At returns element (i, j).
func (m CMatrix) At(i, j int) complex128 {
	return complex(m.Re.At(i, j), m.Im.At(i, j))
}

// CMul returns a*b.
func CMul(a, b CMatrix) CMatrix {
	r, _ := a.Dims()
	_, c := b.Dims()
	out := NewCMatrix(r, c)
	var t mat.Dense
	out.Re.Mul(a.Re, b.Re)
	t.Mul(a.Im, b.Im)
	out.Re.Sub(out.Re, &t)
	out.Im.Mul(a.Re, b.Im)
	t.Reset()
	t.Mul(a.Im, b.Re)
	out.Im.Add(out.Im, &t)
	return out
}

// Trace returns the sum of the diagonal.
func (m CMatrix) Trace() complex128 {
	return complex(mat.Trace(m.Re), mat.Trace(m.Im))
}

// CKron returns the Kronecker product a ⊗ b.
func CKron(a, b CMatrix) CMatrix {
	var out, t CMatrix
	out.Re, out.Im = &mat.Dense{}, &mat.Dense{}
	t.Re, t.Im = &mat.Dense{}, &mat.Dense{}
	out.Re.Kronecker(a.Re, b.Re)
	t.Re.Kronecker(a.Im, b.Im)
	out.Re.Sub(out.Re, t.Re)
	out.Im.Kronecker(a.Re, b.Im)
	t.Im.Kronecker(a.Im, b.Re)
	out.Im.Add(out.Im, t.Im)
	return out
}

// CAddScaled sets dst = dst + alpha*a in place.
func CAddScaled(dst CMatrix, alpha float64, a CMatrix) {
	var t mat.Dense
	t.Scale(alpha, a.Re)
	dst.Re.Add(dst.Re, &t)
	t.Reset()
	t.Scale(alpha, a.Im)
	dst.Im.Add(dst.Im, &t)
}

// CInverse inverts a square complex matrix through its real 2n x 2n
// embedding [[Re, -Im], [Im, Re]].
func CInverse(a CMatrix) (CMatrix, error) {
	n, c := a.Dims()
	if n != c {
		return CMatrix{}, fmt.Errorf("linalg: inverse of non-square %dx%d matrix", n, c)
	}
	emb := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			re, im := a.Re.At(i, j), a.Im.At(i, j)
			emb.Set(i, j, re)
			emb.Set(i, j+n, -im)
			emb.Set(i+n, j, im)
			emb.Set(i+n, j+n, re)
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(emb); err != nil {
		return CMatrix{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := NewCMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Re.Set(i, j, inv.At(i, j))
			out.Im.Set(i, j, inv.At(i+n, j))
		}
	}
	return out, nil
}

// Eigen holds a right eigendecomposition a = V diag(Values) V^-1.
type Eigen struct {
	Values  []complex128
	Vectors CMatrix
	Inverse CMatrix
}

// Decompose computes the eigendecomposition of a real square matrix together
// with the inverse of its eigenvector matrix.
func Decompose(a mat.Matrix) (Eigen, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenRight); !ok {
		return Eigen{}, ErrNoConvergence
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)
	v := FromCDense(&vecs)
	inv, err := CInverse(v)
	if err != nil {
		return Eigen{}, err
	}
	return Eigen{Values: eig.Values(nil), Vectors: v, Inverse: inv}, nil
}

// SymEigenvalues returns the eigenvalues of a symmetric matrix in descending
// order.
func SymEigenvalues(s mat.Symmetric) ([]float64, error) {
	var es mat.EigenSym
	if ok := es.Factorize(s, false); !ok {
		return nil, ErrNoConvergence
	}
	vals := es.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	return vals, nil
}

// Rank returns the number of singular values above relTol times the largest.
func Rank(a mat.Matrix, relTol float64) (int, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0, ErrNoConvergence
	}
	vals := svd.Values(nil)
	if len(vals) == 0 || vals[0] <= 0 {
		return 0, nil
	}
	cut := relTol * vals[0]
	rank := 0
	for _, v := range vals {
		if v > cut {
			rank++
		}
	}
	return rank, nil
}

// GramSym returns the symmetric product aᵀa.
func GramSym(a mat.Matrix) *mat.SymDense {
	var s mat.SymDense
	s.SymOuterK(1, a.T())
	return &s
}
