package amplification

import (
	"math/cmplx"

	"github.com/aristath/gstdesign/internal/linalg"
)

// twirler averages operators over the eigenspaces of a germ's process
// matrix: T(X) = Σ_i A_i X A_i / n_i, where A_i projects onto the
// eigenvalues within eps of λ_i and n_i counts them. In the eigenbasis this
// is an elementwise mask, T(X) = V (W ∘ V⁻¹XV) V⁻¹.
type twirler struct {
	eig    linalg.Eigen
	weight [][]float64
}

func newTwirler(eig linalg.Eigen, eps float64) *twirler {
	n := len(eig.Values)
	w := make([][]float64, n)
	for j := range w {
		w[j] = make([]float64, n)
	}
	mask := make([]bool, n)
	for i := 0; i < n; i++ {
		count := 0
		for j := 0; j < n; j++ {
			mask[j] = cmplx.Abs(eig.Values[i]-eig.Values[j]) <= eps
			if mask[j] {
				count++
			}
		}
		share := 1 / float64(count)
		for j := 0; j < n; j++ {
			if !mask[j] {
				continue
			}
			for k := 0; k < n; k++ {
				if mask[k] {
					w[j][k] += share
				}
			}
		}
	}
	return &twirler{eig: eig, weight: w}
}

// twirlEigenbasis applies the mask to Y = V⁻¹XV in place and maps the result
// back to the original basis.
func (t *twirler) twirlEigenbasis(y linalg.CMatrix) linalg.CMatrix {
	n, _ := y.Dims()
	for j := 0; j < n; j++ {
		for k := 0; k < n; k++ {
			w := t.weight[j][k]
			y.Re.Set(j, k, w*y.Re.At(j, k))
			y.Im.Set(j, k, w*y.Im.At(j, k))
		}
	}
	return linalg.CMul(linalg.CMul(t.eig.Vectors, y), t.eig.Inverse)
}
