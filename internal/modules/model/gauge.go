package model

import (
	"fmt"

	"github.com/aristath/gstdesign/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// gaugeRankTol is the relative singular-value cutoff for the gauge rank.
const gaugeRankTol = 1e-7

// NumParams returns the gate-only TP parameter count, nGates·(d²-1)·d².
func (m *Model) NumParams() int {
	n := m.Dim()
	return len(m.labels) * (n - 1) * n
}

// NumGaugeParams returns the dimension of the TP gauge orbit through the
// gate-only model, the rank of dG = XG - GX over TP gauge generators X.
func (m *Model) NumGaugeParams() (int, error) {
	n := m.Dim()
	gens := (n - 1) * n
	jac := mat.NewDense(m.NumParams(), gens, nil)

	var xg, gx mat.Dense
	x := mat.NewDense(n, n, nil)
	for k := 0; k < gens; k++ {
		r, c := 1+k/n, k%n
		x.Zero()
		x.Set(r, c, 1)
		for gi, l := range m.labels {
			g := m.gates[l]
			xg.Mul(x, g)
			gx.Mul(g, x)
			base := gi * (n - 1) * n
			for row := 1; row < n; row++ {
				for col := 0; col < n; col++ {
					jac.Set(base+(row-1)*n+col, k, xg.At(row, col)-gx.At(row, col))
				}
			}
		}
	}

	rank, err := linalg.Rank(jac, gaugeRankTol)
	if err != nil {
		return 0, fmt.Errorf("gauge rank: %w", err)
	}
	return rank, nil
}

// NumNonGaugeParams returns NumParams minus NumGaugeParams.
func (m *Model) NumNonGaugeParams() (int, error) {
	g, err := m.NumGaugeParams()
	if err != nil {
		return 0, err
	}
	return m.NumParams() - g, nil
}
