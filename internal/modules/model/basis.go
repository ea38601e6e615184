package model

import (
	"fmt"
	"strings"

	"github.com/aristath/gstdesign/internal/linalg"
)

// pauli returns one of the single-qubit Pauli matrices.
func pauli(c byte) (linalg.CMatrix, bool) {
	p := linalg.NewCMatrix(2, 2)
	switch c {
	case 'I':
		p.Re.Set(0, 0, 1)
		p.Re.Set(1, 1, 1)
	case 'X':
		p.Re.Set(0, 1, 1)
		p.Re.Set(1, 0, 1)
	case 'Y':
		p.Im.Set(0, 1, -1)
		p.Im.Set(1, 0, 1)
	case 'Z':
		p.Re.Set(0, 0, 1)
		p.Re.Set(1, 1, -1)
	default:
		return linalg.CMatrix{}, false
	}
	return p, true
}

// pauliNames lists the n-qubit Pauli strings in basis order, "II", "IX", ...
// Qubit 0 is the leftmost character.
func pauliNames(nQubits int) []string {
	names := []string{""}
	for q := 0; q < nQubits; q++ {
		next := make([]string, 0, len(names)*4)
		for _, n := range names {
			for _, c := range "IXYZ" {
				next = append(next, n+string(c))
			}
		}
		names = next
	}
	return names
}

func pauliMatrix(name string) (linalg.CMatrix, error) {
	if name == "" {
		return linalg.CMatrix{}, fmt.Errorf("model: empty Pauli string")
	}
	var out linalg.CMatrix
	for i := 0; i < len(name); i++ {
		p, ok := pauli(name[i])
		if !ok {
			return linalg.CMatrix{}, fmt.Errorf("model: invalid Pauli string %q", name)
		}
		if i == 0 {
			out = p
			continue
		}
		out = linalg.CKron(out, p)
	}
	return out, nil
}

// basis is the unnormalised Pauli-product basis P_i with Tr(P_i P_j) = d δ_ij.
// Superoperators act on coefficient vectors in the normalised basis P_i/√d.
type basis struct {
	names    []string
	matrices []linalg.CMatrix
	d        int
}

func newBasis(nQubits int) (basis, error) {
	names := pauliNames(nQubits)
	mats := make([]linalg.CMatrix, len(names))
	for i, n := range names {
		m, err := pauliMatrix(n)
		if err != nil {
			return basis{}, err
		}
		mats[i] = m
	}
	return basis{names: names, matrices: mats, d: 1 << nQubits}, nil
}

func (b basis) index(name string) int {
	name = strings.ToUpper(name)
	for i, n := range b.names {
		if n == name {
			return i
		}
	}
	return -1
}
