// Package model provides the gate-set model the selection engine designs
// circuits for: Pauli-transfer-matrix gates on n qubits, a fixed |0..0>
// preparation and a computational-basis measurement.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/aristath/gstdesign/internal/linalg"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownGate is returned when a circuit uses a label the model lacks.
	ErrUnknownGate = errors.New("model: unknown gate label")
	// ErrInvalidGate is returned for malformed gate specifications.
	ErrInvalidGate = errors.New("model: invalid gate specification")
	// ErrUnknownGateSet is returned for a built-in gate-set name that does
	// not exist.
	ErrUnknownGateSet = errors.New("model: unknown gate set")
)

// GateSet is the read-only view the pool generator, the process cache and the
// amplification analyzer need from a model.
type GateSet interface {
	Name() string
	// Dim is the superoperator dimension d², the length of state vectors.
	Dim() int
	Labels() []circuits.Label
	Gate(l circuits.Label) (*mat.Dense, error)
	Prep() *mat.VecDense
	Effects() []*mat.VecDense
}

// Target is a GateSet that can produce randomly perturbed copies of itself.
type Target interface {
	GateSet
	NumParams() int
	NumNonGaugeParams() (int, error)
	Perturb(seed int64, strength float64) (Target, error)
}

// GateSpec describes one gate either by a Hamiltonian, given as Pauli-string
// coefficients with U = exp(-i H), or by an explicit row-major PTM.
type GateSpec struct {
	Label       circuits.Label     `json:"label" yaml:"label"`
	Hamiltonian map[string]float64 `json:"hamiltonian,omitempty" yaml:"hamiltonian,omitempty"`
	PTM         []float64          `json:"ptm,omitempty" yaml:"ptm,omitempty"`
}

// Model is an immutable n-qubit gate set in the Pauli-transfer-matrix
// representation.
type Model struct {
	name    string
	nQubits int
	basis   basis
	labels  []circuits.Label
	gates   map[circuits.Label]*mat.Dense
	rho     *mat.VecDense
	effects []*mat.VecDense
}

// New builds a model on nQubits qubits from gate specifications.
func New(name string, nQubits int, specs []GateSpec) (*Model, error) {
	if nQubits < 1 || nQubits > 3 {
		return nil, fmt.Errorf("%w: unsupported qubit count %d", ErrInvalidGate, nQubits)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no gates", ErrInvalidGate)
	}
	b, err := newBasis(nQubits)
	if err != nil {
		return nil, err
	}

	m := &Model{
		name:    name,
		nQubits: nQubits,
		basis:   b,
		gates:   make(map[circuits.Label]*mat.Dense, len(specs)),
	}
	dim := len(b.names)

	for _, spec := range specs {
		if spec.Label == "" {
			return nil, fmt.Errorf("%w: empty label", ErrInvalidGate)
		}
		if _, dup := m.gates[spec.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %s", ErrInvalidGate, spec.Label)
		}
		var g *mat.Dense
		switch {
		case spec.PTM != nil:
			if len(spec.PTM) != dim*dim {
				return nil, fmt.Errorf("%w: %s PTM has %d entries, want %d", ErrInvalidGate, spec.Label, len(spec.PTM), dim*dim)
			}
			g = mat.NewDense(dim, dim, append([]float64(nil), spec.PTM...))
		default:
			g, err = b.unitaryPTM(spec.Hamiltonian)
			if err != nil {
				return nil, fmt.Errorf("gate %s: %w", spec.Label, err)
			}
		}
		m.gates[spec.Label] = g
		m.labels = append(m.labels, spec.Label)
	}

	m.rho = b.densityVector(0)
	for k := 0; k < b.d; k++ {
		m.effects = append(m.effects, b.densityVector(k))
	}
	return m, nil
}

// Name returns the gate-set name.
func (m *Model) Name() string { return m.name }

// NumQubits returns the qubit count.
func (m *Model) NumQubits() int { return m.nQubits }

// HilbertDim returns d, the Hilbert-space dimension.
func (m *Model) HilbertDim() int { return m.basis.d }

// Dim returns d², the superoperator dimension.
func (m *Model) Dim() int { return len(m.basis.names) }

// BasisNames returns the Pauli strings labelling superoperator rows.
func (m *Model) BasisNames() []string {
	return append([]string(nil), m.basis.names...)
}

// Labels returns the gate labels in declaration order.
func (m *Model) Labels() []circuits.Label {
	return append([]circuits.Label(nil), m.labels...)
}

// Gate returns the PTM of a gate. The result must not be modified.
func (m *Model) Gate(l circuits.Label) (*mat.Dense, error) {
	g, ok := m.gates[l]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGate, l)
	}
	return g, nil
}

// Prep returns the |0..0> state vector. The result must not be modified.
func (m *Model) Prep() *mat.VecDense { return m.rho }

// Effects returns the computational-basis POVM effect vectors.
func (m *Model) Effects() []*mat.VecDense { return m.effects }

// Product returns the PTM of a circuit, the first label acting first.
func (m *Model) Product(c circuits.Circuit) (*mat.Dense, error) {
	p := identity(m.Dim())
	for i := 0; i < c.Len(); i++ {
		g, err := m.Gate(c.At(i))
		if err != nil {
			return nil, err
		}
		var next mat.Dense
		next.Mul(g, p)
		p = &next
	}
	return p, nil
}

// Perturb returns a copy with every gate followed by a small random unitary
// exp(-i·strength·H), H a random unit-norm Pauli Hamiltonian. The same seed
// always yields the same copy. Gates specified by explicit PTMs are perturbed
// the same way.
func (m *Model) Perturb(seed int64, strength float64) (Target, error) {
	return m.perturb(seed, strength)
}

func (m *Model) perturb(seed int64, strength float64) (*Model, error) {
	if strength < 0 || math.IsNaN(strength) {
		return nil, fmt.Errorf("model: invalid perturbation strength %v", strength)
	}
	out := &Model{
		name:    fmt.Sprintf("%s~perturbed(%d)", m.name, seed),
		nQubits: m.nQubits,
		basis:   m.basis,
		labels:  m.Labels(),
		gates:   make(map[circuits.Label]*mat.Dense, len(m.gates)),
		rho:     m.rho,
		effects: m.effects,
	}

	rng := rand.New(rand.NewSource(seed))
	sorted := m.Labels()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, l := range sorted {
		g := m.gates[l]
		if strength == 0 {
			out.gates[l] = mat.DenseCopyOf(g)
			continue
		}
		h := make(map[string]float64, len(m.basis.names)-1)
		norm := 0.0
		for _, name := range m.basis.names[1:] {
			v := rng.NormFloat64()
			h[name] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for k := range h {
			h[k] *= strength / norm
		}
		u, err := m.basis.unitaryPTM(h)
		if err != nil {
			return nil, err
		}
		var pg mat.Dense
		pg.Mul(u, g)
		out.gates[l] = &pg
	}
	return out, nil
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// unitaryPTM returns expm(L) with L[i][j] = Tr(P_i · (-i)[H, P_j]) / d, the
// PTM of ρ -> e^{-iH} ρ e^{iH}.
func (b basis) unitaryPTM(hamiltonian map[string]float64) (*mat.Dense, error) {
	dim := len(b.names)
	h := linalg.NewCMatrix(b.d, b.d)
	for name, coeff := range hamiltonian {
		idx := b.index(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: unknown Pauli term %q", ErrInvalidGate, name)
		}
		linalg.CAddScaled(h, coeff, b.matrices[idx])
	}

	gen := mat.NewDense(dim, dim, nil)
	for j, pj := range b.matrices {
		comm := linalg.CMul(h, pj)
		linalg.CAddScaled(comm, -1, linalg.CMul(pj, h))
		for i, pi := range b.matrices {
			v := linalg.CMul(pi, comm).Trace() * complex(0, -1)
			gen.Set(i, j, real(v)/float64(b.d))
		}
	}

	var ptm mat.Dense
	ptm.Exp(gen)
	return &ptm, nil
}

// densityVector returns |k><k| in the normalised Pauli basis.
func (b basis) densityVector(k int) *mat.VecDense {
	proj := linalg.NewCMatrix(b.d, b.d)
	proj.Re.Set(k, k, 1)
	v := mat.NewVecDense(len(b.names), nil)
	norm := math.Sqrt(float64(b.d))
	for i, p := range b.matrices {
		v.SetVec(i, real(linalg.CMul(p, proj).Trace())/norm)
	}
	return v
}
