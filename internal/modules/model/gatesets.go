package model

import (
	"fmt"
	"math"
	"sort"
)

var builtins = map[string]struct {
	nQubits int
	specs   []GateSpec
}{
	"std1Q_XYI": {1, []GateSpec{
		{Label: "Gi"},
		{Label: "Gx", Hamiltonian: map[string]float64{"X": math.Pi / 4}},
		{Label: "Gy", Hamiltonian: map[string]float64{"Y": math.Pi / 4}},
	}},
	"std1Q_XY": {1, []GateSpec{
		{Label: "Gx", Hamiltonian: map[string]float64{"X": math.Pi / 4}},
		{Label: "Gy", Hamiltonian: map[string]float64{"Y": math.Pi / 4}},
	}},
	"std1Q_XYZI": {1, []GateSpec{
		{Label: "Gi"},
		{Label: "Gx", Hamiltonian: map[string]float64{"X": math.Pi / 4}},
		{Label: "Gy", Hamiltonian: map[string]float64{"Y": math.Pi / 4}},
		{Label: "Gz", Hamiltonian: map[string]float64{"Z": math.Pi / 4}},
	}},
	"std2Q_XYICNOT": {2, []GateSpec{
		{Label: "Gii"},
		{Label: "Gix", Hamiltonian: map[string]float64{"IX": math.Pi / 4}},
		{Label: "Giy", Hamiltonian: map[string]float64{"IY": math.Pi / 4}},
		{Label: "Gxi", Hamiltonian: map[string]float64{"XI": math.Pi / 4}},
		{Label: "Gyi", Hamiltonian: map[string]float64{"YI": math.Pi / 4}},
		{Label: "Gcnot", Hamiltonian: map[string]float64{
			"II": math.Pi / 4, "ZI": -math.Pi / 4, "IX": -math.Pi / 4, "ZX": math.Pi / 4,
		}},
	}},
}

// Builtin returns one of the standard gate sets by name.
func Builtin(name string) (*Model, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateSet, name)
	}
	return New(name, b.nQubits, b.specs)
}

// BuiltinNames lists the standard gate-set names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
