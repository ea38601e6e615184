// Package pool enumerates candidate circuits and removes process-level
// duplicates under the target model.
package pool

import (
	"fmt"
	"math"

	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/processcache"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the max-norm distance under which two signatures are
// the same process.
const DefaultTolerance = 1e-6

// Options controls pool generation.
type Options struct {
	Schedule     circuits.Schedule
	OmitIdentity bool
	OpsToOmit    []circuits.Label
	// Force lists circuits kept unconditionally, ahead of generated ones.
	Force []circuits.Circuit
	// Seed drives sampling for capped lengths.
	Seed      int64
	Tolerance float64
}

// DropCounts reports why generated candidates were removed.
type DropCounts struct {
	Omitted         int `json:"omitted" msgpack:"omitted"`
	PowersAndCycles int `json:"powers_and_cycles" msgpack:"powers_and_cycles"`
	Identity        int `json:"identity" msgpack:"identity"`
	Duplicates      int `json:"duplicates" msgpack:"duplicates"`
}

// Pool is a deduplicated candidate list. Forced circuits come first.
type Pool struct {
	Role       Role
	Circuits   []circuits.Circuit
	Forced     []int
	Dropped    DropCounts
	Signatures [][]float64
}

// Size returns the number of candidates.
func (p *Pool) Size() int { return len(p.Circuits) }

// Generator builds pools against one model's process cache.
type Generator struct {
	cache *processcache.Cache
	log   zerolog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cache *processcache.Cache, log zerolog.Logger) *Generator {
	return &Generator{
		cache: cache,
		log:   log.With().Str("component", "pool").Logger(),
	}
}

// Build enumerates the schedule, drops omitted labels, then keeps each
// circuit whose signature differs from every kept one and, with
// OmitIdentity, from the empty circuit's. Germ pools never hold the empty
// circuit, powers or cyclic rotations. The same inputs always give the same
// pool.
func (g *Generator) Build(role Role, opts Options) (*Pool, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	labels := g.cache.GateSet().Labels()
	if err := opts.Schedule.Validate(len(labels)); err != nil {
		return nil, err
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	raw := opts.Schedule.Expand(labels, opts.Seed)
	p := &Pool{Role: role}

	kept := circuits.Without(raw, opts.OpsToOmit)
	p.Dropped.Omitted = len(raw) - len(kept)
	if role == RoleGerm {
		before := len(kept)
		kept = circuits.WithoutPowersAndCycles(kept)
		p.Dropped.PowersAndCycles = before - len(kept)
	}

	identity, err := g.signature(role, circuits.Empty())
	if err != nil {
		return nil, err
	}

	for _, c := range opts.Force {
		sig, err := g.signature(role, c)
		if err != nil {
			return nil, fmt.Errorf("pool: forced circuit %s: %w", c, err)
		}
		if circuits.Index(p.Circuits, c) >= 0 {
			continue
		}
		p.Forced = append(p.Forced, len(p.Circuits))
		p.Circuits = append(p.Circuits, c)
		p.Signatures = append(p.Signatures, sig)
	}

	for _, c := range kept {
		if circuits.Index(p.Circuits, c) >= 0 {
			continue
		}
		sig, err := g.signature(role, c)
		if err != nil {
			return nil, err
		}
		if opts.OmitIdentity && !c.IsEmpty() && same(sig, identity, tol) {
			p.Dropped.Identity++
			continue
		}
		if p.indexOf(sig, tol) >= 0 {
			p.Dropped.Duplicates++
			continue
		}
		p.Circuits = append(p.Circuits, c)
		p.Signatures = append(p.Signatures, sig)
	}

	g.log.Debug().
		Str("role", string(role)).
		Int("generated", len(raw)).
		Ints("sampled_lengths", opts.Schedule.CappedLengths()).
		Int("kept", len(p.Circuits)).
		Int("forced", len(p.Forced)).
		Int("duplicates", p.Dropped.Duplicates).
		Int("identity", p.Dropped.Identity).
		Msg("Built candidate pool")
	return p, nil
}

func (p *Pool) indexOf(sig []float64, tol float64) int {
	for i, s := range p.Signatures {
		if same(s, sig, tol) {
			return i
		}
	}
	return -1
}

func same(a, b []float64, tol float64) bool {
	return len(a) == len(b) && floats.Distance(a, b, math.Inf(1)) <= tol
}

// signature projects a circuit onto what matters for its role: the prepared
// state, the concatenated effects, or the flattened process matrix.
func (g *Generator) signature(role Role, c circuits.Circuit) ([]float64, error) {
	switch role {
	case RolePrep:
		v, err := g.cache.PrepVector(c)
		if err != nil {
			return nil, err
		}
		return append([]float64(nil), v.RawVector().Data...), nil
	case RoleMeas:
		vs, err := g.cache.EffectVectors(c)
		if err != nil {
			return nil, err
		}
		var sig []float64
		for _, v := range vs {
			sig = append(sig, v.RawVector().Data...)
		}
		return sig, nil
	default:
		p, err := g.cache.Product(c)
		if err != nil {
			return nil, err
		}
		return flatten(p), nil
	}
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
