package scoring

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrBadSelection is returned when a selection names an index outside the pool.
var ErrBadSelection = errors.New("scoring: selection index out of range")

// VectorContribution returns Σ v vᵀ, the share of M Mᵀ one fiducial adds
// through its state or effect vectors.
func VectorContribution(vs ...*mat.VecDense) *mat.SymDense {
	if len(vs) == 0 {
		return nil
	}
	out := mat.NewSymDense(vs[0].Len(), nil)
	for _, v := range vs {
		out.SymRankOne(out, 1, v)
	}
	return out
}

// Objective scores subsets of a candidate pool whose sensitivity matrices
// add. With several copies (perturbed models) a subset is complete only when
// it is complete on every copy and it takes its worst score.
type Objective struct {
	spectrum Spectrum
	dim      int
	copies   [][]*mat.SymDense
}

// NewObjective builds an objective over per-copy, per-candidate contributions.
func NewObjective(sp Spectrum, copies ...[]*mat.SymDense) (*Objective, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	if len(copies) == 0 {
		return nil, errors.New("scoring: objective needs at least one contribution set")
	}
	size := len(copies[0])
	dim := 0
	for ci, c := range copies {
		if len(c) != size {
			return nil, fmt.Errorf("scoring: copy %d has %d candidates, want %d", ci, len(c), size)
		}
		for _, s := range c {
			if s == nil {
				continue
			}
			if dim == 0 {
				dim = s.SymmetricDim()
			} else if s.SymmetricDim() != dim {
				return nil, fmt.Errorf("scoring: mixed contribution dimensions %d and %d", dim, s.SymmetricDim())
			}
		}
	}
	return &Objective{spectrum: sp, dim: dim, copies: copies}, nil
}

// Size returns the pool size.
func (o *Objective) Size() int { return len(o.copies[0]) }

// Spectrum returns the scoring configuration.
func (o *Objective) Spectrum() Spectrum { return o.spectrum }

// Evaluate scores the selected candidates. It is safe for concurrent use.
func (o *Objective) Evaluate(selected []int) (Evaluation, error) {
	var worst Evaluation
	for ci, contribs := range o.copies {
		sum := mat.NewSymDense(max(o.dim, 1), nil)
		for _, idx := range selected {
			if idx < 0 || idx >= len(contribs) {
				return Evaluation{}, fmt.Errorf("%w: %d", ErrBadSelection, idx)
			}
			if c := contribs[idx]; c != nil {
				sum.AddSym(sum, c)
			}
		}
		var sym mat.Symmetric = sum
		if o.dim == 0 {
			sym = nil
		}
		ev, err := o.spectrum.Analyze(sym, len(selected))
		if err != nil {
			return Evaluation{}, err
		}
		if ci == 0 {
			worst = ev
			continue
		}
		complete := worst.Complete && ev.Complete
		if worst.Score.Less(ev.Score) {
			worst = ev
		}
		worst.Complete = complete
	}
	return worst, nil
}
