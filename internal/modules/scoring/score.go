// Package scoring turns the spectrum of a symmetric positive-semidefinite
// sensitivity matrix into a completeness verdict and a lower-is-better score.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/gstdesign/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidThreshold is returned for a relative eigenvalue threshold that is
// not a finite number in (0, 1).
var ErrInvalidThreshold = errors.New("scoring: threshold must be in (0, 1)")

// Policy selects how eigenvalues are folded into a scalar score.
type Policy string

const (
	// PolicyAll sums 1/λ over the retained eigenvalues.
	PolicyAll Policy = "all"
	// PolicyWorst uses 1/λ of the smallest retained eigenvalue.
	PolicyWorst Policy = "worst"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyAll:
		return PolicyAll, nil
	case PolicyWorst:
		return PolicyWorst, nil
	}
	return "", fmt.Errorf("scoring: unknown score policy %q", s)
}

// ListScore folds eigenvalues with a policy. An empty list or a
// non-positive eigenvalue scores +Inf.
func ListScore(eigenvalues []float64, p Policy) float64 {
	if len(eigenvalues) == 0 {
		return math.Inf(1)
	}
	switch p {
	case PolicyWorst:
		lowest := math.Inf(1)
		for _, v := range eigenvalues {
			if v < lowest {
				lowest = v
			}
		}
		if lowest <= 0 {
			return math.Inf(1)
		}
		return 1 / lowest
	default:
		sum := 0.0
		for _, v := range eigenvalues {
			if v <= 0 {
				return math.Inf(1)
			}
			sum += 1 / v
		}
		return sum
	}
}

// Score is a composite score compared major first. Major is minus the
// number of informative directions found, so a deficiency makes it larger.
// Minor is the policy score scaled by N, the set size.
type Score struct {
	Major int     `json:"major" msgpack:"major"`
	Minor float64 `json:"minor" msgpack:"minor"`
	N     int     `json:"n" msgpack:"n"`
}

// Inf is worse than every score an evaluation can produce.
var Inf = Score{Major: math.MaxInt32, Minor: math.Inf(1)}

// Less reports whether s is strictly better than o. NaN minors compare as +Inf.
func (s Score) Less(o Score) bool {
	if s.Major != o.Major {
		return s.Major < o.Major
	}
	return finite(s.Minor) < finite(o.Minor)
}

// IsInf reports whether s carries no usable score.
func (s Score) IsInf() bool {
	return s.Major == Inf.Major || math.IsInf(s.Minor, 1) || math.IsNaN(s.Minor)
}

func (s Score) String() string {
	return fmt.Sprintf("(%d, %.6g)", s.Major, s.Minor)
}

func finite(x float64) float64 {
	if math.IsNaN(x) {
		return math.Inf(1)
	}
	return x
}

// Evaluation is the verdict for one candidate set.
type Evaluation struct {
	Complete bool  `json:"complete" msgpack:"complete"`
	Score    Score `json:"score" msgpack:"score"`
	// Informative counts eigenvalues strictly above Threshold·λmax.
	Informative int `json:"informative" msgpack:"informative"`
	Required    int `json:"required" msgpack:"required"`
	// Eigenvalues are in descending order.
	Eigenvalues []float64 `json:"eigenvalues,omitempty" msgpack:"eigenvalues,omitempty"`
	Threshold   float64   `json:"threshold" msgpack:"threshold"`
}

// Spectrum configures Analyze.
type Spectrum struct {
	// Required is the number of informative directions that makes a set
	// complete: d² for fiducials, the non-gauge count for germs.
	Required  int
	Policy    Policy
	Threshold float64
}

// Validate checks the threshold and required count.
func (sp Spectrum) Validate() error {
	if !(sp.Threshold > 0 && sp.Threshold < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, sp.Threshold)
	}
	if sp.Required <= 0 {
		return fmt.Errorf("scoring: required direction count must be positive, got %d", sp.Required)
	}
	return nil
}

// Analyze scores the summed sensitivity matrix of a set of n candidates.
// An eigenvalue exactly at the cutoff is not informative. The minor score
// uses the informative eigenvalues among the top Required ones.
func (sp Spectrum) Analyze(s mat.Symmetric, n int) (Evaluation, error) {
	ev := Evaluation{Required: sp.Required, Threshold: sp.Threshold, Score: Score{N: n, Minor: math.Inf(1)}}
	if s == nil || s.SymmetricDim() == 0 {
		return ev, nil
	}
	vals, err := linalg.SymEigenvalues(s)
	if err != nil {
		return Evaluation{}, fmt.Errorf("scoring: %w", err)
	}
	ev.Eigenvalues = vals

	if vals[0] > 0 {
		cut := sp.Threshold * vals[0]
		for _, v := range vals {
			if v > cut {
				ev.Informative++
			}
		}
		top := vals
		if len(top) > sp.Required {
			top = top[:sp.Required]
		}
		var kept []float64
		for _, v := range top {
			if v > cut {
				kept = append(kept, v)
			}
		}
		ev.Score.Minor = float64(n) * ListScore(kept, sp.Policy)
	}

	found := ev.Informative
	if found > sp.Required {
		found = sp.Required
	}
	ev.Score.Major = -found
	ev.Complete = ev.Informative >= sp.Required
	return ev, nil
}

// Sum adds symmetric contributions into a fresh matrix of dimension dim.
func Sum(dim int, parts ...*mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(dim, nil)
	for _, p := range parts {
		out.AddSym(out, p)
	}
	return out
}

type scoreJSON struct {
	Major int      `json:"major"`
	Minor *float64 `json:"minor"`
	N     int      `json:"n"`
}

// MarshalJSON writes a non-finite minor score as null.
func (s Score) MarshalJSON() ([]byte, error) {
	out := scoreJSON{Major: s.Major, N: s.N}
	if !math.IsInf(s.Minor, 0) && !math.IsNaN(s.Minor) {
		m := s.Minor
		out.Minor = &m
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null minor score as +Inf.
func (s *Score) UnmarshalJSON(data []byte) error {
	var in scoreJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Major, s.N, s.Minor = in.Major, in.N, math.Inf(1)
	if in.Minor != nil {
		s.Minor = *in.Minor
	}
	return nil
}
