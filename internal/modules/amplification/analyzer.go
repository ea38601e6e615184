// Package amplification builds the germ sensitivity matrices used to test
// amplificational completeness. Each germ is analyzed on randomly perturbed
// copies of the target so accidental symmetries of perfect gates do not hide
// amplified directions.
package amplification

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/gstdesign/internal/linalg"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/modules/processcache"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyGerm is returned when asked to analyze the empty circuit.
var ErrEmptyGerm = errors.New("amplification: germ must not be empty")

// Config controls the perturbed copies and the twirl.
type Config struct {
	// Seed of the first perturbed copy; copy i uses Seed+i.
	Seed int64 `json:"seed" yaml:"seed"`
	// Strength of the random unitary perturbation. Zero analyzes the target itself.
	Strength float64 `json:"strength" yaml:"strength"`
	// NumCopies is the number of independently perturbed copies.
	NumCopies int `json:"num_copies" yaml:"num_copies"`
	// TwirlTolerance groups germ eigenvalues closer than this into one eigenspace.
	TwirlTolerance float64 `json:"twirl_tolerance" yaml:"twirl_tolerance"`
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		Seed:           0,
		Strength:       1e-2,
		NumCopies:      1,
		TwirlTolerance: 1e-6,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Strength < 0 {
		return fmt.Errorf("amplification: negative perturbation strength %v", c.Strength)
	}
	if c.NumCopies < 1 {
		return fmt.Errorf("amplification: num_copies must be at least 1, got %d", c.NumCopies)
	}
	if c.TwirlTolerance <= 0 {
		return fmt.Errorf("amplification: twirl tolerance must be positive, got %v", c.TwirlTolerance)
	}
	return nil
}

// Analyzer computes twirled germ Jacobians over the gate-only TP parameters
// of perturbed target copies. Each copy has its own process cache.
type Analyzer struct {
	cfg       Config
	labels    []circuits.Label
	copies    []*processcache.Cache
	numParams int
	nonGauge  int
	pool      *workers.WorkerPool
	log       zerolog.Logger
}

// NewAnalyzer perturbs the target and measures its non-gauge parameter count.
func NewAnalyzer(target model.Target, cfg Config, pool *workers.WorkerPool, log zerolog.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = workers.NewWorkerPool(0)
	}
	nonGauge, err := target.NumNonGaugeParams()
	if err != nil {
		return nil, fmt.Errorf("amplification: %w", err)
	}

	a := &Analyzer{
		cfg:       cfg,
		labels:    target.Labels(),
		numParams: target.NumParams(),
		nonGauge:  nonGauge,
		pool:      pool,
		log:       log.With().Str("component", "amplification").Logger(),
	}
	for i := 0; i < cfg.NumCopies; i++ {
		perturbed, err := target.Perturb(cfg.Seed+int64(i), cfg.Strength)
		if err != nil {
			return nil, fmt.Errorf("amplification: perturb copy %d: %w", i, err)
		}
		a.copies = append(a.copies, processcache.New(perturbed))
	}

	a.log.Debug().
		Int("params", a.numParams).
		Int("non_gauge", a.nonGauge).
		Int("copies", cfg.NumCopies).
		Float64("strength", cfg.Strength).
		Msg("Analyzer ready")
	return a, nil
}

// NumCopies returns the number of perturbed copies.
func (a *Analyzer) NumCopies() int { return len(a.copies) }

// Cache returns the process cache of one perturbed copy.
func (a *Analyzer) Cache(copyIdx int) *processcache.Cache { return a.copies[copyIdx] }

// NumParams returns the gate-only parameter count, the Jacobian width.
func (a *Analyzer) NumParams() int { return a.numParams }

// NumNonGaugeParams returns the number of directions a complete germ set
// must amplify.
func (a *Analyzer) NumNonGaugeParams() int { return a.nonGauge }

// TwirledJacobian returns the germ's twirled, length-normalised derivative
// with respect to every gate parameter on one copy. Rows hold the real then
// imaginary parts of the flattened derivative.
func (a *Analyzer) TwirledJacobian(copyIdx int, germ circuits.Circuit) (*mat.Dense, error) {
	if copyIdx < 0 || copyIdx >= len(a.copies) {
		return nil, fmt.Errorf("amplification: copy %d out of range", copyIdx)
	}
	if germ.IsEmpty() {
		return nil, ErrEmptyGerm
	}
	cache := a.copies[copyIdx]
	n := cache.GateSet().Dim()
	labels := germ.Labels()

	p, err := cache.Product(germ)
	if err != nil {
		return nil, err
	}
	eig, err := linalg.Decompose(p)
	if err != nil {
		return nil, fmt.Errorf("amplification: germ %s: %w", germ, err)
	}
	tw := newTwirler(eig, a.cfg.TwirlTolerance)

	// dP/dG[r,c] = Σ_pos L_pos E_rc R_pos, with L the gates after the
	// position and R those before it. Both are kept in the eigenbasis.
	type factor struct{ left, right linalg.CMatrix }
	byGate := make(map[circuits.Label][]factor)
	for pos, l := range labels {
		right, err := cache.Product(circuits.New(labels[:pos]...))
		if err != nil {
			return nil, err
		}
		left, err := cache.Product(circuits.New(labels[pos+1:]...))
		if err != nil {
			return nil, err
		}
		byGate[l] = append(byGate[l], factor{
			left:  linalg.CMul(eig.Inverse, linalg.RealC(left)),
			right: linalg.CMul(linalg.RealC(right), eig.Vectors),
		})
	}

	scale := 1 / float64(len(labels))
	jac := mat.NewDense(2*n*n, a.numParams, nil)
	per := (n - 1) * n
	for gi, l := range a.labels {
		factors := byGate[l]
		if len(factors) == 0 {
			continue
		}
		for r := 1; r < n; r++ {
			for c := 0; c < n; c++ {
				y := linalg.NewCMatrix(n, n)
				for _, f := range factors {
					for j := 0; j < n; j++ {
						lj := f.left.At(j, r)
						if lj == 0 {
							continue
						}
						for k := 0; k < n; k++ {
							v := lj * f.right.At(c, k)
							y.Re.Set(j, k, y.Re.At(j, k)+real(v))
							y.Im.Set(j, k, y.Im.At(j, k)+imag(v))
						}
					}
				}
				t := tw.twirlEigenbasis(y)
				col := gi*per + (r-1)*n + c
				for j := 0; j < n; j++ {
					for k := 0; k < n; k++ {
						jac.Set(j*n+k, col, scale*t.Re.At(j, k))
						jac.Set(n*n+j*n+k, col, scale*t.Im.At(j, k))
					}
				}
			}
		}
	}
	return jac, nil
}

// Contribution returns JᵀJ for one germ on one copy.
func (a *Analyzer) Contribution(copyIdx int, germ circuits.Circuit) (*mat.SymDense, error) {
	jac, err := a.TwirledJacobian(copyIdx, germ)
	if err != nil {
		return nil, err
	}
	return linalg.GramSym(jac), nil
}

// Contributions computes every germ's contribution on every copy in
// parallel. The result is indexed [copy][germ].
func (a *Analyzer) Contributions(ctx context.Context, germs []circuits.Circuit) ([][]*mat.SymDense, error) {
	type job struct {
		copyIdx int
		germ    int
	}
	jobs := make([]job, 0, len(a.copies)*len(germs))
	for ci := range a.copies {
		for gi := range germs {
			jobs = append(jobs, job{copyIdx: ci, germ: gi})
		}
	}

	flat, err := workers.Map(ctx, a.pool, jobs, func(_ context.Context, j job) (*mat.SymDense, error) {
		return a.Contribution(j.copyIdx, germs[j.germ])
	})
	if err != nil {
		return nil, err
	}

	out := make([][]*mat.SymDense, len(a.copies))
	for ci := range out {
		out[ci] = flat[ci*len(germs) : (ci+1)*len(germs)]
	}

	stats := a.copies[0].Stats()
	a.log.Debug().
		Int("germs", len(germs)).
		Int("cache_entries", stats.Entries).
		Int64("cache_hits", stats.Hits).
		Msg("Computed germ contributions")
	return out, nil
}
