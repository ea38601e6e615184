package selection

import (
	"errors"
	"fmt"

	"github.com/aristath/gstdesign/internal/modules/amplification"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/progress"
	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/modules/search"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned for configurations that cannot run.
var ErrInvalidConfig = errors.New("selection: invalid configuration")

// Algorithm names a search driver.
type Algorithm string

const (
	AlgorithmGreedy Algorithm = "greedy"
	AlgorithmGRASP  Algorithm = "grasp"
	AlgorithmSlack  Algorithm = "slack"
)

// ForcePolicy says which circuits every search starts from.
type ForcePolicy string

const (
	// ForceDefault starts fiducial searches from the empty circuit and germ
	// searches from every single gate.
	ForceDefault ForcePolicy = "default"
	// ForceNone starts from the empty set.
	ForceNone ForcePolicy = "none"
	// ForceCustom starts from Force.Circuits.
	ForceCustom ForcePolicy = "custom"
)

// Force is the inclusion policy.
type Force struct {
	Policy   ForcePolicy        `json:"policy" yaml:"policy"`
	Circuits []circuits.Circuit `json:"circuits,omitempty" yaml:"-"`
}

// Config is the complete, closed option set of one selection call.
type Config struct {
	Algorithm    Algorithm         `json:"algorithm"`
	Schedule     circuits.Schedule `json:"candidate_length_schedule"`
	Force        Force             `json:"force"`
	OmitIdentity bool              `json:"omit_identity"`
	OpsToOmit    []circuits.Label  `json:"ops_to_omit,omitempty"`
	ScorePolicy  scoring.Policy    `json:"score_policy"`
	// Threshold is the eigenvalue cutoff relative to the largest eigenvalue.
	// It decides completeness and has no implicit default.
	Threshold float64 `json:"threshold"`
	Seed      int64   `json:"seed"`
	// Verbosity 1 attaches the search trace to results; 2 also logs every
	// accepted move at info level.
	Verbosity int `json:"verbosity"`
	// TargetSize overrides the smallest acceptable set size when larger than
	// the role's lower bound.
	TargetSize int `json:"target_size"`

	Greedy        search.GreedyOptions `json:"greedy"`
	GRASP         search.GRASPOptions  `json:"grasp"`
	Slack         search.SlackOptions  `json:"slack"`
	Amplification amplification.Config `json:"amplification"`

	// Diagnostics collects deprecation notices from DecodeOptions.
	Diagnostics []Diagnostic `json:"-"`
	// Progress receives state transitions.
	Progress progress.DetailedCallback `json:"-"`
}

// Diagnostic is a non-fatal notice about the configuration.
type Diagnostic struct {
	Option  string `json:"option" msgpack:"option"`
	Message string `json:"message" msgpack:"message"`
}

// DefaultFiducialConfig returns the fiducial defaults: GRASP over every
// circuit up to length 2.
func DefaultFiducialConfig() Config {
	return Config{
		Algorithm:     AlgorithmGRASP,
		Schedule:      circuits.UpTo(2),
		Force:         Force{Policy: ForceDefault},
		OmitIdentity:  true,
		ScorePolicy:   scoring.PolicyAll,
		Threshold:     1e-6,
		GRASP:         search.DefaultGRASPOptions(),
		Slack:         search.DefaultSlackOptions(),
		Amplification: amplification.DefaultConfig(),
	}
}

// DefaultGermConfig returns the germ defaults: greedy over every germ up to
// length 6, starting from the single gates.
func DefaultGermConfig() Config {
	cfg := DefaultFiducialConfig()
	cfg.Algorithm = AlgorithmGreedy
	cfg.Schedule = circuits.UpTo(6)
	return cfg
}

// Validate checks the configuration for a role.
func (c Config) Validate(role pool.Role) error {
	switch c.Algorithm {
	case AlgorithmGreedy, AlgorithmGRASP, AlgorithmSlack:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if _, err := scoring.ParsePolicy(string(c.ScorePolicy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !(c.Threshold > 0 && c.Threshold < 1) {
		return fmt.Errorf("%w: threshold must be set in (0, 1), got %v", ErrInvalidConfig, c.Threshold)
	}
	if c.Verbosity < 0 || c.TargetSize < 0 {
		return fmt.Errorf("%w: verbosity and target_size must be non-negative", ErrInvalidConfig)
	}
	switch c.Force.Policy {
	case ForceDefault, ForceNone:
	case ForceCustom:
		if role == pool.RoleGerm {
			for _, fc := range c.Force.Circuits {
				if fc.IsEmpty() {
					return fmt.Errorf("%w: the empty circuit cannot be a germ", ErrInvalidConfig)
				}
			}
		}
	default:
		return fmt.Errorf("%w: unknown force policy %q", ErrInvalidConfig, c.Force.Policy)
	}
	switch c.Algorithm {
	case AlgorithmGRASP:
		if err := c.GRASP.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case AlgorithmSlack:
		if err := c.Slack.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if role == pool.RoleGerm {
		if err := c.Amplification.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// forced resolves the inclusion policy against a gate set.
func (c Config) forced(role pool.Role, labels []circuits.Label) []circuits.Circuit {
	switch c.Force.Policy {
	case ForceNone:
		return nil
	case ForceCustom:
		return c.Force.Circuits
	}
	if role == pool.RoleGerm {
		out := make([]circuits.Circuit, len(labels))
		for i, l := range labels {
			out[i] = circuits.New(l)
		}
		return out
	}
	return []circuits.Circuit{circuits.Empty()}
}

func (c Config) driver(wp *workers.WorkerPool, log zerolog.Logger) (search.Driver, error) {
	switch c.Algorithm {
	case AlgorithmGRASP:
		opts := c.GRASP
		opts.Seed = c.Seed
		return search.NewGRASP(opts, wp, log)
	case AlgorithmSlack:
		return search.NewSlack(c.Slack, wp, log)
	default:
		return search.NewGreedy(c.Greedy, wp, log), nil
	}
}
