package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/scoring"
)

// ErrUnknownOption is returned for option names outside the closed set.
var ErrUnknownOption = errors.New("selection: unknown option")

// optionSetter applies one loosely typed option value.
type optionSetter func(c *Config, v any, labels []circuits.Label) error

var options = map[string]optionSetter{
	"algorithm": func(c *Config, v any, _ []circuits.Label) error {
		s, err := asString(v)
		c.Algorithm = Algorithm(strings.ToLower(s))
		return err
	},
	"candidate_length_schedule": func(c *Config, v any, _ []circuits.Label) error {
		s, err := asSchedule(v)
		c.Schedule = s
		return err
	},
	"force": func(c *Config, v any, labels []circuits.Label) error {
		if s, ok := v.(string); ok {
			switch p := ForcePolicy(strings.ToLower(s)); p {
			case ForceDefault, ForceNone:
				c.Force = Force{Policy: p}
				return nil
			}
			return fmt.Errorf("force must be %q, %q or a circuit list", ForceDefault, ForceNone)
		}
		cs, err := asCircuits(v, labels)
		c.Force = Force{Policy: ForceCustom, Circuits: cs}
		return err
	},
	"omit_identity": func(c *Config, v any, _ []circuits.Label) error {
		b, err := asBool(v)
		c.OmitIdentity = b
		return err
	},
	"ops_to_omit": func(c *Config, v any, labels []circuits.Label) error {
		ss, err := asStrings(v)
		if err != nil {
			return err
		}
		c.OpsToOmit = c.OpsToOmit[:0]
		for _, s := range ss {
			if !hasLabel(labels, circuits.Label(s)) {
				return fmt.Errorf("%w: %s", circuits.ErrUnknownLabel, s)
			}
			c.OpsToOmit = append(c.OpsToOmit, circuits.Label(s))
		}
		return nil
	},
	"score_policy": func(c *Config, v any, _ []circuits.Label) error {
		s, err := asString(v)
		if err != nil {
			return err
		}
		c.ScorePolicy, err = scoring.ParsePolicy(s)
		return err
	},
	"threshold": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.Threshold = f
		return err
	},
	"seed": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.Seed = int64(n)
		return err
	},
	"verbosity": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.Verbosity = n
		return err
	},
	"target_size": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.TargetSize = n
		return err
	},
	"extend_while_improving": func(c *Config, v any, _ []circuits.Label) error {
		b, err := asBool(v)
		c.Greedy.ExtendWhileImproving = b
		return err
	},
	"iterations": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.GRASP.Iterations = n
		return err
	},
	"alpha": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.GRASP.Alpha = f
		return err
	},
	"max_local_steps": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.GRASP.MaxLocalSteps = n
		return err
	},
	"max_iter": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.Slack.MaxIter = n
		return err
	},
	"slack_frac": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.Slack.SlackFrac = f
		return err
	},
	"fixed_slack": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.Slack.FixedSlack = f
		return err
	},
	"num_copies": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.Amplification.NumCopies = n
		return err
	},
	"perturbation_strength": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.Amplification.Strength = f
		return err
	},
	"perturbation_seed": func(c *Config, v any, _ []circuits.Label) error {
		n, err := asInt(v)
		c.Amplification.Seed = int64(n)
		return err
	},
	"twirl_tolerance": func(c *Config, v any, _ []circuits.Label) error {
		f, err := asFloat(v)
		c.Amplification.TwirlTolerance = f
		return err
	},
}

// deprecated maps old option names onto their replacements.
var deprecated = map[string]struct {
	replacement string
	convert     func(v any) (any, error)
}{
	"max_fid_length":         {"candidate_length_schedule", nil},
	"max_germ_length":        {"candidate_length_schedule", nil},
	"score_func":             {"score_policy", nil},
	"randomization_strength": {"perturbation_strength", nil},
	"randomize": {"perturbation_strength", func(v any) (any, error) {
		b, err := asBool(v)
		if err != nil || b {
			return nil, err
		}
		return 0.0, nil
	}},
}

// DecodeOptions applies a loosely typed option map, as decoded from JSON or
// YAML, on top of base. Unknown names are an error. Deprecated names are
// applied through their replacement and reported as diagnostics; a current
// name given alongside its deprecated alias wins. Circuit-valued options are
// parsed against labels.
func DecodeOptions(base Config, opts map[string]any, labels []circuits.Label) (Config, error) {
	cfg := base
	cfg.OpsToOmit = append([]circuits.Label(nil), base.OpsToOmit...)
	cfg.Diagnostics = append([]Diagnostic(nil), base.Diagnostics...)

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		dep, ok := deprecated[k]
		if !ok {
			continue
		}
		cfg.Diagnostics = append(cfg.Diagnostics, Diagnostic{
			Option:  k,
			Message: fmt.Sprintf("%s is deprecated, use %s", k, dep.replacement),
		})
		if _, both := opts[dep.replacement]; both {
			continue
		}
		v := opts[k]
		if dep.convert != nil {
			conv, err := dep.convert(v)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, k, err)
			}
			if conv == nil {
				continue
			}
			v = conv
		}
		if err := options[dep.replacement](&cfg, v, labels); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, k, err)
		}
	}

	for _, k := range keys {
		if _, ok := deprecated[k]; ok {
			continue
		}
		set, ok := options[k]
		if !ok {
			return Config{}, fmt.Errorf("%w: %q", ErrUnknownOption, k)
		}
		if err := set(&cfg, opts[k], labels); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, k, err)
		}
	}
	return cfg, nil
}

// OptionNames lists the recognized option names, sorted.
func OptionNames() []string {
	names := make([]string, 0, len(options))
	for k := range options {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func hasLabel(labels []circuits.Label, l circuits.Label) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}

func asStrings(v any) ([]string, error) {
	switch xs := v.(type) {
	case []string:
		return xs, nil
	case []any:
		out := make([]string, len(xs))
		for i, x := range xs {
			s, err := asString(x)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}

func asCircuits(v any, labels []circuits.Label) ([]circuits.Circuit, error) {
	ss, err := asStrings(v)
	if err != nil {
		return nil, err
	}
	return circuits.ParseAll(ss, labels)
}

// asSchedule accepts a maximum length, or a map with "max_length" and an
// optional "counts" map from length to sample size.
func asSchedule(v any) (circuits.Schedule, error) {
	if n, err := asInt(v); err == nil {
		return circuits.UpTo(n), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return circuits.Schedule{}, fmt.Errorf("expected max length or schedule map, got %T", v)
	}
	var s circuits.Schedule
	for k, val := range m {
		switch k {
		case "max_length":
			n, err := asInt(val)
			if err != nil {
				return circuits.Schedule{}, err
			}
			s.MaxLength = n
		case "counts":
			counts, err := asCounts(val)
			if err != nil {
				return circuits.Schedule{}, err
			}
			s.Counts = counts
		default:
			return circuits.Schedule{}, fmt.Errorf("unknown schedule field %q", k)
		}
	}
	return s, nil
}

// asCounts accepts JSON maps with string keys and YAML maps with int keys.
func asCounts(v any) (map[int]int, error) {
	out := make(map[int]int)
	put := func(k, val any) error {
		l, err := asInt(k)
		if err != nil {
			return fmt.Errorf("count length %v: %v", k, err)
		}
		n, err := asInt(val)
		if err != nil {
			return err
		}
		out[l] = n
		return nil
	}
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			if err := put(k, val); err != nil {
				return nil, err
			}
		}
	case map[any]any:
		for k, val := range m {
			if err := put(k, val); err != nil {
				return nil, err
			}
		}
	case map[int]int:
		for k, val := range m {
			out[k] = val
		}
	default:
		return nil, fmt.Errorf("counts must be a map, got %T", v)
	}
	return out, nil
}
