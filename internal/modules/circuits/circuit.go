// Package circuits defines gate-sequence values and the enumeration helpers
// used to build candidate fiducial and germ pools.
package circuits

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownLabel is returned when a circuit string references a gate label
// that is not part of the gate set.
var ErrUnknownLabel = errors.New("circuits: unknown gate label")

// EmptyString is the textual form of the empty (identity) circuit.
const EmptyString = "{}"

// Label names a single gate, e.g. "Gx" or "Gcnot".
type Label string

// Circuit is an immutable ordered sequence of gate labels. The first label is
// applied first. The zero value is the empty circuit.
type Circuit struct {
	labels []Label
}

// New creates a circuit from labels. The input slice is copied.
func New(labels ...Label) Circuit {
	if len(labels) == 0 {
		return Circuit{}
	}
	cp := make([]Label, len(labels))
	copy(cp, labels)
	return Circuit{labels: cp}
}

// Empty returns the empty circuit.
func Empty() Circuit { return Circuit{} }

// Len returns the number of gates in the circuit.
func (c Circuit) Len() int { return len(c.labels) }

// IsEmpty reports whether c has no gates.
func (c Circuit) IsEmpty() bool { return len(c.labels) == 0 }

// At returns the i-th label.
func (c Circuit) At(i int) Label { return c.labels[i] }

// Labels returns a copy of the circuit's labels.
func (c Circuit) Labels() []Label {
	cp := make([]Label, len(c.labels))
	copy(cp, c.labels)
	return cp
}

// Key returns a string usable as a map key. Two circuits have the same key
// exactly when their label sequences are equal.
func (c Circuit) Key() string {
	if len(c.labels) == 0 {
		return ""
	}
	var b strings.Builder
	for i, l := range c.labels {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(string(l))
	}
	return b.String()
}

// String renders the circuit the way circuit lists are written: "{}" for the
// empty circuit and concatenated labels otherwise.
func (c Circuit) String() string {
	if len(c.labels) == 0 {
		return EmptyString
	}
	var b strings.Builder
	for _, l := range c.labels {
		b.WriteString(string(l))
	}
	return b.String()
}

// Equal reports label-sequence equality.
func (c Circuit) Equal(o Circuit) bool {
	if len(c.labels) != len(o.labels) {
		return false
	}
	for i := range c.labels {
		if c.labels[i] != o.labels[i] {
			return false
		}
	}
	return true
}

// Contains reports whether the circuit uses label l.
func (c Circuit) Contains(l Label) bool {
	for _, x := range c.labels {
		if x == l {
			return true
		}
	}
	return false
}

// Concat returns c followed by each of others.
func (c Circuit) Concat(others ...Circuit) Circuit {
	n := len(c.labels)
	for _, o := range others {
		n += len(o.labels)
	}
	out := make([]Label, 0, n)
	out = append(out, c.labels...)
	for _, o := range others {
		out = append(out, o.labels...)
	}
	return Circuit{labels: out}
}

// Repeat returns c repeated n times. n <= 0 yields the empty circuit.
func (c Circuit) Repeat(n int) Circuit {
	if n <= 0 || len(c.labels) == 0 {
		return Circuit{}
	}
	out := make([]Label, 0, n*len(c.labels))
	for i := 0; i < n; i++ {
		out = append(out, c.labels...)
	}
	return Circuit{labels: out}
}

// Rotate returns the cyclic rotation of c starting at position k.
func (c Circuit) Rotate(k int) Circuit {
	n := len(c.labels)
	if n == 0 {
		return c
	}
	k = ((k % n) + n) % n
	out := make([]Label, 0, n)
	out = append(out, c.labels[k:]...)
	out = append(out, c.labels[:k]...)
	return Circuit{labels: out}
}

// MarshalJSON encodes the circuit as an array of labels.
func (c Circuit) MarshalJSON() ([]byte, error) {
	if c.labels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.labels)
}

// UnmarshalJSON decodes an array of labels.
func (c *Circuit) UnmarshalJSON(data []byte) error {
	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		return fmt.Errorf("circuits: decode circuit: %w", err)
	}
	*c = New(labels...)
	return nil
}

// MarshalMsgpack encodes the circuit as an array of labels.
func (c Circuit) MarshalMsgpack() ([]byte, error) {
	labels := make([]string, len(c.labels))
	for i, l := range c.labels {
		labels[i] = string(l)
	}
	return msgpack.Marshal(labels)
}

// UnmarshalMsgpack decodes an array of labels.
func (c *Circuit) UnmarshalMsgpack(data []byte) error {
	var labels []Label
	if err := msgpack.Unmarshal(data, &labels); err != nil {
		return fmt.Errorf("circuits: decode circuit: %w", err)
	}
	*c = New(labels...)
	return nil
}

// Parse reads a circuit written as concatenated labels ("GxGyGi") or "{}".
// Labels are matched longest first so "Gxx" wins over "Gx" when both exist.
// Whitespace and ':' separators are ignored.
func Parse(s string, labels []Label) (Circuit, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == EmptyString {
		return Circuit{}, nil
	}
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)

	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var out []Label
	for len(s) > 0 {
		matched := false
		for _, l := range sorted {
			if l != "" && strings.HasPrefix(s, string(l)) {
				out = append(out, l)
				s = s[len(l):]
				matched = true
				break
			}
		}
		if !matched {
			return Circuit{}, fmt.Errorf("%w at %q", ErrUnknownLabel, s)
		}
	}
	return Circuit{labels: out}, nil
}

// ParseAll parses every string in ss.
func ParseAll(ss []string, labels []Label) ([]Circuit, error) {
	out := make([]Circuit, 0, len(ss))
	for _, s := range ss {
		c, err := Parse(s, labels)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Strings renders each circuit with String.
func Strings(cs []Circuit) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}

// Index returns the position of c in cs, or -1.
func Index(cs []Circuit, c Circuit) int {
	for i, x := range cs {
		if x.Equal(c) {
			return i
		}
	}
	return -1
}
