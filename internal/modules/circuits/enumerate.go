package circuits

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// MaxEnumeration bounds how many sequences of a single length may be listed
// exhaustively. Longer lengths must be sampled with an explicit count.
const MaxEnumeration = 1 << 20

// ErrScheduleTooLarge is returned when a schedule asks for exhaustive
// enumeration of a length with more than MaxEnumeration sequences.
var ErrScheduleTooLarge = errors.New("circuits: schedule enumerates too many sequences")

// OfLength lists every sequence of exactly length labels, in lexicographic
// order of the label slice.
func OfLength(labels []Label, length int) []Circuit {
	if length == 0 {
		return []Circuit{{}}
	}
	if len(labels) == 0 || length < 0 {
		return nil
	}

	total := countOfLength(len(labels), length)
	out := make([]Circuit, 0, total)
	idx := make([]int, length)
	for {
		seq := make([]Label, length)
		for i, j := range idx {
			seq[i] = labels[j]
		}
		out = append(out, Circuit{labels: seq})

		// odometer increment, rightmost digit fastest
		i := length - 1
		for i >= 0 {
			idx[i]++
			if idx[i] < len(labels) {
				break
			}
			idx[i] = 0
			i--
		}
		if i < 0 {
			return out
		}
	}
}

// All lists every sequence with length 0..maxLength, shortest first.
func All(labels []Label, maxLength int) []Circuit {
	var out []Circuit
	for l := 0; l <= maxLength; l++ {
		out = append(out, OfLength(labels, l)...)
	}
	return out
}

// RandomOfLength draws count distinct sequences of the given length using rng.
// When count covers every sequence the exhaustive list is returned instead.
func RandomOfLength(labels []Label, length, count int, rng *rand.Rand) []Circuit {
	total := countOfLength(len(labels), length)
	if count <= 0 || (total >= 0 && count >= total) {
		return OfLength(labels, length)
	}

	seen := make(map[string]struct{}, count)
	out := make([]Circuit, 0, count)
	// bounded so a pathological rng cannot spin forever
	for attempts := 0; len(out) < count && attempts < count*64; attempts++ {
		seq := make([]Label, length)
		for i := range seq {
			seq[i] = labels[rng.Intn(len(labels))]
		}
		c := Circuit{labels: seq}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// countOfLength returns n^length, or -1 when it exceeds MaxEnumeration.
func countOfLength(n, length int) int {
	total := 1
	for i := 0; i < length; i++ {
		total *= n
		if total > MaxEnumeration {
			return -1
		}
	}
	return total
}

// Schedule decides which sequences enter a candidate pool. Every length from
// 0 to MaxLength is listed exhaustively unless Counts caps it, in which case a
// seeded random sample of that many sequences is drawn.
type Schedule struct {
	MaxLength int         `json:"max_length" yaml:"max_length"`
	Counts    map[int]int `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// UpTo returns a schedule listing every sequence up to maxLength.
func UpTo(maxLength int) Schedule {
	return Schedule{MaxLength: maxLength}
}

// Validate checks the schedule against a label count.
func (s Schedule) Validate(numLabels int) error {
	if s.MaxLength < 0 {
		return fmt.Errorf("circuits: negative max length %d", s.MaxLength)
	}
	for l, n := range s.Counts {
		if l < 0 || l > s.MaxLength {
			return fmt.Errorf("circuits: count given for length %d outside 0..%d", l, s.MaxLength)
		}
		if n < 0 {
			return fmt.Errorf("circuits: negative count %d for length %d", n, l)
		}
	}
	for l := 0; l <= s.MaxLength; l++ {
		if s.Counts[l] > 0 {
			continue
		}
		if countOfLength(numLabels, l) < 0 {
			return fmt.Errorf("%w: length %d with %d labels", ErrScheduleTooLarge, l, numLabels)
		}
	}
	return nil
}

// Expand lists the scheduled sequences. Sampling at length l uses a source
// seeded with seed+l so a length's sample does not depend on the others.
func (s Schedule) Expand(labels []Label, seed int64) []Circuit {
	var out []Circuit
	for l := 0; l <= s.MaxLength; l++ {
		if n := s.Counts[l]; n > 0 {
			rng := rand.New(rand.NewSource(seed + int64(l)))
			out = append(out, RandomOfLength(labels, l, n, rng)...)
			continue
		}
		out = append(out, OfLength(labels, l)...)
	}
	return out
}

// CappedLengths returns the sampled lengths in ascending order.
func (s Schedule) CappedLengths() []int {
	var out []int
	for l, n := range s.Counts {
		if n > 0 {
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

// IsPower reports whether c equals some shorter circuit repeated two or more
// times, e.g. GxGx or GxGyGxGy.
func IsPower(c Circuit) bool {
	n := c.Len()
	for p := 1; p <= n/2; p++ {
		if n%p != 0 {
			continue
		}
		if New(c.labels[:p]...).Repeat(n / p).Equal(c) {
			return true
		}
	}
	return false
}

// CanonicalRotation returns the rotation of c whose key sorts first.
func CanonicalRotation(c Circuit) Circuit {
	best := c
	for k := 1; k < c.Len(); k++ {
		r := c.Rotate(k)
		if r.Key() < best.Key() {
			best = r
		}
	}
	return best
}

// WithoutPowersAndCycles drops the empty circuit, powers of shorter circuits
// and all but the first member of every cyclic-rotation class. Repeating a
// rotation of a germ probes the same error directions as the germ itself.
func WithoutPowersAndCycles(cs []Circuit) []Circuit {
	seen := make(map[string]struct{}, len(cs))
	out := make([]Circuit, 0, len(cs))
	for _, c := range cs {
		if c.IsEmpty() || IsPower(c) {
			continue
		}
		key := CanonicalRotation(c).Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Without removes every circuit that uses one of the omitted labels.
func Without(cs []Circuit, omit []Label) []Circuit {
	if len(omit) == 0 {
		return cs
	}
	out := make([]Circuit, 0, len(cs))
next:
	for _, c := range cs {
		for _, l := range omit {
			if c.Contains(l) {
				continue next
			}
		}
		out = append(out, c)
	}
	return out
}
