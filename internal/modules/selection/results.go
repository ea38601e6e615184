package selection

import (
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/scoring"
	"github.com/aristath/gstdesign/internal/modules/search"
)

// FailureKind distinguishes why a selection produced no set.
type FailureKind string

const (
	// FailurePoolInsufficient means the full candidate pool is not complete
	// or is smaller than the target size. A longer schedule may help.
	FailurePoolInsufficient FailureKind = "pool_insufficient"
	// FailureSearchExhausted means the pool could reach completeness but the
	// driver stopped without a complete set. More iterations, another
	// algorithm or another seed may help.
	FailureSearchExhausted FailureKind = "search_exhausted"
)

// Failure is returned as a value, never as an error.
type Failure struct {
	Kind        FailureKind `json:"kind" msgpack:"kind"`
	Message     string      `json:"message" msgpack:"message"`
	Informative int         `json:"informative" msgpack:"informative"`
	Required    int         `json:"required" msgpack:"required"`
}

// FiducialResult is the outcome of one fiducial selection.
type FiducialResult struct {
	Role        pool.Role          `json:"role" msgpack:"role"`
	Algorithm   Algorithm          `json:"algorithm" msgpack:"algorithm"`
	Fiducials   []circuits.Circuit `json:"fiducials" msgpack:"fiducials"`
	Complete    bool               `json:"complete" msgpack:"complete"`
	Evaluation  scoring.Evaluation `json:"evaluation" msgpack:"evaluation"`
	Threshold   float64            `json:"threshold" msgpack:"threshold"`
	PoolSize    int                `json:"pool_size" msgpack:"pool_size"`
	Dropped     pool.DropCounts    `json:"dropped" msgpack:"dropped"`
	States      []search.State     `json:"states" msgpack:"states"`
	Trace       []search.Step      `json:"trace,omitempty" msgpack:"trace,omitempty"`
	Failure     *Failure           `json:"failure,omitempty" msgpack:"failure,omitempty"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty" msgpack:"diagnostics,omitempty"`
}

// FiducialPairResult holds independently selected prep and meas fiducials.
type FiducialPairResult struct {
	Prep *FiducialResult `json:"prep" msgpack:"prep"`
	Meas *FiducialResult `json:"meas" msgpack:"meas"`
}

// Failed reports whether either role failed.
func (r *FiducialPairResult) Failed() bool {
	return r.Prep.Failure != nil || r.Meas.Failure != nil
}

// GermResult is the outcome of one germ selection.
type GermResult struct {
	Algorithm      Algorithm          `json:"algorithm" msgpack:"algorithm"`
	Germs          []circuits.Circuit `json:"germs" msgpack:"germs"`
	Complete       bool               `json:"complete" msgpack:"complete"`
	Evaluation     scoring.Evaluation `json:"evaluation" msgpack:"evaluation"`
	Threshold      float64            `json:"threshold" msgpack:"threshold"`
	NumParams      int                `json:"num_params" msgpack:"num_params"`
	NonGaugeParams int                `json:"non_gauge_params" msgpack:"non_gauge_params"`
	NumCopies      int                `json:"num_copies" msgpack:"num_copies"`
	PoolSize       int                `json:"pool_size" msgpack:"pool_size"`
	Dropped        pool.DropCounts    `json:"dropped" msgpack:"dropped"`
	States         []search.State     `json:"states" msgpack:"states"`
	Trace          []search.Step      `json:"trace,omitempty" msgpack:"trace,omitempty"`
	Failure        *Failure           `json:"failure,omitempty" msgpack:"failure,omitempty"`
	Diagnostics    []Diagnostic       `json:"diagnostics,omitempty" msgpack:"diagnostics,omitempty"`
}

// DesignResult is a full experiment design: fiducials, germs and the
// expanded circuit list.
type DesignResult struct {
	Prep       *FiducialResult    `json:"prep" msgpack:"prep"`
	Meas       *FiducialResult    `json:"meas" msgpack:"meas"`
	Germs      *GermResult        `json:"germs" msgpack:"germs"`
	MaxLengths []int              `json:"max_lengths" msgpack:"max_lengths"`
	Circuits   []circuits.Circuit `json:"circuits,omitempty" msgpack:"circuits,omitempty"`
}

// Failed reports whether any part failed.
func (r *DesignResult) Failed() bool {
	return r.Prep.Failure != nil || r.Meas.Failure != nil || r.Germs.Failure != nil
}
