package pool

import (
	"fmt"
	"strings"
)

// Role says what a candidate circuit is for. It decides the process-level
// signature used for deduplication.
type Role string

const (
	// RolePrep candidates are compared by the state they prepare.
	RolePrep Role = "prep"
	// RoleMeas candidates are compared by the effects they measure.
	RoleMeas Role = "meas"
	// RoleGerm candidates are compared by their full process matrix.
	RoleGerm Role = "germ"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RolePrep, RoleMeas, RoleGerm:
		return r, nil
	}
	return "", fmt.Errorf("pool: unknown role %q", s)
}

// IsFiducial reports whether the role is prep or meas.
func (r Role) IsFiducial() bool { return r == RolePrep || r == RoleMeas }
