// Package quota holds the value types of the space-quota subsystem: table
// and region identities, quota definitions, violation policies and violation
// states.
package quota

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultNamespace is the namespace of tables created without an explicit
// namespace qualifier.
const DefaultNamespace = "default"

// TableName identifies a table by namespace and qualifier.
type TableName struct {
	Namespace string
	Qualifier string
}

// NewTableName returns the TableName for qualifier under namespace.  An
// empty namespace means DefaultNamespace.
func NewTableName(namespace, qualifier string) TableName {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return TableName{Namespace: namespace, Qualifier: qualifier}
}

// ParseTableName parses "namespace:qualifier".  A name without a colon is a
// table in the default namespace.
func ParseTableName(s string) (TableName, error) {
	if s == "" {
		return TableName{}, errors.New("empty table name")
	}
	namespace, qualifier, found := strings.Cut(s, ":")
	if !found {
		return NewTableName("", s), nil
	}
	if namespace == "" || qualifier == "" {
		return TableName{}, fmt.Errorf("malformed table name %q", s)
	}
	if strings.Contains(qualifier, ":") {
		return TableName{}, fmt.Errorf("malformed table name %q", s)
	}
	return TableName{Namespace: namespace, Qualifier: qualifier}, nil
}

func (t TableName) String() string {
	return t.Namespace + ":" + t.Qualifier
}

// Region identifies one region of a table, the unit at which space use is
// reported by region servers.
type Region struct {
	Table TableName
	ID    string
}

func (r Region) String() string {
	return r.Table.String() + "," + r.ID
}

// Policy is the enforcement action enacted on a table whose quota, or whose
// namespace's quota, is in violation.
type Policy string

const (
	// PolicyDenyWrites rejects mutations on the table.
	PolicyDenyWrites Policy = "deny_writes"
	// PolicyDenyWritesCompactions rejects mutations and stops compactions.
	PolicyDenyWritesCompactions Policy = "deny_writes_compactions"
	// PolicyDisableTable takes the table offline entirely.
	PolicyDisableTable Policy = "disable_table"
)

// Valid reports whether p is one of the known policies.
func (p Policy) Valid() bool {
	switch p {
	case PolicyDenyWrites, PolicyDenyWritesCompactions, PolicyDisableTable:
		return true
	}
	return false
}

// ParsePolicy parses the string form of a Policy.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown violation policy %q", s)
	}
	return p, nil
}

// ViolationState is the enforcement state of a subject relative to its
// quota.
type ViolationState string

const (
	// InObservance means usage is within the limit and no enforcement is
	// active.  A subject with no tracked state is in observance.
	InObservance ViolationState = "IN_OBSERVANCE"
	// InViolation means usage exceeds the limit and the violation policy
	// is being enforced.
	InViolation ViolationState = "IN_VIOLATION"
)

// ErrNoViolationPolicy marks a quota definition that carries no violation
// policy.  A subject cannot be put in violation without one.
var ErrNoViolationPolicy = errors.New("space quota has no violation policy")

// Quota is a space quota definition: a byte limit and the policy to enact
// when the limit is exceeded.
type Quota struct {
	LimitBytes int64
	// Policy is empty when the definition carries no violation policy.
	Policy Policy
}

// ViolationPolicy returns the policy to enact for q.  It fails with
// ErrNoViolationPolicy when q has none, and rejects policies it does not
// know.
func (q Quota) ViolationPolicy() (Policy, error) {
	if q.Policy == "" {
		return "", ErrNoViolationPolicy
	}
	if !q.Policy.Valid() {
		return "", fmt.Errorf("unknown violation policy %q", q.Policy)
	}
	return q.Policy, nil
}
