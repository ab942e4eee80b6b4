// Package cluster defines the interfaces quotad uses to talk to the rest of
// the Caldera cluster.
package cluster

import (
	"context"

	"github.com/calderadb/quotad/pkg/quota"
)

// Topology answers questions about the current table and namespace layout of
// the cluster.  Answers may change between calls as regions split, merge and
// move.
type Topology interface {
	// TableRegions returns all regions currently belonging to table.
	TableRegions(ctx context.Context, table quota.TableName) ([]quota.Region, error)
	// NamespaceTables returns all tables in namespace.
	NamespaceTables(ctx context.Context, namespace string) ([]quota.TableName, error)
}

// Notifier installs and removes violation policies on tables.  Both calls
// are idempotent: repeating a call for the same table and state is safe.
type Notifier interface {
	// EnforceViolationPolicy puts policy into effect on table.
	EnforceViolationPolicy(ctx context.Context, table quota.TableName, policy quota.Policy) error
	// ClearViolationPolicy lifts any violation policy in effect on table.
	ClearViolationPolicy(ctx context.Context, table quota.TableName) error
}
