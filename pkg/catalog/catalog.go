// Package catalog provides persistent storage for space quota definitions.
package catalog

import (
	"context"
	"errors"

	"github.com/calderadb/quotad/pkg/quota"
)

var ErrNotFound = errors.New("not found")

// Settings is one quota definition.  Exactly one of Table and Namespace is
// set.
type Settings struct {
	Table     *quota.TableName
	Namespace *string
	Quota     quota.Quota
}

// Reader lists and fetches quota definitions.
type Reader interface {
	// ListQuotas returns all currently defined quotas.
	ListQuotas(ctx context.Context) ([]Settings, error)
	// TableQuota returns the quota defined on table, or ErrNotFound.
	TableQuota(ctx context.Context, table quota.TableName) (quota.Quota, error)
	// NamespaceQuota returns the quota defined on namespace, or
	// ErrNotFound.
	NamespaceQuota(ctx context.Context, namespace string) (quota.Quota, error)
}

// Store adds definition maintenance on top of Reader.
type Store interface {
	Reader
	// SetTableQuota creates or replaces the quota on table.
	SetTableQuota(ctx context.Context, table quota.TableName, q quota.Quota) error
	// SetNamespaceQuota creates or replaces the quota on namespace.
	SetNamespaceQuota(ctx context.Context, namespace string, q quota.Quota) error
	// DeleteTableQuota removes the quota on table, if any.
	DeleteTableQuota(ctx context.Context, table quota.TableName) error
	// DeleteNamespaceQuota removes the quota on namespace, if any.
	DeleteNamespaceQuota(ctx context.Context, namespace string) error
}
