package observer

import (
	"context"
	"fmt"
	"sort"

	"github.com/calderadb/quotad/pkg/quota"
)

// TablesWithQuotas holds the tables that have a table quota and the tables
// whose namespace has a quota.  A table can appear in both sets.  The
// namespace set and the per-namespace grouping are derived from the
// membership set, never stored.
type TablesWithQuotas struct {
	tableQuotaTables     map[quota.TableName]struct{}
	namespaceQuotaTables map[quota.TableName]struct{}
}

func NewTablesWithQuotas() *TablesWithQuotas {
	return &TablesWithQuotas{
		tableQuotaTables:     make(map[quota.TableName]struct{}),
		namespaceQuotaTables: make(map[quota.TableName]struct{}),
	}
}

// AddTableQuotaTable adds a table that has its own table quota.
func (t *TablesWithQuotas) AddTableQuotaTable(table quota.TableName) {
	t.tableQuotaTables[table] = struct{}{}
}

// AddNamespaceQuotaTable adds a table whose namespace has a quota.
func (t *TablesWithQuotas) AddNamespaceQuotaTable(table quota.TableName) {
	t.namespaceQuotaTables[table] = struct{}{}
}

// HasTableQuota reports whether table has its own table quota.
func (t *TablesWithQuotas) HasTableQuota(table quota.TableName) bool {
	_, ok := t.tableQuotaTables[table]
	return ok
}

// HasNamespaceQuota reports whether table is in a namespace with a quota.
func (t *TablesWithQuotas) HasNamespaceQuota(table quota.TableName) bool {
	_, ok := t.namespaceQuotaTables[table]
	return ok
}

// TableQuotaTables returns the tables with their own table quota.
func (t *TablesWithQuotas) TableQuotaTables() []quota.TableName {
	return keys(t.tableQuotaTables)
}

// NamespaceQuotaTables returns the tables in namespaces that have a quota.
func (t *TablesWithQuotas) NamespaceQuotaTables() []quota.TableName {
	return keys(t.namespaceQuotaTables)
}

// NamespacesWithQuotas returns the namespaces derived from the
// namespace-quota membership set.
func (t *TablesWithQuotas) NamespacesWithQuotas() []string {
	namespaces := make(map[string]struct{})
	for table := range t.namespaceQuotaTables {
		namespaces[table.Namespace] = struct{}{}
	}
	ret := make([]string, 0, len(namespaces))
	for namespace := range namespaces {
		ret = append(ret, namespace)
	}
	return ret
}

// TablesByNamespace groups the namespace-quota tables by their namespace.
func (t *TablesWithQuotas) TablesByNamespace() map[string][]quota.TableName {
	byNamespace := make(map[string][]quota.TableName)
	for table := range t.namespaceQuotaTables {
		byNamespace[table.Namespace] = append(byNamespace[table.Namespace], table)
	}
	return byNamespace
}

// FilterInsufficientlyReported removes from both sets every table whose
// reported-region ratio is strictly below threshold.  Region counts are
// computed fresh because tables split and merge concurrently.  A table with
// no regions at all is removed too: there is nothing trustworthy to judge it
// by.  A removed table is skipped for the whole pass, at the table and the
// namespace level.
func (t *TablesWithQuotas) FilterInsufficientlyReported(ctx context.Context, store ViolationStore[quota.TableName], threshold float64) error {
	checked := make(map[quota.TableName]struct{})
	remove := make(map[quota.TableName]struct{})
	for _, table := range append(t.TableQuotaTables(), t.NamespaceQuotaTables()...) {
		if _, ok := checked[table]; ok {
			continue
		}
		checked[table] = struct{}{}
		totalRegions, err := store.TotalRegions(ctx, table)
		if err != nil {
			return fmt.Errorf("count regions of %s: %w", table, err)
		}
		reportedRegions := len(store.ReportedRegions(table))
		if totalRegions == 0 || float64(reportedRegions)/float64(totalRegions) < threshold {
			remove[table] = struct{}{}
		}
	}
	for table := range remove {
		delete(t.tableQuotaTables, table)
		delete(t.namespaceQuotaTables, table)
	}
	return nil
}

func (t *TablesWithQuotas) String() string {
	return fmt.Sprintf("TablesWithQuotas: tablesWithTableQuotas=%v, tablesWithNamespaceQuotas=%v",
		sorted(t.TableQuotaTables()), sorted(t.NamespaceQuotaTables()))
}

func keys(set map[quota.TableName]struct{}) []quota.TableName {
	ret := make([]quota.TableName, 0, len(set))
	for table := range set {
		ret = append(ret, table)
	}
	return ret
}

func sorted(tables []quota.TableName) []quota.TableName {
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].String() < tables[j].String()
	})
	return tables
}
