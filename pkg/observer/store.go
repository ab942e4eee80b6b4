package observer

import (
	"context"
	"errors"

	"github.com/calderadb/quotad/pkg/catalog"
	"github.com/calderadb/quotad/pkg/cluster"
	"github.com/calderadb/quotad/pkg/quota"
)

// ViolationStore answers, against one per-pass size snapshot, everything the
// observer needs to know about a subject: its quota, its last enforced
// state, the state it should move to, and which of its regions have
// reported.  Stores are built fresh for each pass; the table and namespace
// subject kinds are the two instantiations.
type ViolationStore[S comparable] interface {
	// SpaceQuota returns the quota currently defined on subject, or nil
	// if none is defined.  The definition may have been deleted since
	// discovery.
	SpaceQuota(ctx context.Context, subject S) (*quota.Quota, error)
	// CurrentState returns the last enforced state of subject.
	CurrentState(subject S) quota.ViolationState
	// SetCurrentState records the enforced state of subject.
	SetCurrentState(subject S, state quota.ViolationState)
	// TargetState compares subject's reported usage in the snapshot
	// against q and returns the state subject should move to.
	TargetState(subject S, q quota.Quota) quota.ViolationState
	// ReportedRegions returns subject's regions present in the snapshot.
	ReportedRegions(subject S) []quota.Region
	// TotalRegions returns the number of regions subject currently has
	// on the cluster.
	TotalRegions(ctx context.Context, subject S) (int, error)
}

// TableStore is the table-kind ViolationStore.
type TableStore struct {
	catalog  catalog.Reader
	topo     cluster.Topology
	states   *StateMap[quota.TableName]
	snapshot map[quota.Region]int64
}

func NewTableStore(cat catalog.Reader, topo cluster.Topology, states *StateMap[quota.TableName], snapshot map[quota.Region]int64) *TableStore {
	return &TableStore{catalog: cat, topo: topo, states: states, snapshot: snapshot}
}

func (s *TableStore) SpaceQuota(ctx context.Context, table quota.TableName) (*quota.Quota, error) {
	q, err := s.catalog.TableQuota(ctx, table)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *TableStore) CurrentState(table quota.TableName) quota.ViolationState {
	return s.states.Get(table)
}

func (s *TableStore) SetCurrentState(table quota.TableName, state quota.ViolationState) {
	s.states.Set(table, state)
}

func (s *TableStore) TargetState(table quota.TableName, q quota.Quota) quota.ViolationState {
	return targetState(s.Usage(table), q)
}

func (s *TableStore) ReportedRegions(table quota.TableName) []quota.Region {
	var regions []quota.Region
	for region := range s.snapshot {
		if region.Table == table {
			regions = append(regions, region)
		}
	}
	return regions
}

func (s *TableStore) TotalRegions(ctx context.Context, table quota.TableName) (int, error) {
	regions, err := s.topo.TableRegions(ctx, table)
	if err != nil {
		return 0, err
	}
	return len(regions), nil
}

// Usage returns the reported usage of table in the snapshot.
func (s *TableStore) Usage(table quota.TableName) int64 {
	var usage int64
	for region, sizeBytes := range s.snapshot {
		if region.Table == table {
			usage += sizeBytes
		}
	}
	return usage
}

// NamespaceStore is the namespace-kind ViolationStore.  Usage and reports
// aggregate over every table in the namespace.
type NamespaceStore struct {
	catalog  catalog.Reader
	topo     cluster.Topology
	states   *StateMap[string]
	snapshot map[quota.Region]int64
}

func NewNamespaceStore(cat catalog.Reader, topo cluster.Topology, states *StateMap[string], snapshot map[quota.Region]int64) *NamespaceStore {
	return &NamespaceStore{catalog: cat, topo: topo, states: states, snapshot: snapshot}
}

func (s *NamespaceStore) SpaceQuota(ctx context.Context, namespace string) (*quota.Quota, error) {
	q, err := s.catalog.NamespaceQuota(ctx, namespace)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *NamespaceStore) CurrentState(namespace string) quota.ViolationState {
	return s.states.Get(namespace)
}

func (s *NamespaceStore) SetCurrentState(namespace string, state quota.ViolationState) {
	s.states.Set(namespace, state)
}

func (s *NamespaceStore) TargetState(namespace string, q quota.Quota) quota.ViolationState {
	return targetState(s.Usage(namespace), q)
}

func (s *NamespaceStore) ReportedRegions(namespace string) []quota.Region {
	var regions []quota.Region
	for region := range s.snapshot {
		if region.Table.Namespace == namespace {
			regions = append(regions, region)
		}
	}
	return regions
}

func (s *NamespaceStore) TotalRegions(ctx context.Context, namespace string) (int, error) {
	tables, err := s.topo.NamespaceTables(ctx, namespace)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, table := range tables {
		regions, err := s.topo.TableRegions(ctx, table)
		if err != nil {
			return 0, err
		}
		total += len(regions)
	}
	return total, nil
}

// Usage returns the reported usage of namespace in the snapshot.
func (s *NamespaceStore) Usage(namespace string) int64 {
	var usage int64
	for region, sizeBytes := range s.snapshot {
		if region.Table.Namespace == namespace {
			usage += sizeBytes
		}
	}
	return usage
}

// targetState compares reported usage against a quota's limit.  Usage at
// exactly the limit is still in observance.
func targetState(usage int64, q quota.Quota) quota.ViolationState {
	if usage > q.LimitBytes {
		return quota.InViolation
	}
	return quota.InObservance
}
