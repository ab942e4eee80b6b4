// Package observer implements the space-quota observer: the scheduled pass
// that reads the region size reports received so far and moves tables and
// namespaces in and out of quota violation.
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/calderadb/quotad/pkg/catalog"
	"github.com/calderadb/quotad/pkg/cluster"
	"github.com/calderadb/quotad/pkg/metrics"
	"github.com/calderadb/quotad/pkg/quota"
)

const (
	DefaultPeriod       = 5 * time.Minute
	DefaultInitialDelay = time.Minute
	// DefaultReportRatio is the fraction of a table's regions that must
	// have reported before the table is judged in a pass.
	DefaultReportRatio = 0.95
)

// SnapshotSource produces the immutable region size view used by one pass.
type SnapshotSource interface {
	SnapshotRegionSizes() map[quota.Region]int64
}

// Config holds the observer schedule and filtering knobs.  Zero values mean
// the defaults.
type Config struct {
	Period       time.Duration
	InitialDelay time.Duration
	ReportRatio  float64
}

// Observer drives quota reconciliation passes against the cluster.  It owns
// the per-kind violation state maps; they are mutated only by passes, which
// run one at a time.
type Observer struct {
	catalog  catalog.Reader
	topo     cluster.Topology
	notifier cluster.Notifier
	sizes    SnapshotSource
	cfg      Config
	log      zerolog.Logger

	tableStates     *StateMap[quota.TableName]
	namespaceStates *StateMap[string]
}

func New(cat catalog.Reader, topo cluster.Topology, notifier cluster.Notifier, sizes SnapshotSource, cfg Config, log zerolog.Logger) *Observer {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.ReportRatio <= 0 {
		cfg.ReportRatio = DefaultReportRatio
	}
	return &Observer{
		catalog:         cat,
		topo:            topo,
		notifier:        notifier,
		sizes:           sizes,
		cfg:             cfg,
		log:             log,
		tableStates:     NewStateMap[quota.TableName](),
		namespaceStates: NewStateMap[string](),
	}
}

// TableStates returns a copy of the tracked table violation states.
func (o *Observer) TableStates() map[quota.TableName]quota.ViolationState {
	return o.tableStates.Snapshot()
}

// NamespaceStates returns a copy of the tracked namespace violation states.
func (o *Observer) NamespaceStates() map[string]quota.ViolationState {
	return o.namespaceStates.Snapshot()
}

// Run executes passes until ctx is cancelled: the first after the initial
// delay, then one every period.  Passes run inline on this goroutine, so a
// slow pass delays the next tick instead of overlapping it.
func (o *Observer) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(o.cfg.InitialDelay):
	}
	o.runPass(ctx)
	ticker := time.NewTicker(o.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.log.Info().AnErr("cause", ctx.Err()).Msg("quota observer done")
			return
		case <-ticker.C:
			o.runPass(ctx)
		}
	}
}

func (o *Observer) runPass(ctx context.Context) {
	start := time.Now()
	err := o.RunOnce(ctx)
	metrics.RecordPass(time.Since(start), err)
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to process quota reports and update violation state, will retry")
	}
}

// RunOnce performs one reconciliation pass.  Any unexpected error aborts the
// whole pass; states recorded by steps already completed stand, and the next
// pass redoes the rest.
func (o *Observer) RunOnce(ctx context.Context) error {
	tables, err := o.fetchAllTablesWithQuotas(ctx)
	if err != nil {
		return fmt.Errorf("fetch tables with quotas: %w", err)
	}
	o.log.Trace().Stringer("tables", tables).Msg("found tables with quotas")

	// The current view of region space use.  Used henceforth.
	snapshot := o.sizes.SnapshotRegionSizes()
	o.log.Trace().Int("reports", len(snapshot)).Msg("using region space use reports")

	tableStore := NewTableStore(o.catalog, o.topo, o.tableStates, snapshot)
	namespaceStore := NewNamespaceStore(o.catalog, o.topo, o.namespaceStates, snapshot)

	// Filtering must run against the freshly built table store.
	if err := tables.FilterInsufficientlyReported(ctx, tableStore, o.cfg.ReportRatio); err != nil {
		return fmt.Errorf("filter insufficiently reported tables: %w", err)
	}

	if err := o.reconcileTables(ctx, tables, tableStore); err != nil {
		return err
	}
	if err := o.reconcileNamespaces(ctx, tables, tableStore, namespaceStore); err != nil {
		return err
	}

	metrics.SubjectsInViolation.WithLabelValues("table").Set(float64(o.tableStates.countInViolation()))
	metrics.SubjectsInViolation.WithLabelValues("namespace").Set(float64(o.namespaceStates.countInViolation()))
	return nil
}

// fetchAllTablesWithQuotas computes the set of all tables that have quotas
// defined: tables with a quota explicitly set on them, plus the tables of
// every namespace that has a quota.
func (o *Observer) fetchAllTablesWithQuotas(ctx context.Context) (*TablesWithQuotas, error) {
	settings, err := o.catalog.ListQuotas(ctx)
	if err != nil {
		return nil, err
	}
	tables := NewTablesWithQuotas()
	for _, s := range settings {
		switch {
		case s.Namespace != nil:
			members, err := o.topo.NamespaceTables(ctx, *s.Namespace)
			if err != nil {
				return nil, fmt.Errorf("list tables of namespace %q: %w", *s.Namespace, err)
			}
			for _, member := range members {
				tables.AddNamespaceQuotaTable(member)
			}
		case s.Table != nil:
			tables.AddTableQuotaTable(*s.Table)
		}
	}
	return tables, nil
}

// reconcileTables transitions each table with its own quota to or from
// violation based on its current and target state.  Only table quotas are
// enacted here.
func (o *Observer) reconcileTables(ctx context.Context, tables *TablesWithQuotas, store ViolationStore[quota.TableName]) error {
	for _, table := range tables.TableQuotaTables() {
		spaceQuota, err := store.SpaceQuota(ctx, table)
		if err != nil {
			return fmt.Errorf("table quota of %s: %w", table, err)
		}
		if spaceQuota == nil {
			o.log.Debug().Stringer("table", table).
				Msg("unexpectedly did not find a space quota for table, maybe it was recently deleted")
			continue
		}
		currentState := store.CurrentState(table)
		targetState := store.TargetState(table, *spaceQuota)

		switch {
		case currentState == quota.InViolation && targetState == quota.InObservance:
			o.log.Info().Stringer("table", table).
				Msg("table moving into observance of table space quota")
			if err := o.notifier.ClearViolationPolicy(ctx, table); err != nil {
				return fmt.Errorf("clear violation policy on %s: %w", table, err)
			}
			metrics.RecordTransition("table", "observance")
			store.SetCurrentState(table, quota.InObservance)

		case currentState == quota.InViolation:
			o.log.Trace().Stringer("table", table).Msg("table remains in violation of quota")
			store.SetCurrentState(table, quota.InViolation)

		case targetState == quota.InViolation:
			policy, err := spaceQuota.ViolationPolicy()
			if err != nil {
				// Deliberately isolated: one misconfigured quota
				// must not freeze reconciliation of the rest of
				// the cluster.  The table stays unenforced.
				o.log.Error().Stringer("table", table).Err(err).
					Msg("cannot enact table space quota, skipping table")
				metrics.PolicyConfigFaultsTotal.Inc()
				continue
			}
			o.log.Info().Stringer("table", table).
				Str("policy", string(policy)).
				Str("limit", humanize.IBytes(uint64(spaceQuota.LimitBytes))).
				Msg("table moving into violation of table space quota")
			if err := o.notifier.EnforceViolationPolicy(ctx, table, policy); err != nil {
				return fmt.Errorf("enforce violation policy on %s: %w", table, err)
			}
			metrics.RecordTransition("table", "violation")
			store.SetCurrentState(table, quota.InViolation)

		default:
			o.log.Trace().Stringer("table", table).Msg("table remains in observance of quota")
			store.SetCurrentState(table, quota.InObservance)
		}
	}
	return nil
}

// reconcileNamespaces transitions each table of each namespace quota in or
// out of violation, but only where a table quota violation policy is not
// already applied: the table's own quota always takes precedence over its
// namespace's.
func (o *Observer) reconcileNamespaces(ctx context.Context, tables *TablesWithQuotas, tableStore ViolationStore[quota.TableName], store ViolationStore[string]) error {
	tablesByNamespace := tables.TablesByNamespace()
	for _, namespace := range tables.NamespacesWithQuotas() {
		spaceQuota, err := store.SpaceQuota(ctx, namespace)
		if err != nil {
			return fmt.Errorf("namespace quota of %q: %w", namespace, err)
		}
		if spaceQuota == nil {
			o.log.Debug().Str("namespace", namespace).
				Msg("could not get space quota for namespace, maybe it was recently deleted")
			continue
		}
		currentState := store.CurrentState(namespace)
		targetState := store.TargetState(namespace, *spaceQuota)

		switch {
		case currentState == quota.InObservance && targetState == quota.InViolation:
			policy, err := spaceQuota.ViolationPolicy()
			if err != nil {
				o.log.Error().Str("namespace", namespace).Err(err).
					Msg("cannot enact namespace space quota, skipping namespace")
				metrics.PolicyConfigFaultsTotal.Inc()
				continue
			}
			for _, member := range tablesByNamespace[namespace] {
				if tableStore.CurrentState(member) == quota.InViolation {
					// Table-level violation policy is already in effect.
					o.log.Trace().Stringer("table", member).
						Msg("not activating namespace policy, table violation policy already in effect")
					continue
				}
				o.log.Info().Stringer("table", member).Str("namespace", namespace).
					Str("policy", string(policy)).
					Msg("table moving into violation of namespace space quota")
				if err := o.notifier.EnforceViolationPolicy(ctx, member, policy); err != nil {
					return fmt.Errorf("enforce namespace violation policy on %s: %w", member, err)
				}
				metrics.RecordTransition("namespace", "violation")
			}
			store.SetCurrentState(namespace, quota.InViolation)

		case currentState == quota.InViolation && targetState == quota.InObservance:
			for _, member := range tablesByNamespace[namespace] {
				if tableStore.CurrentState(member) == quota.InViolation {
					o.log.Trace().Stringer("table", member).
						Msg("not lifting namespace policy, table violation policy in effect")
					continue
				}
				o.log.Info().Stringer("table", member).Str("namespace", namespace).
					Msg("table moving into observance of namespace space quota")
				if err := o.notifier.ClearViolationPolicy(ctx, member); err != nil {
					return fmt.Errorf("clear namespace violation policy on %s: %w", member, err)
				}
				metrics.RecordTransition("namespace", "observance")
			}
			store.SetCurrentState(namespace, quota.InObservance)

		case currentState == quota.InViolation:
			o.log.Trace().Str("namespace", namespace).Msg("namespace remains in violation of quota")

		default:
			o.log.Trace().Str("namespace", namespace).Msg("namespace remains in observance of quota")
		}
	}
	return nil
}
