// Package sql provides a catalog.Store that keeps quota definitions on a SQL
// database.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/calderadb/quotad/pkg/catalog"
	"github.com/calderadb/quotad/pkg/quota"
)

const (
	kindTable     = "table"
	kindNamespace = "namespace"
)

func NewSQLStore(db *sql.DB) (catalog.Store, error) {
	return SQLStore{db: db}, nil
}

// SQLStore is a catalog.Store that keeps quota definitions in a SQL
// database.
type SQLStore struct {
	db *sql.DB
}

func (s SQLStore) transact(ctx context.Context, fn func(tx *sql.Tx) (interface{}, error)) (interface{}, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	ret, err := fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			err = fmt.Errorf("%w; additionally during rollback: %s", err, rollbackErr)
		}
		return nil, err
	}
	commitErr := tx.Commit()
	return ret, commitErr
}

func (s SQLStore) ListQuotas(ctx context.Context) ([]catalog.Settings, error) {
	ret, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		rows, err := tx.QueryContext(ctx, `
			SELECT subject_kind, subject, limit_bytes, policy FROM space_quotas`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var settings []catalog.Settings
		for rows.Next() {
			var (
				kind, subject string
				limitBytes    int64
				policy        sql.NullString
			)
			if err := rows.Scan(&kind, &subject, &limitBytes, &policy); err != nil {
				return nil, err
			}
			q := quota.Quota{LimitBytes: limitBytes}
			if policy.Valid {
				q.Policy = quota.Policy(policy.String)
			}
			switch kind {
			case kindTable:
				table, err := quota.ParseTableName(subject)
				if err != nil {
					return nil, fmt.Errorf("table quota subject %q: %w", subject, err)
				}
				settings = append(settings, catalog.Settings{Table: &table, Quota: q})
			case kindNamespace:
				namespace := subject
				settings = append(settings, catalog.Settings{Namespace: &namespace, Quota: q})
			default:
				return nil, fmt.Errorf("unknown quota subject kind %q", kind)
			}
		}
		return settings, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ret.([]catalog.Settings), nil
}

func (s SQLStore) getQuota(ctx context.Context, kind, subject string) (quota.Quota, error) {
	ret, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		var (
			q      quota.Quota
			policy sql.NullString
		)
		row := tx.QueryRowContext(ctx, `
			SELECT limit_bytes, policy FROM space_quotas
			WHERE subject_kind = $1 AND subject = $2`,
			kind, subject)
		err := row.Scan(&q.LimitBytes, &policy)
		if policy.Valid {
			q.Policy = quota.Policy(policy.String)
		}
		return q, err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Quota{}, fmt.Errorf("%s quota of %s: %w", kind, subject, catalog.ErrNotFound)
	}
	if err != nil {
		return quota.Quota{}, err
	}
	return ret.(quota.Quota), nil
}

func (s SQLStore) setQuota(ctx context.Context, kind, subject string, q quota.Quota) error {
	policy := sql.NullString{String: string(q.Policy), Valid: q.Policy != ""}
	_, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO space_quotas (subject_kind, subject, limit_bytes, policy)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (subject_kind, subject) DO UPDATE SET limit_bytes=$3, policy=$4`,
			kind, subject, q.LimitBytes, policy)
		return nil, err
	})
	return err
}

func (s SQLStore) deleteQuota(ctx context.Context, kind, subject string) error {
	_, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM space_quotas WHERE subject_kind = $1 AND subject = $2`,
			kind, subject)
		return nil, err
	})
	return err
}

func (s SQLStore) TableQuota(ctx context.Context, table quota.TableName) (quota.Quota, error) {
	return s.getQuota(ctx, kindTable, table.String())
}

func (s SQLStore) NamespaceQuota(ctx context.Context, namespace string) (quota.Quota, error) {
	return s.getQuota(ctx, kindNamespace, namespace)
}

func (s SQLStore) SetTableQuota(ctx context.Context, table quota.TableName, q quota.Quota) error {
	return s.setQuota(ctx, kindTable, table.String(), q)
}

func (s SQLStore) SetNamespaceQuota(ctx context.Context, namespace string, q quota.Quota) error {
	return s.setQuota(ctx, kindNamespace, namespace, q)
}

func (s SQLStore) DeleteTableQuota(ctx context.Context, table quota.TableName) error {
	return s.deleteQuota(ctx, kindTable, table.String())
}

func (s SQLStore) DeleteNamespaceQuota(ctx context.Context, namespace string) error {
	return s.deleteQuota(ctx, kindNamespace, namespace)
}
