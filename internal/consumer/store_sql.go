package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/BookingSync/dionysus-go/internal/registry"
)

// SQLStore is the sqlx-backed ModelStore. Tables and writable columns come
// from the consumer model registration; nothing is introspected at runtime.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) FindOrInit(ctx context.Context, cm *registry.ConsumerModel, syncedID any) (*LocalRecord, bool, error) {
	cols := settableColumns(cm)
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		strings.Join(cols, ", "), cm.Table, cm.SyncedIDAttr,
	)
	row := s.db.QueryRowxContext(ctx, q, syncedID)
	attrs := map[string]any{}
	if err := row.MapScan(attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewLocalRecord(map[string]any{cm.SyncedIDAttr: syncedID}, true), false, nil
		}
		return nil, false, err
	}
	normalizeScanned(attrs)
	return NewLocalRecord(attrs, false), true, nil
}

func (s *SQLStore) Save(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	if rec.IsNew() {
		return s.insert(ctx, cm, rec)
	}
	changes := rec.Changes()
	if len(changes) == 0 {
		return nil
	}
	assignments := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	for _, col := range sortedChangeKeys(changes) {
		if !cm.Settable[col] {
			continue
		}
		assignments = append(assignments, col+" = ?")
		args = append(args, changes[col][1])
	}
	if len(assignments) == 0 {
		return nil
	}
	id, _ := rec.Get(cm.SyncedIDAttr)
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", cm.Table, strings.Join(assignments, ", "), cm.SyncedIDAttr)
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *SQLStore) insert(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	attrs := rec.Attributes()
	cols := make([]string, 0, len(attrs))
	args := make([]any, 0, len(attrs))
	for _, col := range settableColumns(cm) {
		v, ok := attrs[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
	}
	if len(cols) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", cm.Table, strings.Join(cols, ", "), placeholders)
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *SQLStore) Destroy(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	id, _ := rec.Get(cm.SyncedIDAttr)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", cm.Table, cm.SyncedIDAttr)
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) ResolveAssociation(ctx context.Context, parentModel *registry.ConsumerModel, parent *LocalRecord, rel registry.ConsumerRel, childModel *registry.ConsumerModel, childSyncedIDs []any) error {
	if len(childSyncedIDs) == 0 {
		return nil
	}
	parentID, _ := parent.Get(parentModel.SyncedIDAttr)
	base := fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE %s IN (?)",
		childModel.Table, rel.ForeignKey, childModel.SyncedIDAttr,
	)
	q, args, err := sqlx.In(base, parentID, childSyncedIDs)
	if err != nil {
		return err
	}
	q = s.db.Rebind(q)
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// settableColumns lists the registered writable columns plus the synced id,
// in stable order.
func settableColumns(cm *registry.ConsumerModel) []string {
	seen := map[string]bool{cm.SyncedIDAttr: true}
	cols := []string{cm.SyncedIDAttr}
	for col, ok := range cm.Settable {
		if ok && !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	sort.Strings(cols[1:])
	return cols
}

func sortedChangeKeys(changes map[string][2]any) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeScanned converts driver []byte values into strings so attribute
// comparison against JSON payload values behaves.
func normalizeScanned(attrs map[string]any) {
	for k, v := range attrs {
		if b, ok := v.([]byte); ok {
			attrs[k] = string(b)
		}
	}
}
