package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BookingSync/dionysus-go/internal/model"
)

const (
	baseRetryBackoff = 10 * time.Second
	// Cap on the doubling schedule; without it a long broker outage parks
	// entries for days.
	maxRetryBackoff = time.Hour
)

// RetryBackoff returns the delay before the next publish attempt:
// 10s * 2^attempts, capped at maxRetryBackoff.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	backoff := baseRetryBackoff
	for i := 0; i < attempts; i++ {
		backoff *= 2
		if backoff >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return backoff
}

// OutboxRepository defines persistence for the outbox_entries table. Inserts
// take an optional ambient tx so entries land in the same transaction as the
// domain mutation that caused them; entries are never deleted here.
type OutboxRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, entries ...*model.OutboxEntry) error
	// FetchPublishable returns up to limit due entries for the topic in
	// creation order. publishingDelay shifts the retry_at comparison.
	FetchPublishable(ctx context.Context, topic string, limit int, publishingDelay time.Duration) ([]*model.OutboxEntry, error)
	MarkPublished(ctx context.Context, e *model.OutboxEntry) error
	MarkFailed(ctx context.Context, e *model.OutboxEntry, cause error) error
	CountPublishable(ctx context.Context, topic string, publishingDelay time.Duration) (int64, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, entries ...*model.OutboxEntry) error {
	const q = `
		INSERT INTO outbox_entries
		    (resource_class, resource_id, event_name, topic, partition_key, changeset, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, NOW(6), NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, q,
				e.ResourceClass, e.ResourceID, e.EventName, e.Topic, e.PartitionKey, e.Changeset,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OutboxRepositoryImpl) FetchPublishable(ctx context.Context, topic string, limit int, publishingDelay time.Duration) ([]*model.OutboxEntry, error) {
	const q = `
		SELECT id, resource_class, resource_id, event_name, topic, partition_key, changeset,
		       published_at, failed_at, retry_at, error_class, error_message, attempts,
		       created_at, updated_at
		FROM outbox_entries
		WHERE topic = ?
		  AND published_at IS NULL
		  AND (retry_at IS NULL OR retry_at <= ?)
		  AND created_at <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	now := time.Now().UTC()
	var entries []*model.OutboxEntry
	if err := r.db.SelectContext(ctx, &entries, q, topic, now.Add(-publishingDelay), now, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkPublished stamps the entry and clears error bookkeeping, in the row
// and on the struct.
func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, e *model.OutboxEntry) error {
	const q = `
		UPDATE outbox_entries
		SET published_at = ?, failed_at = NULL, retry_at = NULL,
		    error_class = NULL, error_message = NULL, updated_at = NOW(6)
		WHERE id = ?
	`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, q, now, e.ID); err != nil {
		return err
	}
	e.PublishedAt.Valid = true
	e.PublishedAt.Time = now
	e.FailedAt.Valid = false
	e.RetryAt.Valid = false
	e.ErrorClass.Valid = false
	e.ErrorMessage.Valid = false
	return nil
}

// MarkFailed records the cause and schedules the retry on the backoff
// curve. The backoff is computed from the attempt count before this failure,
// so the first failure retries after 10s.
func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, e *model.OutboxEntry, cause error) error {
	now := time.Now().UTC()
	retryAt := now.Add(RetryBackoff(e.Attempts))

	const q = `
		UPDATE outbox_entries
		SET failed_at = ?, retry_at = ?, error_class = ?, error_message = ?,
		    attempts = attempts + 1, updated_at = NOW(6)
		WHERE id = ?
	`
	errClass := fmt.Sprintf("%T", cause)
	if _, err := r.db.ExecContext(ctx, q, now, retryAt, errClass, cause.Error(), e.ID); err != nil {
		return err
	}
	e.FailedAt.Valid = true
	e.FailedAt.Time = now
	e.RetryAt.Valid = true
	e.RetryAt.Time = retryAt
	e.ErrorClass.Valid = true
	e.ErrorClass.String = errClass
	e.ErrorMessage.Valid = true
	e.ErrorMessage.String = cause.Error()
	e.Attempts++
	return nil
}

func (r *OutboxRepositoryImpl) CountPublishable(ctx context.Context, topic string, publishingDelay time.Duration) (int64, error) {
	const q = `
		SELECT COUNT(*)
		FROM outbox_entries
		WHERE topic = ?
		  AND published_at IS NULL
		  AND (retry_at IS NULL OR retry_at <= ?)
		  AND created_at <= ?
	`
	now := time.Now().UTC()
	var n int64
	if err := r.db.GetContext(ctx, &n, q, topic, now.Add(-publishingDelay), now); err != nil {
		return 0, err
	}
	return n, nil
}
