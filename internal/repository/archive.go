package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PublishedEvent is one row of the ClickHouse publish audit log.
type PublishedEvent struct {
	Topic         string    `db:"topic" json:"topic"`
	EventName     string    `db:"event_name" json:"event_name"`
	ResourceClass string    `db:"resource_class" json:"resource_class"`
	ResourceID    string    `db:"resource_id" json:"resource_id"`
	PartitionKey  string    `db:"partition_key" json:"partition_key"`
	PublishedAt   time.Time `db:"published_at" json:"published_at"`
}

// ArchiveRepository appends successfully published events to the audit log
// and serves the reports read path. Appends are best effort; the caller
// logs, never fails a publish over them.
type ArchiveRepository interface {
	Append(ctx context.Context, events ...PublishedEvent) error
	List(ctx context.Context, topic string, limit, offset int) ([]PublishedEvent, error)
}

type archiveRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewArchiveRepository(ch *sqlx.DB) ArchiveRepository {
	return &archiveRepository{ch: ch}
}

func (r *archiveRepository) Append(ctx context.Context, events ...PublishedEvent) error {
	if len(events) == 0 {
		return nil
	}
	const q = `
		INSERT INTO dionysus.published_events
		    (topic, event_name, resource_class, resource_id, partition_key, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, e := range events {
		if _, err := r.ch.ExecContext(ctx, q,
			e.Topic, e.EventName, e.ResourceClass, e.ResourceID, e.PartitionKey, e.PublishedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *archiveRepository) List(ctx context.Context, topic string, limit, offset int) ([]PublishedEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT topic, event_name, resource_class, resource_id, partition_key, published_at
		FROM dionysus.published_events
	`
	args := []any{}
	if topic != "" {
		q += " WHERE topic = ?"
		args = append(args, topic)
	}
	q += " ORDER BY published_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []PublishedEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
