package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ObserverTopic is the reserved pseudo-topic for entries that only exist to
// trigger derived events on related records. Entries on it carry a changeset;
// entries on regular topics never do.
const ObserverTopic = "__outbox_observer__"

// Changeset maps attribute name to its [old, new] pair for one mutation.
type Changeset map[string][2]any

// OutboxEntry is one pending (or published) change event, one row per
// (resource, topic) pair. Written in the same transaction as the domain
// mutation; mutated afterwards only by the publish step or the error handler.
type OutboxEntry struct {
	ID            int64          `db:"id"`
	ResourceClass string         `db:"resource_class"`
	ResourceID    string         `db:"resource_id"`
	EventName     string         `db:"event_name"`
	Topic         string         `db:"topic"`
	PartitionKey  sql.NullString `db:"partition_key"`
	Changeset     []byte         `db:"changeset"` // JSON, observer topic only
	PublishedAt   sql.NullTime   `db:"published_at"`
	FailedAt      sql.NullTime   `db:"failed_at"`
	RetryAt       sql.NullTime   `db:"retry_at"`
	ErrorClass    sql.NullString `db:"error_class"`
	ErrorMessage  sql.NullString `db:"error_message"`
	Attempts      int            `db:"attempts"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Publishable reports whether the entry is due, given the worker publishing
// delay: never published, past any retry window, and not from the future.
func (e *OutboxEntry) Publishable(now time.Time, publishingDelay time.Duration) bool {
	if e.PublishedAt.Valid {
		return false
	}
	if e.RetryAt.Valid && e.RetryAt.Time.After(now.Add(-publishingDelay)) {
		return false
	}
	return !e.CreatedAt.After(now)
}

// Observer reports whether this entry targets the reserved observer topic.
func (e *OutboxEntry) Observer() bool { return e.Topic == ObserverTopic }

// DecodeChangeset parses the stored changeset JSON. Empty column yields an
// empty map.
func (e *OutboxEntry) DecodeChangeset() (Changeset, error) {
	if len(e.Changeset) == 0 {
		return Changeset{}, nil
	}
	var cs Changeset
	if err := json.Unmarshal(e.Changeset, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}
