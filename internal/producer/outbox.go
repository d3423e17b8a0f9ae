package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
	"github.com/BookingSync/dionysus-go/internal/repository"
)

// OutboxWriter is the insert side of the pipeline: it turns domain
// mutations into outbox entries, one per applicable topic, inside the
// caller's ambient transaction.
type OutboxWriter struct {
	reg  *registry.Registry
	repo repository.OutboxRepository
	keys *PartitionKeyResolver
}

func NewOutboxWriter(reg *registry.Registry, repo repository.OutboxRepository, keys *PartitionKeyResolver) *OutboxWriter {
	return &OutboxWriter{reg: reg, repo: repo, keys: keys}
}

// RecordCreated enqueues a created entry for every applicable topic.
func (w *OutboxWriter) RecordCreated(ctx context.Context, tx *sqlx.Tx, rec model.Record, cs model.Changeset) error {
	if PublishingSuppressed(ctx) {
		return nil
	}
	p := Wrap(rec, w.reg, cs)
	return w.insert(ctx, tx, p, model.EventCreated)
}

// RecordUpdated classifies the update through the soft-delete state machine
// and enqueues the resulting event kind. Empty changesets are a no-op, as is
// a suppressed update on a soft-deleted record.
func (w *OutboxWriter) RecordUpdated(ctx context.Context, tx *sqlx.Tx, rec model.Record, cs model.Changeset) error {
	if PublishingSuppressed(ctx) || len(cs) == 0 {
		return nil
	}
	p := Wrap(rec, w.reg, cs)
	kind, publish, err := p.UpdateEventKind()
	if err != nil {
		return err
	}
	if !publish {
		return nil
	}
	return w.insert(ctx, tx, p, kind)
}

// RecordDestroyed enqueues a destroyed entry for every applicable topic.
func (w *OutboxWriter) RecordDestroyed(ctx context.Context, tx *sqlx.Tx, rec model.Record, cs model.Changeset) error {
	if PublishingSuppressed(ctx) {
		return nil
	}
	p := Wrap(rec, w.reg, cs)
	return w.insert(ctx, tx, p, model.EventDestroyed)
}

func (w *OutboxWriter) insert(ctx context.Context, tx *sqlx.Tx, p *Publishable, kind model.EventKind) error {
	topics := p.Topics()
	if len(topics) == 0 {
		return nil
	}

	entries := make([]*model.OutboxEntry, 0, len(topics))
	for _, topicName := range topics {
		entry := &model.OutboxEntry{
			ResourceClass: p.rec.ModelName(),
			ResourceID:    model.Stringify(p.rec.PrimaryKey()),
			EventName:     model.EventNameFor(p.rec.ModelName(), kind),
			Topic:         topicName,
		}
		if topicName == model.ObserverTopic {
			// observer entries are the only ones that carry the changeset;
			// standard rows stay small
			body, err := json.Marshal(p.Changeset())
			if err != nil {
				return fmt.Errorf("marshal changeset: %w", err)
			}
			entry.Changeset = body
		} else {
			topicCfg, err := w.reg.Topic(topicName)
			if err != nil {
				return err
			}
			if key := w.keys.Resolve(topicCfg, p.rec); key != nil {
				entry.PartitionKey.Valid = true
				entry.PartitionKey.String = *key
			}
		}
		entries = append(entries, entry)
	}
	return w.repo.Insert(ctx, tx, entries...)
}
