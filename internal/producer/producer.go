package producer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/metrics"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/repository"
)

// RecordFinder loads the current state of a resource from the owning
// store. Find returns (nil, nil) when the row is gone.
type RecordFinder interface {
	Find(ctx context.Context, resourceClass, resourceID string) (model.Record, error)
	FindBatch(ctx context.Context, resourceClass string, ids []string) ([]model.Record, error)
}

// Producer drains publishable outbox entries for one topic: standard
// entries go through the responder, observer entries through the fan-out.
// A failed entry is recorded and retried later; it never aborts the batch.
type Producer struct {
	repo      repository.OutboxRepository
	responder *Responder
	finder    RecordFinder
	observers *ObserverFanout
	archive   repository.ArchiveRepository
	errors    instrument.ErrorHandler
	inst      instrument.Instrumenter
	log       *zap.Logger

	publishingDelay time.Duration
	dedupe          bool

	// AfterEach, when set, runs after each attempted entry regardless of
	// outcome.
	AfterEach func(*model.OutboxEntry)
}

func NewProducer(
	repo repository.OutboxRepository,
	responder *Responder,
	finder RecordFinder,
	observers *ObserverFanout,
	archive repository.ArchiveRepository,
	errors instrument.ErrorHandler,
	inst instrument.Instrumenter,
	publishingDelay time.Duration,
	dedupe bool,
) *Producer {
	return &Producer{
		repo:            repo,
		responder:       responder,
		finder:          finder,
		observers:       observers,
		archive:         archive,
		errors:          errors,
		inst:            inst,
		log:             logger.Named("outbox.producer"),
		publishingDelay: publishingDelay,
		dedupe:          dedupe,
	}
}

// Call fetches up to batchSize due entries for the topic in creation order
// and publishes each. Returns every entry that was attempted (including
// collapsed duplicates); a fetch error is infrastructure-fatal and
// propagates.
func (p *Producer) Call(ctx context.Context, topic string, batchSize int) ([]*model.OutboxEntry, error) {
	entries, err := p.repo.FetchPublishable(ctx, topic, batchSize, p.publishingDelay)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	toPublish := entries
	if p.dedupe {
		var collapsed []*model.OutboxEntry
		toPublish, collapsed = splitConsecutiveDuplicates(entries)
		for _, e := range collapsed {
			// superseded by the entry right behind it; close it out
			if err := p.repo.MarkPublished(ctx, e); err != nil {
				return nil, err
			}
		}
	}

	for _, entry := range toPublish {
		p.publishEntry(ctx, entry)
		if p.AfterEach != nil {
			p.AfterEach(entry)
		}
	}
	return entries, nil
}

func (p *Producer) publishEntry(ctx context.Context, entry *model.OutboxEntry) {
	var err error
	if entry.Observer() {
		err = p.observers.Publish(ctx, entry)
	} else {
		err = p.publish(ctx, entry)
	}

	if err != nil {
		metrics.OutboxPublishedTotal.WithLabelValues(entry.Topic, "failed").Inc()
		p.errors.CaptureException(err)
		p.inst.Event("outbox_worker.publish_failed", map[string]any{
			"topic": entry.Topic, "event": entry.EventName, "resource_id": entry.ResourceID,
		})
		if markErr := p.repo.MarkFailed(ctx, entry, err); markErr != nil {
			p.errors.CaptureException(markErr)
		}
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues(entry.Topic, "published").Inc()
	p.inst.Event("outbox_worker.published", map[string]any{
		"topic": entry.Topic, "event": entry.EventName, "resource_id": entry.ResourceID,
	})
	if markErr := p.repo.MarkPublished(ctx, entry); markErr != nil {
		p.errors.CaptureException(markErr)
		return
	}
	p.archiveEntry(ctx, entry)
}

func (p *Producer) publish(ctx context.Context, entry *model.OutboxEntry) error {
	rec, err := p.finder.Find(ctx, entry.ResourceClass, entry.ResourceID)
	if err != nil {
		return err
	}

	opts := RespondOptions{}
	if entry.PartitionKey.Valid {
		opts.PartitionKey = &entry.PartitionKey.String
	}

	if rec == nil {
		if model.KindOf(entry.EventName) != model.EventDestroyed {
			// the row vanished before we could read it; the destroyed entry
			// behind it will carry the news
			p.log.Debug("record gone, skipping publish",
				zap.String("resource_class", entry.ResourceClass),
				zap.String("resource_id", entry.ResourceID))
			return nil
		}
		batch := RawEventBatch(entry.EventName, entry.ResourceClass, []map[string]any{{"id": entry.ResourceID}})
		opts.Key = model.Underscore(entry.ResourceClass) + "_" + entry.ResourceID
		return p.responder.Respond(ctx, entry.Topic, []EventBatch{batch}, opts)
	}

	batch := NewEventBatch(entry.EventName, entry.ResourceClass, []model.Record{rec})
	return p.responder.Respond(ctx, entry.Topic, []EventBatch{batch}, opts)
}

func (p *Producer) archiveEntry(ctx context.Context, entry *model.OutboxEntry) {
	if p.archive == nil {
		return
	}
	err := p.archive.Append(ctx, repository.PublishedEvent{
		Topic:         entry.Topic,
		EventName:     entry.EventName,
		ResourceClass: entry.ResourceClass,
		ResourceID:    entry.ResourceID,
		PartitionKey:  entry.PartitionKey.String,
		PublishedAt:   entry.PublishedAt.Time,
	})
	if err != nil {
		// audit log is best effort
		p.log.Warn("archive append failed", zap.Error(err))
	}
}
