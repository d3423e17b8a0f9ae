package producer

import (
	"context"
	"fmt"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// BackfillEnqueuer hands oversized fan-outs to the async genesis/backfill
// machinery instead of blocking the outbox-processing loop.
type BackfillEnqueuer interface {
	EnqueueGenesis(ctx context.Context, modelName, topic string, ids []string) error
}

// ObserverFanout publishes the derived "updated" events owed to records
// related to a changed one. Entries for it live on the reserved observer
// topic and are the only entries carrying a changeset.
type ObserverFanout struct {
	reg              *registry.Registry
	responder        *Responder
	backfill         BackfillEnqueuer
	defaultThreshold int
}

func NewObserverFanout(reg *registry.Registry, responder *Responder, backfill BackfillEnqueuer, defaultThreshold int) *ObserverFanout {
	if defaultThreshold <= 0 {
		defaultThreshold = 1000
	}
	return &ObserverFanout{reg: reg, responder: responder, backfill: backfill, defaultThreshold: defaultThreshold}
}

// Publish walks every topic's observer declarations, applies the first one
// (per topic) whose watched attributes intersect the entry's changeset, and
// emits the derived events inline or via backfill depending on fan-out size.
func (f *ObserverFanout) Publish(ctx context.Context, entry *model.OutboxEntry) error {
	cs, err := entry.DecodeChangeset()
	if err != nil {
		return fmt.Errorf("observer changeset: %w", err)
	}

	for _, topic := range f.reg.Topics() {
		obs, ok := topic.FirstMatchingObserver(entry.ResourceClass, cs)
		if !ok {
			continue
		}
		if err := f.publishOne(ctx, topic, obs, entry); err != nil {
			return err
		}
	}
	return nil
}

func (f *ObserverFanout) publishOne(ctx context.Context, topic *registry.Topic, obs registry.Observer, entry *model.OutboxEntry) error {
	records, err := obs.Fetch(ctx, entry.ResourceID)
	if err != nil {
		return fmt.Errorf("observer fetch %s via %s: %w", obs.TargetModel, obs.Association, err)
	}
	if len(records) == 0 {
		return nil
	}

	threshold := topic.InlineObserverThreshold
	if threshold <= 0 {
		threshold = f.defaultThreshold
	}

	if len(records) > threshold {
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, model.Stringify(rec.PrimaryKey()))
		}
		return f.backfill.EnqueueGenesis(ctx, obs.TargetModel, topic.Name, ids)
	}

	for _, rec := range records {
		eventName := model.EventNameFor(rec.ModelName(), model.EventUpdated)
		batch := NewEventBatch(eventName, rec.ModelName(), []model.Record{rec})
		if err := f.responder.Respond(ctx, topic.Name, []EventBatch{batch}, RespondOptions{}); err != nil {
			return err
		}
	}
	return nil
}
