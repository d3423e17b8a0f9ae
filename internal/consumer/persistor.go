package consumer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/metrics"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// Persistor reconciles incoming events against the local store. Data-shape
// problems (unknown event, missing synced id, stale timestamps) skip and
// never raise; only store failures propagate.
type Persistor struct {
	reg   *registry.Registry
	store ModelStore
	inst  instrument.Instrumenter
	log   *zap.Logger
}

func NewPersistor(reg *registry.Registry, store ModelStore, inst instrument.Instrumenter) *Persistor {
	return &Persistor{reg: reg, store: store, inst: inst, log: logger.Named("consumer.persistor")}
}

// Persist applies one event: every record in its canonical tree, depth
// first, with association linkage resolved after each relationship's
// records exist.
func (p *Persistor) Persist(ctx context.Context, topic string, ev *model.Event) error {
	kind := ev.Kind()
	if kind == model.EventUnknown {
		p.log.Debug("unknown event name, skipping", zap.String("event", ev.EventName))
		return nil
	}

	cm := p.reg.ForModel(ev.ModelName)
	if cm == nil {
		p.log.Debug("model not synced locally, skipping", zap.String("model", ev.ModelName))
		metrics.ConsumerEventsTotal.WithLabelValues(topic, "skipped").Inc()
		return nil
	}

	if topicCfg, err := p.reg.Topic(topic); err == nil && topicCfg.Import {
		if handled, err := p.importBulk(ctx, topic, kind, cm, ev); handled {
			return err
		}
	}

	for _, rec := range ev.TransformedData {
		if err := p.persistRecord(ctx, topic, ev, cm, rec); err != nil {
			return err
		}
	}
	return nil
}

// importBulk short-circuits created/destroyed events on import topics into
// the registered bulk hooks, skipping staleness comparison and relationship
// walking. Returns handled=false for kinds/models without a hook.
func (p *Persistor) importBulk(ctx context.Context, topic string, kind model.EventKind, cm *registry.ConsumerModel, ev *model.Event) (bool, error) {
	switch kind {
	case model.EventCreated:
		if cm.BatchImport == nil {
			return false, nil
		}
		err := p.inst.Instrument("persist.import."+topic, map[string]any{"model": cm.Name}, func() error {
			return cm.BatchImport(ctx, ev.TransformedData)
		})
		return true, err
	case model.EventDestroyed:
		if cm.BatchDestroy == nil {
			return false, nil
		}
		err := p.inst.Instrument("persist.import_destroy."+topic, map[string]any{"model": cm.Name}, func() error {
			return cm.BatchDestroy(ctx, ev.TransformedData)
		})
		return true, err
	}
	return false, nil
}

func (p *Persistor) persistRecord(ctx context.Context, topic string, ev *model.Event, cm *registry.ConsumerModel, crec *model.CanonicalRecord) error {
	syncedID := crec.SyncedID()
	if syncedID == nil {
		p.log.Error("record without synced id, skipping",
			zap.String("event", ev.EventName), zap.String("model", cm.Name))
		metrics.ConsumerEventsTotal.WithLabelValues(topic, "skipped").Inc()
		return nil
	}

	local, _, err := p.store.FindOrInit(ctx, cm, syncedID)
	if err != nil {
		return fmt.Errorf("find %s %v: %w", cm.Name, syncedID, err)
	}

	// staleness guard: apply only when the comparison is possible and the
	// event is not older than what we already hold. >= keeps exact-timestamp
	// replays idempotent without dropping the newest state.
	eventTS := crec.EventTimestamp()
	localTS := local.SyncedAt(cm)
	if localTS != nil && eventTS != nil && eventTS.Before(*localTS) {
		metrics.ConsumerEventsTotal.WithLabelValues(topic, "stale").Inc()
		return nil
	}

	for _, attr := range sortedAttrKeys(crec.Attributes) {
		if localName, ok := cm.LocalFor(attr); ok {
			local.Set(localName, crec.Attributes[attr])
		}
	}

	destroyed := false
	switch ev.Kind() {
	case model.EventDestroyed:
		if cm.SoftDeleteAttr != "" && crec.HasAttribute(model.AttrSyncedCanceledAt) {
			// cancellation (or restoration, when the value is nil) happens
			// through the attribute itself; no destroy call
			local.Set(cm.SoftDeleteAttr, crec.Attributes[model.AttrSyncedCanceledAt])
		} else if ev.AggregateRoot {
			destroyed = true
		}
		// nested records reached via relationship recursion are left alone
	case model.EventCreated, model.EventUpdated:
		if cm.SoftDeleteAttr != "" && !cm.SoftDeleteViaMethod && !crec.HasAttribute(model.AttrSyncedCanceledAt) {
			if v, ok := local.Get(cm.SoftDeleteAttr); ok && v != nil {
				// payload carries no cancellation key at all: implicit
				// restoration signal
				local.Set(cm.SoftDeleteAttr, nil)
			}
		}
	}

	ev.RecordChanges(cm.Name, model.Stringify(syncedID), local.Changes())

	if destroyed {
		err := p.inst.Instrument("persist.destroy", map[string]any{"model": cm.Name}, func() error {
			return p.store.Destroy(ctx, cm, local)
		})
		if err != nil {
			return err
		}
		metrics.ConsumerEventsTotal.WithLabelValues(topic, "destroyed").Inc()
	} else {
		err := p.inst.Instrument("persist.save", map[string]any{"model": cm.Name}, func() error {
			return p.store.Save(ctx, cm, local)
		})
		if err != nil {
			return err
		}
		metrics.ConsumerEventsTotal.WithLabelValues(topic, "persisted").Inc()
	}

	for _, rel := range crec.HasMany {
		if err := p.persistRelationship(ctx, topic, ev, cm, local, rel, true, destroyed); err != nil {
			return err
		}
	}
	for _, rel := range crec.HasOne {
		if err := p.persistRelationship(ctx, topic, ev, cm, local, rel, false, destroyed); err != nil {
			return err
		}
	}
	return nil
}

// persistRelationship applies one relationship branch two-phase: persist the
// child records fully via a synthesized non-aggregate-root event, then wire
// the association on the parent so linkage never races child creation.
func (p *Persistor) persistRelationship(
	ctx context.Context,
	topic string,
	parentEv *model.Event,
	parentCM *registry.ConsumerModel,
	parent *LocalRecord,
	rel model.Relationship,
	toMany bool,
	parentDestroyed bool,
) error {
	if rel.Records == nil {
		return nil
	}
	childCM := p.reg.ForModel(rel.ModelName)
	if childCM == nil {
		return nil
	}

	label := "persist.persist_to_one_relationship." + rel.Name
	if toMany {
		label = "persist.persist_to_many_relationship." + rel.Name
	}
	return p.inst.Instrument(label, map[string]any{"topic": topic, "parent": parentCM.Name}, func() error {
		childEv := &model.Event{
			EventName:       parentEv.EventName,
			ModelName:       rel.ModelName,
			TransformedData: rel.Records,
			LocalChanges:    parentEv.LocalChanges, // diffs roll up into the root event
			AggregateRoot:   false,
		}
		for _, childRec := range rel.Records {
			if err := p.persistRecord(ctx, topic, childEv, childCM, childRec); err != nil {
				return err
			}
		}

		if parentDestroyed {
			return nil
		}
		relCfg, ok := parentCM.Relationships[rel.Name]
		if !ok {
			return nil
		}
		ids := make([]any, 0, len(rel.Records))
		for _, childRec := range rel.Records {
			if id := childRec.SyncedID(); id != nil {
				ids = append(ids, id)
			}
		}
		return p.store.ResolveAssociation(ctx, parentCM, parent, relCfg, childCM, ids)
	})
}

func sortedAttrKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
