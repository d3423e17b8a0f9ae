package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// Broker is the narrow producing surface of the message broker client.
// Produce is synchronous; a nil payload is a tombstone.
type Broker interface {
	Produce(ctx context.Context, topic, key string, partitionKey *string, payload []byte) error
}

// EventBatch is one (event_name, records[, options]) triple of a respond
// call. Raw carries pre-built bodies for events that opt out of
// serialization (e.g. the record is already gone and only an id survives).
type EventBatch struct {
	EventName    string
	ModelName    string
	Records      []model.Record
	Raw          []map[string]any
	Serialize    bool
	Dependencies []string
}

// NewEventBatch builds a serializing batch.
func NewEventBatch(eventName, modelName string, records []model.Record) EventBatch {
	return EventBatch{EventName: eventName, ModelName: modelName, Records: records, Serialize: true}
}

// RawEventBatch builds a batch that bypasses serialization.
func RawEventBatch(eventName, modelName string, data []map[string]any) EventBatch {
	return EventBatch{EventName: eventName, ModelName: modelName, Raw: data}
}

// RespondOptions tweak one respond call. GenesisOnly restricts the publish
// to the genesis replica topic.
type RespondOptions struct {
	Key          string
	PartitionKey *string
	GenesisOnly  bool
}

// Responder assembles the wire message for a topic and hands it to the
// broker, duplicating to the genesis replica when one is configured. Every
// publish is mirrored to the event bus and the instrumenter.
type Responder struct {
	reg        *registry.Registry
	broker     Broker
	serializer *Serializer
	keys       *PartitionKeyResolver
	bus        bus.Bus
	inst       instrument.Instrumenter
}

func NewResponder(
	reg *registry.Registry,
	broker Broker,
	serializer *Serializer,
	keys *PartitionKeyResolver,
	eventBus bus.Bus,
	inst instrument.Instrumenter,
) *Responder {
	return &Responder{reg: reg, broker: broker, serializer: serializer, keys: keys, bus: eventBus, inst: inst}
}

// Respond publishes the batches as one wire message. A nil batches slice
// publishes a tombstone instead.
func (r *Responder) Respond(ctx context.Context, topicName string, batches []EventBatch, opts RespondOptions) error {
	topicCfg, err := r.reg.Topic(topicName)
	if err != nil {
		return err
	}

	if batches == nil {
		return r.tombstone(ctx, topicCfg, opts)
	}

	descriptors := make([]map[string]any, 0, len(batches))
	for _, b := range batches {
		var data []map[string]any
		if b.Serialize {
			data = r.serializer.Serialize(b.Records, b.Dependencies)
		} else {
			data = b.Raw
		}
		descriptors = append(descriptors, map[string]any{
			"event":      b.EventName,
			"model_name": b.ModelName,
			"data":       data,
		})
	}
	payload, err := json.Marshal(map[string]any{"message": descriptors})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := opts.Key
	partitionKey := opts.PartitionKey
	if first := firstRecord(batches); first != nil {
		if key == "" {
			key = fmt.Sprintf("%s_%v", model.Underscore(first.ModelName()), first.PrimaryKey())
		}
		if partitionKey == nil {
			partitionKey = r.keys.Resolve(topicCfg, first)
		}
	}

	for _, target := range r.targets(topicCfg, opts) {
		if err := r.broker.Produce(ctx, target, key, partitionKey, payload); err != nil {
			return err
		}
		r.mirror(ctx, target, key, batches)
	}
	return nil
}

// tombstone publishes a broker-level deletion marker (literal null payload)
// to each applicable topic.
func (r *Responder) tombstone(ctx context.Context, topicCfg *registry.Topic, opts RespondOptions) error {
	for _, target := range r.targets(topicCfg, opts) {
		if err := r.broker.Produce(ctx, target, opts.Key, opts.PartitionKey, nil); err != nil {
			return err
		}
		r.inst.Event("responder.tombstone", map[string]any{"topic": target, "key": opts.Key})
		_ = r.bus.Publish(ctx, "dionysus.published", map[string]any{
			"topic":     target,
			"key":       opts.Key,
			"tombstone": true,
		})
	}
	return nil
}

func (r *Responder) targets(topicCfg *registry.Topic, opts RespondOptions) []string {
	if topicCfg.GenesisReplica == "" {
		return []string{topicCfg.Name}
	}
	if opts.GenesisOnly || topicCfg.GenesisOnly {
		return []string{topicCfg.GenesisReplica}
	}
	return []string{topicCfg.Name, topicCfg.GenesisReplica}
}

func (r *Responder) mirror(ctx context.Context, target, key string, batches []EventBatch) {
	for _, b := range batches {
		r.inst.Event("responder.published", map[string]any{
			"topic": target, "event": b.EventName, "key": key,
		})
		_ = r.bus.Publish(ctx, "dionysus.published", map[string]any{
			"topic":      target,
			"event":      b.EventName,
			"model_name": b.ModelName,
			"key":        key,
		})
	}
}

func firstRecord(batches []EventBatch) model.Record {
	for _, b := range batches {
		if len(b.Records) > 0 {
			return b.Records[0]
		}
	}
	return nil
}
