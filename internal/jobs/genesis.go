package jobs

import (
	"context"
	"fmt"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// GenesisStreamer replays a model's current state onto a topic: full-history
// backfill, or the overflow path of a large observer fan-out. It publishes
// created events in id batches through the normal responder, restricted to
// the genesis replica topic when one is configured.
type GenesisStreamer struct {
	reg       *registry.Registry
	finder    producer.RecordFinder
	responder *producer.Responder
	inst      instrument.Instrumenter
	batchSize int
}

func NewGenesisStreamer(
	reg *registry.Registry,
	finder producer.RecordFinder,
	responder *producer.Responder,
	inst instrument.Instrumenter,
	batchSize int,
) *GenesisStreamer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &GenesisStreamer{reg: reg, finder: finder, responder: responder, inst: inst, batchSize: batchSize}
}

// Stream validates the request and publishes the records behind ids in
// creation batches. Genesis for a model registered on the topic only as a
// sideloaded dependency fails fast before any work happens.
func (s *GenesisStreamer) Stream(ctx context.Context, modelName, topicName string, ids []string) error {
	if err := s.reg.ValidateGenesis(modelName, topicName); err != nil {
		return err
	}

	s.inst.Event("genesis.started", map[string]any{"model": modelName, "topic": topicName, "ids": len(ids)})
	eventName := model.EventNameFor(modelName, model.EventCreated)

	for start := 0; start < len(ids); start += s.batchSize {
		end := start + s.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		records, err := s.finder.FindBatch(ctx, modelName, ids[start:end])
		if err != nil {
			return fmt.Errorf("genesis batch %s: %w", modelName, err)
		}
		for _, rec := range records {
			batch := producer.NewEventBatch(eventName, modelName, []model.Record{rec})
			err := s.responder.Respond(ctx, topicName, []producer.EventBatch{batch}, producer.RespondOptions{GenesisOnly: true})
			if err != nil {
				return err
			}
		}
	}

	s.inst.Event("genesis.finished", map[string]any{"model": modelName, "topic": topicName})
	return nil
}

// genesisJob adapts one streaming request to the Job interface.
type genesisJob struct {
	streamer *GenesisStreamer
	model    string
	topic    string
	ids      []string
}

func (j genesisJob) Name() string { return fmt.Sprintf("genesis:%s:%s", j.model, j.topic) }

func (j genesisJob) Perform(ctx context.Context) error {
	return j.streamer.Stream(ctx, j.model, j.topic, j.ids)
}

// GenesisEnqueuer implements producer.BackfillEnqueuer over the job runner,
// validating before enqueueing so bad requests fail at the call site.
type GenesisEnqueuer struct {
	reg      *registry.Registry
	streamer *GenesisStreamer
	runner   Enqueuer
}

func NewGenesisEnqueuer(reg *registry.Registry, streamer *GenesisStreamer, runner Enqueuer) *GenesisEnqueuer {
	return &GenesisEnqueuer{reg: reg, streamer: streamer, runner: runner}
}

func (g *GenesisEnqueuer) EnqueueGenesis(ctx context.Context, modelName, topic string, ids []string) error {
	if err := g.reg.ValidateGenesis(modelName, topic); err != nil {
		return err
	}
	return g.runner.Enqueue(ctx, genesisJob{streamer: g.streamer, model: modelName, topic: topic, ids: ids})
}
