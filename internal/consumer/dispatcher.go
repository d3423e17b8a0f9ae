package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/dedup"
	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// Source is the fetch/commit surface Run drives. *kafka.Consumer satisfies
// it.
type Source interface {
	FetchBatch(ctx context.Context, max int, wait time.Duration) ([]kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher drives one consumer-group topic: fetch a batch, optionally
// collapse consecutive duplicates, process each message, republish the
// applied events on the bus, then commit. Offsets are committed only after
// the whole batch applied, so a crash redelivers and the staleness guard
// absorbs the replay.
type Dispatcher struct {
	reg    *registry.Registry
	batch  *BatchProcessor
	bus    bus.Bus
	errors instrument.ErrorHandler
	inst   instrument.Instrumenter
	log    *zap.Logger

	BatchSize  int
	MaxWait    time.Duration
	RetryDelay time.Duration
	// PreBatch reshapes a fetched batch before dispatch. Defaults to
	// collapsing consecutive messages sharing a key.
	PreBatch func(topic string, msgs []kafka.Message) []kafka.Message
}

func NewDispatcher(reg *registry.Registry, batch *BatchProcessor, eventBus bus.Bus, inst instrument.Instrumenter, errHandler instrument.ErrorHandler) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		batch:     batch,
		bus:       eventBus,
		errors:    errHandler,
		inst:      inst,
		log:        logger.Named("consumer.dispatcher"),
		BatchSize:  100,
		MaxWait:    time.Second,
		RetryDelay: time.Second,
	}
}

// Run consumes the topic until ctx is done. Fetch and commit failures are
// reported and retried. A failed batch is retried in place: group commits
// are high-watermark, so fetching ahead and committing a later batch would
// implicitly commit the failed one and drop its events.
func (d *Dispatcher) Run(ctx context.Context, topic string, src Source) error {
	d.inst.Event("dispatcher.started", map[string]any{"topic": topic})
	defer d.inst.Event("dispatcher.stopped", map[string]any{"topic": topic})

	for {
		msgs, err := src.FetchBatch(ctx, d.BatchSize, d.MaxWait)
		if err != nil && len(msgs) == 0 {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			d.errors.CaptureException(err)
			if !d.pause(ctx) {
				return nil
			}
			continue
		}

		for {
			err := d.Dispatch(ctx, topic, msgs)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			d.errors.CaptureException(err)
			if !d.pause(ctx) {
				return nil
			}
		}
		if err := src.Commit(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.errors.CaptureException(err)
		}
	}
}

func (d *Dispatcher) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.RetryDelay):
		return true
	}
}

// Dispatch applies one fetched batch. Messages run sequentially unless the
// topic opts into concurrency, in which case each message gets a goroutine
// and the keyed mutex keeps same-key messages ordered. Any failure
// suppresses the bus republish: redelivery will produce it once the batch
// fully applies.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	preBatch := d.PreBatch
	if preBatch == nil {
		preBatch = collapseConsecutive
	}
	msgs = preBatch(topic, msgs)

	concurrent := false
	if t, err := d.reg.Topic(topic); err == nil {
		concurrent = t.Concurrency
	}

	var (
		events []*model.Event
		errs   error
	)
	if concurrent {
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, msg := range msgs {
			wg.Add(1)
			go func(msg kafka.Message) {
				defer wg.Done()
				evs, err := d.batch.Process(ctx, topic, msg)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = multierr.Append(errs, err)
					return
				}
				events = append(events, evs...)
			}(msg)
		}
		wg.Wait()
	} else {
		for _, msg := range msgs {
			evs, err := d.batch.Process(ctx, topic, msg)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			events = append(events, evs...)
		}
	}
	if errs != nil {
		return errs
	}

	d.republish(ctx, topic, events)
	return nil
}

// republish mirrors every applied event onto the bus so local listeners can
// react without a second Kafka subscription. Flattened payload: model name
// plus the per-record field diffs the persistor collected.
func (d *Dispatcher) republish(ctx context.Context, topic string, events []*model.Event) {
	for _, ev := range events {
		payload := map[string]any{
			"model": ev.ModelName,
			"topic": topic,
		}
		if len(ev.LocalChanges) > 0 {
			changes := make(map[string]any, len(ev.LocalChanges))
			for key, diff := range ev.LocalChanges {
				changes[key.ModelName+"/"+key.SyncedID] = map[string][2]any(diff)
			}
			payload["changes"] = changes
		}
		if err := d.bus.Publish(ctx, ev.EventName, payload); err != nil {
			d.log.Warn("bus republish failed",
				zap.String("event", ev.EventName), zap.Error(err))
		}
	}
}

// collapseConsecutive is the default PreBatch: back-to-back messages with
// the same key carry successive states of the same resources, so only the
// last matters. Keyless messages never collapse.
func collapseConsecutive(topic string, msgs []kafka.Message) []kafka.Message {
	return dedup.Consecutive(msgs, func(m kafka.Message) (dedup.Key, bool) {
		if len(m.Key) == 0 {
			return dedup.Key{}, false
		}
		return dedup.Key{ResourceID: string(m.Key), Topic: topic}, true
	})
}
