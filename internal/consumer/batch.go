package consumer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/lock"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/util"
)

// IncomingEvent is one element of the wire envelope's "message" list.
type IncomingEvent struct {
	Event     string           `json:"event"`
	ModelName string           `json:"model_name"`
	Data      []map[string]any `json:"data"`
}

type envelope struct {
	Message []IncomingEvent `json:"message"`
}

// MessageFilter can veto a whole Kafka message after its events are
// deserialized but before any of them are applied, so a filter can inspect
// both the raw message and the canonical records it carries. Veto reports
// true to drop the message; reason feeds the ignore notice.
type MessageFilter interface {
	Veto(topic string, msg kafka.Message, events []*model.Event) (bool, string)
}

// MessageFilterFunc adapts a func to MessageFilter.
type MessageFilterFunc func(topic string, msg kafka.Message, events []*model.Event) (bool, string)

func (f MessageFilterFunc) Veto(topic string, msg kafka.Message, events []*model.Event) (bool, string) {
	return f(topic, msg, events)
}

// BatchProcessor turns one Kafka message into events and applies them under
// a keyed mutex, so messages sharing a partition key never interleave across
// processes.
type BatchProcessor struct {
	persistor *Persistor
	mutex     lock.KeyedMutex
	filters   []MessageFilter
	errors    instrument.ErrorHandler
	log       *zap.Logger
}

func NewBatchProcessor(persistor *Persistor, mutex lock.KeyedMutex, errors instrument.ErrorHandler, filters ...MessageFilter) *BatchProcessor {
	return &BatchProcessor{
		persistor: persistor,
		mutex:     mutex,
		filters:   filters,
		errors:    errors,
		log:       logger.Named("consumer.batch"),
	}
}

// Process applies every event carried by the message. The returned events
// carry the local changes accumulated while persisting; a vetoed or
// malformed message yields nil events and a nil error, since redelivery
// could never fix it.
func (b *BatchProcessor) Process(ctx context.Context, topic string, msg kafka.Message) ([]*model.Event, error) {
	// messages without a key get a throwaway mutex key: nothing shares it,
	// so they only serialize against themselves
	key := string(msg.Key)
	if key == "" {
		key = util.NewULID()
	}

	var events []*model.Event
	err := b.mutex.WithLock(ctx, key, func() error {
		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			b.errors.CaptureMessage("ignoring malformed message on " + topic + ": " + err.Error())
			b.log.Warn("malformed message",
				zap.String("topic", topic), zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}

		evs := make([]*model.Event, 0, len(env.Message))
		for _, in := range env.Message {
			evs = append(evs, model.NewEvent(in.Event, in.ModelName, Deserialize(in.Data)))
		}
		for _, f := range b.filters {
			if vetoed, reason := f.Veto(topic, msg, evs); vetoed {
				b.errors.CaptureMessage("ignoring message on " + topic + ": " + reason)
				return nil
			}
		}

		for _, ev := range evs {
			if err := b.persistor.Persist(ctx, topic, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
