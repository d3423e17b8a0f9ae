package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/lock"
	"github.com/BookingSync/dionysus-go/internal/model"
)

// captureErrors records CaptureException/CaptureMessage calls for assertions.
type captureErrors struct {
	mu         sync.Mutex
	exceptions []error
	messages   []string
}

func (c *captureErrors) CaptureException(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptions = append(c.exceptions, err)
}

func (c *captureErrors) CaptureMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func batchFixture(filters ...MessageFilter) (*BatchProcessor, *MemoryStore, *captureErrors) {
	reg := consumerRegistry()
	store := NewMemoryStore()
	errs := &captureErrors{}
	p := NewPersistor(reg, store, instrument.Noop{})
	return NewBatchProcessor(p, lock.NewLocalMutex(), errs, filters...), store, errs
}

func TestProcessAppliesEnvelope(t *testing.T) {
	b, store, _ := batchFixture()
	msg := kafka.Message{
		Key:   []byte("rental_5"),
		Value: []byte(`{"message":[{"event":"rental_created","model_name":"Rental","data":[{"id":5,"name":"Villa","updated_at":"2024-06-01T00:00:00Z"}]}]}`),
	}

	events, err := b.Process(context.Background(), "rentals", msg)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "rental_created", events[0].EventName)
	assert.Equal(t, 1, store.Count("Rental"))
}

func TestProcessMultipleEventsInOneMessage(t *testing.T) {
	b, store, _ := batchFixture()
	msg := kafka.Message{
		Value: []byte(`{"message":[
			{"event":"rental_created","model_name":"Rental","data":[{"id":1,"updated_at":"2024-06-01T00:00:00Z"}]},
			{"event":"rental_created","model_name":"Rental","data":[{"id":2,"updated_at":"2024-06-01T00:00:00Z"}]}
		]}`),
	}

	events, err := b.Process(context.Background(), "rentals", msg)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 2, store.Count("Rental"))
}

func TestProcessMalformedMessageIgnored(t *testing.T) {
	b, store, errs := batchFixture()
	msg := kafka.Message{Value: []byte(`{"message":`)}

	events, err := b.Process(context.Background(), "rentals", msg)
	require.NoError(t, err, "redelivery cannot fix malformed JSON")
	assert.Nil(t, events)
	assert.Equal(t, 0, store.Count("Rental"))
	require.Len(t, errs.messages, 1)
	assert.Contains(t, errs.messages[0], "ignoring")
}

func TestProcessFilterVeto(t *testing.T) {
	veto := MessageFilterFunc(func(topic string, msg kafka.Message, events []*model.Event) (bool, string) {
		return string(msg.Key) == "blocked", "sender is denylisted"
	})
	b, store, errs := batchFixture(veto)

	blocked := kafka.Message{
		Key:   []byte("blocked"),
		Value: []byte(`{"message":[{"event":"rental_created","model_name":"Rental","data":[{"id":1}]}]}`),
	}
	events, err := b.Process(context.Background(), "rentals", blocked)
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.Equal(t, 0, store.Count("Rental"))
	require.Len(t, errs.messages, 1)
	assert.Contains(t, errs.messages[0], "denylisted")

	allowed := kafka.Message{
		Key:   []byte("ok"),
		Value: []byte(`{"message":[{"event":"rental_created","model_name":"Rental","data":[{"id":1,"updated_at":"2024-06-01T00:00:00Z"}]}]}`),
	}
	_, err = b.Process(context.Background(), "rentals", allowed)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count("Rental"))
}

func TestProcessFilterSeesDeserializedEvents(t *testing.T) {
	// drop events whose records carry no remote id, a shape no persist
	// could apply anyway
	veto := MessageFilterFunc(func(_ string, _ kafka.Message, events []*model.Event) (bool, string) {
		for _, ev := range events {
			for _, rec := range ev.TransformedData {
				if rec.SyncedID() == nil {
					return true, "record without an id"
				}
			}
		}
		return false, ""
	})
	b, store, errs := batchFixture(veto)

	idless := kafka.Message{
		Key:   []byte("rental_x"),
		Value: []byte(`{"message":[{"event":"rental_created","model_name":"Rental","data":[{"name":"Villa"}]}]}`),
	}
	events, err := b.Process(context.Background(), "rentals", idless)
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.Equal(t, 0, store.Count("Rental"))
	require.Len(t, errs.messages, 1)
	assert.Contains(t, errs.messages[0], "without an id")

	withID := kafka.Message{
		Key:   []byte("rental_1"),
		Value: []byte(`{"message":[{"event":"rental_created","model_name":"Rental","data":[{"id":1,"updated_at":"2024-06-01T00:00:00Z"}]}]}`),
	}
	_, err = b.Process(context.Background(), "rentals", withID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count("Rental"))
}
