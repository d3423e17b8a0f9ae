package consumer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/lock"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

func dispatcherFixture(concurrency bool) (*Dispatcher, *MemoryStore, *bus.InProcess) {
	reg := consumerRegistry()
	if concurrency {
		topic, _ := reg.Topic("rentals")
		topic.Concurrency = true
	}
	store := NewMemoryStore()
	eventBus := bus.NewInProcess()
	batch := NewBatchProcessor(NewPersistor(reg, store, instrument.Noop{}), lock.NewLocalMutex(), &captureErrors{})
	return NewDispatcher(reg, batch, eventBus, instrument.Noop{}, &captureErrors{}), store, eventBus
}

func rentalMessage(key string, id int, name, updatedAt string) kafka.Message {
	value := `{"message":[{"event":"rental_updated","model_name":"Rental","data":[{"id":` +
		strconv.Itoa(id) + `,"name":"` + name + `","updated_at":"` + updatedAt + `"}]}]}`
	return kafka.Message{Key: []byte(key), Value: []byte(value)}
}

func TestDispatchSequential(t *testing.T) {
	d, store, _ := dispatcherFixture(false)
	msgs := []kafka.Message{
		rentalMessage("rental_1", 1, "a", "2024-06-01T00:00:00Z"),
		rentalMessage("rental_2", 2, "b", "2024-06-01T00:00:00Z"),
	}

	require.NoError(t, d.Dispatch(context.Background(), "rentals", msgs))
	assert.Equal(t, 2, store.Count("Rental"))
}

func TestDispatchConcurrent(t *testing.T) {
	d, store, _ := dispatcherFixture(true)
	var msgs []kafka.Message
	for i := 1; i <= 20; i++ {
		msgs = append(msgs, rentalMessage("rental_"+strconv.Itoa(i), i, "x", "2024-06-01T00:00:00Z"))
	}

	require.NoError(t, d.Dispatch(context.Background(), "rentals", msgs))
	assert.Equal(t, 20, store.Count("Rental"))
}

func TestDispatchCollapsesConsecutiveSameKey(t *testing.T) {
	d, store, published := dispatcherFixture(false)
	var events []string
	published.Subscribe(func(eventName string, _ map[string]any) {
		events = append(events, eventName)
	})

	msgs := []kafka.Message{
		rentalMessage("rental_1", 1, "first", "2024-06-01T00:00:01Z"),
		rentalMessage("rental_1", 1, "second", "2024-06-01T00:00:02Z"),
	}
	require.NoError(t, d.Dispatch(context.Background(), "rentals", msgs))

	rec, _, err := store.FindOrInit(context.Background(), consumerRegistry().ForModel("Rental"), float64(1))
	require.NoError(t, err)
	name, _ := rec.Get("name")
	assert.Equal(t, "second", name)
	assert.Len(t, events, 1, "the collapsed message never republished")
}

func TestDispatchRepublishesOnSuccess(t *testing.T) {
	d, _, published := dispatcherFixture(false)
	var payloads []map[string]any
	published.Subscribe(func(_ string, payload map[string]any) {
		payloads = append(payloads, payload)
	})

	msgs := []kafka.Message{rentalMessage("rental_1", 1, "a", "2024-06-01T00:00:00Z")}
	require.NoError(t, d.Dispatch(context.Background(), "rentals", msgs))

	require.Len(t, payloads, 1)
	assert.Equal(t, "Rental", payloads[0]["model"])
	assert.Equal(t, "rentals", payloads[0]["topic"])
	assert.Contains(t, payloads[0], "changes")
}

// failingStore wraps MemoryStore and fails every save.
type failingStore struct {
	*MemoryStore
}

func (s *failingStore) Save(context.Context, *registry.ConsumerModel, *LocalRecord) error {
	return errors.New("disk full")
}

func TestDispatchErrorSuppressesRepublish(t *testing.T) {
	reg := consumerRegistry()
	eventBus := bus.NewInProcess()
	var count int
	eventBus.Subscribe(func(string, map[string]any) { count++ })

	store := &failingStore{MemoryStore: NewMemoryStore()}
	batch := NewBatchProcessor(NewPersistor(reg, store, instrument.Noop{}), lock.NewLocalMutex(), &captureErrors{})
	d := NewDispatcher(reg, batch, eventBus, instrument.Noop{}, &captureErrors{})

	msgs := []kafka.Message{rentalMessage("rental_1", 1, "a", "2024-06-01T00:00:00Z")}
	err := d.Dispatch(context.Background(), "rentals", msgs)
	require.Error(t, err)
	assert.Zero(t, count, "nothing reaches the bus until the batch fully applies")
}

func TestDispatchEmptyBatch(t *testing.T) {
	d, _, _ := dispatcherFixture(false)
	assert.NoError(t, d.Dispatch(context.Background(), "rentals", nil))
}

// scriptedSource feeds Run a fixed sequence of batches and records commits;
// once drained it cancels the run.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	commits [][]kafka.Message
	done    context.CancelFunc
}

func (s *scriptedSource) FetchBatch(ctx context.Context, _ int, _ time.Duration) ([]kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		s.done()
		return nil, context.Canceled
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next, nil
}

func (s *scriptedSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, msgs)
	return nil
}

// flakyStore fails the first n saves, then behaves.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	saves    int
}

func (s *flakyStore) Save(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	s.mu.Lock()
	s.saves++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, cm, rec)
}

func TestRunRetriesFailedBatchBeforeCommitting(t *testing.T) {
	reg := consumerRegistry()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	batch := NewBatchProcessor(NewPersistor(reg, store, instrument.Noop{}), lock.NewLocalMutex(), &captureErrors{})
	d := NewDispatcher(reg, batch, bus.NewInProcess(), instrument.Noop{}, &captureErrors{})
	d.RetryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{
		batches: [][]kafka.Message{
			{rentalMessage("rental_1", 1, "a", "2024-06-01T00:00:00Z")},
			{rentalMessage("rental_2", 2, "b", "2024-06-01T00:00:00Z")},
		},
		done: cancel,
	}

	require.NoError(t, d.Run(ctx, "rentals", src))

	assert.Equal(t, 2, store.Count("Rental"), "the failed batch eventually applied")
	require.Len(t, src.commits, 2)
	assert.Equal(t, []byte("rental_1"), src.commits[0][0].Key,
		"the failed batch committed before anything fetched past it")
	assert.Equal(t, []byte("rental_2"), src.commits[1][0].Key)
	assert.GreaterOrEqual(t, store.saves, 4, "the first batch was retried in place")
}
