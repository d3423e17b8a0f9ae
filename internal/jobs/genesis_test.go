package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

type staticRecord struct {
	name string
	pk   any
}

func (r staticRecord) ModelName() string { return r.name }
func (r staticRecord) PrimaryKey() any   { return r.pk }

func (r staticRecord) Attribute(string) (any, bool) { return nil, false }

func (r staticRecord) Association(string) ([]model.Record, bool) { return nil, false }

func (r staticRecord) Persisted() bool { return true }

type staticFinder struct{}

func (staticFinder) Find(_ context.Context, resourceClass, resourceID string) (model.Record, error) {
	return staticRecord{name: resourceClass, pk: resourceID}, nil
}

func (staticFinder) FindBatch(_ context.Context, resourceClass string, ids []string) ([]model.Record, error) {
	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, staticRecord{name: resourceClass, pk: id})
	}
	return out, nil
}

type captureBroker struct {
	mu     sync.Mutex
	topics []string
	events []string
}

func (b *captureBroker) Produce(_ context.Context, topic, _ string, _ *string, payload []byte) error {
	var env struct {
		Message []struct {
			Event string `json:"event"`
		} `json:"message"`
	}
	_ = json.Unmarshal(payload, &env)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	for _, m := range env.Message {
		b.events = append(b.events, m.Event)
	}
	return nil
}

func genesisFixture() (*GenesisStreamer, *captureBroker, *registry.Registry) {
	reg := registry.New()
	reg.RegisterTopic(&registry.Topic{
		Name:           "rentals",
		GenesisReplica: "rentals_genesis",
		Publishers:     []string{"Rental"},
		Dependencies:   []string{"Photo"},
	})
	reg.RegisterModel(&registry.Model{Name: "Rental", Topics: []string{"rentals"}})

	broker := &captureBroker{}
	responder := producer.NewResponder(
		reg, broker, producer.NewSerializer(reg), &producer.PartitionKeyResolver{},
		bus.NewInProcess(), instrument.Noop{},
	)
	return NewGenesisStreamer(reg, staticFinder{}, responder, instrument.Noop{}, 2), broker, reg
}

func TestStreamPublishesCreatedToReplicaOnly(t *testing.T) {
	s, broker, _ := genesisFixture()

	err := s.Stream(context.Background(), "Rental", "rentals", []string{"1", "2", "3"})
	require.NoError(t, err)

	assert.Len(t, broker.topics, 3)
	for _, topic := range broker.topics {
		assert.Equal(t, "rentals_genesis", topic, "genesis never touches the live topic")
	}
	for _, event := range broker.events {
		assert.Equal(t, "rental_created", event)
	}
}

func TestStreamDependencyOnlyModelFailsFast(t *testing.T) {
	s, broker, _ := genesisFixture()

	err := s.Stream(context.Background(), "Photo", "rentals", []string{"1"})
	require.Error(t, err)
	assert.Empty(t, broker.topics)
}

func TestGenesisEnqueuerValidatesBeforeEnqueue(t *testing.T) {
	s, _, reg := genesisFixture()
	runner := NewRunner(1, 4, instrument.Noop{})
	runner.Start(context.Background())
	defer runner.Stop()

	g := NewGenesisEnqueuer(reg, s, runner)
	assert.Error(t, g.EnqueueGenesis(context.Background(), "Photo", "rentals", []string{"1"}))
	assert.NoError(t, g.EnqueueGenesis(context.Background(), "Rental", "rentals", []string{"1"}))
}
