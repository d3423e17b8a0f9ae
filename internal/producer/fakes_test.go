package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/repository"
)

// fakeRecord implements model.Record over plain maps.
type fakeRecord struct {
	modelName    string
	pk           any
	attrs        map[string]any
	associations map[string][]model.Record
	persisted    bool
}

func newFakeRecord(modelName string, pk any, attrs map[string]any) *fakeRecord {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &fakeRecord{modelName: modelName, pk: pk, attrs: attrs, persisted: true}
}

func (r *fakeRecord) ModelName() string { return r.modelName }
func (r *fakeRecord) PrimaryKey() any   { return r.pk }
func (r *fakeRecord) Persisted() bool   { return r.persisted }

func (r *fakeRecord) Attribute(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

func (r *fakeRecord) Association(name string) ([]model.Record, bool) {
	recs, ok := r.associations[name]
	return recs, ok
}

// produced is one captured broker write.
type produced struct {
	Topic        string
	Key          string
	PartitionKey *string
	Payload      []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []produced
	failWith error
}

func (b *fakeBroker) Produce(_ context.Context, topic, key string, partitionKey *string, payload []byte) error {
	if b.failWith != nil {
		return b.failWith
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, produced{Topic: topic, Key: key, PartitionKey: partitionKey, Payload: payload})
	return nil
}

func (b *fakeBroker) all() []produced {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]produced, len(b.messages))
	copy(out, b.messages)
	return out
}

// fakeOutboxRepo keeps entries in memory and mimics the publish lifecycle
// bookkeeping of the sqlx implementation.
type fakeOutboxRepo struct {
	mu        sync.Mutex
	entries   []*model.OutboxEntry
	published []*model.OutboxEntry
	failed    []*model.OutboxEntry
	fetchErr  error
}

func (r *fakeOutboxRepo) Insert(_ context.Context, _ *sqlx.Tx, entries ...*model.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		e.ID = int64(len(r.entries) + 1)
		e.CreatedAt = time.Now().UTC()
		r.entries = append(r.entries, e)
	}
	return nil
}

func (r *fakeOutboxRepo) FetchPublishable(_ context.Context, topic string, limit int, delay time.Duration) ([]*model.OutboxEntry, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*model.OutboxEntry
	for _, e := range r.entries {
		if e.Topic == topic && e.Publishable(now, delay) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkPublished(_ context.Context, e *model.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.PublishedAt.Valid = true
	e.PublishedAt.Time = time.Now().UTC()
	r.published = append(r.published, e)
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(_ context.Context, e *model.OutboxEntry, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	e.FailedAt.Valid = true
	e.FailedAt.Time = now
	e.RetryAt.Valid = true
	e.RetryAt.Time = now.Add(repository.RetryBackoff(e.Attempts))
	e.ErrorClass.Valid = true
	e.ErrorClass.String = fmt.Sprintf("%T", cause)
	e.ErrorMessage.Valid = true
	e.ErrorMessage.String = cause.Error()
	e.Attempts++
	r.failed = append(r.failed, e)
	return nil
}

func (r *fakeOutboxRepo) CountPublishable(_ context.Context, topic string, delay time.Duration) (int64, error) {
	entries, err := r.FetchPublishable(context.Background(), topic, 1<<30, delay)
	return int64(len(entries)), err
}

// fakeFinder serves records by (class, id); absent keys return (nil, nil)
// like a deleted row.
type fakeFinder struct {
	records map[string]model.Record // "Class/id"
}

func newFakeFinder() *fakeFinder {
	return &fakeFinder{records: map[string]model.Record{}}
}

func (f *fakeFinder) add(rec model.Record) {
	f.records[rec.ModelName()+"/"+model.Stringify(rec.PrimaryKey())] = rec
}

func (f *fakeFinder) Find(_ context.Context, resourceClass, resourceID string) (model.Record, error) {
	return f.records[resourceClass+"/"+resourceID], nil
}

func (f *fakeFinder) FindBatch(_ context.Context, resourceClass string, ids []string) ([]model.Record, error) {
	var out []model.Record
	for _, id := range ids {
		if rec, ok := f.records[resourceClass+"/"+id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeBackfill records genesis enqueues.
type fakeBackfill struct {
	calls []struct {
		Model string
		Topic string
		IDs   []string
	}
}

func (f *fakeBackfill) EnqueueGenesis(_ context.Context, modelName, topic string, ids []string) error {
	f.calls = append(f.calls, struct {
		Model string
		Topic string
		IDs   []string
	}{modelName, topic, ids})
	return nil
}
