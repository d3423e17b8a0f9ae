package consumer

import (
	"context"
	"sync"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// ModelStore is the local persistence surface the persistor reconciles
// against. Linkage goes through synced ids on both sides so child rows can
// be wired up after they exist (two-phase: persist children, then resolve).
type ModelStore interface {
	// FindOrInit loads the record with the given synced id, or initializes
	// a fresh one carrying it. The bool reports whether it was found.
	FindOrInit(ctx context.Context, cm *registry.ConsumerModel, syncedID any) (*LocalRecord, bool, error)
	Save(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error
	Destroy(ctx context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error
	// ResolveAssociation points the child rows identified by childSyncedIDs
	// at the parent via the relationship's foreign key.
	ResolveAssociation(ctx context.Context, parentModel *registry.ConsumerModel, parent *LocalRecord, rel registry.ConsumerRel, childModel *registry.ConsumerModel, childSyncedIDs []any) error
}

// MemoryStore is a map-backed ModelStore for tests and in-process setups.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]any // model -> synced id -> attrs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string]map[string]map[string]any{}}
}

func (s *MemoryStore) table(name string) map[string]map[string]any {
	t, ok := s.tables[name]
	if !ok {
		t = map[string]map[string]any{}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) FindOrInit(_ context.Context, cm *registry.ConsumerModel, syncedID any) (*LocalRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.Stringify(syncedID)
	if attrs, ok := s.table(cm.Name)[key]; ok {
		copied := make(map[string]any, len(attrs))
		for k, v := range attrs {
			copied[k] = v
		}
		return NewLocalRecord(copied, false), true, nil
	}
	rec := NewLocalRecord(map[string]any{cm.SyncedIDAttr: syncedID}, true)
	return rec, false, nil
}

func (s *MemoryStore) Save(_ context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := rec.Get(cm.SyncedIDAttr)
	s.table(cm.Name)[model.Stringify(id)] = rec.Attributes()
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, cm *registry.ConsumerModel, rec *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := rec.Get(cm.SyncedIDAttr)
	delete(s.table(cm.Name), model.Stringify(id))
	return nil
}

func (s *MemoryStore) ResolveAssociation(_ context.Context, parentModel *registry.ConsumerModel, parent *LocalRecord, rel registry.ConsumerRel, childModel *registry.ConsumerModel, childSyncedIDs []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentID, _ := parent.Get(parentModel.SyncedIDAttr)
	table := s.table(childModel.Name)
	for _, childID := range childSyncedIDs {
		if attrs, ok := table[model.Stringify(childID)]; ok {
			attrs[rel.ForeignKey] = parentID
		}
	}
	return nil
}

// Count reports how many records a model holds; test helper.
func (s *MemoryStore) Count(modelName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[modelName])
}
