package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/BookingSync/dionysus-go/internal/model"
)

// PartitionKeySpec is a topic's custom partition-key source: either a
// callable or a named attribute. Fn wins when both are set.
type PartitionKeySpec struct {
	Attribute string
	Fn        func(model.Record) any
}

// Observer declares that changes to watched attributes on one model emit a
// derived "updated" event for related records reached via the named
// association. Fetch loads those records given the changed resource's id.
type Observer struct {
	Model       string
	Attributes  []string
	Association string
	TargetModel string
	Fetch       func(ctx context.Context, resourceID string) ([]model.Record, error)
}

// Matches reports whether the changeset touches any watched attribute.
func (o Observer) Matches(modelName string, cs model.Changeset) bool {
	if o.Model != modelName {
		return false
	}
	for _, attr := range o.Attributes {
		if _, ok := cs[attr]; ok {
			return true
		}
	}
	return false
}

// Topic is the static configuration one generated class per topic used to
// carry: publishing behavior on the producer side, processing behavior on
// the consumer side.
type Topic struct {
	Name           string
	PartitionKey   *PartitionKeySpec
	GenesisReplica string
	GenesisOnly    bool
	Publishers     []string // models publishing change events here
	Dependencies   []string // models appearing only sideloaded
	Observers      []Observer
	// InlineObserverThreshold caps inline fan-out; larger fan-outs go
	// through the async genesis job. Zero means always inline.
	InlineObserverThreshold int
	Import                  bool // consumer: bulk-import mode
	Concurrency             bool // consumer: one goroutine per message
}

// ToOneRel is a serializer schema entry for a to-one relationship.
// TypeAttribute non-empty marks it polymorphic.
type ToOneRel struct {
	Name          string
	ForeignKey    string
	TypeAttribute string
}

// ToManyRel is a serializer schema entry for a to-many relationship.
type ToManyRel struct {
	Name         string
	IDsAttribute string
}

// Model is a producer-side registration: which topics a model publishes to
// and its declared serialization schema.
type Model struct {
	Name                   string
	Topics                 []string
	PrimaryKey             string
	Attributes             []string
	ToOne                  []ToOneRel
	ToMany                 []ToManyRel
	SoftDeleteColumn       string
	PublishAfterSoftDelete bool
}

// ConsumerRel names the local linkage for a sideloaded relationship: the
// child model and the foreign-key column on the child table pointing back at
// the parent.
type ConsumerRel struct {
	Model      string
	ForeignKey string
}

// ConsumerModel is the explicit field table consulted instead of runtime
// introspection: which synced attributes exist locally, how remote names map
// to them, and the soft-delete strategy.
type ConsumerModel struct {
	Name           string
	Table          string
	SyncedIDAttr   string
	Settable       map[string]bool
	Remap          map[string]string
	SoftDeleteAttr string
	// SoftDeleteViaMethod marks models whose cancellation goes through a
	// method rather than a plain attribute; implicit restoration on
	// created/updated is then skipped.
	SoftDeleteViaMethod bool
	Relationships       map[string]ConsumerRel

	// Bulk hooks used on topics flagged Import. Both receive the full
	// canonical tree; no per-record staleness comparison applies.
	BatchImport  func(ctx context.Context, records []*model.CanonicalRecord) error
	BatchDestroy func(ctx context.Context, records []*model.CanonicalRecord) error
}

// LocalFor maps a remote attribute name through Remap and the settable
// table. The second return is false for attributes the model does not
// expose; callers drop those silently.
func (m *ConsumerModel) LocalFor(remote string) (string, bool) {
	local := remote
	if mapped, ok := m.Remap[remote]; ok {
		local = mapped
	}
	return local, m.Settable[local]
}

// ErrUnknownTopic is returned for lookups of unregistered topics.
var ErrUnknownTopic = fmt.Errorf("registry: unknown topic")

// Registry holds all topic/model registrations, populated at boot and
// read-only afterwards.
type Registry struct {
	mu             sync.RWMutex
	topics         map[string]*Topic
	topicOrder     []string
	models         map[string]*Model
	consumerModels map[string]*ConsumerModel
}

func New() *Registry {
	return &Registry{
		topics:         map[string]*Topic{},
		models:         map[string]*Model{},
		consumerModels: map[string]*ConsumerModel{},
	}
}

// RegisterTopic adds a topic configuration, applying defaults.
func (r *Registry) RegisterTopic(t *Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t.Name]; !ok {
		r.topicOrder = append(r.topicOrder, t.Name)
	}
	r.topics[t.Name] = t
}

// RegisterModel adds a producer-side model registration, applying defaults.
func (r *Registry) RegisterModel(m *Model) {
	if m.PrimaryKey == "" {
		m.PrimaryKey = "id"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// RegisterConsumerModel adds a consumer-side field table, applying defaults.
func (r *Registry) RegisterConsumerModel(m *ConsumerModel) {
	if m.SyncedIDAttr == "" {
		m.SyncedIDAttr = model.AttrSyncedID
	}
	if m.Settable == nil {
		m.Settable = map[string]bool{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumerModels[m.Name] = m
}

// Topic returns the registration for a topic name.
func (r *Registry) Topic(name string) (*Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return t, nil
}

// Topics lists registered topics in registration order.
func (r *Registry) Topics() []*Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Topic, 0, len(r.topicOrder))
	for _, name := range r.topicOrder {
		out = append(out, r.topics[name])
	}
	return out
}

// Model returns the producer registration for a model name, nil if absent.
func (r *Registry) Model(name string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// ForModel is the consumer-side model factory: nil when the model is not
// registered locally.
func (r *Registry) ForModel(name string) *ConsumerModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumerModels[name]
}

// TopicsFor lists every topic the model must publish to, appending the
// reserved observer topic when any observer watches the model.
func (r *Registry) TopicsFor(modelName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	m := r.models[modelName]
	if m != nil {
		out = append(out, m.Topics...)
	}
	for _, name := range r.topicOrder {
		for _, o := range r.topics[name].Observers {
			if o.Model == modelName {
				return append(out, model.ObserverTopic)
			}
		}
	}
	return out
}

// FirstMatchingObserver returns the first registered observer on the topic
// whose watched attributes intersect the changeset. Registration order wins
// when several match.
func (t *Topic) FirstMatchingObserver(modelName string, cs model.Changeset) (Observer, bool) {
	for _, o := range t.Observers {
		if o.Matches(modelName, cs) {
			return o, true
		}
	}
	return Observer{}, false
}

// ValidateGenesis enforces that genesis backfills are only requested for
// models registered as publishers on the topic. A model present only as a
// sideloaded dependency would produce an empty or partial backfill, so this
// fails fast instead.
func (r *Registry) ValidateGenesis(modelName, topicName string) error {
	t, err := r.Topic(topicName)
	if err != nil {
		return err
	}
	for _, p := range t.Publishers {
		if p == modelName {
			return nil
		}
	}
	for _, d := range t.Dependencies {
		if d == modelName {
			return fmt.Errorf(
				"registry: %s is registered on %s only as a dependency; genesis would not replicate it",
				modelName, topicName,
			)
		}
	}
	return fmt.Errorf("registry: %s is not registered on %s", modelName, topicName)
}
