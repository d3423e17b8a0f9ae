package producer

import (
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// PartitionKeyResolver computes a stable routing key for a record on a
// topic. Default is the process-wide attribute name consulted when a topic
// declares no spec of its own.
type PartitionKeyResolver struct {
	Default string
}

// Resolve returns the routing key, or nil when none applies; unresolvable
// keys are not errors, the message just goes out unpartitioned.
func (r *PartitionKeyResolver) Resolve(topic *registry.Topic, rec model.Record) *string {
	if topic != nil && topic.PartitionKey != nil {
		return resolveSpec(topic.PartitionKey, rec)
	}
	if r.Default == "" {
		return nil
	}
	return resolveSpec(&registry.PartitionKeySpec{Attribute: r.Default}, rec)
}

func resolveSpec(spec *registry.PartitionKeySpec, rec model.Record) *string {
	if spec.Fn != nil {
		v := spec.Fn(rec)
		if v == nil {
			return nil
		}
		s := model.Stringify(v)
		return &s
	}
	v, ok := rec.Attribute(spec.Attribute)
	if !ok || v == nil {
		return nil
	}
	// integer truncation first, then string, matching how float-ish ids
	// arrive from loosely typed stores
	s := model.Stringify(v)
	return &s
}
