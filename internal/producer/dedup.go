package producer

import (
	"github.com/BookingSync/dionysus-go/internal/dedup"
	"github.com/BookingSync/dionysus-go/internal/model"
)

// splitConsecutiveDuplicates partitions a fetched batch into the entries to
// publish and the back-to-back duplicates they supersede.
func splitConsecutiveDuplicates(entries []*model.OutboxEntry) (kept, collapsed []*model.OutboxEntry) {
	kept = dedup.Consecutive(entries, func(e *model.OutboxEntry) (dedup.Key, bool) {
		return dedup.Key{ResourceClass: e.ResourceClass, ResourceID: e.ResourceID, Topic: e.Topic}, true
	})
	keptSet := make(map[*model.OutboxEntry]struct{}, len(kept))
	for _, e := range kept {
		keptSet[e] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := keptSet[e]; !ok {
			collapsed = append(collapsed, e)
		}
	}
	return kept, collapsed
}
