package consumer

import (
	"reflect"
	"time"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// LocalRecord is an explicit wrapper over a local row's attributes plus
// change tracking. No method forwarding: stores hand these out and take
// them back.
type LocalRecord struct {
	attrs   map[string]any
	changes model.FieldDiff
	isNew   bool
}

// NewLocalRecord wraps existing attributes; isNew marks records initialized
// rather than loaded.
func NewLocalRecord(attrs map[string]any, isNew bool) *LocalRecord {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &LocalRecord{attrs: attrs, changes: model.FieldDiff{}, isNew: isNew}
}

func (r *LocalRecord) IsNew() bool { return r.isNew }

// Get returns an attribute and whether it is present.
func (r *LocalRecord) Get(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// Set assigns an attribute, tracking the first-seen old value so replays
// that end where they started report no change.
func (r *LocalRecord) Set(name string, v any) {
	old := r.attrs[name]
	if attrEqual(old, v) {
		return
	}
	if prev, tracked := r.changes[name]; tracked {
		if attrEqual(prev[0], v) {
			delete(r.changes, name)
		} else {
			r.changes[name] = [2]any{prev[0], v}
		}
	} else {
		r.changes[name] = [2]any{old, v}
	}
	r.attrs[name] = v
}

// Changes returns the accumulated diff since the last ClearChanges.
func (r *LocalRecord) Changes() model.FieldDiff {
	out := model.FieldDiff{}
	for k, v := range r.changes {
		out[k] = v
	}
	return out
}

func (r *LocalRecord) ClearChanges() {
	r.changes = model.FieldDiff{}
	r.isNew = false
}

// Attributes exposes a copy of the underlying attributes for stores.
func (r *LocalRecord) Attributes() map[string]any {
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// SyncedAt is the record's reconciliation watermark: synced_updated_at when
// the model declares that attribute, else synced_created_at.
func (r *LocalRecord) SyncedAt(cm *registry.ConsumerModel) *time.Time {
	attr := model.AttrSyncedCreatedAt
	if cm.Settable[model.AttrSyncedUpdatedAt] {
		attr = model.AttrSyncedUpdatedAt
	}
	if v, ok := r.attrs[attr]; ok {
		return model.ParseTime(v)
	}
	return nil
}

// attrEqual compares attribute values loosely enough to survive the
// float64-vs-int skew between JSON payloads and local stores.
func attrEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	if ta := model.ParseTime(a); ta != nil {
		if tb := model.ParseTime(b); tb != nil {
			return ta.Equal(*tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
