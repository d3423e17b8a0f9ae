package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Reserved payload keys remapped to synced_* attributes on deserialization.
const (
	AttrSyncedID         = "synced_id"
	AttrSyncedCreatedAt  = "synced_created_at"
	AttrSyncedUpdatedAt  = "synced_updated_at"
	AttrSyncedCanceledAt = "synced_canceled_at"
)

// CanonicalRecord is the consumer-side tree node produced by the
// deserializer: flat attributes plus ordered relationship branches. It is
// ephemeral, owned by one deserialize->persist pass.
type CanonicalRecord struct {
	Attributes map[string]any
	HasMany    []Relationship
	HasOne     []Relationship
}

// Relationship is one named branch of a canonical record. For has_one the
// Records slice holds at most one element; a nil/empty slice means the
// relationship was sideloaded as explicitly empty.
type Relationship struct {
	Name      string
	ModelName string
	Records   []*CanonicalRecord
}

// NewCanonicalRecord builds an empty node.
func NewCanonicalRecord() *CanonicalRecord {
	return &CanonicalRecord{Attributes: map[string]any{}}
}

// SyncedID returns the record's synced id attribute, nil when absent.
func (r *CanonicalRecord) SyncedID() any { return r.Attributes[AttrSyncedID] }

// HasAttribute reports whether the key was present in the source payload.
func (r *CanonicalRecord) HasAttribute(name string) bool {
	_, ok := r.Attributes[name]
	return ok
}

// EventTimestamp is the ordering timestamp of the record: synced_updated_at
// when present, else synced_created_at, else nil.
func (r *CanonicalRecord) EventTimestamp() *time.Time {
	if v, ok := r.Attributes[AttrSyncedUpdatedAt]; ok {
		if t := ParseTime(v); t != nil {
			return t
		}
	}
	if v, ok := r.Attributes[AttrSyncedCreatedAt]; ok {
		return ParseTime(v)
	}
	return nil
}

// ParseTime coerces a wire timestamp value to *time.Time. Accepts time.Time,
// RFC3339(Nano) strings, and the space-separated SQL form. Anything else is
// treated as unparseable and returns nil.
func ParseTime(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// Stringify renders an id-ish value the way it is used in map keys and
// partition keys: floats collapse to integers, nil to "".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%d", int64(t))
	case float32:
		return fmt.Sprintf("%d", int64(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Underscore converts CamelCase model names to snake_case resource names.
func Underscore(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
