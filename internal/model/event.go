package model

import "strings"

// EventKind classifies an event name by its suffix.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDestroyed EventKind = "destroyed"
	EventUnknown   EventKind = ""
)

// KindOf extracts the kind from an event name like "rental_created".
// Names without a recognized suffix map to EventUnknown.
func KindOf(eventName string) EventKind {
	switch {
	case strings.HasSuffix(eventName, "_created"):
		return EventCreated
	case strings.HasSuffix(eventName, "_updated"):
		return EventUpdated
	case strings.HasSuffix(eventName, "_destroyed"):
		return EventDestroyed
	}
	return EventUnknown
}

// EventNameFor builds "{resource}_{kind}" from a model name, e.g.
// ("Rental", EventCreated) -> "rental_created".
func EventNameFor(modelName string, kind EventKind) string {
	return Underscore(modelName) + "_" + string(kind)
}

// ChangeKey identifies one record within an event's local changes.
type ChangeKey struct {
	ModelName string
	SyncedID  string
}

// FieldDiff maps a changed field to its [old, new] pair.
type FieldDiff map[string][2]any

// Event is one logical change event flowing through the consumer pipeline.
// LocalChanges is filled in by the persistor as records are reconciled;
// AggregateRoot is false for events synthesized while recursing into
// relationships.
type Event struct {
	EventName       string
	ModelName       string
	TransformedData []*CanonicalRecord
	LocalChanges    map[ChangeKey]FieldDiff
	AggregateRoot   bool
}

// NewEvent builds an aggregate-root event with an empty change map.
func NewEvent(eventName, modelName string, data []*CanonicalRecord) *Event {
	return &Event{
		EventName:       eventName,
		ModelName:       modelName,
		TransformedData: data,
		LocalChanges:    map[ChangeKey]FieldDiff{},
		AggregateRoot:   true,
	}
}

// Kind returns the event's kind per KindOf.
func (e *Event) Kind() EventKind { return KindOf(e.EventName) }

// RecordChanges stores a record's diff, dropping empty diffs.
func (e *Event) RecordChanges(modelName, syncedID string, diff FieldDiff) {
	if len(diff) == 0 {
		return
	}
	e.LocalChanges[ChangeKey{ModelName: modelName, SyncedID: syncedID}] = diff
}
