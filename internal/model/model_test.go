package model

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, EventCreated, KindOf("rental_created"))
	assert.Equal(t, EventUpdated, KindOf("booking_updated"))
	assert.Equal(t, EventDestroyed, KindOf("rental_destroyed"))
	assert.Equal(t, EventUnknown, KindOf("rental_renamed"))
	assert.Equal(t, EventUnknown, KindOf(""))
}

func TestEventNameFor(t *testing.T) {
	assert.Equal(t, "rental_created", EventNameFor("Rental", EventCreated))
	assert.Equal(t, "booking_fee_destroyed", EventNameFor("BookingFee", EventDestroyed))
}

func TestUnderscore(t *testing.T) {
	assert.Equal(t, "rental", Underscore("Rental"))
	assert.Equal(t, "booking_fee", Underscore("BookingFee"))
	assert.Equal(t, "already_snake", Underscore("already_snake"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify("42"))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "42", Stringify(42))
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	require.NotNil(t, ParseTime(now))
	assert.True(t, ParseTime(now).Equal(now))

	parsed := ParseTime("2024-05-01T10:30:00Z")
	require.NotNil(t, parsed)
	assert.True(t, parsed.Equal(now))

	parsed = ParseTime("2024-05-01 10:30:00")
	require.NotNil(t, parsed)
	assert.True(t, parsed.Equal(now))

	assert.Nil(t, ParseTime(nil))
	assert.Nil(t, ParseTime("not a time"))
	assert.Nil(t, ParseTime(12345))
}

func TestOutboxEntryPublishable(t *testing.T) {
	now := time.Now().UTC()

	fresh := &OutboxEntry{CreatedAt: now.Add(-time.Minute)}
	assert.True(t, fresh.Publishable(now, 0))

	published := &OutboxEntry{
		CreatedAt:   now.Add(-time.Minute),
		PublishedAt: sql.NullTime{Valid: true, Time: now},
	}
	assert.False(t, published.Publishable(now, 0))

	retryLater := &OutboxEntry{
		CreatedAt: now.Add(-time.Minute),
		RetryAt:   sql.NullTime{Valid: true, Time: now.Add(time.Minute)},
	}
	assert.False(t, retryLater.Publishable(now, 0))

	retryDue := &OutboxEntry{
		CreatedAt: now.Add(-time.Minute),
		RetryAt:   sql.NullTime{Valid: true, Time: now.Add(-time.Second)},
	}
	assert.True(t, retryDue.Publishable(now, 0))

	// publishing delay shifts the retry comparison back
	assert.False(t, retryDue.Publishable(now, time.Minute))

	future := &OutboxEntry{CreatedAt: now.Add(time.Minute)}
	assert.False(t, future.Publishable(now, 0))
}

func TestDecodeChangeset(t *testing.T) {
	empty := &OutboxEntry{}
	cs, err := empty.DecodeChangeset()
	require.NoError(t, err)
	assert.Empty(t, cs)

	entry := &OutboxEntry{Changeset: []byte(`{"name":["old","new"]}`)}
	cs, err = entry.DecodeChangeset()
	require.NoError(t, err)
	assert.Equal(t, [2]any{"old", "new"}, cs["name"])

	broken := &OutboxEntry{Changeset: []byte(`{`)}
	_, err = broken.DecodeChangeset()
	assert.Error(t, err)
}

func TestEventTimestampPrefersUpdatedAt(t *testing.T) {
	rec := NewCanonicalRecord()
	rec.Attributes[AttrSyncedCreatedAt] = "2024-01-01T00:00:00Z"
	rec.Attributes[AttrSyncedUpdatedAt] = "2024-06-01T00:00:00Z"

	ts := rec.EventTimestamp()
	require.NotNil(t, ts)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, time.June, ts.Month())

	delete(rec.Attributes, AttrSyncedUpdatedAt)
	ts = rec.EventTimestamp()
	require.NotNil(t, ts)
	assert.Equal(t, time.January, ts.Month())

	assert.Nil(t, NewCanonicalRecord().EventTimestamp())
}

func TestRecordChangesDropsEmptyDiffs(t *testing.T) {
	ev := NewEvent("rental_updated", "Rental", nil)
	ev.RecordChanges("Rental", "1", FieldDiff{})
	assert.Empty(t, ev.LocalChanges)

	ev.RecordChanges("Rental", "1", FieldDiff{"name": {"a", "b"}})
	assert.Len(t, ev.LocalChanges, 1)
}
