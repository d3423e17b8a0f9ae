package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BookingSync/dionysus-go/internal/model"
)

func TestDeserializeReservedKeysRemap(t *testing.T) {
	recs := Deserialize([]map[string]any{{
		"id":          float64(5),
		"created_at":  "2024-01-01T00:00:00Z",
		"updated_at":  "2024-06-01T00:00:00Z",
		"canceled_at": nil,
		"name":        "Villa",
	}})
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, float64(5), rec.SyncedID())
	assert.Equal(t, "2024-01-01T00:00:00Z", rec.Attributes[model.AttrSyncedCreatedAt])
	assert.Equal(t, "2024-06-01T00:00:00Z", rec.Attributes[model.AttrSyncedUpdatedAt])
	assert.True(t, rec.HasAttribute(model.AttrSyncedCanceledAt))
	assert.Nil(t, rec.Attributes[model.AttrSyncedCanceledAt])
	assert.Equal(t, "Villa", rec.Attributes["name"])

	// reserved names never leak through under their wire spelling
	assert.NotContains(t, rec.Attributes, "id")
	assert.NotContains(t, rec.Attributes, "created_at")
}

func TestDeserializeAbsentReservedKeysStayAbsent(t *testing.T) {
	rec := Deserialize([]map[string]any{{"id": 1, "name": "x"}})[0]
	assert.False(t, rec.HasAttribute(model.AttrSyncedCanceledAt))
	assert.False(t, rec.HasAttribute(model.AttrSyncedUpdatedAt))
}

func TestDeserializeLinksBecomeForeignKeys(t *testing.T) {
	rec := Deserialize([]map[string]any{{
		"id": 1,
		"links": map[string]any{
			"account":  float64(9),
			"owner":    map[string]any{"type": "Property", "id": float64(123)},
			"bookings": []any{float64(1), float64(2)},
			"category": nil,
		},
	}})[0]

	assert.Equal(t, float64(9), rec.Attributes["synced_account_id"])
	assert.Equal(t, float64(123), rec.Attributes["synced_owner_id"])
	assert.Equal(t, "Property", rec.Attributes["synced_owner_type"])
	assert.Equal(t, []any{float64(1), float64(2)}, rec.Attributes["synced_booking_ids"])
	// explicit null link still materializes the fk attribute
	assert.True(t, rec.HasAttribute("synced_category_id"))
	assert.Nil(t, rec.Attributes["synced_category_id"])
}

func TestDeserializeSideloadedToMany(t *testing.T) {
	rec := Deserialize([]map[string]any{{
		"id":    1,
		"links": map[string]any{"bookings": []any{float64(2)}},
		"bookings": []any{
			map[string]any{"id": float64(2), "start_at": "2024-06-01"},
		},
	}})[0]

	require.Len(t, rec.HasMany, 1)
	branch := rec.HasMany[0]
	assert.Equal(t, "bookings", branch.Name)
	assert.Equal(t, "bookings", branch.ModelName)
	require.Len(t, branch.Records, 1)
	assert.Equal(t, float64(2), branch.Records[0].SyncedID())
	assert.Equal(t, "2024-06-01", branch.Records[0].Attributes["start_at"])

	// the body is a relationship, not an attribute
	assert.NotContains(t, rec.Attributes, "bookings")
}

func TestDeserializePolymorphicSideloadUsesType(t *testing.T) {
	rec := Deserialize([]map[string]any{{
		"id":    1,
		"links": map[string]any{"owner": map[string]any{"type": "Property", "id": float64(3)}},
		"owner": map[string]any{"id": float64(3), "name": "Main"},
	}})[0]

	require.Len(t, rec.HasOne, 1)
	branch := rec.HasOne[0]
	assert.Equal(t, "owner", branch.Name)
	assert.Equal(t, "Property", branch.ModelName)
	require.Len(t, branch.Records, 1)
}

func TestDeserializeEmptySideloadVsNil(t *testing.T) {
	rec := Deserialize([]map[string]any{{
		"id":       1,
		"links":    map[string]any{"bookings": []any{}, "photos": []any{float64(7)}},
		"bookings": []any{},
	}})[0]

	require.Len(t, rec.HasMany, 1)
	assert.Equal(t, "bookings", rec.HasMany[0].Name)
	assert.NotNil(t, rec.HasMany[0].Records)
	assert.Empty(t, rec.HasMany[0].Records)
	// photos has a link but no sideloaded body: no branch at all
	for _, branch := range rec.HasMany {
		assert.NotEqual(t, "photos", branch.Name)
	}
}

func TestDeserializeNestedRecursion(t *testing.T) {
	rec := Deserialize([]map[string]any{{
		"id":    1,
		"links": map[string]any{"bookings": []any{float64(2)}},
		"bookings": []any{
			map[string]any{
				"id":    float64(2),
				"links": map[string]any{"fees": []any{float64(5)}},
				"fees": []any{
					map[string]any{"id": float64(5), "amount": float64(100)},
				},
			},
		},
	}})[0]

	require.Len(t, rec.HasMany, 1)
	booking := rec.HasMany[0].Records[0]
	require.Len(t, booking.HasMany, 1)
	fee := booking.HasMany[0].Records[0]
	assert.Equal(t, float64(5), fee.SyncedID())
	assert.Equal(t, float64(100), fee.Attributes["amount"])
}

func TestDeserializeNilPayload(t *testing.T) {
	assert.Empty(t, Deserialize(nil))
	assert.Empty(t, Deserialize([]map[string]any{nil}))
}
