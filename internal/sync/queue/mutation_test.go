package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tourly/backend/internal/models"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
		typ  string
	}{
		{"review", ReviewCreated{Review: models.Review{ID: "r1", AttractionID: "a1", Rating: 4}}, "review"},
		{"itinerary create", ItineraryCreated{Itinerary: models.Itinerary{ID: "i1", Name: "Trip"}}, "itinerary_create"},
		{"itinerary update", ItineraryUpdated{Itinerary: models.Itinerary{ID: "i1", IsPublic: true}}, "itinerary_update"},
		{"itinerary delete", ItineraryDeleted{ID: "i1"}, "itinerary_delete"},
		{"link", LinkUpserted{ItineraryLink: models.ItineraryLink{ID: "l1"}}, "attraction_link"},
		{"unlink", LinkRemoved{ID: "l1", ItineraryID: "i1", AttractionID: "a1"}, "attraction_unlink"},
		{"reorder", ItineraryReordered{ItineraryID: "i1", Positions: []models.LinkPosition{{LinkID: "l1", SortOrder: 0}}}, "itinerary_reorder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, payload, err := Encode(tt.m)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, typ)

			got, err := Decode(typ, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.m, got)
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	raw := json.RawMessage(`{"x":1}`)
	m, err := Decode("photo_upload", raw)
	require.NoError(t, err)

	u, ok := m.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Kind("photo_upload"), u.Kind())
	assert.JSONEq(t, `{"x":1}`, string(u.Raw))

	typ, payload, err := Encode(u)
	require.NoError(t, err)
	assert.Equal(t, "photo_upload", typ)
	assert.JSONEq(t, `{"x":1}`, string(payload))
}

func TestDecode_MalformedKnownKind(t *testing.T) {
	_, err := Decode("review", []byte(`{"rating":"five"}`))
	assert.Error(t, err)
}

func TestEncode_FlattensEmbeddedRow(t *testing.T) {
	_, payload, err := Encode(ReviewCreated{Review: models.Review{ID: "r1", AttractionID: "a1", Rating: 5}})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.Equal(t, "r1", fields["id"])
	assert.Equal(t, "a1", fields["attraction_id"])
}
