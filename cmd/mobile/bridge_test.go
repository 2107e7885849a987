package main

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func decode(t *testing.T, s string) testResponse {
	t.Helper()
	var r testResponse
	require.NoError(t, json.Unmarshal([]byte(s), &r), s)
	return r
}

func startCore(t *testing.T) {
	t.Helper()
	cfg := fmt.Sprintf(`{"data_dir": %q, "logging": {"level": "error"}, "sync": {"retry_interval": "1s", "max_backoff": "1m"}}`, t.TempDir())
	r := decode(t, initCore(cfg))
	require.True(t, r.OK, "init failed: %+v", r.Error)
	t.Cleanup(closeCore)
}

func TestCall_NotInitialized(t *testing.T) {
	r := decode(t, call("itineraries.list", ""))
	assert.False(t, r.OK)
	assert.Equal(t, "INTERNAL_ERROR", r.Error.Code)
}

func TestInitCore_Twice(t *testing.T) {
	startCore(t)

	r := decode(t, initCore(""))
	assert.False(t, r.OK)
}

func TestInitCore_InvalidConfig(t *testing.T) {
	r := decode(t, initCore(`{"sync": {"batch_size": 0}}`))
	assert.False(t, r.OK)
	assert.Equal(t, "CONFIG_INVALID", r.Error.Code)

	r = decode(t, initCore(`{not json`))
	assert.False(t, r.OK)
}

func TestCall_ItineraryFlow(t *testing.T) {
	startCore(t)

	r := decode(t, call("itineraries.create", `{"name": "Lisbon", "created_by": "sam"}`))
	require.True(t, r.OK, "%+v", r.Error)
	var it struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &it))
	assert.Equal(t, "Lisbon", it.Name)

	r = decode(t, call("itineraries.set_visibility", fmt.Sprintf(`{"id": %q, "public": true}`, it.ID)))
	require.True(t, r.OK)

	r = decode(t, call("itineraries.auto_sort", fmt.Sprintf(`{"itinerary_id": %q, "enable": true}`, it.ID)))
	assert.False(t, r.OK)
	assert.Equal(t, "ITINERARY_PUBLIC", r.Error.Code)
	assert.True(t, r.Error.Policy)

	r = decode(t, call("itineraries.details", fmt.Sprintf(`{"id": %q}`, it.ID)))
	require.True(t, r.OK)
	var details struct {
		IsPublic bool              `json:"is_public"`
		Links    []json.RawMessage `json:"links"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &details))
	assert.True(t, details.IsPublic)
	assert.Empty(t, details.Links)

	r = decode(t, call("links.add", fmt.Sprintf(`{"itinerary_id": %q, "attraction_id": "nope"}`, it.ID)))
	assert.False(t, r.OK)
	assert.Equal(t, "NOT_FOUND", r.Error.Code)
	assert.False(t, r.Error.Policy)

	r = decode(t, call("sync.drain", ""))
	assert.False(t, r.OK)
	assert.Equal(t, "SYNC_NOT_CONFIGURED", r.Error.Code)

	r = decode(t, call("sync.status", ""))
	require.True(t, r.OK)
	var status struct {
		Queue struct {
			Pending int `json:"pending"`
		} `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &status))
	assert.Equal(t, 2, status.Queue.Pending)

	r = decode(t, call("db.reset", ""))
	require.True(t, r.OK, "%+v", r.Error)

	r = decode(t, call("itineraries.list", ""))
	require.True(t, r.OK)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(r.Data, &list))
	assert.Empty(t, list)
}

func TestCall_BadInput(t *testing.T) {
	startCore(t)

	r := decode(t, call("no.such.method", ""))
	assert.False(t, r.OK)
	assert.Equal(t, "VALIDATION_ERROR", r.Error.Code)

	r = decode(t, call("reviews.add", `{"rating": "five"}`))
	assert.False(t, r.OK)
	assert.Equal(t, "VALIDATION_ERROR", r.Error.Code)

	r = decode(t, call("reviews.add", `{"attraction_id": "a1", "rating": 9}`))
	assert.False(t, r.OK)
	assert.Equal(t, "VALIDATION_ERROR", r.Error.Code)
}

func TestDescribe(t *testing.T) {
	r := decode(t, describe())
	require.True(t, r.OK)
	var d struct {
		Version string   `json:"version"`
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &d))
	assert.Equal(t, Version, d.Version)
	assert.Contains(t, d.Methods, "links.add")
	assert.IsNonDecreasing(t, d.Methods)
}
