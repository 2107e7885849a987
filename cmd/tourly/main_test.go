// Package main tests for the tourly command.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tourly/backend/internal/config"
	"github.com/kimhsiao/tourly/backend/internal/core"
	"github.com/kimhsiao/tourly/backend/internal/itinerary"
)

// execute runs the root command with args against a temp data dir.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func useTempStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TOURLY_DATA_DIR", dir)
	t.Setenv("TOURLY_REMOTE_URL", "")
	t.Setenv("TOURLY_LOG_LEVEL", "error")
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tourly v"+Version+"\n", out)
}

func TestInitAndStatus(t *testing.T) {
	dir := useTempStore(t)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "schema v4")
	assert.Contains(t, out, dir)

	out, err = execute(t, "status", "--json")
	require.NoError(t, err)
	var status core.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 4, status.SchemaVersion)
	assert.False(t, status.SyncEnabled)
	assert.Zero(t, status.Queue.Total)

	out, err = execute(t, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "total 0 (pending 0, retry 0, failed 0)\n", out)

	out, err = execute(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")

	_, err = execute(t, "queue", "list", "--status", "done")
	assert.Error(t, err)
}

func TestDrainRequiresRemote(t *testing.T) {
	useTempStore(t)

	_, err := execute(t, "drain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no remote configured")
}

func TestItineraryCommands(t *testing.T) {
	dir := useTempStore(t)
	ctx := context.Background()

	// Seed through the core the commands open.
	cfg := config.Default()
	cfg.DataDir = dir
	c := core.New(cfg, nil, nil)
	require.NoError(t, c.InitDatabase(ctx))
	it, err := c.Itineraries().Create(ctx, itinerary.ItineraryInput{Name: "Old Town"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	out, err := execute(t, "itinerary", "show", it.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Old Town (private, auto-sort off)")

	out, err = execute(t, "itinerary", "autosort", it.ID, "on")
	require.NoError(t, err)
	assert.Equal(t, "auto-sort on\n", out)

	_, err = execute(t, "itinerary", "autosort", it.ID, "maybe")
	assert.Error(t, err)

	_, err = execute(t, "itinerary", "show", "missing")
	assert.Error(t, err)

	// Not a permutation of the (empty) link set.
	_, err = execute(t, "itinerary", "reorder", it.ID, "no-such-link")
	assert.Error(t, err)

	out, err = execute(t, "queue", "list")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "itinerary_create") && strings.Contains(out, "itinerary_reorder"), out)
}

func TestResetCommand(t *testing.T) {
	dir := useTempStore(t)
	ctx := context.Background()

	cfg := config.Default()
	cfg.DataDir = dir
	c := core.New(cfg, nil, nil)
	require.NoError(t, c.InitDatabase(ctx))
	_, err := c.Itineraries().Create(ctx, itinerary.ItineraryInput{Name: "Scratch"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = execute(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := execute(t, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "total 1 (pending 1, retry 0, failed 0)\n", out, "unconfirmed reset keeps data")

	out, err = execute(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "store reset: 5 migrations applied\n", out)

	out, err = execute(t, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "total 0 (pending 0, retry 0, failed 0)\n", out)
}
