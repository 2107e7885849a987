package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kimhsiao/tourly/backend/internal/config"
	"github.com/kimhsiao/tourly/backend/internal/core"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/sync/netstate"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("tourly.yaml"); err == nil {
			path = "tourly.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logging.SetDefault(logging.NewWithOptions(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}))
	return cfg, nil
}

// openLocal opens the store without a remote, so nothing is pushed in the
// background.
func openLocal(ctx context.Context) (*core.Core, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	c := core.New(cfg, nil, nil)
	if err := c.InitDatabase(ctx); err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return c, cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// =====================================================
// Store Commands
// =====================================================

func runInit(w io.Writer) error {
	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "store: %s (schema v%d)\n", status.DatabasePath, status.SchemaVersion)
	if m := status.Migrations; m != nil {
		fmt.Fprintf(w, "migrations: %d applied, %d skipped\n", len(m.Applied), len(m.Skipped))
		for _, name := range m.Drifted {
			fmt.Fprintf(w, "warning: migration %s changed after it was applied\n", name)
		}
	}
	return nil
}

func runReset(w io.Writer, yes bool) error {
	if !yes {
		return fmt.Errorf("reset discards all local data and queued changes; pass --yes to confirm")
	}

	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.ResetDatabase(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "store reset: %d migrations applied\n", len(report.Applied))
	return nil
}

func runStatus(w io.Writer, jsonOutput bool) error {
	ctx := context.Background()
	c, cfg, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	status.SyncEnabled = cfg.Remote.Enabled()
	if jsonOutput {
		return printJSON(w, status)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Store\t%s\n", status.DatabasePath)
	fmt.Fprintf(tw, "Schema version\t%d\n", status.SchemaVersion)
	fmt.Fprintf(tw, "Remote\t%s\n", remoteLabel(cfg))
	fmt.Fprintf(tw, "Queue pending\t%d\n", status.Queue.Pending)
	fmt.Fprintf(tw, "Queue retry\t%d\n", status.Queue.Retry)
	fmt.Fprintf(tw, "Queue failed\t%d\n", status.Queue.Failed)
	return tw.Flush()
}

func remoteLabel(cfg *config.Config) string {
	if !cfg.Remote.Enabled() {
		return "not configured"
	}
	return cfg.Remote.BaseURL
}

// =====================================================
// Sync Commands
// =====================================================

func runDrain(w io.Writer, all bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Remote.Enabled() {
		return fmt.Errorf("no remote configured (set remote.base_url or TOURLY_REMOTE_URL)")
	}

	ctx := context.Background()
	// Offline monitor: the background scheduler stays idle and this command
	// owns the drain.
	c := core.New(cfg, core.RemoteFromConfig(cfg.Remote), netstate.NewMonitor(false))
	if err := c.InitDatabase(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer c.Close()

	for {
		result, err := c.DrainNow(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "synced %d, retried %d, failed %d\n", result.Synced, result.Retried, result.Failed)
		if !all || !result.More || result.Retried > 0 || result.Errors > 0 {
			return nil
		}
	}
}

func runDaemon(stateFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Remote.Enabled() {
		return fmt.Errorf("no remote configured (set remote.base_url or TOURLY_REMOTE_URL)")
	}
	if stateFile == "" {
		stateFile = cfg.Network.StateFile
	}

	monitor := netstate.NewMonitor(cfg.Network.AssumeOnline)
	if stateFile != "" {
		watcher, err := netstate.NewFileWatcher(stateFile, monitor)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := core.New(cfg, core.RemoteFromConfig(cfg.Remote), monitor)
	if err := c.InitDatabase(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer c.Close()

	logging.Info("Sync daemon running", map[string]interface{}{
		"remote":     cfg.Remote.BaseURL,
		"state_file": stateFile,
		"online":     monitor.Online(),
	})
	fmt.Fprintf(os.Stderr, "tourly: syncing to %s, press Ctrl+C to stop\n", cfg.Remote.BaseURL)

	<-ctx.Done()
	logging.Info("Sync daemon stopping", nil)
	return nil
}

// =====================================================
// Queue Commands
// =====================================================

func runQueueList(w io.Writer, status string, limit int, jsonOutput bool) error {
	switch queue.Status(status) {
	case "", queue.StatusPending, queue.StatusRetry, queue.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Queue().List(ctx, queue.Status(status), limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tRETRIES\tCREATED\tLAST ERROR")
	for _, e := range entries {
		lastErr := ""
		if e.LastError != nil {
			lastErr = truncate(*e.LastError, 60)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Type, e.Status, queue.Priority(e.Priority), e.RetryCount, formatMillis(e.CreatedAt), lastErr)
	}
	return tw.Flush()
}

func runQueueStats(w io.Writer) error {
	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Queue().Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "total %d (pending %d, retry %d, failed %d)\n",
		stats.Total, stats.Pending, stats.Retry, stats.Failed)
	return nil
}

func runQueueRetryFailed(w io.Writer) error {
	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Queue().RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d failed entries returned to pending\n", n)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// =====================================================
// Itinerary Commands
// =====================================================

func runItineraryShow(w io.Writer, id string, jsonOutput bool) error {
	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	details, err := c.Itineraries().Details(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, details)
	}

	visibility := "private"
	if details.IsPublic {
		visibility = "public"
	}
	fmt.Fprintf(w, "%s (%s, auto-sort %s)\n", details.Name, visibility, onOff(details.AutoSort))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLINK\tATTRACTION\tSTART\tEND\tPRICE")
	for _, l := range details.Links {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.2f\n",
			l.SortOrder, l.ID, l.AttractionName, deref(l.StartTime), deref(l.EndTime), l.Price)
	}
	return tw.Flush()
}

func runItineraryReorder(w io.Writer, id string, linkIDs []string) error {
	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Itineraries().ManualReorder(ctx, id, linkIDs); err != nil {
		return err
	}
	fmt.Fprintf(w, "reordered %d links; auto-sort is off\n", len(linkIDs))
	return nil
}

func runItineraryAutoSort(w io.Writer, id, mode string) error {
	var enable bool
	switch strings.ToLower(mode) {
	case "on":
		enable = true
	case "off":
	default:
		return fmt.Errorf("expected on or off, got %q", mode)
	}

	ctx := context.Background()
	c, _, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Itineraries().ToggleAutoSort(ctx, id, enable); err != nil {
		return err
	}
	fmt.Fprintf(w, "auto-sort %s\n", onOff(enable))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
