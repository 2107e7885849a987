// Package main is the tourly command: it inspects and drives the offline
// store and sync queue from a terminal, and runs the sync daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "0.1.0"

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tourly",
		Short:         "Tourly offline store and sync tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tourly.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(drainCmd())
	root.AddCommand(runCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(itineraryCmd())
	root.AddCommand(versionCmd())

	return root
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store, queue and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the local store and recreate it, dropping queued changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.OutOrStdout(), yes)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that local data and queued changes are discarded")
	return cmd
}

func drainCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Push queued changes to the remote service now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd.OutOrStdout(), all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "keep draining while full batches succeed")
	return cmd
}

func runCmd() *cobra.Command {
	var stateFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(stateFile)
		},
	}

	cmd.Flags().StringVar(&stateFile, "state-file", "", "file holding online/offline (default: from config)")
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the sync queue",
	}

	var (
		status     string
		limit      int
		jsonOutput bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued entries in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd.OutOrStdout(), status, limit, jsonOutput)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, retry, failed)")
	list.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	list.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count entries by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueStats(cmd.OutOrStdout())
		},
	}

	retry := &cobra.Command{
		Use:   "retry-failed",
		Short: "Return failed entries to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetryFailed(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(list, stats, retry)
	return cmd
}

func itineraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "itinerary",
		Short: "Inspect and reorder itineraries",
	}

	var jsonOutput bool
	show := &cobra.Command{
		Use:   "show <itinerary-id>",
		Short: "Show an itinerary and its ordered links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItineraryShow(cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}
	show.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	reorder := &cobra.Command{
		Use:   "reorder <itinerary-id> <link-id>...",
		Short: "Set the manual order of every link",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItineraryReorder(cmd.OutOrStdout(), args[0], args[1:])
		},
	}

	autosort := &cobra.Command{
		Use:       "autosort <itinerary-id> on|off",
		Short:     "Enable or disable sorting by start time",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItineraryAutoSort(cmd.OutOrStdout(), args[0], args[1])
		},
	}

	cmd.AddCommand(show, reorder, autosort)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tourly v%s\n", Version)
		},
	}
}
