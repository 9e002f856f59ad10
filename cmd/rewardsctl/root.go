package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"rewardskit/adapters/jsonfile"
	"rewardskit/core"
	"rewardskit/engine"
)

type globalFlags struct {
	store    string
	user     string
	timezone string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "rewardsctl",
		Short: "Inspect and edit a learner's rewards ledger",
		Long: `rewardsctl operates on the ledger a client keeps in a local JSON store.

Every command loads the learner's ledger, applies the operation and persists
the result before exiting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.store, "store", "rewards.json", "Path to the JSON file store")
	root.PersistentFlags().StringVarP(&g.user, "user", "u", "local", "Learner id")
	root.PersistentFlags().StringVar(&g.timezone, "tz", "Local", "IANA timezone for calendar days")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log recorder diagnostics to stderr")

	root.AddCommand(
		newRecordCmd(g),
		newRedeemCmd(g),
		newResetCmd(g),
		newShowCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newCSVCmd(g),
		newAnalyticsCmd(g),
		newKindsCmd(),
	)
	return root
}

func (g *globalFlags) location() (*time.Location, error) {
	if g.timezone == "" || g.timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(g.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid --tz: %w", err)
	}
	return loc, nil
}

// open loads the selected learner's recorder with synchronous dispatch so
// the process never exits with a pending notification.
func (g *globalFlags) open(ctx context.Context, stderr io.Writer) (*engine.Recorder, *time.Location, error) {
	loc, err := g.location()
	if err != nil {
		return nil, nil, err
	}
	store, err := jsonfile.New(g.store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", g.store, err)
	}
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	rec, err := engine.NewRecorder(ctx, store, engine.NewEventBus(engine.DispatchSync), core.UserID(g.user),
		engine.WithLocation(loc),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return rec, loc, nil
}
