package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rewardskit/analytics"
	"rewardskit/core"
	"rewardskit/engine"
)

func newRecordCmd(g *globalFlags) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "record KIND",
		Short: "Record a learning event",
		Example: `  rewardsctl record QUESTION_BLOOM_4 --meta resourceId=lectura-1:q3
  rewardsctl record EVALUATION_SUBMITTED --meta resourceId=lectura-1:eval --meta score=8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMeta(meta)
			if err != nil {
				return err
			}
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res := rec.RecordEvent(cmd.Context(), core.EventKind(strings.ToUpper(args[0])), md)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata as key=value (repeatable)")
	return cmd
}

// parseMeta turns key=value pairs into metadata. Values that parse as
// integers, floats or booleans keep that type.
func parseMeta(pairs []string) (core.Metadata, error) {
	md := core.Metadata{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		k = strings.TrimSpace(k)
		switch {
		case isInt(v):
			n, _ := strconv.ParseInt(v, 10, 64)
			md[k] = n
		case isFloat(v):
			f, _ := strconv.ParseFloat(v, 64)
			md[k] = f
		case v == "true" || v == "false":
			md[k] = v == "true"
		default:
			md[k] = v
		}
	}
	return md, nil
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func newRedeemCmd(g *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "redeem AMOUNT",
		Short: "Spend available points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			remaining, err := rec.Redeem(cmd.Context(), amount, reason)
			if engine.IsInsufficientPoints(err) {
				return fmt.Errorf("insufficient points: %d available", rec.State().AvailablePoints)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "redeemed %d points, %d available\n", amount, remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "What the points were spent on")
	return cmd
}

func newResetCmd(g *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the learner's progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset discards all progress; pass --yes to confirm")
			}
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rec.Reset(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "ledger for %s reset\n", rec.UserID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func newShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the ledger as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec.State())
		},
	}
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a portable snapshot of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			data, err := rec.ExportState()
			if err != nil {
				return err
			}
			return writeOut(cmd.OutOrStdout(), out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Reconcile a snapshot into the ledger",
		Long: `Import merges FILE into the ledger by default. With --merge=false the
snapshot is restored as authoritative, except that an empty snapshot never
replaces existing progress and a snapshot whose points are not backed by
history is merged instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			outcome, err := rec.ImportState(cmd.Context(), data, merge)
			if err != nil {
				return err
			}
			st := rec.State()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d total, %d available\n", outcome, st.TotalPoints, st.AvailablePoints)
			return nil
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", true, "Merge instead of replacing")
	return cmd
}

func newCSVCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Export the event history as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, loc, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var b strings.Builder
			if err := analytics.WriteCSV(&b, rec.State().History, loc); err != nil {
				return err
			}
			return writeOut(cmd.OutOrStdout(), out, []byte(b.String()))
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newAnalyticsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print the learner's engagement report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, _, err := g.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), analytics.Build(rec.State()))
		},
	}
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List recordable event kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tPOINTS\tDAILY LIMIT\tLABEL")
			for _, k := range core.Kinds() {
				def, _ := core.Lookup(k)
				limit := "-"
				if def.DailyLimit > 0 {
					limit = strconv.Itoa(def.DailyLimit)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", k, def.BasePoints, limit, def.Label)
			}
			return tw.Flush()
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOut(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
