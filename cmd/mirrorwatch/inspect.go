package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mirrorwatch/internal/app"
	"mirrorwatch/internal/config"
	logx "mirrorwatch/pkg/logx"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate the config without connecting to anything.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(configPath)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		out := cmd.OutOrStdout()
		changed, _ := config.SummarizeConfigChange(nil, cfg)
		fmt.Fprintf(out, "Config is valid!\n")
		fmt.Fprintf(out, "  Channel:   %d\n", cfg.Delivery.ChannelID)
		fmt.Fprintf(out, "  Operator:  %d\n", cfg.Delivery.OperatorID)
		fmt.Fprintf(out, "  Mirrors:   %s\n", strings.Join(cfg.Mirrors.Hosts, ", "))
		fmt.Fprintf(out, "  Storage:   %s\n", orDefault(cfg.Storage.Driver, "file"))
		fmt.Fprintf(out, "  Sections:  %s\n", strings.Join(changed, ", "))
		return nil
	},
}

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Print the accounts parsed from the watchlist file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(configPath)
		if err != nil {
			return err
		}
		path, ids, err := app.ReadWatchlist(cfg, cliLogger())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s: %d accounts\n", path, len(ids))
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Print the persisted last-seen item per account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(configPath)
		if err != nil {
			return err
		}
		seen, err := app.ReadSeen(cmd.Context(), cfg, cliLogger())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ACCOUNT\tLAST ITEM")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%s\n", k, seen[k])
		}
		return tw.Flush()
	},
}

var deliveriesLimit int

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Print recent notification outcomes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(configPath)
		if err != nil {
			return err
		}
		recs, err := app.ReadDeliveries(cmd.Context(), cfg, cliLogger(), deliveriesLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tKIND\tACCOUNT\tSTATUS\tATTEMPTS\tMIRROR\tERROR")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.At.Local().Format(time.DateTime), r.Kind, orDefault(r.Identifier, "-"),
				r.Status, r.Attempts, orDefault(r.Mirror, "-"), r.Error)
		}
		return tw.Flush()
	},
}

func init() {
	deliveriesCmd.Flags().IntVarP(&deliveriesLimit, "limit", "n", 20, "number of records")
	rootCmd.AddCommand(validateCmd, watchlistCmd, seenCmd, deliveriesCmd)
}

func cliLogger() logx.Logger {
	return logx.NewWriter(os.Stderr, "warn")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
