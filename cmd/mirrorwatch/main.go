// Package main is the mirrorwatch CLI.
//
// Usage:
//
//	mirrorwatch -c mirrorwatch.yaml           # run the watcher
//	mirrorwatch validate -c mirrorwatch.yaml  # check a config file
//	mirrorwatch watchlist -c mirrorwatch.yaml # print tracked accounts
//	mirrorwatch seen -c mirrorwatch.yaml      # print persisted seen-state
//	mirrorwatch deliveries -c mirrorwatch.yaml
//	mirrorwatch version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "./mirrorwatch.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mirrorwatch",
	Short: "Forward new posts from Nitter mirrors to Telegram",
	Long: `mirrorwatch polls the RSS feeds of a list of accounts through a chain of
Nitter mirrors and posts every new item to a Telegram channel.

Running without a subcommand is the same as "mirrorwatch run".`,
	SilenceUsage: true,
	RunE:         runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mirrorwatch %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file (YAML or JSON)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
