package cmd

import (
	"fmt"
	"os"

	"cardsexport/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	flagEmail       string
	flagPassword    string
	flagOutput      string
	flagBagID       string
	flagConcurrency int
	flagMaxCards    int
	flagNoSave      bool
	flagDebug       bool
)

var rootCmd = &cobra.Command{
	Use:   "cardsexport <deck or collection url>",
	Short: "cardsexport scrapes a UCalgary Cards deck or collection and exports it as an Anki .apkg package.",
	Args:  cobra.ExactArgs(1),

	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(flagDebug)
	},
	RunE: runExport,
}

func init() {
	rootCmd.Flags().StringVarP(&flagEmail, "email", "e", "", "login email (overrides stored credentials)")
	rootCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "login password (overrides stored credentials)")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output .apkg path (default: derived from the deck name)")
	rootCmd.Flags().StringVar(&flagBagID, "bag-id", "", "bag id override for deck urls missing the bag_id query parameter")
	rootCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "concurrent card extractions (default 10)")
	rootCmd.Flags().IntVar(&flagMaxCards, "max-cards", 0, "hard cap on cards discovered per deck")
	rootCmd.Flags().BoolVar(&flagNoSave, "no-save-credentials", false, "do not store credentials after a successful login")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
