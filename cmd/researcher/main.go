// Command researcher runs research jobs from the terminal and serves the API.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jxucoder/researcher/internal/config"
)

var (
	version = "dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "researcher",
	Short: "Research any topic with a Groq-backed multi-stage pipeline",
	Long: `researcher plans search queries for a topic, gathers sources, analyses
and fact-checks them, and writes a Markdown report.

Run a single topic from the terminal, serve the HTTP API with the chat
integrations, or process YAML batch jobs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger returns the CLI logger. Logs go to stderr so report output on
// stdout can be piped.
func newLogger(cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "researcher",
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// loadConfig resolves the configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
