package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jxucoder/researcher/internal/config"
	"github.com/jxucoder/researcher/pkg/model"
)

// configKey describes a single configuration value.
type configKey struct {
	Key      string
	Desc     string
	Required bool
	Secret   bool
	Prefix   string // expected prefix for validation (e.g. "gsk_"), empty = no check
}

// allConfigKeys lists every configurable value in display order.
var allConfigKeys = []configKey{
	{"GROQ_API_KEY", "Groq API key", true, true, "gsk_"},
	{"RESEARCHER_MODEL", "Groq model name", false, false, ""},
	{"RESEARCHER_DEPTH", "Default depth (quick, standard, deep)", false, false, ""},
	{"RESEARCHER_STORE", "Report store (sqlite, json)", false, false, ""},
	{"RESEARCHER_DATA_DIR", "Data directory", false, false, ""},
	{"GITHUB_TOKEN", "GitHub token (gist scope, issues for the webhook)", false, true, ""},
	{"RESEARCHER_PUBLISH_GIST", "Publish every report as a secret gist (true/false)", false, false, ""},
	{"GITHUB_WEBHOOK_SECRET", "GitHub Issues webhook secret", false, true, ""},
	{"TELEGRAM_BOT_TOKEN", "Telegram bot token (from @BotFather)", false, true, ""},
	{"SLACK_BOT_TOKEN", "Slack Bot User OAuth Token (xoxb-...)", false, true, "xoxb-"},
	{"SLACK_APP_TOKEN", "Slack App-Level Token (xapp-...)", false, true, "xapp-"},
	{"SLACK_CHANNEL", "Slack channel for finished reports", false, false, ""},
}

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage researcher configuration",
	Long: `Manage researcher configuration (API keys, tokens, defaults).

Configuration is stored in ~/.researcher/config.env and can be overridden
by environment variables.

  researcher config setup              Interactive setup wizard
  researcher config set KEY VALUE      Set a single config value
  researcher config show               Show current configuration
  researcher config path               Print config file path`,
}

var (
	setupNonInteractive bool
	setupGroqKey        string
	setupDepth          string
)

var configSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Long: `Guided setup that walks you through configuring researcher.

Non-interactive mode for CI/scripting:
  researcher config setup --non-interactive --groq-api-key=gsk_xxx --depth=quick`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fileValues, err := config.ReadFile(config.FilePath())
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if setupNonInteractive {
			return runNonInteractiveSetup(cmd.OutOrStdout(), fileValues)
		}
		return runConfigSetup(newWizard(cmd.InOrStdin(), cmd.OutOrStdout(), fileValues))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  researcher config set GROQ_API_KEY gsk_xxxxxxxxxxxx`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigSet(cmd.OutOrStdout(), config.FilePath(), args[0], args[1])
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display all configured values. Secrets are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd.OutOrStdout(), config.FilePath())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configSetupCmd.Flags().BoolVar(&setupNonInteractive, "non-interactive", false, "Run without prompts (requires --groq-api-key)")
	configSetupCmd.Flags().StringVar(&setupGroqKey, "groq-api-key", "", "Groq API key (non-interactive mode)")
	configSetupCmd.Flags().StringVar(&setupDepth, "depth", "", "Default depth: quick, standard, deep")

	configCmd.AddCommand(configSetupCmd, configSetCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// ---------------------------------------------------------------------------
// Config file helpers
// ---------------------------------------------------------------------------

func keyOrder() []string {
	order := make([]string, len(allConfigKeys))
	for i, ck := range allConfigKeys {
		order[i] = ck.Key
	}
	return order
}

// effectiveValue returns the current value for a key, preferring env vars over config file.
func effectiveValue(key string, fileValues map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

// maskSecret masks a secret string, showing only the first 4 and last 4 characters.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// findKey looks up a configKey by name.
func findKey(name string) configKey {
	for _, ck := range allConfigKeys {
		if ck.Key == name {
			return ck
		}
	}
	return configKey{Key: name}
}

// validateValue checks a value against the key's expected format.
func validateValue(ck configKey, value string) error {
	if ck.Prefix != "" && !strings.HasPrefix(value, ck.Prefix) {
		return fmt.Errorf("expected prefix %q", ck.Prefix)
	}
	switch ck.Key {
	case "RESEARCHER_DEPTH":
		if !model.Depth(value).Valid() {
			return fmt.Errorf("depth must be quick, standard or deep")
		}
	case "RESEARCHER_STORE":
		if value != config.StoreSQLite && value != config.StoreJSON {
			return fmt.Errorf("store must be %s or %s", config.StoreSQLite, config.StoreJSON)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interactive helpers
// ---------------------------------------------------------------------------

// wizard holds shared state for the interactive setup.
type wizard struct {
	reader     *bufio.Reader
	out        io.Writer
	fileValues map[string]string
	changed    int
}

func newWizard(in io.Reader, out io.Writer, fileValues map[string]string) *wizard {
	return &wizard{
		reader:     bufio.NewReader(in),
		out:        out,
		fileValues: fileValues,
	}
}

func (w *wizard) readLine() (string, error) {
	input, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// askYesNo asks a yes/no question and returns true for yes.
func (w *wizard) askYesNo(prompt string, defaultYes bool) (bool, error) {
	hint := "[Y/n]"
	if !defaultYes {
		hint = "[y/N]"
	}
	fmt.Fprintf(w.out, "  %s %s ", prompt, hint)
	input, err := w.readLine()
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)
	if input == "" {
		return defaultYes, nil
	}
	return input == "y" || input == "yes", nil
}

// askValue prompts for a single config value with validation.
// Returns true if a new value was accepted.
func (w *wizard) askValue(ck configKey) (bool, error) {
	current := effectiveValue(ck.Key, w.fileValues)

	status := "\033[31m✗ not set\033[0m"
	if current != "" {
		shown := current
		if ck.Secret {
			shown = maskSecret(current)
		}
		status = fmt.Sprintf("\033[32m✓ set\033[0m (%s)", shown)
	}
	fmt.Fprintf(w.out, "  %s  %s\n", ck.Key, status)

	for {
		fmt.Fprint(w.out, "  Value (Enter to keep): ")
		input, err := w.readLine()
		if err != nil {
			return false, err
		}
		if input == "" {
			return false, nil
		}
		if err := validateValue(ck, input); err != nil {
			fmt.Fprintf(w.out, "  \033[33m!\033[0m  %v. Try again or press Enter to skip.\n", err)
			continue
		}
		w.fileValues[ck.Key] = input
		w.changed++
		fmt.Fprintln(w.out, "  \033[32m✓ saved\033[0m")
		return true, nil
	}
}

// ---------------------------------------------------------------------------
// Setup wizard
// ---------------------------------------------------------------------------

func runConfigSetup(w *wizard) error {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  \033[1mresearcher setup\033[0m")
	fmt.Fprintln(w.out, "  Press Enter at any prompt to keep the current value.")
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "  \033[1mStep 1 of 4: Groq API key (required)\033[0m")
	fmt.Fprintln(w.out, "  Create one at: \033[4mhttps://console.groq.com/keys\033[0m")
	fmt.Fprintln(w.out)
	for {
		if _, err := w.askValue(findKey("GROQ_API_KEY")); err != nil {
			return err
		}
		if effectiveValue("GROQ_API_KEY", w.fileValues) != "" {
			break
		}
		fmt.Fprintln(w.out, "  \033[33m!\033[0m  A Groq API key is required. Paste your key or Ctrl+C to quit.")
	}
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "  \033[1mStep 2 of 4: Defaults\033[0m")
	for _, key := range []string{"RESEARCHER_DEPTH", "RESEARCHER_STORE"} {
		if _, err := w.askValue(findKey(key)); err != nil {
			return err
		}
	}
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "  \033[1mStep 3 of 4: Publishing (optional)\033[0m")
	doGist, err := w.askYesNo("Publish reports as GitHub gists?", false)
	if err != nil {
		return err
	}
	if doGist {
		if _, err := w.askValue(findKey("GITHUB_TOKEN")); err != nil {
			return err
		}
		w.fileValues["RESEARCHER_PUBLISH_GIST"] = "true"
		w.changed++
	}
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "  \033[1mStep 4 of 4: Chat integrations (optional)\033[0m")
	doTelegram, err := w.askYesNo("Set up Telegram?", false)
	if err != nil {
		return err
	}
	if doTelegram {
		if _, err := w.askValue(findKey("TELEGRAM_BOT_TOKEN")); err != nil {
			return err
		}
	}
	doSlack, err := w.askYesNo("Set up Slack?", false)
	if err != nil {
		return err
	}
	if doSlack {
		for _, key := range []string{"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "SLACK_CHANNEL"} {
			if _, err := w.askValue(findKey(key)); err != nil {
				return err
			}
		}
	}
	fmt.Fprintln(w.out)

	if err := config.WriteFile(config.FilePath(), w.fileValues, keyOrder()); err != nil {
		return err
	}

	fmt.Fprintln(w.out, "  \033[1mConfiguration Summary\033[0m")
	printSummaryLine(w.out, "Groq", effectiveValue("GROQ_API_KEY", w.fileValues) != "")
	printSummaryLine(w.out, "Gist", effectiveValue("RESEARCHER_PUBLISH_GIST", w.fileValues) == "true" &&
		effectiveValue("GITHUB_TOKEN", w.fileValues) != "")
	printSummaryLine(w.out, "Telegram", effectiveValue("TELEGRAM_BOT_TOKEN", w.fileValues) != "")
	printSummaryLine(w.out, "Slack", effectiveValue("SLACK_BOT_TOKEN", w.fileValues) != "" &&
		effectiveValue("SLACK_APP_TOKEN", w.fileValues) != "")
	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "  Saved to %s (%d change(s))\n", config.FilePath(), w.changed)
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  Next: researcher run \"your topic\"  or  researcher serve")
	return nil
}

// runNonInteractiveSetup handles --non-interactive mode.
func runNonInteractiveSetup(out io.Writer, fileValues map[string]string) error {
	if setupGroqKey == "" {
		return fmt.Errorf("--groq-api-key is required in non-interactive mode")
	}
	if err := validateValue(findKey("GROQ_API_KEY"), setupGroqKey); err != nil {
		return fmt.Errorf("--groq-api-key: %w", err)
	}
	fileValues["GROQ_API_KEY"] = setupGroqKey

	if setupDepth != "" {
		if err := validateValue(findKey("RESEARCHER_DEPTH"), setupDepth); err != nil {
			return err
		}
		fileValues["RESEARCHER_DEPTH"] = setupDepth
	}

	path := config.FilePath()
	if err := config.WriteFile(path, fileValues, keyOrder()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Config written to %s\n", path)
	return nil
}

// printSummaryLine prints a check or cross for a config section.
func printSummaryLine(out io.Writer, label string, ok bool) {
	if ok {
		fmt.Fprintf(out, "  \033[32m✓\033[0m %-12s configured\n", label)
	} else {
		fmt.Fprintf(out, "  \033[90m-\033[0m %-12s not configured\n", label)
	}
}

// ---------------------------------------------------------------------------
// config set / config show
// ---------------------------------------------------------------------------

// runConfigSet sets a single key=value in the config file.
func runConfigSet(out io.Writer, path, key, value string) error {
	ck := findKey(key)
	if err := validateValue(ck, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	fileValues, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	fileValues[key] = value
	if err := config.WriteFile(path, fileValues, keyOrder()); err != nil {
		return err
	}

	if ck.Secret {
		value = maskSecret(value)
	}
	fmt.Fprintf(out, "Set %s = %s\n", key, value)
	return nil
}

// runConfigShow displays the current effective configuration.
func runConfigShow(out io.Writer, path string) error {
	fileValues, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	fmt.Fprintf(out, "Config file: %s\n\n", path)
	for _, ck := range allConfigKeys {
		value := effectiveValue(ck.Key, fileValues)
		source := ""
		if os.Getenv(ck.Key) != "" {
			source = " (from env)"
		} else if fileValues[ck.Key] != "" {
			source = " (from config file)"
		}

		display := "(not set)"
		if value != "" {
			display = value
			if ck.Secret {
				display = maskSecret(value)
			}
		}

		reqTag := ""
		if ck.Required {
			reqTag = " *"
		}
		fmt.Fprintf(out, "  %-25s %s%s\n", ck.Key+reqTag, display, source)
	}
	fmt.Fprintln(out, "\n  * = required")
	return nil
}
