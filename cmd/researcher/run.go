package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jxucoder/researcher"
	"github.com/jxucoder/researcher/internal/config"
	"github.com/jxucoder/researcher/internal/engine"
	"github.com/jxucoder/researcher/pkg/activity"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/search/duckduckgo"
	"github.com/jxucoder/researcher/pkg/store"
)

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

var (
	runDepth       string
	runMaxResults  int
	runTemperature float64
	runOut         string
	runNoSave      bool
)

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Research a topic and print the report",
	Long: `Run the full research pipeline for a topic and print the Markdown report.

Examples:
  researcher run "solid state batteries"
  researcher run "rust async runtimes" --depth deep --out reports/
  researcher run "ocean acidification" --no-save`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return engine.ErrEmptyTopic
	}
	if runDepth != "" && !model.Depth(runDepth).Valid() {
		return fmt.Errorf("invalid --depth %q: use quick, standard or deep", runDepth)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	logger := newLogger(cfg)
	app, err := researcher.NewBuilder().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []engine.RunOption{engine.WithSink(activity.LoggerSink{Logger: logger})}
	if runNoSave {
		opts = append(opts, engine.WithoutSave(), engine.WithoutPublish())
	}

	report, err := app.Engine().Research(ctx, topic, model.Depth(runDepth), opts...)
	if err != nil {
		return err
	}

	if report.ID != "" {
		logger.Info("report saved", "id", report.ID)
	}
	if runOut == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), report.Markdown())
		return err
	}
	path, err := writeReport(runOut, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", path)
	return nil
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("max-results") {
		if runMaxResults < duckduckgo.MinMaxResults || runMaxResults > duckduckgo.MaxMaxResults {
			return fmt.Errorf("--max-results must be between %d and %d",
				duckduckgo.MinMaxResults, duckduckgo.MaxMaxResults)
		}
		cfg.MaxResults = runMaxResults
	}
	if cmd.Flags().Changed("temperature") {
		if runTemperature < 0 || runTemperature > 1 {
			return fmt.Errorf("--temperature must be between 0 and 1")
		}
		cfg.Temperature = runTemperature
	}
	return nil
}

// writeReport writes the report Markdown to out. When out is an existing
// directory or ends with a separator the report's own filename is used.
func writeReport(out string, r *model.Report) (string, error) {
	path := out
	if strings.HasSuffix(out, string(os.PathSeparator)) || isDir(out) {
		path = filepath.Join(out, r.Filename())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ---------------------------------------------------------------------------
// list / show
// ---------------------------------------------------------------------------

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openReportStore()
		if err != nil {
			return err
		}
		defer st.Close()

		reports, err := st.List()
		if err != nil {
			return err
		}
		return printReports(cmd.OutOrStdout(), reports)
	},
}

func printReports(w io.Writer, reports []model.Summary) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No reports found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDEPTH\tCREATED\tTOPIC")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.ID, r.Depth, r.CreatedAt.Local().Format("2006-01-02 15:04"), model.Truncate(r.Topic, 60))
	}
	return tw.Flush()
}

var showMarkdown bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openReportStore()
		if err != nil {
			return err
		}
		defer st.Close()

		r, err := st.Load(args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("report %q not found", args[0])
		}
		if err != nil {
			return err
		}
		if showMarkdown {
			_, err = io.WriteString(cmd.OutOrStdout(), r.Markdown())
			return err
		}
		return printReport(cmd.OutOrStdout(), r)
	},
}

func printReport(w io.Writer, r *model.Report) error {
	fmt.Fprintf(w, "Report:     %s\n", r.ID)
	fmt.Fprintf(w, "Topic:      %s\n", r.Topic)
	fmt.Fprintf(w, "Depth:      %s\n", r.Depth)
	fmt.Fprintf(w, "Created:    %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Sources:    %d\n", len(r.Sources))
	fmt.Fprintf(w, "Confidence: %s\n", r.Confidence())
	_, err := fmt.Fprintf(w, "\n%s\n", r.Body)
	return err
}

// openReportStore opens the configured store without requiring a Groq key.
func openReportStore() (store.ReportStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return researcher.OpenStore(cfg)
}

// ---------------------------------------------------------------------------
// serve / batch
// ---------------------------------------------------------------------------

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, chat integrations and scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		app, err := researcher.NewBuilder().WithConfig(cfg).WithLogger(logger).Build()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting server", "addr", cfg.ServerAddr, "store", cfg.Store, "data", cfg.DataDir)
		return app.Start(ctx)
	},
}

var batchWatch bool

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the YAML research jobs in the jobs directory",
	Long: `Run every topic of every job file in the jobs directory once.

With --watch, recurring jobs (those with an "every" interval) then keep
running on their schedule until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		app, err := researcher.NewBuilder().WithConfig(cfg).WithLogger(logger).Build()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := app.Scheduler()
		if err := sched.LoadJobs(); err != nil {
			return err
		}
		if len(sched.Jobs()) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "No jobs found in %s\n", sched.Dir())
			return nil
		}
		if err := sched.RunAll(ctx); err != nil {
			if !batchWatch {
				return err
			}
			logger.Error("batch finished with errors", "err", err)
		}
		if !batchWatch {
			return nil
		}
		return sched.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runDepth, "depth", "d", "", "Research depth: quick, standard or deep (default from config)")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 5, "Search results per query (3-10)")
	runCmd.Flags().Float64Var(&runTemperature, "temperature", 0.7, "Sampling temperature for research and writing")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Write the Markdown report to a file or directory")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not save or publish the report")

	showCmd.Flags().BoolVar(&showMarkdown, "markdown", false, "Print the full Markdown report")

	batchCmd.Flags().BoolVarP(&batchWatch, "watch", "w", false, "Keep running recurring jobs on their schedule")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, serveCmd, batchCmd)
}
