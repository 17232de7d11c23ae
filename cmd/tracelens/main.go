package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracelens/tracelens/internal/api"
	"github.com/tracelens/tracelens/internal/config"
	"github.com/tracelens/tracelens/internal/render"
	"github.com/tracelens/tracelens/internal/report"
	_ "github.com/tracelens/tracelens/internal/reports"
	"github.com/tracelens/tracelens/internal/rowfilter"
	"github.com/tracelens/tracelens/internal/store"
	"github.com/tracelens/tracelens/internal/watch"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tracelens",
		Short:         "SQL report engine for trace databases",
		Long:          "TraceLens runs statistical reports and expert-system rules\nagainst exported SQLite trace databases.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configFile string
	var logLevel string
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: tracelens.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	var format string
	var filter string
	reportCmd := &cobra.Command{
		Use:   "report [trace-db] [report[:opt...]] [opt...]",
		Short: "Run one report against a trace database",
		Long: `Run one report against a trace database.

Report options may be given as separate arguments (rows=10 base) or
joined to the report name with colons (gpukernsum:base:rows=10).
Pass --help as a report option to see the report's own usage.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(configFile, logLevel)
			if format == "" {
				format = cfg.Report.Format
			}
			return runReport(cfg, args[0], args[1], args[2:], format, filter)
		},
	}
	reportCmd.Flags().StringVarP(&format, "format", "f", "", "Output format: csv or table")
	reportCmd.Flags().StringVar(&filter, "filter", "", "CEL expression applied to each row")

	listCmd := &cobra.Command{
		Use:   "list [report]",
		Short: "List available reports, or show one report's usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runUsage(args[0])
			}
			return runList()
		},
	}

	var port int
	serveCmd := &cobra.Command{
		Use:   "serve [trace-db]",
		Short: "Serve the report catalog of a trace database over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(configFile, logLevel)
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg, args[0])
		},
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")

	var watchReport string
	var watchPattern string
	var watchArgs []string
	watchCmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and run a report on new trace databases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(configFile, logLevel)
			cfg.Watch.Dir = args[0]
			if watchReport != "" {
				cfg.Watch.Report = watchReport
			}
			if watchPattern != "" {
				cfg.Watch.Pattern = watchPattern
			}
			if len(watchArgs) > 0 {
				cfg.Watch.Args = watchArgs
			}
			return runWatch(cfg)
		},
	}
	watchCmd.Flags().StringVarP(&watchReport, "report", "r", "", "Report to run (default from config)")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "", "Filename glob for trace databases")
	watchCmd.Flags().StringArrayVar(&watchArgs, "arg", nil, "Report option token (repeatable)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if path == "" {
				path = "tracelens.yaml"
			}
			if err := config.GenerateDefault(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("TraceLens %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(reportCmd, listCmd, serveCmd, watchCmd, initCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStatus(err))
	}
}

// exitStatus maps a failed invocation to its process exit status.
// Engine errors keep their distinct codes, including SQL and script
// failures; anything else is a generic failure.
func exitStatus(err error) int {
	switch err.(type) {
	case *report.ScriptError, *store.InvalidSQLError:
		return int(report.ExitScript)
	}
	if code := report.ExitCodeFor(err); code != report.ExitScript {
		return int(code)
	}
	return 1
}

// loadConfig loads the config file if one exists and wires the global
// logger. Missing config files are fine; the defaults apply.
func loadConfig(configFile, logLevel string) *config.Config {
	loader := config.NewLoader()
	if configFile == "" {
		if _, err := os.Stat("tracelens.yaml"); err == nil {
			configFile = "tracelens.yaml"
		}
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	cfg := loader.Get()
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	return cfg
}

// newLogger builds the process logger. Logs go to stderr so that CSV
// output on stdout stays clean.
func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// splitReportArg separates the colon-joined invocation form:
// "gpukernsum:base:rows=10" becomes the name plus two option tokens.
func splitReportArg(arg string) (string, []string) {
	parts := strings.Split(arg, ":")
	return parts[0], parts[1:]
}

func runReport(cfg *config.Config, dbPath, reportArg string, extra []string, format, filter string) error {
	name, tokens := splitReportArg(reportArg)
	tokens = append(tokens, extra...)

	runner := report.NewRunner(report.DefaultCatalog(), slog.Default())
	runner.SetDefaultRowLimit(cfg.Report.RowLimit)
	res, err := runner.Run(context.Background(), dbPath, name, tokens)
	if err != nil {
		if argErr, ok := err.(*report.ArgumentError); ok && argErr.Help {
			// An explicit help request goes to stdout, not stderr.
			fmt.Println(argErr.Message)
			os.Exit(int(report.ExitHelp))
		}
		return err
	}
	defer res.Close()

	var src rowfilter.RowSource = res
	if filter != "" {
		pred, err := rowfilter.Compile(filter, res.Headers())
		if err != nil {
			return &report.ArgumentError{Message: err.Error()}
		}
		src = pred.Apply(src)
	}

	def := res.Definition()
	switch format {
	case "csv":
		if _, err := render.WriteCSV(os.Stdout, src); err != nil {
			return &report.ScriptError{Message: err.Error()}
		}
	case "", "table":
		n, err := render.WriteTable(os.Stdout, src)
		if err != nil {
			return &report.ScriptError{Message: err.Error()}
		}
		if n == 0 {
			if msg := def.MessageNoResult(); msg != "" {
				fmt.Println(msg)
			}
		} else {
			if msg := res.MessageRowLimit(n); msg != "" {
				fmt.Printf("\n%s\n", msg)
			}
			if msg := def.MessageAdvice(false); msg != "" {
				fmt.Printf("\n%s\n", msg)
			}
		}
	default:
		return &report.ArgumentError{Message: fmt.Sprintf("unknown output format '%s'", format)}
	}
	return nil
}

func runList() error {
	for _, def := range report.DefaultCatalog().List() {
		fmt.Printf("  %-16s %s\n", def.Name, def.DisplayName)
	}
	return nil
}

func runUsage(name string) error {
	def := report.DefaultCatalog().Get(name)
	if def == nil {
		return &report.ArgumentError{Message: fmt.Sprintf("report '%s' could not be found", name)}
	}
	fmt.Println(def.UsageText())
	return nil
}

func runServe(cfg *config.Config, dbPath string) error {
	logger := slog.Default()
	server := api.NewServer(cfg.Server, dbPath, report.DefaultCatalog(), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = server.Shutdown(shutCtx)
	}()

	if err := server.Start(api.APIAddr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runWatch(cfg *config.Config) error {
	logger := slog.Default()
	w, err := watch.NewWatcher(cfg.Watch, report.DefaultCatalog(), logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")
	return w.Stop()
}
