package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"falsifier/internal/config"
	"falsifier/internal/logging"
	"falsifier/pkg/falsifier"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "falsifierctl",
		Short: "Feedback-guided falsification of simulated systems",
		Long: `falsifierctl searches a scenario's parameter space for inputs that make
a simulated system violate its monitored property. Each round draws a sample,
simulates it and feeds the monitor's score back into the next draw.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.falsifier/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("store", "", "store backend: memory|sqlite")
	rootCmd.PersistentFlags().String("db-path", "", "sqlite database path")
	rootCmd.PersistentFlags().String("artifacts-dir", "", "directory for run artifacts")
	rootCmd.PersistentFlags().String("log-level", "", "log level: info|debug|trace")
	rootCmd.PersistentFlags().String("log-format", "", "log format: auto|text|json")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRunsCmd(),
		newRoundsCmd(),
		newExportCmd(),
		newScenarioCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "falsifierctl version %s\n", version)
			return nil
		},
	}
}

type settings struct {
	cfg     *config.Config
	jsonOut bool
	logger  *slog.Logger
}

// loadSettings layers defaults, the config file, FALSIFIER_* variables and
// finally any flags set on the command line.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"store":         &cfg.Storage.Backend,
		"db-path":       &cfg.Storage.SQLitePath,
		"artifacts-dir": &cfg.Storage.ArtifactsDir,
		"log-level":     &cfg.Logging.Level,
		"log-format":    &cfg.Logging.Format,
	}
	for name, dst := range overrides {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	jsonOut, _ := flags.GetBool("json")
	return &settings{
		cfg:     cfg,
		jsonOut: jsonOut,
		logger:  logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
	}, nil
}

func (s *settings) client() (*falsifier.Client, error) {
	return falsifier.New(falsifier.Options{
		StoreKind:    s.cfg.Storage.Backend,
		DBPath:       s.cfg.Storage.SQLitePath,
		ArtifactsDir: s.cfg.Storage.ArtifactsDir,
		Logger:       s.logger,
	})
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
