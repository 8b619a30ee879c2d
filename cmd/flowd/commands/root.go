package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmill/flowmill/pkg/config"
	"github.com/flowmill/flowmill/pkg/controller"
	"github.com/flowmill/flowmill/pkg/stores"
	"github.com/flowmill/flowmill/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	workspace  string
	logLevel   string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowd",
		Short: "Flowmill - durable flow run orchestration",
		Long: `Flowmill orchestrates long-running, multi-step agent turns as durable
flow runs: stateful jobs that persist across process restarts, pause for
human input, and survive worker crashes.

flowd operates on one workspace at a time: its run store lives under
<workspace>/.flowd together with the per-run artifacts directories.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newReconcileCommand())

	return rootCmd
}

// env bundles the objects every subcommand needs.
type env struct {
	cfg   *config.Config
	store *stores.SQLiteStore
	ctrl  *controller.Controller
	log   *telemetry.Logger
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.WithError(err).Warn("failed to close store")
	}
}

func newEnv(ctx context.Context) (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = workspace
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := stores.OpenWorkspace(ctx, cfg.Workspace.Root, cfg.Engine.Durable)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(controller.Options{
		Store:              store,
		WorkspaceRoot:      cfg.Workspace.Root,
		RepoDir:            cfg.Workspace.RepoDir,
		Logger:             log,
		StreamPollInterval: cfg.Engine.StreamPollInterval.Std(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, ctrl: ctrl, log: log}, nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
