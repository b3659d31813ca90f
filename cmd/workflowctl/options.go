package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

// globalOptions holds the persistent flags shared by every workflow command.
type globalOptions struct {
	configPath string
	stateDir   string
	scope      string
	apiURL     string
	output     string
	verbose    bool
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", os.Getenv(config.ConfigPathEnv), "YAML config file")
	f.StringVar(&o.stateDir, "state-dir", "", "Directory holding persisted workflow state (default from config)")
	f.StringVar(&o.scope, "scope", "local", "Workflow scope; each scope is an independent workflow")
	f.StringVar(&o.apiURL, "api-url", "", "Generation service URL (default from config)")
	f.StringVarP(&o.output, "output", "o", formatHuman, "Output format (human, json, yaml)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Verbose logging")
}

// load resolves configuration from the config file, the environment and flags.
// The CLI always persists to the file backend.
func (o *globalOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		if err := cfg.LoadFile(o.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if o.stateDir != "" {
		cfg.State.Dir = o.stateDir
	}
	if o.apiURL != "" {
		cfg.GenerationURL = o.apiURL
	}
	cfg.State.Backend = config.BackendFile
	return cfg, cfg.Validate()
}

func (o *globalOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// orchestrator opens the scope's persisted workflow.
func (o *globalOptions) orchestrator(cmd *cobra.Command) (*orchestration.Orchestrator, error) {
	if err := validateFormat(o.output); err != nil {
		return nil, err
	}
	cfg, err := o.load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := o.logger(cmd.ErrOrStderr())

	backend, err := store.NewFileBackend(cfg.State.Dir, store.WithFileLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open state dir: %w", err)
	}
	client := generation.NewHTTPClient(cfg.GenerationURL,
		generation.WithLogger(logger),
		generation.WithTimeout(cfg.RequestTimeout),
	)

	orch := orchestration.New(client, store.NewScoped(backend, o.scope, logger),
		orchestration.WithLogger(logger),
		orchestration.WithRetryPolicy(cfg.Diagram.Policy()),
		orchestration.WithDiagramLimits(cfg.Diagram.PayloadLimit, cfg.Diagram.SectionLimit),
	)
	orch.Rehydrate(cmd.Context())
	return orch, nil
}

// run executes one workflow operation behind a spinner and prints the
// resulting snapshot. A snapshot carrying an error fails the command.
func (o *globalOptions) run(cmd *cobra.Command, activity string, fn func(ctx context.Context, orch *orchestration.Orchestrator) models.WorkflowState) error {
	orch, err := o.orchestrator(cmd)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + activity
	s.Start()
	st := fn(cmd.Context(), orch)
	s.Stop()

	if err := printState(cmd.OutOrStdout(), st, o.output); err != nil {
		return err
	}
	if st.Error != nil {
		return fmt.Errorf("%s failed: %s", st.Error.Operation, st.Error.Message)
	}
	return nil
}
