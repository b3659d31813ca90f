package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/orchestration"
)

func newProjectCmd(opts *globalOptions) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "project NAME",
		Short: "Set up the project and move to domain input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "Setting up project...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.SetupProject(ctx, args[0], description)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Project description")
	return cmd
}

func newSubmitCmd(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit [DESCRIPTION]",
		Short: "Analyze a domain description",
		Long:  "Sends the domain description to the generation service. Use --file to read it from disk, or - for stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, err := descriptionInput(cmd, args, file)
			if err != nil {
				return err
			}
			return opts.run(cmd, "Analyzing domain...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.SubmitDomainDescription(ctx, description)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the description from a file (- for stdin)")
	return cmd
}

func descriptionInput(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", errors.New("pass either a description or --file, not both")
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read description: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", errors.New("a description or --file is required")
}

func newImageCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "image PATH",
		Short: "Analyze an uploaded domain image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			if info.Size() > orchestration.MaxImageBytes {
				return fmt.Errorf("image is %d bytes, the limit is %d", info.Size(), orchestration.MaxImageBytes)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			img := models.Image{
				Name: filepath.Base(args[0]),
				Type: http.DetectContentType(data),
				Data: data,
			}
			return opts.run(cmd, "Analyzing image...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.AnalyzeUploadedImage(ctx, img)
			})
		},
	}
}

func newContextsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "Generate the business context analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "Generating bounded contexts...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.GenerateBoundedContexts(ctx)
			})
		},
	}
}

func newDiagramCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Generate the ASCII architecture diagram",
		Long:  "Serves the cached diagram when it still matches the current analysis. Use --force to regenerate.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "Generating diagram...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				if force {
					return o.GenerateASCIIDiagram(ctx)
				}
				return o.EnsureASCIIDiagram(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even when a cached diagram is valid")
	return cmd
}

func newOpenAPICmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "Generating OpenAPI specification...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.GenerateOpenAPISpec(ctx)
			})
		},
	}
}

func newSecurityCmd(opts *globalOptions) *cobra.Command {
	var options []string

	cmd := &cobra.Command{
		Use:   "security",
		Short: "Generate security specifications for the current OpenAPI spec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseOptions(options)
			if err != nil {
				return err
			}
			return opts.run(cmd, "Generating security specifications...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.GenerateSecuritySpecs(ctx, parsed)
			})
		},
	}
	cmd.Flags().StringArrayVar(&options, "option", nil, "Security option as key=value (repeatable)")
	return cmd
}

// parseOptions turns key=value pairs into an options map. "true" and "false"
// become booleans.
func parseOptions(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		switch value {
		case "true":
			out[key] = true
		case "false":
			out[key] = false
		default:
			out[key] = value
		}
	}
	return out, nil
}

func newStageCmd(opts *globalOptions) *cobra.Command {
	var stages []string
	for _, s := range models.Stages {
		stages = append(stages, string(s))
	}

	return &cobra.Command{
		Use:       "stage STAGE",
		Short:     "Navigate to another stage",
		Long:      "Navigates to one of: " + strings.Join(stages, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: stages,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := models.ParseStage(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, "Navigating...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.GoToStage(ctx, target)
			})
		},
	}
}

func newEditCmd(opts *globalOptions) *cobra.Command {
	var (
		prompt          string
		domainAnalysis  string
		businessContext string
		invalidate      bool
	)

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the prompt, domain analysis or business context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("prompt") && !flags.Changed("domain-analysis") && !flags.Changed("business-context") {
				return errors.New("nothing to edit")
			}
			return opts.run(cmd, "Applying edits...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				var st models.WorkflowState
				if flags.Changed("prompt") {
					if st = o.EditPrompt(ctx, prompt); st.Error != nil {
						return st
					}
				}
				if flags.Changed("domain-analysis") {
					if st = o.EditDomainAnalysis(ctx, domainAnalysis); st.Error != nil {
						return st
					}
				}
				if flags.Changed("business-context") {
					if st = o.EditBusinessContext(ctx, businessContext); st.Error != nil {
						return st
					}
				}
				if invalidate {
					st = o.InvalidateStaleArtifacts(ctx)
				}
				return st
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Replace the domain description")
	cmd.Flags().StringVar(&domainAnalysis, "domain-analysis", "", "Replace the domain analysis text")
	cmd.Flags().StringVar(&businessContext, "business-context", "", "Replace the business context text")
	cmd.Flags().BoolVar(&invalidate, "invalidate", false, "Evict derived artifacts that no longer match their inputs")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted workflow state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := opts.orchestrator(cmd)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), o.Snapshot(), opts.output)
		},
	}
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear all workflow state for the scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "Resetting...", func(ctx context.Context, o *orchestration.Orchestrator) models.WorkflowState {
				return o.ResetWorkflow(ctx)
			})
		},
	}
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		userID   string
		username string
		secret   string
		roles    []string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a gateway access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.output); err != nil {
				return err
			}
			jm, err := auth.NewJWTManager(secret)
			if err != nil {
				return fmt.Errorf("--secret or JWT_SECRET is required: %w", err)
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			if username == "" {
				username = userID
			}

			token, err := jm.GenerateToken(cmd.Context(), userID, username, roles, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			resp := models.TokenResponse{
				Token:     token,
				UserID:    userID,
				ExpiresAt: time.Now().Add(ttl).UTC(),
			}
			if opts.output == formatHuman {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			}
			return printValue(cmd.OutOrStdout(), resp, opts.output)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (random when empty)")
	cmd.Flags().StringVar(&username, "username", "", "Display name (defaults to the user id)")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
