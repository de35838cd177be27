package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/config"
	"snipbridge/internal/orchestrator"
)

type runOptions struct {
	message string
	theme   string
	json    bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	runOpts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create an agent with the snippet tools, run one message and clean up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runOrchestration(cmd.Context(), cfg, runOpts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&runOpts.message, "message", "m", "", "User message (overrides run.user_message)")
	cmd.Flags().StringVar(&runOpts.theme, "theme", "", "Output theme: dark, light or plain (overrides run.theme)")
	cmd.Flags().BoolVar(&runOpts.json, "json", false, "Print the run report as JSON")
	return cmd
}

func runOrchestration(ctx context.Context, cfg config.Config, runOpts *runOptions, out io.Writer) error {
	if err := cfg.RequireToolKey(); err != nil {
		return err
	}
	settings, err := cfg.RunSettings()
	if err != nil {
		return err
	}
	logger := newLogger(logOutput, cfg)

	client, err := agentrun.NewClient(agentrun.ClientConfig{
		Endpoint: cfg.AgentService.Endpoint,
		APIKey:   cfg.AgentService.APIKey,
	})
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(client, orchestrator.Config{
		Model:           cfg.AgentService.Model,
		ToolLabel:       cfg.Tool.Label,
		ToolURL:         cfg.Tool.URL,
		ToolKey:         cfg.Tool.Key,
		PollInterval:    settings.PollInterval,
		MaxPollAttempts: settings.MaxPollAttempts,
		Logger:          logger.With("component", "orchestrator"),
	})
	if err != nil {
		return err
	}

	message := cfg.Run.UserMessage
	if m := strings.TrimSpace(runOpts.message); m != "" {
		message = m
	}

	runCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()

	report, runErr := orch.Run(runCtx, message)
	if report != nil {
		if err := writeReport(out, report, cfg.Run.Theme, runOpts); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return orchestrator.CheckCompleted(report)
}

func writeReport(out io.Writer, report *orchestrator.Report, configTheme string, runOpts *runOptions) error {
	if runOpts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	}
	theme := configTheme
	if runOpts.theme != "" {
		theme = runOpts.theme
	}
	_, err := io.WriteString(out, orchestrator.Render(report, orchestrator.ResolveTheme(theme)))
	return err
}
