package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/saimiris/internal/agent"
	"github.com/malbeclabs/saimiris/internal/config"
)

func newAgentCmd(verbose *bool) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the saimiris probing agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			a, err := agent.New(*cfg, log)
			if err != nil {
				return fmt.Errorf("creating agent: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log.Info("agent starting", "agent_id", cfg.Agent.ID, "instances", len(cfg.Caracat))
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("agent run: %w", err)
			}
			log.Info("agent stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the agent's YAML configuration file")
	return cmd
}
