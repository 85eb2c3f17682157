package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/exthost/internal/infrastructure/container"
	"github.com/reglet-dev/exthost/internal/version"
)

// CommandContext provides common command dependencies.
type CommandContext struct {
	Container *container.Container
	Logger    *slog.Logger
	Context   context.Context
}

// CommandHandler is a function that executes with initialized dependencies.
type CommandHandler func(*CommandContext, *cobra.Command, []string) error

// withContainer wraps a command handler with container initialization and
// tears the container down when the handler returns.
func withContainer(handler CommandHandler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		c, err := container.New(ctx, containerOptions(logger))
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer func() {
			if err := c.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
			}
		}()

		return handler(&CommandContext{
			Container: c,
			Logger:    logger,
			Context:   ctx,
		}, cmd, args)
	}
}

// containerOptions reads the global settings from flags, the CLI config file
// and EXTHOST_* environment variables.
func containerOptions(logger *slog.Logger) container.Options {
	return container.Options{
		Logger:           logger,
		SystemConfigPath: viper.GetString("system_config"),
		SecurityLevel:    viper.GetString("security_level"),
		TrustAll:         viper.GetBool("trust_all"),
		HostVersion:      version.Get().String(),
	}
}
