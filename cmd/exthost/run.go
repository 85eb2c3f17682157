package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/infrastructure/connectors"
)

var runFormats = []string{"table", "json", "yaml"}

func newRunCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	opts.Timeout = 0

	cmd := &cobra.Command{
		Use:   "run <extension-dir>...",
		Short: "Load extensions and serve their hostcalls until interrupted",
		Long: `Load each extension directory, applying load-time repairs where the
configured mode allows, then drive the hostcall loop until interrupted or
until --timeout elapses. Load statuses are printed before the loop starts and
per-extension hostcall counters when it ends.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.ValidateFlags(runFormats...)
		},
		RunE: withContainer(func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			return runExtensions(cc, cmd, &opts, args)
		}),
	}
	opts.RegisterFlags(cmd, runFormats...)
	return cmd
}

func runExtensions(cc *CommandContext, cmd *cobra.Command, opts *CommonOptions, roots []string) error {
	ctx, stop := signal.NotifyContext(cc.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := opts.ApplyToContext(ctx)
	defer cancel()

	manager := cc.Container.Manager()
	loaded := 0
	for _, root := range roots {
		status, err := manager.Load(ctx, root)
		if err != nil {
			cc.Logger.Error("extension failed to load", "root", root, "error", cc.Container.Redactor().SafeError(err))
			continue
		}
		if status.State == entities.StateActive {
			loaded++
		}
	}
	if err := opts.Write(cmd.OutOrStdout(), manager.Statuses()); err != nil {
		return err
	}
	if loaded == 0 {
		return errors.New("no extension loaded")
	}

	go logNotifications(ctx, cc, cc.Container.UI())

	cc.Logger.Info("serving hostcalls", "extensions", loaded)
	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("hostcall loop failed: %w", err)
	}

	if dropped := cc.Container.UI().Dropped(); dropped > 0 {
		cc.Logger.Warn("ui notifications dropped", "count", dropped)
	}
	return opts.Write(cmd.OutOrStdout(), manager.Stats())
}

// logNotifications stands in for a frontend: fire-and-forget ui updates are
// logged as they arrive.
func logNotifications(ctx context.Context, cc *CommandContext, ui *connectors.UIConnector) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ui.Notifications():
			cc.Logger.Info("ui", "extension", n.Extension, "op", n.Op, "payload", string(n.Payload))
		}
	}
}
