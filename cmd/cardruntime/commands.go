package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/sandbox"
)

// bindServerFlags lets flags override the environment
func bindServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Listen host (overrides HOST)")
	cmd.Flags().String("port", "", "Listen port (overrides PORT)")
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Server.Host = v
	}
	if v, _ := cmd.Flags().GetString("port"); v != "" {
		cfg.Server.Port = v
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyServerFlags(cmd, cfg)
			if v, _ := cmd.Flags().GetString("cards-dir"); v != "" {
				cfg.Server.CardsDir = v
			}
			if v, _ := cmd.Flags().GetString("worker-url"); v != "" {
				cfg.Runtime.Mode = config.RuntimeRemote
				cfg.Runtime.WorkerURL = v
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			srv, err := server.NewServer(ctx, cfg, server.Options{})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer srv.Close()
			return srv.Run(ctx)
		},
	}
	bindServerFlags(cmd)
	cmd.Flags().String("cards-dir", "", "Directory with cards/**/*.js runtime cards (overrides CARDS_DIR)")
	cmd.Flags().String("worker-url", "", "Run scripts on a remote worker at this WebSocket URL")
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a sandbox worker reachable over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyServerFlags(cmd, cfg)

			ctx, stop := signalContext(cmd)
			defer stop()

			w := server.NewWorker(cfg, server.Options{})
			defer w.Close()
			return w.Run(ctx)
		},
	}
	bindServerFlags(cmd)
	return cmd
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <stack-dir> <card-id>",
		Short: "Load a stack from disk and print one card's UI tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handler, _ := cmd.Flags().GetString("event")
			rawArgs, _ := cmd.Flags().GetString("args")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runRender(cmd, args[0], args[1], handler, rawArgs, verbose)
		},
	}
	cmd.Flags().String("event", "", "Run this handler before rendering")
	cmd.Flags().String("args", "", "JSON arguments for --event")
	cmd.Flags().Bool("verbose", false, "Log runtime activity to stderr")
	return cmd
}

func runRender(cmd *cobra.Command, dir, cardID, handler, rawArgs string, verbose bool) error {
	logger := &logging.Logger{Logger: zap.NewNop()}
	if verbose {
		logger = logging.NewDevelopment()
	}
	defer logger.Sync()

	stack, err := bundle.Load(dir)
	if err != nil {
		return err
	}

	cfg := config.LoadOrDefault()
	engine := sandbox.NewEngine(server.SandboxConfig(cfg.Sandbox), logger.Component("sandbox"))
	defer engine.Close()

	store := session.NewStore(session.WithLogger(logger.Component("store")))
	reg := registry.NewManager()
	if stack.Manifest.Cards != "" {
		if _, err := bundle.SeedCards(os.DirFS(dir), stack.Manifest.Cards, reg, logger.Component("bundle")); err != nil {
			return err
		}
	}
	service := host.NewService(engine, store, router.New(store, router.NewRecordingDispatcher(), nil), reg,
		host.DefaultConfig(), logger.Component("host"))
	defer service.Close()

	ctx := cmd.Context()
	res, err := service.Load(ctx, host.LoadRequest{
		StackID:      stack.Manifest.ID,
		Source:       stack.Source,
		Capabilities: &stack.Manifest.Capabilities,
	})
	if err != nil {
		return err
	}
	sessionID := res.Meta.SessionID

	out := map[string]interface{}{"session": res.Meta}
	if handler != "" {
		var eventArgs interface{}
		if rawArgs != "" {
			if err := sonic.UnmarshalString(rawArgs, &eventArgs); err != nil {
				return fmt.Errorf("invalid --args: %w", err)
			}
		}
		event, err := service.Event(ctx, sessionID, cardID, handler, eventArgs)
		if err != nil {
			return err
		}
		out["event"] = event
	}

	tree, err := service.Render(ctx, sessionID, cardID)
	if err != nil {
		return err
	}
	out["tree"] = tree

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
