package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inventariagent/internal/enforce"
	"inventariagent/internal/model"
	"inventariagent/internal/policy"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inventariagent",
		Short:         "Workstation agent: hardware incidents and application blocking",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runAgentCmd,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path to config.json")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the monitoring and enforcement loops until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runAgentCmd,
		},
		&cobra.Command{
			Use:   "classify <exe> [cmdline...]",
			Short: "Show how the application policy classifies a process, without killing it",
			Args:  cobra.MinimumNArgs(1),
			RunE:  classifyCmd,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE:  showConfigCmd,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the agent version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "inventariagent", version)
			},
		},
	)
	return root
}

func runAgentCmd(cmd *cobra.Command, _ []string) error {
	setupLogger()
	defer closeLogger()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Config load failed", "err", err)
		return err
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := InitApp(ctx, cfg)
	if err != nil {
		slog.Error("Startup failed", "err", err)
		return err
	}
	defer app.Close()
	registerDevice(ctx, app)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	slog.Info("Agent started", "version", version, "device", cfg.DeviceID, "store", cfg.Store.Backend)
	err = runApp(ctx, app, hup)
	if err != nil {
		slog.Error("Agent stopped with error", "err", err)
		return err
	}
	slog.Info("Agent stopped")
	return nil
}

// runApp runs every loop until ctx is done or one of them fails.
func runApp(ctx context.Context, app *AppContext, reload <-chan os.Signal) error {
	cfg := app.Config
	if err := app.Policy.Load(cfg.PolicyFile); err != nil && !errors.Is(err, policy.ErrEmptyPolicy) {
		slog.Warn("Application policy unavailable, nothing will be blocked until it loads", "file", cfg.PolicyFile)
	}

	g, gctx := errgroup.WithContext(ctx)

	var pool *enforce.Pool
	if cfg.Enforcement.Enabled {
		pool = enforce.NewPool(app.Enforcer, cfg.Enforcement.Workers, cfg.Enforcement.QueueSize, nil)
		g.Go(func() error { return runProcessWatch(gctx, app, pool) })
		if reload != nil {
			g.Go(func() error {
				reloadPolicyLoop(gctx, app, reload)
				return nil
			})
		}
	} else {
		slog.Warn("Application blocking disabled")
	}

	g.Go(func() error { return runMetricsLoop(gctx, app) })

	if cfg.MetricsServer.Enabled {
		g.Go(func() error { return serveStatus(gctx, app) })
	}

	err := g.Wait()
	if pool != nil {
		pool.Close()
	}
	return err
}

func classifyCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	holder := policy.NewHolder(slog.Default())
	if err := holder.Load(cfg.PolicyFile); err != nil && !errors.Is(err, policy.ErrEmptyPolicy) {
		return fmt.Errorf("load policy %s: %w", cfg.PolicyFile, err)
	}

	obs := model.ProcessObservation{Name: args[0], Cmdline: strings.Join(args[1:], " ")}
	d := holder.Classify(obs)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "verdict:  %s\n", d.Verdict)
	fmt.Fprintf(out, "name:     %s\n", d.Name)
	if d.Category != "" {
		fmt.Fprintf(out, "category: %s\n", d.Category)
	}
	fmt.Fprintf(out, "reason:   %s\n", d.Reason)
	return nil
}

func showConfigCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	text, err := getConfigJSONSafe(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
