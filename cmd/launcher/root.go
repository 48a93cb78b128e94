package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/botlauncher/launcher/internal/app"
	"github.com/botlauncher/launcher/internal/config"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/paths"
	"github.com/botlauncher/launcher/internal/quicklaunch"
)

var (
	configPath string
	debug      bool

	cfg    *config.Config
	layout paths.Layout
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "launcher [quick-launch]",
	Short: "Start bot clients locally or on your other machines",
	Long: `Runs the launcher: performs an optional quick launch, then listens for
remote launch commands and serves the local control API until interrupted.

The quick-launch argument may be a path to a JSON file, base64 encoded JSON
or an http(s) URL returning JSON.`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runLauncher,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("BOTLAUNCHER_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose logging to stderr")
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if debug {
		cfg.Debug = true
	}

	home, err := cfg.HomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	layout = paths.New(home, runtime.GOOS)
	if err := layout.Ensure(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = layout.LogDir()
	}

	logger, err = config.NewLogger(cfg, "launcher")
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

// openApp builds the application and mirrors its user-facing events to
// the terminal.
func openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cfg, layout, logger)
	if err != nil {
		return nil, err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	a.Events().Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case events.Log:
			fmt.Fprintln(out, ev.Message)
		case events.Error:
			fmt.Fprintln(errOut, "error:", ev.Message)
		case events.ConnectionChanged:
			if ev.Connected {
				fmt.Fprintln(out, "Connected to the launcher service.")
			}
		case events.PeerDiscovered:
			fmt.Fprintf(out, "Found launcher %s on %s (%s, %s)\n", ev.Peer.Identifier, ev.Peer.Host, ev.Peer.Type, ev.Peer.IP)
		}
	})
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runLauncher(cmd *cobra.Command, args []string) error {
	logger.Info("starting launcher",
		"version", config.Version,
		"build_time", config.BuildTime,
		"debug", cfg.Debug,
	)

	var quickArg string
	if rest := quicklaunch.Args(append([]string{"launcher"}, args...)); len(rest) > 0 {
		quickArg = rest[0]
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := a.Run(ctx, quickArg); err != nil {
		logger.Error("launcher exited with error", "err", err)
		return err
	}
	logger.Info("launcher stopped cleanly")
	return nil
}
