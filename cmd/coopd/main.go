// coopd runs a chicken coop device: camera counting, live streaming to the
// companion app, and feed/water control.
//
// Usage:
//
//	coopd run --config configs/coopd.yaml
//	coopd validate --config configs/coopd.yaml
//	coopd version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/coop-sensor/internal/config"
	"github.com/e7canasta/coop-sensor/internal/core"
)

const defaultConfigPath = "configs/coopd.yaml"

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

var (
	configPath string
	debug      bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "coopd",
	Short:         "Chicken coop device daemon",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the vision, relay and control workers",
	RunE:  runDevice,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and print it with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s is valid\n%s", configPath, out)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coopd %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json or text")

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}

func setupLogger() error {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("unknown log format %q (must be 'json' or 'text')", logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	slog.Info("starting coopd",
		"version", Version,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	device, err := core.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	if err := device.Run(ctx); err != nil {
		return err
	}
	slog.Info("coopd stopped successfully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, core.ErrUnhealthy) {
			slog.Error("device stopped unhealthy", "error", err)
		} else {
			slog.Error("coopd failed", "error", err)
		}
		os.Exit(1)
	}
}
