package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/config"
	"github.com/wirewarp/robot-bridge/internal/logging"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

var (
	cfgPath   string
	logLevel  string
	logFormat string

	// Set by the root PersistentPreRunE for every subcommand.
	cfg       *config.Config
	cfgExists bool
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "robot-bridge",
	Short:         "Turn local LLM responses into robot commands",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgPath)
		switch {
		case err == nil:
			cfg, cfgExists = loaded, true
		case errors.Is(err, os.ErrNotExist):
			cfg, cfgExists = config.Default(), false
		default:
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger, err = logging.New(level, logFormat)
		if err != nil {
			return err
		}
		if !cfgExists {
			logger.Debug("no config file, using defaults", zap.String("path", cfgPath))
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Path to bridge config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log encoding: console or json")
}

func newRobotClient() *robot.Client {
	return robot.NewClient(robot.Options{
		Port:           cfg.Robot.Port,
		ConnectTimeout: cfg.Robot.ConnectTimeout,
		ReadTimeout:    cfg.Robot.ReadTimeout,
	}, logger)
}

// robotAddress returns the --address flag value, or the configured robot.
func robotAddress(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Robot.Address
}

func printResult(cmd *cobra.Command, res robot.Result) {
	if res.Success {
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: ok", res.Action, res.Address)
		if res.Message != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", res.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: failed [%s]", res.Action, res.Address, res.Reason)
	if res.Err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), ": %v", res.Err)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
