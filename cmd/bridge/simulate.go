package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/command"
	"github.com/wirewarp/robot-bridge/internal/simulator"
)

var (
	simulateListen   string
	simulateMovement bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a fake robot that accepts the firmware's actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var extra []command.Action
		if simulateMovement {
			extra = []command.Action{
				command.Forward, command.Backward, command.Left, command.Right,
				command.Stop, command.RotateCW, command.RotateCCW,
			}
		}
		sim := simulator.New(logger, extra...)
		srv := &http.Server{
			Addr:              simulateListen,
			Handler:           sim.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.Info("simulated robot listening", zap.String("addr", simulateListen))

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cmd.Context().Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		received := sim.Received()
		names := make([]string, len(received))
		for i, a := range received {
			names[i] = string(a)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "executed %d actions: %s\n", len(received), strings.Join(names, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateListen, "listen", ":8080", "Listen address")
	simulateCmd.Flags().BoolVar(&simulateMovement, "movement", false, "Also accept the keyword movement tokens")
}
