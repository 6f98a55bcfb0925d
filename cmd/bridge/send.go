package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wirewarp/robot-bridge/internal/command"
)

var sendAddress string

var sendCmd = &cobra.Command{
	Use:   "send <action>",
	Short: "Send one action to the robot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := command.Action(strings.TrimSpace(args[0]))
		res := newRobotClient().Send(cmd.Context(), robotAddress(sendAddress), action)
		printResult(cmd, res)
		if !res.Success {
			return fmt.Errorf("robot did not accept %s", action)
		}
		return nil
	},
}

var (
	testActionsAddress string
	testActionsDelay   time.Duration
)

var testActionsCmd = &cobra.Command{
	Use:   "test-actions",
	Short: "Send every known robot action in turn",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		client := newRobotClient()
		address := robotAddress(testActionsAddress)

		failed := 0
		for i, action := range command.RobotActions {
			res := client.Send(ctx, address, action)
			printResult(cmd, res)
			if !res.Success {
				failed++
			}
			if i == len(command.RobotActions)-1 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(testActionsDelay):
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d actions failed", failed, len(command.RobotActions))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd, testActionsCmd)
	sendCmd.Flags().StringVar(&sendAddress, "address", "", "Robot address (default: configured robot)")
	testActionsCmd.Flags().StringVar(&testActionsAddress, "address", "", "Robot address (default: configured robot)")
	testActionsCmd.Flags().DurationVar(&testActionsDelay, "delay", 3*time.Second, "Pause between actions")
}
