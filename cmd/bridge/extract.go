package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wirewarp/robot-bridge/internal/command"
	"github.com/wirewarp/robot-bridge/internal/llm"
)

var (
	extractMode     string
	extractDispatch bool
	extractAddress  string

	predictImage    string
	predictDispatch bool
	predictAddress  string
)

var extractCmd = &cobra.Command{
	Use:   "extract [text...]",
	Short: "Show the action a piece of AI text would produce",
	Long:  "Reads text from the arguments, or from stdin when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if len(args) == 0 {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(raw)
		}

		var strategy command.Strategy
		switch extractMode {
		case "json":
			strategy = command.ExtractJSONAction
		case "keyword":
			strategy = command.KeywordStrategy
		default:
			return fmt.Errorf("unknown --mode %q (must be json or keyword)", extractMode)
		}
		return extractAndMaybeSend(cmd, strategy, text, extractDispatch, extractAddress)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Ask the local model for the robot's next action",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var image []byte
		if predictImage != "" {
			var err error
			if image, err = os.ReadFile(predictImage); err != nil {
				return fmt.Errorf("read image: %w", err)
			}
		}
		client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
		text, err := client.Predict(cmd.Context(), image)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "model: %s\n", strings.TrimSpace(text))
		return extractAndMaybeSend(cmd, command.ExtractJSONAction, text, predictDispatch, predictAddress)
	},
}

func extractAndMaybeSend(cmd *cobra.Command, strategy command.Strategy, text string, send bool, address string) error {
	action, err := strategy(text)
	switch {
	case errors.Is(err, command.ErrNoCommand):
		fmt.Fprintln(cmd.OutOrStdout(), "no command")
		return nil
	case err != nil:
		fmt.Fprintf(cmd.OutOrStdout(), "no command (%v)\n", err)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "action: %s\n", action)
	if !send {
		return nil
	}
	res := newRobotClient().Send(cmd.Context(), robotAddress(address), action)
	printResult(cmd, res)
	if !res.Success {
		return fmt.Errorf("robot did not accept %s", action)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(extractCmd, predictCmd)
	extractCmd.Flags().StringVar(&extractMode, "mode", "json", "Extraction: json or keyword")
	extractCmd.Flags().BoolVar(&extractDispatch, "dispatch", false, "Send the extracted action to the robot")
	extractCmd.Flags().StringVar(&extractAddress, "address", "", "Robot address (default: configured robot)")

	predictCmd.Flags().StringVar(&predictImage, "image", "", "Image of the robot's current state")
	predictCmd.Flags().BoolVar(&predictDispatch, "dispatch", false, "Send the predicted action to the robot")
	predictCmd.Flags().StringVar(&predictAddress, "address", "", "Robot address (default: configured robot)")
}
