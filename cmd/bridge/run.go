package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wirewarp/robot-bridge/internal/config"
	"github.com/wirewarp/robot-bridge/internal/dispatch"
	"github.com/wirewarp/robot-bridge/internal/handlers"
	"github.com/wirewarp/robot-bridge/internal/llm"
	"github.com/wirewarp/robot-bridge/internal/robot"
	wsclient "github.com/wirewarp/robot-bridge/internal/websocket"
)

var (
	runURL   string
	runStdin bool
	runMode  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch AI responses and forward extracted actions to the robot",
	Long: `Connects to the chat surface's control channel and forwards every action
found in a completed AI response to the configured robot. With --stdin, each
input line is treated as one completed response instead.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runURL, "url", "", "Control channel URL (e.g. ws://10.0.0.2:9000); saved on first run")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read responses from stdin, one per line")
	runCmd.Flags().StringVar(&runMode, "mode", "json", "Extraction for --stdin lines: json or keyword")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if !runStdin {
		if err := bootstrap(); err != nil {
			return err
		}
	}
	if runMode != "json" && runMode != "keyword" {
		return fmt.Errorf("unknown --mode %q (must be json or keyword)", runMode)
	}

	logger.Info("starting robot bridge",
		zap.String("robot_address", cfg.Robot.Address),
		zap.String("policy", cfg.Dispatch.Policy))

	queue := dispatch.New(ctx, newRobotClient(), dispatch.Options{
		Policy:      cfg.Dispatch.Policy,
		MinInterval: cfg.Dispatch.MinInterval,
	}, logger)
	predictor := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)

	path := ""
	if cfgExists {
		path = cfgPath
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	var bridge *handlers.Bridge
	if runStdin {
		var printMu sync.Mutex
		bridge = handlers.NewBridge(cfg, path, queue, logger,
			handlers.WithPredictor(predictor),
			handlers.WithResultHook(func(res robot.Result) {
				printMu.Lock()
				defer printMu.Unlock()
				printResult(cmd, res)
			}))
		g.Go(func() error {
			defer stop()
			return readResponses(gctx, cmd.InOrStdin(), bridge)
		})
	} else {
		client := wsclient.New(cfg.ControlURL, cfg.BridgeID, logger)
		bridge = handlers.NewBridge(cfg, path, queue, logger,
			handlers.WithPredictor(predictor),
			handlers.WithResultHook(client.ReportResult))
		bridge.Register(client.Exec())
		g.Go(func() error {
			client.Run(gctx)
			return nil
		})
	}

	if cfgExists {
		g.Go(func() error {
			if err := config.Watch(gctx, cfgPath, logger, bridge.ApplyConfig); err != nil {
				logger.Warn("config hot reload disabled", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	queue.Close()
	bridge.Wait()
	logger.Info("bridge stopped")
	return err
}

// bootstrap fills in the control URL and bridge id on first run and saves
// them, so later runs need no flags.
func bootstrap() error {
	if runURL != "" {
		cfg.ControlURL = runURL
	}
	if cfg.ControlURL == "" {
		return errors.New("no control channel configured: pass --url (or --stdin)")
	}
	if cfg.BridgeID != "" && runURL == "" {
		return nil
	}
	if cfg.BridgeID == "" {
		cfg.BridgeID = uuid.NewString()
	}
	if err := cfg.Save(cfgPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	cfgExists = true
	logger.Info("config saved", zap.String("path", cfgPath), zap.String("bridge_id", cfg.BridgeID))
	return nil
}

// readResponses feeds each stdin line to the bridge until EOF or ctx ends.
func readResponses(ctx context.Context, r io.Reader, bridge *handlers.Bridge) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64<<10), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if runMode == "keyword" {
				bridge.HandleUserMessage(line)
			} else {
				bridge.HandleAIResponse(line)
			}
		}
	}
}
