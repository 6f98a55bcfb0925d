// Package handlers wires chat-surface commands to extraction and robot dispatch.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/command"
	"github.com/wirewarp/robot-bridge/internal/config"
	"github.com/wirewarp/robot-bridge/internal/executor"
	"github.com/wirewarp/robot-bridge/internal/llm"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

// Submitter queues a command for delivery. *dispatch.Queue implements it.
type Submitter interface {
	Submit(address string, action command.Action) <-chan robot.Result
}

// Predictor asks a model for the robot's next action. *llm.Client implements it.
type Predictor interface {
	Predict(ctx context.Context, image []byte) (string, error)
}

// Bridge holds the configured robot address and turns AI and user messages
// into queued robot commands.
type Bridge struct {
	mu      sync.RWMutex
	cfg     *config.Config
	cfgPath string

	queue     Submitter
	predictor Predictor
	onResult  func(robot.Result)
	logger    *zap.Logger

	wg sync.WaitGroup
}

type Option func(*Bridge)

// WithPredictor enables the predict command.
func WithPredictor(p Predictor) Option {
	return func(b *Bridge) { b.predictor = p }
}

// WithResultHook is called once per dispatched command with its outcome.
func WithResultHook(fn func(robot.Result)) Option {
	return func(b *Bridge) { b.onResult = fn }
}

// NewBridge returns a handler set. cfgPath may be empty, in which case
// address changes are kept in memory only.
func NewBridge(cfg *config.Config, cfgPath string, queue Submitter, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		cfgPath: cfgPath,
		queue:   queue,
		logger:  logger.Named("bridge"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register binds all bridge command handlers onto the given executor.
func (b *Bridge) Register(exec *executor.Executor) {
	exec.Register("ai_response", b.handleAIResponse)
	exec.Register("user_message", b.handleUserMessage)
	exec.Register("robot_command", b.handleRobotCommand)
	exec.Register("set_robot_address", b.handleSetAddress)
	exec.Register("prediction_prompt", b.handlePredictionPrompt)
	exec.Register("predict", b.handlePredict)
}

// Address is the robot commands currently go to.
func (b *Bridge) Address() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Robot.Address
}

// ApplyConfig adopts a config reloaded from disk.
func (b *Bridge) ApplyConfig(cfg *config.Config) {
	b.mu.Lock()
	prev := b.cfg.Robot.Address
	b.cfg = cfg
	b.mu.Unlock()
	if prev != cfg.Robot.Address {
		b.logger.Info("robot address changed", zap.String("from", prev), zap.String("to", cfg.Robot.Address))
	}
}

// Wait blocks until every result hook and prediction started so far has run.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// HandleAIResponse looks for a JSON action in a completed AI message and
// queues it. It reports whether a command was queued.
func (b *Bridge) HandleAIResponse(content string) (command.Action, bool) {
	var (
		queued command.Action
		ok     bool
	)
	command.ExtractAndSendJSONAction(b.logger, content, b.Address(), func(address string, action command.Action) {
		b.submit(address, action)
		queued, ok = action, true
	})
	return queued, ok
}

// HandleUserMessage runs the keyword classifier over text the user typed and
// queues the movement it names, if any.
func (b *Bridge) HandleUserMessage(content string) (command.Action, bool) {
	action, ok := command.ExtractMovementCommand(content)
	if !ok {
		return "", false
	}
	b.logger.Debug("direct command from user message", zap.String("action", string(action)))
	b.submit(b.Address(), action)
	return action, true
}

func (b *Bridge) submit(address string, action command.Action) {
	ch := b.queue.Submit(address, action)
	if b.onResult == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.onResult(<-ch)
	}()
}

// --- command handlers ---

type aiResponseParams struct {
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
}

func (b *Bridge) handleAIResponse(_ context.Context, raw json.RawMessage) (string, error) {
	var p aiResponseParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("parse params: %w", err)
	}
	// Only complete messages count; partial output may hold half an object.
	if p.Streaming || strings.TrimSpace(p.Content) == "" {
		return "ignored: response incomplete", nil
	}
	action, ok := b.HandleAIResponse(p.Content)
	if !ok {
		return "no action found", nil
	}
	return fmt.Sprintf("queued %s for %s", action, b.Address()), nil
}

type userMessageParams struct {
	Content string `json:"content"`
}

func (b *Bridge) handleUserMessage(_ context.Context, raw json.RawMessage) (string, error) {
	var p userMessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("parse params: %w", err)
	}
	action, ok := b.HandleUserMessage(p.Content)
	if !ok {
		return "no movement command found", nil
	}
	return fmt.Sprintf("queued %s for %s", action, b.Address()), nil
}

type robotCommandParams struct {
	Action  string `json:"action"`
	Address string `json:"address"`
}

func (b *Bridge) handleRobotCommand(_ context.Context, raw json.RawMessage) (string, error) {
	var p robotCommandParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("parse params: %w", err)
	}
	action := strings.TrimSpace(p.Action)
	if action == "" {
		return "", errors.New("action is required")
	}
	address := strings.TrimSpace(p.Address)
	if address == "" {
		address = b.Address()
	}
	b.submit(address, command.Action(action))
	return fmt.Sprintf("queued %s for %s", action, address), nil
}

type setAddressParams struct {
	Address string `json:"address"`
}

func (b *Bridge) handleSetAddress(_ context.Context, raw json.RawMessage) (string, error) {
	var p setAddressParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("parse params: %w", err)
	}
	address := strings.TrimSpace(p.Address)
	if address == "" {
		return "", errors.New("address is required")
	}

	b.mu.Lock()
	next := *b.cfg
	next.Robot.Address = address
	b.cfg = &next
	b.mu.Unlock()

	if b.cfgPath != "" {
		if err := next.Save(b.cfgPath); err != nil {
			b.logger.Warn("failed to save config after address change", zap.Error(err))
		}
	}
	b.logger.Info("robot address set", zap.String("address", address))
	return fmt.Sprintf("robot address set to %s", address), nil
}

func (b *Bridge) handlePredictionPrompt(context.Context, json.RawMessage) (string, error) {
	return llm.PredictionPrompt, nil
}

type predictParams struct {
	Image string `json:"image"` // base64, optional
}

func (b *Bridge) handlePredict(ctx context.Context, raw json.RawMessage) (string, error) {
	if b.predictor == nil {
		return "", errors.New("no model configured")
	}
	var p predictParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", fmt.Errorf("parse params: %w", err)
		}
	}
	var image []byte
	if p.Image != "" {
		var err error
		if image, err = base64.StdEncoding.DecodeString(p.Image); err != nil {
			return "", fmt.Errorf("decode image: %w", err)
		}
	}

	// Generation can take tens of seconds; keep the command loop free.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		text, err := b.predictor.Predict(ctx, image)
		if err != nil {
			b.logger.Warn("prediction failed", zap.Error(err))
			return
		}
		b.logger.Debug("prediction received", zap.String("text", text))
		b.HandleAIResponse(text)
	}()
	return "prediction requested", nil
}
