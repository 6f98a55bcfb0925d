package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Command is a message received from the chat surface.
type Command struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// Result is sent back to the chat surface after executing a command.
type Result struct {
	CommandID string `json:"command_id"`
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
}

// Handler executes a command and returns output or an error.
type Handler func(ctx context.Context, params json.RawMessage) (string, error)

// Executor dispatches incoming commands to registered handlers.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	send     func(Result) error
	logger   *zap.Logger
}

func New(send func(Result) error, logger *zap.Logger) *Executor {
	return &Executor{
		handlers: make(map[string]Handler),
		send:     send,
		logger:   logger.Named("executor"),
	}
}

func (e *Executor) Register(commandType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[commandType] = h
}

// Types lists the registered command types.
func (e *Executor) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	return out
}

func (e *Executor) Dispatch(ctx context.Context, cmd Command) {
	e.mu.RLock()
	h, ok := e.handlers[cmd.Type]
	e.mu.RUnlock()

	log := e.logger.With(zap.String("type", cmd.Type), zap.String("id", cmd.ID))
	if !ok {
		log.Warn("unknown command type")
		e.reply(log, Result{
			CommandID: cmd.ID,
			Type:      "command_result",
			Success:   false,
			Output:    fmt.Sprintf("unknown command type: %s", cmd.Type),
		})
		return
	}

	output, err := h(ctx, cmd.Params)
	result := Result{
		CommandID: cmd.ID,
		Type:      "command_result",
		Success:   err == nil,
		Output:    output,
	}
	if err != nil {
		result.Output = err.Error()
		log.Warn("command failed", zap.Error(err))
	} else {
		log.Debug("command succeeded")
	}
	e.reply(log, result)
}

func (e *Executor) reply(log *zap.Logger, result Result) {
	if err := e.send(result); err != nil {
		log.Warn("failed to send result", zap.Error(err))
	}
}
