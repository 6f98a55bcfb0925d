package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wirewarp/robot-bridge/internal/executor"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

const (
	heartbeatInterval = 30 * time.Second
	maxBackoff        = 60 * time.Second
	initialBackoff    = 1 * time.Second

	controlPath = "/ws/bridge"
)

var errNotConnected = errors.New("not connected")

// Client keeps a control channel open to the chat surface. Commands read from
// it go to the executor; results and dispatch outcomes are written back.
type Client struct {
	url      string
	bridgeID string
	hostname string
	logger   *zap.Logger
	exec     *executor.Executor

	// heartbeat is a field so tests can shorten it.
	heartbeat time.Duration

	mu sync.Mutex
	// sendFn is updated each time a new connection is established.
	sendFn func(v any) error
}

func New(controlURL, bridgeID string, logger *zap.Logger) *Client {
	hostname, _ := os.Hostname()
	c := &Client{
		url:       strings.TrimRight(controlURL, "/") + controlPath,
		bridgeID:  bridgeID,
		hostname:  hostname,
		logger:    logger.Named("ws"),
		heartbeat: heartbeatInterval,
	}
	c.exec = executor.New(func(result executor.Result) error {
		return c.send(result)
	}, logger)
	return c
}

// Exec returns the executor so callers can register real handlers.
func (c *Client) Exec() *executor.Executor {
	return c.exec
}

type dispatchResultMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Address    string `json:"address"`
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReportResult tells the chat surface how a robot command ended. Results
// produced while disconnected are logged and dropped.
func (c *Client) ReportResult(res robot.Result) {
	msg := dispatchResultMessage{
		Type:       "dispatch_result",
		ID:         res.ID,
		Address:    res.Address,
		Action:     string(res.Action),
		Success:    res.Success,
		Reason:     string(res.Reason),
		StatusCode: res.StatusCode,
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	if err := c.send(msg); err != nil {
		c.logger.Debug("dropping dispatch result", zap.String("id", res.ID), zap.Error(err))
	}
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	fn := c.sendFn
	c.mu.Unlock()
	if fn == nil {
		return errNotConnected
	}
	return fn(v)
}

func (c *Client) setSend(fn func(v any) error) {
	c.mu.Lock()
	c.sendFn = fn
	c.mu.Unlock()
}

// Run connects and reconnects until ctx is done, backing off exponentially
// between attempts.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		established, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			b.Reset()
		}
		wait := b.NextBackOff()
		if err != nil {
			c.logger.Warn("disconnected", zap.Error(err), zap.Duration("retry_in", wait))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect runs one session. established is true once the hello was accepted.
func (c *Client) connect(ctx context.Context) (established bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	// wsjson writes are not safe for concurrent use; results arrive from
	// dispatch goroutines.
	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsjson.Write(ctx, conn, v)
	}

	if err := send(map[string]string{
		"type":      "hello",
		"bridge_id": c.bridgeID,
		"hostname":  c.hostname,
	}); err != nil {
		return false, err
	}
	var resp map[string]string
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return false, err
	}
	if resp["type"] != "welcome" {
		return false, fmt.Errorf("hello rejected: %s", resp["message"])
	}
	c.logger.Info("control channel connected", zap.String("url", c.url), zap.String("bridge_id", c.bridgeID))

	c.setSend(send)
	defer c.setSend(nil)

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	recvErr := make(chan error, 1)
	go func() {
		for {
			var raw json.RawMessage
			if err := wsjson.Read(ctx, conn, &raw); err != nil {
				recvErr <- err
				return
			}
			var cmd executor.Command
			if err := json.Unmarshal(raw, &cmd); err != nil {
				c.logger.Warn("failed to unmarshal command", zap.Error(err))
				continue
			}
			c.exec.Dispatch(ctx, cmd)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutting down")
			return true, nil
		case err := <-recvErr:
			return true, err
		case <-ticker.C:
			if err := send(map[string]string{
				"type":      "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return true, err
			}
		}
	}
}
