// Package robot delivers action tokens to a robot over plain HTTP.
package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/command"
)

const (
	DefaultPort           = 8080
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second

	maxResponseBody = 4 << 10
)

type Options struct {
	Port           int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// DialContext opens the TCP connection. Nil uses a net.Dialer. The
	// connect timeout applies either way.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client sends commands to robots. A zero address is never remembered; every
// call names its target. Safe for concurrent use.
type Client struct {
	port        int
	readTimeout time.Duration
	httpCli     *http.Client
	logger      *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	dial := opts.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	connectTimeout := opts.ConnectTimeout
	return &Client{
		port:        opts.Port,
		readTimeout: opts.ReadTimeout,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					ctx, cancel := context.WithTimeout(ctx, connectTimeout)
					defer cancel()
					return dial(ctx, network, addr)
				},
				ResponseHeaderTimeout: opts.ReadTimeout,
				DisableKeepAlives:     true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.Named("robot"),
	}
}

type commandRequest struct {
	Action string `json:"action"`
}

type commandResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// URL returns the endpoint commands for address are posted to.
func (c *Client) URL(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("empty robot address")
	}
	raw := "http://" + net.JoinHostPort(address, strconv.Itoa(c.port)) + "/"
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid robot address %q: %w", address, err)
	}
	return u.String(), nil
}

// SendRobotCommand posts action to the robot at address and reports whether it
// answered 200. Failures are logged, never returned.
func (c *Client) SendRobotCommand(ctx context.Context, address string, action command.Action) bool {
	return c.Send(ctx, address, action).Success
}

// Send posts {"action": action} to the robot at address. It never retries; the
// returned Result says whether the robot answered 200 and, if not, why.
func (c *Client) Send(ctx context.Context, address string, action command.Action) Result {
	start := time.Now()
	res := Result{Address: address, Action: action}
	log := c.logger.With(zap.String("address", address), zap.String("action", string(action)))

	// WroteRequest fires on the transport's writer goroutine.
	var state atomic.Int32
	moveTo := func(s State) {
		if prev := State(state.Swap(int32(s))); prev != s {
			log.Debug("dispatch state", zap.Stringer("from", prev), zap.Stringer("to", s))
		}
	}
	fail := func(reason Reason, err error) Result {
		moveTo(StateFailure)
		res.Reason = reason
		res.Err = err
		res.Duration = time.Since(start)
		log.Error("failed to send command to robot",
			zap.String("reason", string(reason)),
			zap.Int("status", res.StatusCode),
			zap.Duration("took", res.Duration),
			zap.Error(err))
		return res
	}

	endpoint, err := c.URL(address)
	if err != nil {
		return fail(ReasonBadRequest, err)
	}
	body, err := json.Marshal(commandRequest{Action: string(action)})
	if err != nil {
		return fail(ReasonBadRequest, err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	trace := &httptrace.ClientTrace{
		GetConn:      func(string) { moveTo(StateConnecting) },
		GotConn:      func(httptrace.GotConnInfo) { moveTo(StateSending) },
		WroteRequest: func(httptrace.WroteRequestInfo) { moveTo(StateAwaitingResponse) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(reqCtx, trace), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(ReasonBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debug("sending command", zap.String("url", endpoint), zap.ByteString("payload", body))
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fail(classify(ctx, err), err)
	}

	// The header wait is covered by ResponseHeaderTimeout; bound the body the same way.
	var bodyTimedOut atomic.Bool
	timer := time.AfterFunc(c.readTimeout, func() {
		bodyTimedOut.Store(true)
		cancel()
	})
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	timer.Stop()
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	var parsed commandResponse
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		res.Message = parsed.Message
	}
	if readErr != nil {
		log.Debug("could not read robot response body", zap.Error(readErr))
	}

	if resp.StatusCode != http.StatusOK {
		return fail(ReasonBadStatus, fmt.Errorf("robot answered HTTP %d", resp.StatusCode))
	}
	if readErr != nil && bodyTimedOut.Load() {
		return fail(ReasonTimeout, fmt.Errorf("read response: %w", readErr))
	}

	moveTo(StateSuccess)
	res.Success = true
	res.Reason = ReasonOK
	res.Duration = time.Since(start)
	log.Info("command sent",
		zap.Int("status", res.StatusCode),
		zap.Duration("took", res.Duration))
	log.Debug("robot response", zap.String("message", res.Message))
	return res
}

func classify(parent context.Context, err error) Reason {
	if parentErr := parent.Err(); parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			return ReasonTimeout
		}
		return ReasonCanceled
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
