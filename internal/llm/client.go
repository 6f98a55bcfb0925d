// Package llm asks a local Ollama-compatible model for the robot's next action.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/command"
)

// ErrorType categorizes client errors.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
)

// ClientError is returned for every failed generate call.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error { return e.Cause }

// IsType reports whether err is a *ClientError of type t.
func IsType(err error, t ErrorType) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == t
}

// PredictionPrompt asks the model for exactly one action as single-line JSON.
var PredictionPrompt = buildPredictionPrompt(command.RobotActions)

func buildPredictionPrompt(actions []command.Action) string {
	quoted := make([]string, len(actions))
	for i, a := range actions {
		quoted[i] = "'" + string(a) + "'"
	}
	return "Analyze the image uploaded by user. If no image is available, please request to upload one concisely. " +
		"Based on the robot's current state, predict the next logical action it should take. " +
		`Output the prediction as JSON with just one action, example JSON {"action": "extend_gripper"}. ` +
		"Valid actions are " + strings.Join(quoted, ", ") + ". " +
		"Use these only as values for action. Single line for JSON, do not split into multiple lines."
}

type Client struct {
	baseURL string
	model   string
	httpCli *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, model string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpCli: &http.Client{Timeout: timeout},
		logger:  logger.Named("llm"),
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate runs one non-streaming completion and returns the full text.
func (c *Client) Generate(ctx context.Context, prompt string, images [][]byte) (string, error) {
	reqBody := generateRequest{Model: c.model, Prompt: prompt}
	for _, img := range images {
		reqBody.Images = append(reqBody.Images, base64.StdEncoding.EncodeToString(img))
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(err)
	}

	var out generateResponse
	decodeErr := json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &ClientError{Type: ErrTypeModelNotFound, Message: fmt.Sprintf("model %q not found", c.model)}
	case resp.StatusCode != http.StatusOK:
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)}
	case decodeErr != nil:
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "decode response", Cause: decodeErr}
	}

	c.logger.Debug("generation complete",
		zap.String("model", out.Model),
		zap.Int("chars", len(out.Response)),
		zap.Duration("took", time.Since(start)))
	return out.Response, nil
}

// Predict sends the prediction prompt, with image attached when non-empty.
func (c *Client) Predict(ctx context.Context, image []byte) (string, error) {
	var images [][]byte
	if len(image) > 0 {
		images = append(images, image)
	}
	return c.Generate(ctx, PredictionPrompt, images)
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ClientError{Type: ErrTypeNotRunning, Message: "model server is not running", Cause: err}
	}
	return &ClientError{Type: ErrTypeUnknown, Message: "request failed", Cause: err}
}
