package robot

import (
	"time"

	"github.com/wirewarp/robot-bridge/internal/command"
)

// Reason says why a dispatch ended the way it did.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonTimeout     Reason = "timeout"
	ReasonUnreachable Reason = "unreachable"
	ReasonBadStatus   Reason = "bad_status"
	ReasonBadRequest  Reason = "bad_request"
	ReasonCanceled    Reason = "canceled"
	// ReasonSuperseded is set by the dispatch queue when a newer command for
	// the same robot replaced this one before it was sent.
	ReasonSuperseded Reason = "superseded"
)

// Result is the outcome of one dispatch. Success is true only for HTTP 200.
type Result struct {
	ID         string
	Address    string
	Action     command.Action
	Success    bool
	Reason     Reason
	StatusCode int    // 0 when no response arrived
	Message    string // robot's "message" field, if any
	Err        error
	Duration   time.Duration
}

// State is a step of a single dispatch attempt.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateAwaitingResponse
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	}
	return "unknown"
}
