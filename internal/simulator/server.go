// Package simulator is a stand-in for the robot firmware's command server.
package simulator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wirewarp/robot-bridge/internal/command"
)

var defaultActions = map[command.Action]string{
	"extend_gripper":   "Gripper extended",
	"retract_gripper":  "Gripper retracted",
	"open_claw":        "Claw opened",
	"close_claw":       "Claw closed",
	"turn_table_left":  "Table turned left",
	"turn_table_right": "Table turned right",
	"move_arms_up":     "Arms moved up",
	"move_arms_down":   "Arms moved down",
	"dance":            "Dance completed",
}

// The firmware accepts JSON as well as "action: x" and "action=x" text.
var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"action"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`'action'\s*:\s*'([^']+)'`),
	regexp.MustCompile(`action\s*:\s*([a-z_]+)`),
	regexp.MustCompile(`action\s*=\s*([a-z_]+)`),
}

type Response struct {
	Status  string `json:"status"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

type Server struct {
	logger  *zap.Logger
	actions map[command.Action]string

	mu       sync.Mutex
	received []command.Action
}

// New returns a simulator that knows the firmware's actions plus extra.
func New(logger *zap.Logger, extra ...command.Action) *Server {
	actions := make(map[command.Action]string, len(defaultActions)+len(extra))
	for a, msg := range defaultActions {
		actions[a] = msg
	}
	for _, a := range extra {
		actions[a] = fmt.Sprintf("%s done", a)
	}
	return &Server{logger: logger.Named("simulator"), actions: actions}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.command)
	return mux
}

// Received lists the known actions executed so far, in order.
func (s *Server) Received() []command.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Action(nil), s.received...)
}

func (s *Server) available() string {
	names := make([]string, 0, len(s.actions))
	for a := range s.actions {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "error", Message: "POST required"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
		return
	}

	action, ok := parseAction(string(body))
	if !ok {
		s.logger.Warn("no action in request", zap.ByteString("body", body))
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: "No valid action found in message"})
		return
	}
	msg, known := s.actions[action]
	if !known {
		s.logger.Warn("unknown action", zap.String("action", string(action)))
		writeJSON(w, http.StatusBadRequest, Response{
			Status:  "error",
			Message: fmt.Sprintf("Unknown action: %s. Available actions: %s", action, s.available()),
		})
		return
	}

	s.mu.Lock()
	s.received = append(s.received, action)
	s.mu.Unlock()
	s.logger.Info("action executed", zap.String("action", string(action)))
	writeJSON(w, http.StatusOK, Response{Status: "success", Action: string(action), Message: msg})
}

func parseAction(body string) (command.Action, bool) {
	var req struct {
		Action string `json:"action"`
	}
	if json.Unmarshal([]byte(body), &req) == nil {
		if a := strings.TrimSpace(req.Action); a != "" {
			return command.Action(a), true
		}
	}
	clean := strings.ToLower(strings.TrimSpace(body))
	for _, re := range actionPatterns {
		if m := re.FindStringSubmatch(clean); m != nil {
			return command.Action(strings.TrimSpace(m[1])), true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
