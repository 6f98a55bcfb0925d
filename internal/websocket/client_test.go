package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wirewarp/robot-bridge/internal/executor"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

// chatSurface is a fake control server. It greets with reply, pushes cmds and
// forwards everything the bridge writes to got.
func chatSurface(t *testing.T, reply map[string]string, cmds ...executor.Command) (*httptest.Server, chan map[string]any) {
	t.Helper()
	got := make(chan map[string]any, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, controlPath, r.URL.Path)
		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var hello map[string]any
		if err := wsjson.Read(ctx, conn, &hello); err != nil {
			return
		}
		got <- hello
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return
		}
		for _, cmd := range cmds {
			if err := wsjson.Write(ctx, conn, cmd); err != nil {
				return
			}
		}
		for {
			var msg map[string]any
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			got <- msg
		}
	}))
	return srv, got
}

func expectType(t *testing.T, ch <-chan map[string]any, typ string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg["type"] == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %q message received", typ)
			return nil
		}
	}
}

func TestClientSession(t *testing.T) {
	srv, got := chatSurface(t, map[string]string{"type": "welcome"},
		executor.Command{ID: "c1", Type: "ping", Params: json.RawMessage(`{}`)},
		executor.Command{ID: "c2", Type: "unknown"},
	)

	c := New(srv.URL, "bridge-1", zaptest.NewLogger(t))
	c.heartbeat = 20 * time.Millisecond
	c.Exec().Register("ping", func(context.Context, json.RawMessage) (string, error) {
		return "pong", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	hello := expectType(t, got, "hello")
	assert.Equal(t, "bridge-1", hello["bridge_id"])

	res := expectType(t, got, "command_result")
	assert.Equal(t, "c1", res["command_id"])
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "pong", res["output"])

	res = expectType(t, got, "command_result")
	assert.Equal(t, "c2", res["command_id"])
	assert.Equal(t, false, res["success"])

	expectType(t, got, "heartbeat")

	c.ReportResult(robot.Result{
		ID:      "r1",
		Address: "10.0.0.5",
		Action:  "dance",
		Reason:  robot.ReasonUnreachable,
		Err:     errors.New("connection refused"),
	})
	dr := expectType(t, got, "dispatch_result")
	assert.Equal(t, "r1", dr["id"])
	assert.Equal(t, "dance", dr["action"])
	assert.Equal(t, false, dr["success"])
	assert.Equal(t, "unreachable", dr["reason"])
	assert.Equal(t, "connection refused", dr["error"])

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	srv.Close()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func TestConnectRejectedHello(t *testing.T) {
	srv, _ := chatSurface(t, map[string]string{"type": "error", "message": "unknown bridge"})
	defer srv.Close()

	c := New(srv.URL, "bridge-x", zaptest.NewLogger(t))
	established, err := c.connect(context.Background())
	assert.False(t, established)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bridge")
}

func TestReportResultWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", "b", zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		c.ReportResult(robot.Result{ID: "r", Success: true, Reason: robot.ReasonOK})
	})
	assert.ErrorIs(t, c.send("x"), errNotConnected)
}
