package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/wirewarp/robot-bridge/internal/command"
	"github.com/wirewarp/robot-bridge/internal/config"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSender records deliveries. When gate is set every Send blocks on it.
type fakeSender struct {
	mu        sync.Mutex
	sent      []string
	inFlight  map[string]int
	maxFlight map[string]int
	started   chan string
	gate      chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		inFlight:  make(map[string]int),
		maxFlight: make(map[string]int),
		started:   make(chan string, 64),
	}
}

func (f *fakeSender) Send(ctx context.Context, address string, action command.Action) robot.Result {
	f.mu.Lock()
	f.inFlight[address]++
	if f.inFlight[address] > f.maxFlight[address] {
		f.maxFlight[address] = f.inFlight[address]
	}
	f.mu.Unlock()
	f.started <- address + "/" + string(action)

	res := robot.Result{Address: address, Action: action, Success: true, Reason: robot.ReasonOK, StatusCode: 200}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			res = robot.Result{Address: address, Action: action, Reason: robot.ReasonCanceled, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	f.inFlight[address]--
	if res.Success {
		f.sent = append(f.sent, address+"/"+string(action))
	}
	f.mu.Unlock()
	return res
}

func (f *fakeSender) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitResult(t *testing.T, ch <-chan robot.Result) robot.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dispatch result")
		return robot.Result{}
	}
}

func TestOrderedDeliversInSubmissionOrder(t *testing.T) {
	s := newFakeSender()
	q := New(context.Background(), s, Options{Policy: config.PolicyOrdered}, zaptest.NewLogger(t))
	defer q.Close()

	actions := []command.Action{command.Forward, command.Left, command.Stop, "open_claw", "dance"}
	var results []<-chan robot.Result
	for _, a := range actions {
		results = append(results, q.Submit("10.0.0.1", a))
	}
	ids := map[string]bool{}
	for _, ch := range results {
		res := waitResult(t, ch)
		assert.True(t, res.Success)
		assert.NotEmpty(t, res.ID)
		ids[res.ID] = true
	}
	assert.Len(t, ids, len(actions))

	var want []string
	for _, a := range actions {
		want = append(want, "10.0.0.1/"+string(a))
	}
	assert.Equal(t, want, s.delivered())
	assert.Equal(t, 1, s.maxFlight["10.0.0.1"])
}

func TestDifferentAddressesRunConcurrently(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	q := New(context.Background(), s, Options{}, zaptest.NewLogger(t))

	a := q.Submit("10.0.0.1", command.Forward)
	b := q.Submit("10.0.0.2", command.Backward)

	// Both sends must be in flight at once before either is released.
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case id := <-s.started:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("sends to different robots did not overlap")
		}
	}
	close(s.gate)
	assert.True(t, waitResult(t, a).Success)
	assert.True(t, waitResult(t, b).Success)
	q.Close()
}

func TestLatestSupersedesPending(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	q := New(context.Background(), s, Options{Policy: config.PolicyLatest}, zaptest.NewLogger(t))

	first := q.Submit("robot", command.Forward)
	require.Equal(t, "robot/forward", <-s.started)

	second := q.Submit("robot", command.Left)
	third := q.Submit("robot", command.Right)

	res := waitResult(t, second)
	assert.False(t, res.Success)
	assert.Equal(t, robot.ReasonSuperseded, res.Reason)
	assert.ErrorIs(t, res.Err, ErrSuperseded)

	close(s.gate)
	assert.True(t, waitResult(t, first).Success)
	assert.True(t, waitResult(t, third).Success)
	q.Close()

	assert.Equal(t, []string{"robot/forward", "robot/right"}, s.delivered())
}

func TestMinIntervalPacesCommands(t *testing.T) {
	s := newFakeSender()
	q := New(context.Background(), s, Options{MinInterval: 60 * time.Millisecond}, zaptest.NewLogger(t))
	defer q.Close()

	start := time.Now()
	var results []<-chan robot.Result
	for i := 0; i < 3; i++ {
		results = append(results, q.Submit("robot", command.Stop))
	}
	for _, ch := range results {
		waitResult(t, ch)
	}
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestCloseDrainsThenRejects(t *testing.T) {
	s := newFakeSender()
	q := New(context.Background(), s, Options{}, zaptest.NewLogger(t))

	ch := q.Submit("robot", command.Forward)
	q.Close()
	assert.True(t, waitResult(t, ch).Success)

	res := waitResult(t, q.Submit("robot", command.Left))
	assert.Equal(t, robot.ReasonCanceled, res.Reason)
	assert.ErrorIs(t, res.Err, ErrClosed)
}

func TestContextCancelAbandonsPending(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	q := New(ctx, s, Options{}, zaptest.NewLogger(t))

	inflight := q.Submit("robot", command.Forward)
	<-s.started
	queued := q.Submit("robot", command.Backward)

	cancel()
	assert.Equal(t, robot.ReasonCanceled, waitResult(t, inflight).Reason)
	assert.Equal(t, robot.ReasonCanceled, waitResult(t, queued).Reason)
	q.Close()
	assert.Empty(t, s.delivered())
}

func TestDoHonoursCallerContext(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	q := New(context.Background(), s, Options{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := q.Do(ctx, " robot ", command.Stop)
	assert.Equal(t, robot.ReasonCanceled, res.Reason)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "robot", res.Address)

	close(s.gate)
	q.Close()
	assert.Equal(t, []string{"robot/stop"}, s.delivered())
}

func (q *Queue) workerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

func TestIdleWorkersRetire(t *testing.T) {
	s := newFakeSender()
	q := New(context.Background(), s, Options{IdleTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	defer q.Close()

	for i := 0; i < 50; i++ {
		assert.True(t, waitResult(t, q.Submit(fmt.Sprintf("10.0.0.%d", i), command.Stop)).Success)
	}
	require.Eventually(t, func() bool { return q.workerCount() == 0 }, 3*time.Second, 10*time.Millisecond)

	// A retired address gets a fresh worker on its next command.
	assert.True(t, waitResult(t, q.Submit("10.0.0.7", command.Forward)).Success)
	assert.Contains(t, s.delivered(), "10.0.0.7/forward")
}

func TestBusyWorkerIsNotRetired(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	q := New(context.Background(), s, Options{IdleTimeout: 10 * time.Millisecond}, zaptest.NewLogger(t))

	first := q.Submit("robot", command.Forward)
	<-s.started
	second := q.Submit("robot", command.Left)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, q.workerCount())

	close(s.gate)
	assert.True(t, waitResult(t, first).Success)
	assert.True(t, waitResult(t, second).Success)
	q.Close()
	assert.Equal(t, []string{"robot/forward", "robot/left"}, s.delivered())
}
