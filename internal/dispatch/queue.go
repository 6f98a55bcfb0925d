// Package dispatch serialises robot commands per target address.
//
// Each address gets one worker goroutine, so commands to the same robot never
// overlap or arrive out of order. Different robots are served concurrently.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wirewarp/robot-bridge/internal/command"
	"github.com/wirewarp/robot-bridge/internal/config"
	"github.com/wirewarp/robot-bridge/internal/robot"
)

var (
	ErrClosed     = errors.New("dispatch queue closed")
	ErrSuperseded = errors.New("superseded by a newer command")
)

// Sender delivers a single command. *robot.Client implements it.
type Sender interface {
	Send(ctx context.Context, address string, action command.Action) robot.Result
}

type Options struct {
	// Policy is config.PolicyOrdered (FIFO) or config.PolicyLatest
	// (last-write-wins while a send is in flight).
	Policy string
	// MinInterval paces commands to the same robot. Zero disables pacing.
	MinInterval time.Duration
	// IdleTimeout retires a worker that has had nothing to send for this
	// long. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

const DefaultIdleTimeout = time.Minute

type Queue struct {
	sender Sender
	opts   Options
	logger *zap.Logger

	ctx context.Context

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type job struct {
	id     string
	action command.Action
	done   chan robot.Result
}

type worker struct {
	address string
	pending []*job
	wake    chan struct{}
	limiter *rate.Limiter
}

// New returns a queue whose in-flight and pending sends are abandoned when
// ctx is cancelled.
func New(ctx context.Context, sender Sender, opts Options, logger *zap.Logger) *Queue {
	if opts.Policy == "" {
		opts.Policy = config.PolicyOrdered
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.IdleTimeout < opts.MinInterval {
		opts.IdleTimeout = opts.MinInterval
	}
	return &Queue{
		sender:  sender,
		opts:    opts,
		logger:  logger.Named("dispatch"),
		ctx:     ctx,
		workers: make(map[string]*worker),
	}
}

// Submit queues action for the robot at address. The returned channel
// receives exactly one Result.
func (q *Queue) Submit(address string, action command.Action) <-chan robot.Result {
	return q.submit(address, action).done
}

func (q *Queue) submit(address string, action command.Action) *job {
	address = strings.TrimSpace(address)
	j := &job{id: uuid.NewString(), action: action, done: make(chan robot.Result, 1)}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx.Err() != nil {
		j.finish(address, robot.ReasonCanceled, ErrClosed)
		return j
	}

	w, ok := q.workers[address]
	if !ok {
		w = &worker{address: address, wake: make(chan struct{}, 1)}
		if q.opts.MinInterval > 0 {
			w.limiter = rate.NewLimiter(rate.Every(q.opts.MinInterval), 1)
		}
		q.workers[address] = w
		q.wg.Add(1)
		go q.run(w)
	}

	if q.opts.Policy == config.PolicyLatest {
		for _, old := range w.pending {
			q.logger.Info("command superseded",
				zap.String("id", old.id),
				zap.String("address", address),
				zap.String("action", string(old.action)),
				zap.String("by", string(action)))
			old.finish(address, robot.ReasonSuperseded, ErrSuperseded)
		}
		w.pending = w.pending[:0]
	}
	w.pending = append(w.pending, j)

	select {
	case w.wake <- struct{}{}:
	default:
	}
	q.logger.Debug("command queued",
		zap.String("id", j.id),
		zap.String("address", address),
		zap.String("action", string(action)),
		zap.Int("pending", len(w.pending)))
	return j
}

// Do submits action and waits for its result or for ctx to end. Giving up on
// ctx does not cancel the queued command.
func (q *Queue) Do(ctx context.Context, address string, action command.Action) robot.Result {
	j := q.submit(address, action)
	select {
	case res := <-j.done:
		return res
	case <-ctx.Done():
		return robot.Result{
			ID:      j.id,
			Address: strings.TrimSpace(address),
			Action:  action,
			Reason:  robot.ReasonCanceled,
			Err:     ctx.Err(),
		}
	}
}

// Close stops accepting commands, lets every worker finish what is already
// queued and waits for them.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for _, w := range q.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(w *worker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		var j *job
		if len(w.pending) > 0 {
			j = w.pending[0]
			w.pending = w.pending[1:]
		}
		closed := q.closed
		q.mu.Unlock()

		if j == nil {
			if closed {
				return
			}
			idle := time.NewTimer(q.opts.IdleTimeout)
			select {
			case <-w.wake:
				idle.Stop()
			case <-idle.C:
				if q.retire(w) {
					return
				}
			case <-q.ctx.Done():
				idle.Stop()
				q.abandon(w)
				return
			}
			continue
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(q.ctx); err != nil {
				j.finish(w.address, robot.ReasonCanceled, err)
				continue
			}
		}
		res := q.sender.Send(q.ctx, w.address, j.action)
		res.ID = j.id
		j.done <- res
	}
}

// retire removes an idle worker. It reports false when a command arrived
// before the lock was taken.
func (q *Queue) retire(w *worker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(w.pending) > 0 {
		return false
	}
	if q.workers[w.address] == w {
		delete(q.workers, w.address)
	}
	q.logger.Debug("idle worker retired", zap.String("address", w.address))
	return true
}

// abandon fails everything still pending for w after the queue context ended.
func (q *Queue) abandon(w *worker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range w.pending {
		j.finish(w.address, robot.ReasonCanceled, q.ctx.Err())
	}
	w.pending = nil
	delete(q.workers, w.address)
}

func (j *job) finish(address string, reason robot.Reason, err error) {
	j.done <- robot.Result{ID: j.id, Address: address, Action: j.action, Reason: reason, Err: err}
}
