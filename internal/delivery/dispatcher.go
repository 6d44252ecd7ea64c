// Package delivery forwards stored leads to downstream integrations in the
// background and records each outcome on the lead.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/lead-intake/internal/config"
)

const (
	defaultTaskTimeout   = 10 * time.Second
	defaultMaxConcurrent = 16
	errBuffer            = 64
)

// Task is one unit of background forwarding work.
type Task struct {
	Name   string
	LeadID string
	Run    func(ctx context.Context) error
}

type taskError struct {
	task Task
	err  error
}

// Stats counts finished tasks.
type Stats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Dispatcher runs tasks fire-and-forget. Submit never blocks; each task runs
// in its own goroutine on a context detached from the caller.
type Dispatcher struct {
	timeout time.Duration
	sem     *semaphore.Weighted

	wg     sync.WaitGroup
	errs   chan taskError
	done   chan struct{}
	logged chan struct{}
	once   sync.Once
	logErr func(taskError)

	// closeMu orders sends on errs before Close closes done.
	closeMu sync.RWMutex
	closed  bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a Dispatcher and starts its error logger.
func NewDispatcher(cfg config.DeliveryConfig) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = defaultMaxConcurrent
	}

	d := &Dispatcher{
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(limit)),
		errs:    make(chan taskError, errBuffer),
		done:    make(chan struct{}),
		logged:  make(chan struct{}),
		logErr:  logTaskError,
	}
	go d.logErrors()
	return d
}

// Submit schedules t and returns immediately. Cancelling ctx afterwards does
// not cancel the task; its values (request id, logger fields) are kept.
func (d *Dispatcher) Submit(ctx context.Context, t Task) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	tasksInFlight.Inc()

	go func() {
		defer d.wg.Done()
		defer tasksInFlight.Dec()

		// Acquire never fails on a context without cancellation.
		_ = d.sem.Acquire(base, 1)
		defer d.sem.Release(1)

		tctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		start := time.Now()
		err := d.run(tctx, t)
		taskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
		tasksTotal.WithLabelValues(t.Name, outcome(err)).Inc()

		if err != nil {
			d.failed.Add(1)
			d.report(taskError{task: t, err: err})
			return
		}
		d.completed.Add(1)
	}()
}

func (d *Dispatcher) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("delivery: task %s panicked: %v", t.Name, r))
		}
	}()
	return t.Run(ctx)
}

func (d *Dispatcher) report(te taskError) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.logErr(te)
		return
	}
	d.errs <- te
}

func (d *Dispatcher) logErrors() {
	defer close(d.logged)
	for {
		select {
		case te := <-d.errs:
			d.logErr(te)
		case <-d.done:
			for {
				select {
				case te := <-d.errs:
					d.logErr(te)
				default:
					return
				}
			}
		}
	}
}

func logTaskError(te taskError) {
	zap.L().Warn("delivery: task failed",
		zap.String("task", te.task.Name),
		zap.String("lead_id", te.task.LeadID),
		zap.Error(te.err),
	)
}

// Drain waits for every submitted task to finish or ctx to end.
func (d *Dispatcher) Drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "delivery: drain")
	}
}

// Close stops the error logger after flushing queued errors. Tasks still
// running log their own failures.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.done)
		d.closeMu.Unlock()
		<-d.logged
	})
}

// Stats returns the number of finished tasks so far.
func (d *Dispatcher) Stats() Stats {
	return Stats{Completed: d.completed.Load(), Failed: d.failed.Load()}
}
