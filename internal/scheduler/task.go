package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskWaiting TaskStatus = iota // Not started yet
	TaskRunning                   // Currently executing
	TaskError                     // Finished with error
	TaskOK                        // Finished successfully
)

// String returns the status name.
func (s TaskStatus) String() string {
	switch s {
	case TaskWaiting:
		return "WAITING"
	case TaskRunning:
		return "RUNNING"
	case TaskError:
		return "ERROR"
	case TaskOK:
		return "OK"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// Terminal reports whether no transition can leave this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskError || s == TaskOK
}

// errConnectFailed is recorded on a waiting task whose connected task ended in error.
const errConnectFailed = "connected task has failed"

// Task is a unit of work executed by a Manager.
//
// Implementations embed *Base (created with NewBase) and provide Run. Run must
// check Aborted between increments of work and return an error when it sees the
// flag, so that aborting never looks like success. Stop is called by the manager
// before joining or interrupting and should unblock anything Run is waiting on;
// Base provides a no-op Stop.
type Task interface {
	Run(ctx context.Context) error
	Stop()
	base() *Base
}

// Base holds the shared state of a task. Every field is guarded, so the worker
// running the task and the goroutine polling the manager can touch it
// concurrently.
type Base struct {
	max   int64
	abort atomic.Bool

	mu       sync.Mutex
	progress int64
	status   TaskStatus
	message  string
	err      string
	connect  Task
}

// NewBase creates task state with the given number of progress units.
// It panics if max is not positive.
func NewBase(max int64) *Base {
	if max <= 0 {
		panic(fmt.Sprintf("scheduler: task max must be positive, got %d", max))
	}
	return &Base{max: max, status: TaskWaiting}
}

func (b *Base) base() *Base { return b }

// Stop is a no-op; override it to unblock work that ignores the abort flag.
func (b *Base) Stop() {}

// Max returns the total progress units of the task.
func (b *Base) Max() int64 { return b.max }

// Aborted reports whether the manager asked the task to stop.
func (b *Base) Aborted() bool { return b.abort.Load() }

// Progress returns the current progress value.
func (b *Base) Progress() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// SetProgress updates progress. Values are clamped to [0, max] and a value
// lower than the current progress is ignored.
func (b *Base) SetProgress(p int64) {
	if p > b.max {
		p = b.max
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p > b.progress {
		b.progress = p
	}
}

// Status returns the current status.
func (b *Base) Status() TaskStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Message returns the progress message.
func (b *Base) Message() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

// SetMessage replaces the progress message.
func (b *Base) SetMessage(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.message = msg
}

// Err returns the failure text, empty unless the task ended in error.
func (b *Base) Err() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Connect makes this task wait for t to finish successfully before it may
// start. If t fails, this task fails without running. Connect must be called
// before the task list is handed to a Manager.
func (b *Base) Connect(t Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connect = t
}

// Connected returns the task this one waits for, or nil.
func (b *Base) Connected() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connect
}

// String returns a debug line for the task.
func (b *Base) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("status=%s, max=%6d, progress=%6d, error='%s'", b.status, b.max, b.progress, b.err)
}

// start moves a waiting task to running. It returns false if the task has
// already left the waiting state.
func (b *Base) start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != TaskWaiting {
		return false
	}
	b.status = TaskRunning
	return true
}

// finish records the outcome of a run. Terminal states are never left.
func (b *Base) finish(runErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	if runErr == nil {
		b.status = TaskOK
		return
	}
	b.err = runErr.Error()
	if b.err == "" {
		b.err = "task failed"
	}
	b.status = TaskError
}

// Errors returns the tasks that ended in error.
func Errors(tasks []Task) []Task {
	var failed []Task
	for _, t := range tasks {
		if t.base().Status() == TaskError {
			failed = append(failed, t)
		}
	}
	return failed
}

// CountError returns the number of failed tasks.
func CountError(tasks []Task) int {
	return countStatus(tasks, TaskError)
}

// CountOK returns the number of tasks that finished successfully.
func CountOK(tasks []Task) int {
	return countStatus(tasks, TaskOK)
}

// FirstError returns the error text of the first failed task in list order,
// or nil if no task has an error.
func FirstError(tasks []Task) error {
	for _, t := range tasks {
		if msg := t.base().Err(); msg != "" {
			return errors.New(msg)
		}
	}
	return nil
}

// StateOf returns the shared state of a task.
func StateOf(t Task) *Base {
	return t.base()
}

func countStatus(tasks []Task, status TaskStatus) int {
	n := 0
	for _, t := range tasks {
		if t.base().Status() == status {
			n++
		}
	}
	return n
}
