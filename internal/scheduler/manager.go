package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/tagbatch/tagbatch/internal/events"
)

// Execution selects how the manager reacts to a failed task or a cancel request.
type Execution int

const (
	Continue      Execution = iota // Keep scheduling
	StopJoin                       // Abort running tasks and wait for them
	StopInterrupt                  // Abort running tasks and interrupt them without waiting
)

// String returns the config name of the policy.
func (e Execution) String() string {
	switch e {
	case Continue:
		return "continue"
	case StopJoin:
		return "stop_join"
	case StopInterrupt:
		return "stop_interrupt"
	default:
		return fmt.Sprintf("Execution(%d)", int(e))
	}
}

// ParseExecution parses a policy name as written by Execution.String.
func ParseExecution(s string) (Execution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continue":
		return Continue, nil
	case "stop_join", "join":
		return StopJoin, nil
	case "stop_interrupt", "interrupt":
		return StopInterrupt, nil
	}
	return Continue, fmt.Errorf("unknown execution policy %q", s)
}

// DefaultGracePeriod is how long a shutdown waits for tasks to notice the
// abort flag before joining or interrupting them.
const DefaultGracePeriod = time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	ThreadCount int              // Max concurrently running tasks
	OnError     Execution        // Reaction to a failed task (default Continue)
	OnCancel    Execution        // Reaction to a cancel request; Continue is treated as StopJoin
	GracePeriod time.Duration    // Default DefaultGracePeriod
	Bus         events.Publisher // Optional; receives task and batch events
}

// Snapshot is a point-in-time copy of one task's state.
type Snapshot struct {
	Index    int
	Status   TaskStatus
	Max      int64
	Progress int64
	Message  string
	Err      string
}

type slot struct {
	th      *Thread
	index   int
	started time.Time
}

// Manager runs a fixed list of tasks on at most ThreadCount goroutines.
// It is driven by calling Poll repeatedly, typically from a UI timer, until
// Poll returns false. Poll must not be called concurrently.
type Manager struct {
	tasks     []Task
	total     int64
	onError   Execution
	onCancel  Execution
	grace     time.Duration
	bus       events.Publisher
	slots     []*slot
	stopped   bool
	cancelled bool
}

// NewManager creates a manager for tasks. The list order is the start order
// among tasks that are ready at the same time.
func NewManager(tasks []Task, cfg ManagerConfig) (*Manager, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if cfg.ThreadCount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrThreadCount, cfg.ThreadCount)
	}
	if err := validateConnections(tasks); err != nil {
		return nil, err
	}

	onCancel := cfg.OnCancel
	if onCancel == Continue {
		onCancel = StopJoin
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	var total int64
	for _, t := range tasks {
		total += t.base().Max()
	}

	return &Manager{
		tasks:    append([]Task(nil), tasks...),
		total:    total,
		onError:  cfg.OnError,
		onCancel: onCancel,
		grace:    grace,
		bus:      cfg.Bus,
		slots:    make([]*slot, cfg.ThreadCount),
	}, nil
}

// Total returns the sum of every task's max.
func (m *Manager) Total() int64 { return m.total }

// Progress returns the sum of every task's current progress.
func (m *Manager) Progress() int64 {
	var p int64
	for _, t := range m.tasks {
		p += t.base().Progress()
	}
	return p
}

// Percent returns Progress as a rounded percentage of Total, in [0, 100].
func (m *Manager) Percent() int {
	return percentOf(m.Progress(), m.total)
}

// Poll runs one scheduling step and reports whether any task is still
// waiting or running.
//
// If a running task has failed and OnError is not Continue, or cancel is
// true, the running tasks are shut down and Poll returns false. Otherwise
// finished slots are freed and each free slot starts the first waiting task
// in list order whose connected task has finished successfully.
func (m *Manager) Poll(cancel bool) bool {
	if m.stopped {
		return false
	}

	if m.onError != Continue && m.slotFailed() {
		m.stopThreads(m.onError, "error")
		return false
	}
	if cancel {
		if busy, _ := m.counts(); !busy {
			m.stopped = true
			return false
		}
		m.stopThreads(m.onCancel, "cancel")
		m.cancelled = m.cutShort()
		return false
	}

	for i := range m.slots {
		if s := m.slots[i]; s != nil && s.th.Terminated() {
			// A failure that stops the batch keeps its slot so the next
			// poll sees it.
			if m.onError != Continue && s.th.task.base().Status() == TaskError {
				continue
			}
			m.report(s)
			m.slots[i] = nil
		}
		if m.slots[i] == nil {
			m.slots[i] = m.startNext(i)
		}
	}

	busy, progress := m.counts()
	m.emit(progress)
	return busy
}

// Wait polls every interval until no work is left. Cancelling ctx is passed
// to Poll as a cancel request. It returns true when every task ended OK;
// Cancelled tells whether the cancel stopped the batch.
func (m *Manager) Wait(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for m.Poll(ctx.Err() != nil) {
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return CountOK(m.tasks) == len(m.tasks)
}

// Cancelled reports whether a cancel request cut the batch short: a task was
// left waiting or running, or failed after being aborted. A cancel that only
// met tasks finishing on their own does not count.
func (m *Manager) Cancelled() bool { return m.cancelled }

// Messages returns the messages of up to count running slots, in slot order.
func (m *Manager) Messages(count int) []string {
	if count <= 0 {
		return nil
	}

	var list []string
	for _, s := range m.slots {
		if s == nil || s.th.Terminated() {
			continue
		}
		list = append(list, s.th.task.base().Message())
		if len(list) == count {
			break
		}
	}
	return list
}

// Running returns the number of occupied thread slots whose task has not returned.
func (m *Manager) Running() int {
	n := 0
	for _, s := range m.slots {
		if s != nil && !s.th.Terminated() {
			n++
		}
	}
	return n
}

// Snapshots returns the state of every task in list order.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, len(m.tasks))
	for i, t := range m.tasks {
		b := t.base()
		b.mu.Lock()
		out[i] = Snapshot{
			Index:    i,
			Status:   b.status,
			Max:      b.max,
			Progress: b.progress,
			Message:  b.message,
			Err:      b.err,
		}
		b.mu.Unlock()
	}
	return out
}

// String returns a debug line for the manager.
func (m *Manager) String() string {
	return fmt.Sprintf("total=%d, progress=%6d, percent=%3d", m.total, m.Progress(), m.Percent())
}

func (m *Manager) cutShort() bool {
	for _, t := range m.tasks {
		b := t.base()
		switch b.Status() {
		case TaskWaiting, TaskRunning:
			return true
		case TaskError:
			if b.Aborted() {
				return true
			}
		}
	}
	return false
}

func (m *Manager) slotFailed() bool {
	for _, s := range m.slots {
		if s != nil && s.th.task.base().Status() == TaskError {
			return true
		}
	}
	return false
}

// startNext starts the first runnable waiting task in slot i. Waiting tasks
// whose connected task failed are failed on the way.
func (m *Manager) startNext(i int) *slot {
	for idx, t := range m.tasks {
		b := t.base()
		if b.Status() != TaskWaiting {
			continue
		}

		c := b.Connected()
		cs := TaskOK
		if c != nil {
			cs = c.base().Status()
		}

		switch cs {
		case TaskOK:
			if !b.start() {
				continue
			}
			th := newThread(t)
			th.Start()
			m.emit(events.TaskStartedEvent{Index: idx, Slot: i, Message: b.Message(), Timestamp: time.Now()})
			return &slot{th: th, index: idx, started: time.Now()}
		case TaskError:
			b.finish(errors.New(errConnectFailed))
			m.emit(events.TaskFailedEvent{Index: idx, Message: b.Message(), Err: errConnectFailed, Timestamp: time.Now()})
		}
	}
	return nil
}

// stopThreads aborts every active slot, gives the tasks the grace period to
// return, then joins or interrupts them and clears the slots.
func (m *Manager) stopThreads(policy Execution, reason string) {
	if policy != StopJoin && policy != StopInterrupt {
		policy = StopJoin
	}
	m.stopped = true

	active := 0
	for _, s := range m.slots {
		if s == nil {
			continue
		}
		active++
		s.th.task.base().abort.Store(true)
		s.th.task.Stop()
	}

	if active > 0 {
		log.Printf("WARNING: stopping %d task thread(s) on %s (%s)", active, reason, policy)
		time.Sleep(m.grace)
	}

	for i, s := range m.slots {
		if s == nil {
			continue
		}
		if policy == StopJoin {
			s.th.Join()
			m.report(s)
		} else {
			s.th.Interrupt()
		}
		m.slots[i] = nil
	}

	m.emit(events.BatchStoppedEvent{Reason: reason, Policy: policy.String(), Stopped: active, Timestamp: time.Now()})
}

func (m *Manager) report(s *slot) {
	if m.bus == nil {
		return
	}
	b := s.th.task.base()
	d := time.Since(s.started)
	if b.Status() == TaskError {
		m.emit(events.TaskFailedEvent{Index: s.index, Message: b.Message(), Err: b.Err(), Duration: d, Timestamp: time.Now()})
		return
	}
	m.emit(events.TaskCompletedEvent{Index: s.index, Message: b.Message(), Duration: d, Timestamp: time.Now()})
}

// counts reports whether work remains and fills a progress event.
func (m *Manager) counts() (bool, events.BatchProgressEvent) {
	ev := events.BatchProgressEvent{Total: m.total, Timestamp: time.Now()}
	for _, t := range m.tasks {
		b := t.base()
		ev.Progress += b.Progress()
		switch b.Status() {
		case TaskWaiting:
			ev.Waiting++
		case TaskRunning:
			ev.Running++
		case TaskOK:
			ev.OK++
		case TaskError:
			ev.Failed++
		}
	}
	ev.Percent = percentOf(ev.Progress, m.total)
	return ev.Waiting > 0 || ev.Running > 0, ev
}

func (m *Manager) emit(ev events.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ev)
}

func percentOf(progress, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(progress) / float64(total) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
