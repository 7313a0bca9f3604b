package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tagbatch/tagbatch/internal/events"
)

const testGrace = 10 * time.Millisecond

func newTestManager(t *testing.T, tasks []Task, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = testGrace
	}
	m, err := NewManager(tasks, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// pollUntilDone polls m until Poll returns false, checking invariant after
// every step.
func pollUntilDone(t *testing.T, m *Manager, invariant func()) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Poll(false) {
		if invariant != nil {
			invariant()
		}
		if time.Now().After(deadline) {
			t.Fatal("manager did not finish before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewManagerPreconditions(t *testing.T) {
	a := okTask()

	cycleA, cycleB := okTask(), okTask()
	cycleA.Connect(cycleB)
	cycleB.Connect(cycleA)

	self := okTask()
	self.Connect(self)

	outside := okTask()
	dangling := okTask()
	dangling.Connect(outside)

	tests := []struct {
		name    string
		tasks   []Task
		threads int
		wantErr error
	}{
		{"empty list", nil, 1, ErrNoTasks},
		{"zero threads", tasksOf(a), 0, ErrThreadCount},
		{"negative threads", tasksOf(a), -2, ErrThreadCount},
		{"connect cycle", tasksOf(cycleA, cycleB), 2, ErrConnectCycle},
		{"connected to itself", tasksOf(self), 1, ErrConnectCycle},
		{"connected task missing", tasksOf(dangling), 1, ErrConnectMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.tasks, ManagerConfig{ThreadCount: tt.threads})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewManager error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// A connection to a task that finished in an earlier batch is allowed.
func TestNewManagerAcceptsFinishedOutsideConnection(t *testing.T) {
	earlier := okTask()
	th := newThread(earlier)
	th.Start()
	th.Join()

	later := okTask()
	later.Connect(earlier)

	m := newTestManager(t, tasksOf(later), ManagerConfig{ThreadCount: 1})
	pollUntilDone(t, m, nil)

	if later.Status() != TaskOK {
		t.Errorf("status = %s, want OK", later.Status())
	}
}

func TestAllTasksSucceed(t *testing.T) {
	var tasks []*funcTask
	for i := 0; i < 5; i++ {
		tasks = append(tasks, okTask())
	}

	m := newTestManager(t, tasksOf(tasks...), ManagerConfig{ThreadCount: 2})

	if m.Total() != 5 {
		t.Errorf("Total() = %d, want 5", m.Total())
	}
	if m.Percent() != 0 {
		t.Errorf("Percent() before start = %d, want 0", m.Percent())
	}

	pollUntilDone(t, m, nil)

	if m.Progress() != 5 {
		t.Errorf("Progress() = %d, want 5", m.Progress())
	}
	if m.Percent() != 100 {
		t.Errorf("Percent() = %d, want 100", m.Percent())
	}
	if n := CountError(tasksOf(tasks...)); n != 0 {
		t.Errorf("CountError = %d, want 0", n)
	}
	if m.Poll(false) {
		t.Error("Poll returned true after completion")
	}
}

func TestNeverMoreRunningThanThreads(t *testing.T) {
	const threads = 3

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	var tasks []*funcTask
	for i := 0; i < 12; i++ {
		tasks = append(tasks, newFuncTask(2, func(ctx context.Context, ft *funcTask) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)
			ft.SetProgress(1)
			time.Sleep(2 * time.Millisecond)
			ft.SetProgress(2)

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}))
	}

	m := newTestManager(t, tasksOf(tasks...), ManagerConfig{ThreadCount: threads})

	pollUntilDone(t, m, func() {
		running := 0
		for _, s := range m.Snapshots() {
			if s.Status == TaskRunning {
				running++
			}
			if s.Progress > s.Max {
				t.Errorf("task %d progress %d exceeds max %d", s.Index, s.Progress, s.Max)
			}
		}
		if running > threads {
			t.Errorf("%d tasks RUNNING with %d threads", running, threads)
		}
		if p := m.Percent(); p < 0 || p > 100 {
			t.Errorf("Percent() = %d out of range", p)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if peak > threads {
		t.Errorf("peak concurrency = %d, want <= %d", peak, threads)
	}
	if m.Percent() != 100 {
		t.Errorf("Percent() = %d, want 100", m.Percent())
	}
}

func TestStartOrderIsListOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) *funcTask {
		return newFuncTask(1, func(ctx context.Context, ft *funcTask) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	a, b, c := record("A"), record("B"), record("C")
	m := newTestManager(t, tasksOf(a, b, c), ManagerConfig{ThreadCount: 1})

	m.Poll(false)
	if a.Status() == TaskWaiting || b.Status() != TaskWaiting || c.Status() != TaskWaiting {
		t.Errorf("after first poll: A=%s B=%s C=%s", a.Status(), b.Status(), c.Status())
	}

	pollUntilDone(t, m, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("start order = %v, want [A B C]", order)
	}
}

// Several free slots each pick up one task in the same poll.
func TestOnePollFillsEveryFreeSlot(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	a, b, c := gatedTask(gate), gatedTask(gate), gatedTask(gate)
	m := newTestManager(t, tasksOf(a, b, c), ManagerConfig{ThreadCount: 2})

	if !m.Poll(false) {
		t.Fatal("Poll returned false with work left")
	}
	if a.Status() != TaskRunning || b.Status() != TaskRunning {
		t.Errorf("A=%s B=%s, want both RUNNING", a.Status(), b.Status())
	}
	if c.Status() != TaskWaiting {
		t.Errorf("C=%s, want WAITING", c.Status())
	}
}

func TestContinueOnError(t *testing.T) {
	first, second, third := okTask(), failTask("unsupported format"), okTask()
	m := newTestManager(t, tasksOf(first, second, third), ManagerConfig{
		ThreadCount: 2,
		OnError:     Continue,
	})

	pollUntilDone(t, m, nil)

	if first.Status() != TaskOK || third.Status() != TaskOK {
		t.Errorf("first=%s third=%s, want OK", first.Status(), third.Status())
	}
	if second.Status() != TaskError {
		t.Errorf("second=%s, want ERROR", second.Status())
	}
	if second.Err() == "" {
		t.Error("failed task has empty error")
	}
}

func TestStopJoinOnError(t *testing.T) {
	first := failTask("write failed")
	second, third := abortableTask(), abortableTask()

	m := newTestManager(t, tasksOf(first, second, third), ManagerConfig{
		ThreadCount: 3,
		OnError:     StopJoin,
	})

	pollUntilDone(t, m, nil)

	if first.Status() != TaskError {
		t.Errorf("first=%s, want ERROR", first.Status())
	}
	for i, task := range []*funcTask{second, third} {
		if !task.Aborted() {
			t.Errorf("task %d: abort flag not set", i+2)
		}
		if !task.stopped.Load() {
			t.Errorf("task %d: Stop not called", i+2)
		}
		if s := task.Status(); s != TaskError && s != TaskOK {
			t.Errorf("task %d: status = %s, want terminal after join", i+2, s)
		}
	}
	if n := m.Running(); n != 0 {
		t.Errorf("Running() = %d after shutdown, want 0", n)
	}
}

// A task queued behind a failure that stops the batch never starts.
func TestStopOnErrorLeavesQueuedTasksWaiting(t *testing.T) {
	first := failTask("bad file")
	queued := okTask()

	m := newTestManager(t, tasksOf(first, queued), ManagerConfig{
		ThreadCount: 1,
		OnError:     StopJoin,
	})

	pollUntilDone(t, m, nil)

	if queued.Status() != TaskWaiting {
		t.Errorf("queued=%s, want WAITING", queued.Status())
	}
	if queued.calls.Load() != 0 {
		t.Error("queued task ran")
	}
}

func TestCancelStopJoin(t *testing.T) {
	running1, running2 := abortableTask(), abortableTask()
	waiting1, waiting2 := okTask(), okTask()

	m := newTestManager(t, tasksOf(running1, running2, waiting1, waiting2), ManagerConfig{
		ThreadCount: 2,
		OnCancel:    StopJoin,
	})

	if !m.Poll(false) {
		t.Fatal("first Poll returned false")
	}
	waitStatus(t, running1, TaskRunning)

	if m.Poll(true) {
		t.Fatal("Poll(cancel) returned true")
	}

	if n := m.Running(); n != 0 {
		t.Errorf("Running() = %d, want 0", n)
	}
	for i, task := range []*funcTask{running1, running2} {
		if task.Status() != TaskError {
			t.Errorf("running task %d: status = %s, want ERROR", i, task.Status())
		}
	}
	for i, task := range []*funcTask{waiting1, waiting2} {
		if task.Status() != TaskWaiting {
			t.Errorf("waiting task %d: status = %s, want WAITING", i, task.Status())
		}
	}

	// A stopped manager does not start anything else.
	if m.Poll(false) {
		t.Error("Poll after shutdown returned true")
	}
	if waiting1.Status() != TaskWaiting {
		t.Error("task started after shutdown")
	}
}

func TestCancelStopInterrupt(t *testing.T) {
	release := make(chan struct{})
	stuck := newFuncTask(1, func(ctx context.Context, ft *funcTask) error {
		<-release
		return errors.New("released")
	})
	honoursContext := newFuncTask(1, func(ctx context.Context, ft *funcTask) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m := newTestManager(t, tasksOf(stuck, honoursContext), ManagerConfig{
		ThreadCount: 2,
		OnCancel:    StopInterrupt,
	})

	m.Poll(false)
	waitStatus(t, honoursContext, TaskRunning)

	done := make(chan bool)
	go func() { done <- m.Poll(true) }()

	select {
	case more := <-done:
		if more {
			t.Error("Poll(cancel) returned true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll(cancel) blocked on a stuck task under StopInterrupt")
	}

	waitStatus(t, honoursContext, TaskError)
	if stuck.Status() != TaskRunning {
		t.Errorf("stuck=%s, want still RUNNING", stuck.Status())
	}

	close(release)
	waitStatus(t, stuck, TaskError)
}

func TestConnectedTaskWaitsForPredecessor(t *testing.T) {
	gate := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)

	read := newFuncTask(1, func(ctx context.Context, ft *funcTask) error {
		<-gate
		mu.Lock()
		order = append(order, "read")
		mu.Unlock()
		return nil
	})
	save := newFuncTask(1, func(ctx context.Context, ft *funcTask) error {
		mu.Lock()
		order = append(order, "save")
		mu.Unlock()
		return nil
	})
	save.Connect(read)

	m := newTestManager(t, tasksOf(save, read), ManagerConfig{ThreadCount: 2})

	for i := 0; i < 5; i++ {
		if !m.Poll(false) {
			t.Fatal("Poll returned false while predecessor running")
		}
		if save.Status() != TaskWaiting {
			t.Fatalf("save=%s before predecessor finished", save.Status())
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	pollUntilDone(t, m, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "read" || order[1] != "save" {
		t.Errorf("order = %v, want [read save]", order)
	}
}

func TestConnectedTaskFailsWithPredecessor(t *testing.T) {
	read := failTask("not a flac file")
	save := okTask()
	save.Connect(read)

	m := newTestManager(t, tasksOf(read, save), ManagerConfig{ThreadCount: 2})
	pollUntilDone(t, m, nil)

	if save.Status() != TaskError {
		t.Errorf("save=%s, want ERROR", save.Status())
	}
	if save.Err() != errConnectFailed {
		t.Errorf("save error = %q, want %q", save.Err(), errConnectFailed)
	}
	if save.calls.Load() != 0 {
		t.Error("save ran although its predecessor failed")
	}
}

func TestMessages(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	a, b := gatedTask(gate), gatedTask(gate)
	a.SetMessage("01 - intro.flac")
	b.SetMessage("02 - outro.flac")

	m := newTestManager(t, tasksOf(a, b), ManagerConfig{ThreadCount: 3})
	m.Poll(false)

	got := m.Messages(5)
	if len(got) != 2 || got[0] != "01 - intro.flac" || got[1] != "02 - outro.flac" {
		t.Errorf("Messages(5) = %v", got)
	}
	if got := m.Messages(1); len(got) != 1 || got[0] != "01 - intro.flac" {
		t.Errorf("Messages(1) = %v", got)
	}
	if got := m.Messages(0); got != nil {
		t.Errorf("Messages(0) = %v, want nil", got)
	}
}

func TestPercentRounding(t *testing.T) {
	tests := []struct {
		progress, total int64
		want            int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{5, 3, 100},
		{-1, 3, 0},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := percentOf(tt.progress, tt.total); got != tt.want {
			t.Errorf("percentOf(%d, %d) = %d, want %d", tt.progress, tt.total, got, tt.want)
		}
	}
}

func TestWait(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		m := newTestManager(t, tasksOf(okTask(), okTask(), okTask()), ManagerConfig{ThreadCount: 2})
		if !m.Wait(context.Background(), time.Millisecond) {
			t.Error("Wait returned false")
		}
		if m.Cancelled() {
			t.Error("Cancelled() = true without a cancel")
		}
	})

	t.Run("context cancelled after the batch finished", func(t *testing.T) {
		m := newTestManager(t, tasksOf(okTask(), okTask()), ManagerConfig{ThreadCount: 2})

		ctx, cancel := context.WithCancel(context.Background())
		if !m.Wait(ctx, time.Millisecond) {
			t.Fatal("Wait returned false")
		}
		cancel()

		if m.Poll(true) {
			t.Error("Poll(true) after completion returned true")
		}
		if m.Cancelled() {
			t.Error("cancel after completion counted as cancelled")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		running, queued := abortableTask(), okTask()
		m := newTestManager(t, tasksOf(running, queued), ManagerConfig{ThreadCount: 1})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			for running.Status() != TaskRunning {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()

		if m.Wait(ctx, time.Millisecond) {
			t.Error("Wait returned true after cancel")
		}
		if !m.Cancelled() {
			t.Error("Cancelled() = false after cancel")
		}
		if queued.Status() != TaskWaiting {
			t.Errorf("queued=%s, want WAITING", queued.Status())
		}
	})
}

func TestManagerPublishesEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.SubscribeAll(1024)

	m := newTestManager(t, tasksOf(okTask(), failTask("boom")), ManagerConfig{
		ThreadCount: 2,
		Bus:         bus,
	})
	pollUntilDone(t, m, nil)
	for m.Running() > 0 {
		time.Sleep(time.Millisecond)
	}
	// One more poll frees the last slots.
	m.Poll(false)

	counts := map[string]int{}
	for {
		select {
		case e := <-sub:
			counts[e.EventType()]++
			continue
		default:
		}
		break
	}

	if counts[events.EventTypeTaskStarted] != 2 {
		t.Errorf("started events = %d, want 2", counts[events.EventTypeTaskStarted])
	}
	if counts[events.EventTypeTaskCompleted] != 1 {
		t.Errorf("completed events = %d, want 1", counts[events.EventTypeTaskCompleted])
	}
	if counts[events.EventTypeTaskFailed] != 1 {
		t.Errorf("failed events = %d, want 1", counts[events.EventTypeTaskFailed])
	}
	if counts[events.EventTypeBatchProgress] == 0 {
		t.Error("no progress events")
	}
}

func TestParseExecution(t *testing.T) {
	tests := []struct {
		in      string
		want    Execution
		wantErr bool
	}{
		{"continue", Continue, false},
		{"STOP_JOIN", StopJoin, false},
		{" stop_interrupt ", StopInterrupt, false},
		{"interrupt", StopInterrupt, false},
		{"retry", Continue, true},
	}
	for _, tt := range tests {
		got, err := ParseExecution(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseExecution(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseExecution(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if back, _ := ParseExecution(got.String()); back != got {
			t.Errorf("%s does not round-trip through String()", got)
		}
	}
}
