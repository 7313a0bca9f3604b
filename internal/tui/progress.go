package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tagbatch/tagbatch/internal/events"
	"github.com/tagbatch/tagbatch/internal/scheduler"
)

const (
	defaultBarWidth = 40
	maxFailureLines = 5
)

// ProgressOptions configures the progress dialog.
type ProgressOptions struct {
	Title        string
	Interval     time.Duration      // Poll period; default 100ms
	MaxMessages  int                // Running-task messages to show
	EnableCancel bool               // esc/ctrl+c request a cancel
	Events       <-chan events.Event // Optional; failures are listed under the bar
}

// tickMsg asks for the next poll.
type tickMsg struct{}

// pollMsg carries the state read by one poll.
type pollMsg struct {
	busy     bool
	percent  int
	messages []string
	batch    events.BatchProgressEvent
}

// ProgressModel is a Bubble Tea model that drives a scheduler.Manager.
// Every tick it runs one Poll inside a command and schedules the next tick
// only after the result arrived, so polls never overlap.
type ProgressModel struct {
	mgr      *scheduler.Manager
	pollMu   *sync.Mutex // Held for every Poll, including the one after the program quits
	ctx      context.Context
	opts     ProgressOptions
	bar      progress.Model
	percent  int
	messages []string
	counts   events.BatchProgressEvent
	failures []string
	cancel   bool // Cancel requested; sent with the next poll
	done     bool
	width    int
}

// NewProgressModel creates the dialog for mgr.
func NewProgressModel(mgr *scheduler.Manager, opts ProgressOptions) ProgressModel {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.MaxMessages < 0 {
		opts.MaxMessages = 0
	}
	return ProgressModel{
		mgr:    mgr,
		pollMu: &sync.Mutex{},
		ctx:    context.Background(),
		opts:   opts,
		bar:    newBar(defaultBarWidth),
	}
}

func newBar(width int) progress.Model {
	return progress.New(progress.WithDefaultGradient(), progress.WithWidth(width))
}

// Init starts the poll timer and, when configured, the event reader.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(tick(m.opts.Interval), waitForEvent(m.opts.Events))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// poll runs one scheduling step off the UI goroutine. A done context counts
// as a cancel request.
func (m ProgressModel) poll() tea.Cmd {
	mgr, mu, ctx, cancel, count := m.mgr, m.pollMu, m.ctx, m.cancel, m.opts.MaxMessages
	return func() tea.Msg {
		mu.Lock()
		defer mu.Unlock()
		busy := mgr.Poll(cancel || ctx.Err() != nil)
		return pollMsg{
			busy:     busy,
			percent:  mgr.Percent(),
			messages: mgr.Messages(count),
			batch:    batchCounts(mgr),
		}
	}
}

// Update handles messages and updates the model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyEsc, KeyCtrlC, KeyQuit:
			if m.opts.EnableCancel {
				m.cancel = true
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar = newBar(max(10, min(msg.Width-10, 60)))

	case tickMsg:
		return m, m.poll()

	case pollMsg:
		m.percent = msg.percent
		m.messages = msg.messages
		m.counts = msg.batch
		if !msg.busy {
			m.done = true
			return m, tea.Quit
		}
		return m, tick(m.opts.Interval)

	case events.TaskFailedEvent:
		m.failures = append(m.failures, fmt.Sprintf("%s: %s", msg.Message, msg.Err))
		if len(m.failures) > maxFailureLines {
			m.failures = m.failures[len(m.failures)-maxFailureLines:]
		}
		return m, waitForEvent(m.opts.Events)

	case events.Event:
		return m, waitForEvent(m.opts.Events)
	}

	return m, nil
}

// View renders the dialog.
func (m ProgressModel) View() string {
	var b strings.Builder

	if m.opts.Title != "" {
		b.WriteString(StyleTitle.Render(m.opts.Title))
		b.WriteString("\n\n")
	}

	b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
	b.WriteString(fmt.Sprintf(" %3d%%\n", m.percent))

	c := m.counts
	b.WriteString(fmt.Sprintf("%s  %s  %s  %s\n",
		StyleStatusComplete.Render(fmt.Sprintf("ok %d", c.OK)),
		StyleStatusFailed.Render(fmt.Sprintf("failed %d", c.Failed)),
		StyleStatusRunning.Render(fmt.Sprintf("running %d", c.Running)),
		StyleStatusPending.Render(fmt.Sprintf("waiting %d", c.Waiting)),
	))

	for _, msg := range m.messages {
		b.WriteString(StyleMessage.Render(msg))
		b.WriteString("\n")
	}
	for _, f := range m.failures {
		b.WriteString(StyleStatusFailed.Render(f))
		b.WriteString("\n")
	}

	b.WriteString(HelpView(m.opts.EnableCancel, m.cancel && !m.done))

	content := b.String()
	if m.width > 0 {
		return StyleDialog.Width(min(m.width-2, lipgloss.Width(content)+2)).Render(content)
	}
	return StyleDialog.Render(content)
}

// Done reports whether the manager has no work left.
func (m ProgressModel) Done() bool { return m.done }

// Cancelled reports whether the user requested a cancel.
func (m ProgressModel) Cancelled() bool { return m.cancel }

// RunProgress shows the dialog until mgr has finished and reports whether a
// cancel stopped the batch. Cancelling ctx cancels the batch. If the program
// ends before the manager is done, for example on SIGTERM or a terminal
// error, the batch is cancelled before RunProgress returns, so no task is
// left running.
func RunProgress(ctx context.Context, mgr *scheduler.Manager, opts ProgressOptions, progOpts ...tea.ProgramOption) (bool, error) {
	model := NewProgressModel(mgr, opts)
	model.ctx = ctx

	p := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(ctx)}, progOpts...)...)
	final, err := p.Run()

	if pm, ok := final.(ProgressModel); !ok || !pm.done {
		model.pollMu.Lock()
		mgr.Poll(true)
		model.pollMu.Unlock()
	}

	killed := errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil
	if err != nil && !killed && !errors.Is(err, tea.ErrInterrupted) {
		return mgr.Cancelled(), fmt.Errorf("running progress dialog: %w", err)
	}
	return mgr.Cancelled(), nil
}

func batchCounts(mgr *scheduler.Manager) events.BatchProgressEvent {
	ev := events.BatchProgressEvent{Total: mgr.Total(), Progress: mgr.Progress(), Percent: mgr.Percent()}
	for _, s := range mgr.Snapshots() {
		switch s.Status {
		case scheduler.TaskWaiting:
			ev.Waiting++
		case scheduler.TaskRunning:
			ev.Running++
		case scheduler.TaskOK:
			ev.OK++
		case scheduler.TaskError:
			ev.Failed++
		}
	}
	return ev
}
