package scheduler

import (
	"context"
	"fmt"
)

// Thread runs exactly one task on its own goroutine and translates the
// outcome of Run into the task's status.
type Thread struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newThread(t Task) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	return &Thread{
		task:   t,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the task goroutine.
func (th *Thread) Start() {
	go th.execute()
}

// execute marks the task running, runs it and records OK or ERROR.
// A panic in Run is reported as an error.
func (th *Thread) execute() {
	defer close(th.done)
	defer th.cancel()

	b := th.task.base()
	b.start()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return th.task.Run(th.ctx)
	}()

	b.finish(err)
}

// Terminated reports whether the goroutine has exited.
func (th *Thread) Terminated() bool {
	select {
	case <-th.done:
		return true
	default:
		return false
	}
}

// Join blocks until the goroutine exits.
func (th *Thread) Join() {
	<-th.done
}

// Interrupt cancels the context passed to Run without waiting for it to return.
// A task that ignores its context keeps running detached.
func (th *Thread) Interrupt() {
	th.cancel()
}

// Done returns a channel closed when the goroutine exits.
func (th *Thread) Done() <-chan struct{} {
	return th.done
}
