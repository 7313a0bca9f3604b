package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskIndex() int
}

// Topic constants
const (
	TopicTask  = "task"
	TopicBatch = "batch"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeBatchProgress = "batch.progress"
	EventTypeBatchStopped  = "batch.stopped"
)

// TaskStartedEvent is published when a task is placed in a thread slot.
type TaskStartedEvent struct {
	Index     int
	Slot      int
	Message   string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskIndex() int    { return e.Index }

// TaskCompletedEvent is published when a finished task's slot is freed.
type TaskCompletedEvent struct {
	Index     int
	Message   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskIndex() int    { return e.Index }

// TaskFailedEvent is published when a task ends in error, including tasks
// failed because their connected task failed.
type TaskFailedEvent struct {
	Index     int
	Message   string
	Err       string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskIndex() int    { return e.Index }

// BatchProgressEvent is published once per scheduler step.
type BatchProgressEvent struct {
	Total     int64
	Progress  int64
	Percent   int
	Waiting   int
	Running   int
	OK        int
	Failed    int
	Timestamp time.Time
}

func (e BatchProgressEvent) EventType() string { return EventTypeBatchProgress }
func (e BatchProgressEvent) TaskIndex() int    { return -1 }

// BatchStoppedEvent is published when the scheduler shuts its threads down
// because of an error or a cancel request.
type BatchStoppedEvent struct {
	Reason    string // "error" or "cancel"
	Policy    string
	Stopped   int // threads that were active
	Timestamp time.Time
}

func (e BatchStoppedEvent) EventType() string { return EventTypeBatchStopped }
func (e BatchStoppedEvent) TaskIndex() int    { return -1 }
