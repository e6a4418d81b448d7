package schedule

import "hueplan/internal/eventbus"

// Bus event types published by the scheduler.
const (
	EventTaskScheduled = "scheduler.task.scheduled"
	EventTaskStarted   = "scheduler.task.started"
	EventTaskExecuted  = "scheduler.task.executed"
	EventTaskFailed    = "scheduler.task.failed"
	EventTaskCancelled = "scheduler.task.cancelled"
)

// TaskEvent is the payload carried by scheduler.* events.
type TaskEvent struct {
	Alias string `json:"alias"`
	Tags  string `json:"tags,omitempty"`
}

// publisher is the slice of eventbus.Bus the scheduler needs. A nil
// publisher disables eventing.
type publisher interface {
	Publish(e eventbus.Event)
}

func publish(bus publisher, typ string, data TaskEvent) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}
