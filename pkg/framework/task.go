package framework

import (
	"context"

	"github.com/golang/glog"
)

// Task runs Handler in its own goroutine each time it is woken.
// Wake-ups while Handler runs are coalesced into one more iteration.
type Task struct {
	TaskName string
	Handler  func(context.Context)

	event *Event
}

// NewTask creates a Task.
func NewTask(name string, handler func(context.Context)) *Task {
	return &Task{TaskName: name, Handler: handler, event: NewEvent()}
}

// Name implements Named.
func (t *Task) Name() string {
	return t.TaskName
}

// Wake schedules one iteration of the task.
func (t *Task) Wake() {
	t.event.Wake()
}

// Run implements Runnable.
func (t *Task) Run(ctx context.Context) error {
	for {
		if err := t.event.Wait(ctx); err != nil {
			return err
		}
		glog.V(4).Infof("Task[%s] woken", t.TaskName)
		t.Handler(ctx)
	}
}
