package task

import (
	"context"
)

// TaskConfigurator applies a fixed list of tasks to any host.
type TaskConfigurator struct {
	tasks  []Task
	runner *Runner
}

func NewTaskConfigurator(runner *Runner, tasks ...Task) *TaskConfigurator {
	return &TaskConfigurator{
		tasks:  tasks,
		runner: runner,
	}
}

// Tasks returns the configured tasks in execution order.
func (tc *TaskConfigurator) Tasks() []Task {
	return tc.tasks
}

// Configure applies the tasks to h using the runner.
func (tc *TaskConfigurator) Configure(ctx context.Context, h Host) (Summary, error) {
	return tc.runner.Run(ctx, h, tc.tasks...)
}
