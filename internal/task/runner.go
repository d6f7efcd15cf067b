package task

import (
	"context"
	"fmt"
	"log/slog"
)

// Runner executes tasks against a host, skipping those already satisfied.
type Runner struct {
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger.With("component", "task"),
	}
}

// Summary counts what a Run did.
type Summary struct {
	Applied   int
	Satisfied int
}

// Run executes tasks in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, h Host, tasks ...Task) (Summary, error) {
	var sum Summary
	for _, t := range tasks {
		name := t.Name()
		r.logger.Info("Processing task", "task", name, "host", h.ID())

		needsExec, err := t.NeedsExecution(ctx, h)
		if err != nil {
			return sum, fmt.Errorf("failed to check if task %q needs execution: %w", name, err)
		}

		if !needsExec {
			r.logger.Info("Task is already satisfied", "task", name, "host", h.ID())
			sum.Satisfied++
			continue
		}

		r.logger.Info("Applying task", "task", name, "host", h.ID(), "adapter", h.Adapter().Name())
		if err := t.Execute(ctx, h); err != nil {
			return sum, fmt.Errorf("failed to execute task %q: %w", name, err)
		}
		sum.Applied++

		r.logger.Info("Task applied successfully", "task", name, "host", h.ID())
	}

	return sum, nil
}
