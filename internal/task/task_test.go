package task_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/task"
	"github.com/tpodg/ipsettle/internal/testutils/fakehost"
)

type fakeHost struct {
	host    *fakehost.Host
	adapter netcfg.Adapter
}

func newFakeHost() *fakeHost {
	h := fakehost.New().AddLink("eth0", "10.0.0.9/24").SetLease("eth0", "192.168.1.50/24")
	return &fakeHost{host: h, adapter: netcfg.NewIPRoute(h, "web-1")}
}

func (f *fakeHost) ID() string              { return "web-1" }
func (f *fakeHost) Adapter() netcfg.Adapter { return f.adapter }
func (f *fakeHost) Gateways(ctx context.Context) (map[string]string, error) {
	return map[string]string{"eth0": f.host.Gateway("eth0")}, nil
}

type mockTask struct {
	name           string
	needsExecution bool
	executed       bool
	err            error
}

func (m *mockTask) Name() string { return m.name }
func (m *mockTask) NeedsExecution(ctx context.Context, h task.Host) (bool, error) {
	return m.needsExecution, nil
}
func (m *mockTask) Execute(ctx context.Context, h task.Host) error {
	m.executed = true
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunner_Run(t *testing.T) {
	runner := task.NewRunner(discardLogger())
	h := newFakeHost()

	t.Run("Task needs execution", func(t *testing.T) {
		mt := &mockTask{name: "test-task", needsExecution: true}
		sum, err := runner.Run(context.Background(), h, mt)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !mt.executed {
			t.Error("task should have been executed")
		}
		if sum.Applied != 1 || sum.Satisfied != 0 {
			t.Errorf("unexpected summary %+v", sum)
		}
	})

	t.Run("Task does not need execution", func(t *testing.T) {
		mt := &mockTask{name: "test-task", needsExecution: false}
		sum, err := runner.Run(context.Background(), h, mt)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if mt.executed {
			t.Error("task should not have been executed")
		}
		if sum.Satisfied != 1 {
			t.Errorf("unexpected summary %+v", sum)
		}
	})

	t.Run("Task fails", func(t *testing.T) {
		expectedErr := errors.New("execution failed")
		failing := &mockTask{name: "failing", needsExecution: true, err: expectedErr}
		after := &mockTask{name: "after", needsExecution: true}
		_, err := runner.Run(context.Background(), h, failing, after)
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if after.executed {
			t.Error("tasks after a failure must not run")
		}
	})
}

type mockConfig struct {
	Name string `yaml:"name"`
}

func TestCreateTasks(t *testing.T) {
	builder := task.BuilderFor("mock", func(cfg mockConfig) ([]task.Task, error) {
		return []task.Task{&mockTask{name: cfg.Name}}, nil
	})

	t.Run("Create tasks from state", func(t *testing.T) {
		state := map[string]any{
			"mock": map[string]any{"name": "test-task"},
		}
		tasks, unknown, err := task.CreateTasks(state, builder)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(unknown) != 0 {
			t.Fatalf("unexpected unknown keys: %v", unknown)
		}
		if len(tasks) != 1 || tasks[0].Name() != "test-task" {
			t.Fatalf("unexpected tasks %v", tasks)
		}
	})

	t.Run("Create tasks from unknown state", func(t *testing.T) {
		state := map[string]any{"unknown": nil}
		_, unknown, err := task.CreateTasks(state, builder)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(unknown) != 1 || unknown[0] != "unknown" {
			t.Errorf("expected unknown key 'unknown', got %v", unknown)
		}
	})

	t.Run("Reject unknown fields", func(t *testing.T) {
		state := map[string]any{"mock": map[string]any{"nmae": "typo"}}
		if _, _, err := task.CreateTasks(state, builder); err == nil {
			t.Fatal("expected decode error for unknown field")
		}
	})
}

func TestPlanTasks(t *testing.T) {
	overrides := map[string]any{
		task.NetworkKey: map[string]any{"input": "10.0.0.16/29"},
		task.RemoveKey:  []string{"10.0.0.9"},
		"hostname":      "web-1",
	}
	tasks, unknown, err := task.PlanTasks(overrides, task.Specs("eth0"))
	if err != nil {
		t.Fatalf("PlanTasks failed: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "hostname" {
		t.Fatalf("unexpected unknown keys %v", unknown)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Name() != "remove addresses from eth0" || tasks[1].Name() != "static address on eth0" {
		t.Fatalf("unexpected task order %q, %q", tasks[0].Name(), tasks[1].Name())
	}
	static := tasks[1].(*task.StaticAddress)
	if static.Desired.Interface != "eth0" || static.Desired.Input != "10.0.0.16/29" {
		t.Fatalf("defaults not merged: %+v", static.Desired)
	}

	none, _, err := task.PlanTasks(map[string]any{}, task.Specs("eth0"))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no tasks without overrides, got %v, %v", none, err)
	}
}

func TestConfigureConverges(t *testing.T) {
	h := newFakeHost()
	tasks, _, err := task.PlanTasks(map[string]any{
		task.NetworkKey: map[string]any{"addresses": []any{"10.0.0.20"}, "prefix": 24, "gateway": "10.0.0.1"},
	}, task.Specs("eth0"))
	if err != nil {
		t.Fatalf("PlanTasks failed: %v", err)
	}
	configurator := task.NewTaskConfigurator(task.NewRunner(discardLogger()), tasks...)

	sum, err := configurator.Configure(context.Background(), h)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if sum.Applied != 1 {
		t.Fatalf("expected one applied task, got %+v", sum)
	}
	if got := h.host.CIDRs("eth0"); len(got) != 1 || got[0] != "10.0.0.20/24" {
		t.Fatalf("unexpected addresses %v", got)
	}

	sum, err = configurator.Configure(context.Background(), h)
	if err != nil {
		t.Fatalf("second Configure failed: %v", err)
	}
	if sum.Applied != 0 || sum.Satisfied != 1 {
		t.Fatalf("expected second run to be satisfied, got %+v", sum)
	}
}

func TestConfigureConvergesApplyAllOnRawLink(t *testing.T) {
	h := newFakeHost()
	tasks, _, err := task.PlanTasks(map[string]any{
		task.NetworkKey: map[string]any{"input": "10.0.0.16/29", "apply_all": true},
	}, task.Specs("eth0"))
	if err != nil {
		t.Fatalf("PlanTasks failed: %v", err)
	}
	configurator := task.NewTaskConfigurator(task.NewRunner(discardLogger()), tasks...)

	if _, err := configurator.Configure(context.Background(), h); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if got := h.host.CIDRs("eth0"); len(got) != 1 || got[0] != "10.0.0.18/29" {
		t.Fatalf("unexpected addresses %v", got)
	}

	sum, err := configurator.Configure(context.Background(), h)
	if err != nil {
		t.Fatalf("second Configure failed: %v", err)
	}
	if sum.Applied != 0 || sum.Satisfied != 1 {
		t.Fatalf("expected second run to be satisfied, got %+v", sum)
	}
}

func TestRemoveAddresses(t *testing.T) {
	h := newFakeHost()
	h.host.RunScript("ip addr add 10.0.0.10/24 dev eth0")
	rm := &task.RemoveAddresses{Interface: "eth0", Addresses: []string{"10.0.0.10"}}

	needs, err := rm.NeedsExecution(context.Background(), h)
	if err != nil || !needs {
		t.Fatalf("NeedsExecution = %v, %v", needs, err)
	}
	if err := rm.Execute(context.Background(), h); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	needs, err = rm.NeedsExecution(context.Background(), h)
	if err != nil || needs {
		t.Fatalf("NeedsExecution after removal = %v, %v", needs, err)
	}
	if got := h.host.CIDRs("eth0"); len(got) != 1 || got[0] != "10.0.0.9/24" {
		t.Fatalf("unexpected addresses %v", got)
	}
}
