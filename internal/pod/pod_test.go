package pod

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbwo/internal/bus"
	"tbwo/internal/model"
)

func TestWorkerInitializeIdempotent(t *testing.T) {
	b := bus.New()
	w := NewWorker(model.RoleQA, "qa-1", nil)

	w.Initialize(b)
	w.Initialize(b)

	assert.Equal(t, model.PodIdle, w.Status())
	assert.Equal(t, 1, b.GetStats().ActiveSubscriptions)
}

func TestWorkerExecuteTaskDefault(t *testing.T) {
	w := NewWorker(model.RoleFrontend, "fe-1", nil)
	task := &model.Task{ID: model.NewID(model.IDTypeTask), Name: "build hero section", Status: model.TaskPending}

	out := w.ExecuteTask(context.Background(), task)
	require.True(t, out.Success)

	st := w.State()
	assert.Contains(t, st.CompletedTaskIDs, task.ID)
	assert.Equal(t, model.PodIdle, st.Status)
}

func TestWorkerExecuteTaskFailureIsNotPanic(t *testing.T) {
	w := NewWorker(model.RoleBackend, "be-1", func(ctx context.Context, task *model.Task) TaskOutcome {
		return TaskOutcome{Success: false, Error: "schema mismatch"}
	})
	out := w.ExecuteTask(context.Background(), &model.Task{ID: model.NewID(model.IDTypeTask)})
	assert.False(t, out.Success)
	assert.Equal(t, "schema mismatch", out.Error)
	assert.Empty(t, w.State().CompletedTaskIDs)
}

func TestWorkerExecuteTaskRecoversPanic(t *testing.T) {
	w := NewWorker(model.RoleData, "data-1", func(ctx context.Context, task *model.Task) TaskOutcome {
		panic("boom")
	})
	out := w.ExecuteTask(context.Background(), &model.Task{ID: model.NewID(model.IDTypeTask)})
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestWorkerExecuteTaskCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(model.RoleCopy, "copy-1", nil)
	out := w.ExecuteTask(ctx, &model.Task{ID: model.NewID(model.IDTypeTask)})
	assert.False(t, out.Success)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}

func TestSystemPromptAndToolsPerRole(t *testing.T) {
	for _, role := range []model.PodRole{
		model.RoleOrchestrator, model.RoleDesign, model.RoleFrontend,
		model.RoleBackend, model.RoleCopy, model.RoleMotion, model.RoleQA,
		model.RoleResearch, model.RoleData, model.RoleDeployment, model.RoleDevOps,
	} {
		w := NewWorker(role, string(role), nil)
		assert.NotEmpty(t, w.SystemPrompt(), "role %s has no prompt", role)
		assert.NotEmpty(t, w.SpecializedTools(), "role %s has no tools", role)
	}
}

func TestSpecializedToolsReturnsCopy(t *testing.T) {
	w := NewWorker(model.RoleQA, "qa-1", nil)
	tools := w.SpecializedTools()
	tools[0] = "tampered"
	assert.NotEqual(t, "tampered", w.SpecializedTools()[0])
}

func TestOrchestratorRegistryIdempotent(t *testing.T) {
	o := NewOrchestrator("orc")

	o.RegisterPod("pod-1", model.RoleQA)
	o.RegisterPod("pod-1", model.RoleQA)

	assert.Len(t, o.GetRegisteredPods(), 1)
	assert.Equal(t, 1, o.GetActivePodCount())
}

func TestOrchestratorFindPodsByRoleExcludesTerminated(t *testing.T) {
	o := NewOrchestrator("orc")

	o.RegisterPod("pod-1", model.RoleQA)
	o.RegisterPod("pod-2", model.RoleQA)
	o.RegisterPod("pod-3", model.RoleDesign)
	o.UpdatePodStatus("pod-2", "terminated")

	ids := o.FindPodsByRole(model.RoleQA)
	assert.Equal(t, []string{"pod-1"}, ids)
}

func TestOrchestratorRegistryDefensiveCopy(t *testing.T) {
	o := NewOrchestrator("orc")
	o.RegisterPod("pod-1", model.RoleQA)

	snapshot := o.GetRegisteredPods()
	snapshot["pod-1"] = RegistryEntry{Role: model.RoleQA, Status: "terminated"}
	delete(snapshot, "pod-1")

	assert.Equal(t, []string{"pod-1"}, o.FindPodsByRole(model.RoleQA))
}

func TestOrchestratorUnregister(t *testing.T) {
	o := NewOrchestrator("orc")
	o.RegisterPod("pod-1", model.RoleQA)
	o.UnregisterPod("pod-1")
	assert.Empty(t, o.GetRegisteredPods())
}

func TestDelegateTaskWithoutBusDoesNotCrash(t *testing.T) {
	o := NewOrchestrator("orc")
	o.DelegateTask(&model.Task{ID: model.NewID(model.IDTypeTask), Name: "x"}, "pod-1")
	o.RequestStatusFromAll()
	o.BroadcastUpdate(map[string]any{"note": "ignored"})
}

func TestDelegateTaskPublishesHighPriorityAssignment(t *testing.T) {
	b := bus.New()
	o := NewOrchestrator("orc")
	o.Initialize(b)

	var got []model.Message
	unsub := b.Subscribe("pod-1", func(m model.Message) { got = append(got, m) }, bus.Filter{})
	defer unsub()

	task := &model.Task{ID: model.NewID(model.IDTypeTask), Name: "wire nav"}
	o.DelegateTask(task, "pod-1")

	require.Len(t, got, 1)
	assert.Equal(t, model.MessageTaskAssignment, got[0].Type)
	assert.Equal(t, model.PriorityHigh, got[0].Priority)
	assert.Equal(t, task.ID, got[0].Payload["task_id"])
}

func TestDelegateTaskBatchPreservesOrder(t *testing.T) {
	b := bus.New()
	o := NewOrchestrator("orc")
	o.Initialize(b)

	var order []string
	unsub := b.Subscribe("pod-1", func(m model.Message) {
		order = append(order, m.Payload["task_name"].(string))
	}, bus.Filter{})
	defer unsub()

	o.DelegateTaskBatch([]Assignment{
		{PodID: "pod-1", Task: &model.Task{ID: model.NewID(model.IDTypeTask), Name: "first"}},
		{PodID: "pod-1", Task: &model.Task{ID: model.NewID(model.IDTypeTask), Name: "second"}},
		{PodID: "pod-1", Task: &model.Task{ID: model.NewID(model.IDTypeTask), Name: "third"}},
	})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRequestStatusFromAllBroadcasts(t *testing.T) {
	b := bus.New()
	o := NewOrchestrator("orc")
	o.Initialize(b)

	probes := 0
	unsub := b.Subscribe("pod-1", func(m model.Message) {
		if m.Type == model.MessageQuestion {
			probes++
		}
	}, bus.Filter{})
	defer unsub()

	o.RequestStatusFromAll()
	assert.Equal(t, 1, probes)
}
