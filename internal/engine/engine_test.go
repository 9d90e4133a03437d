package engine

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbwo/internal/bus"
	"tbwo/internal/model"
	"tbwo/internal/pod"
)

func quietEngine(approver Approver, runner pod.TaskRunner) *Engine {
	e := New(bus.New(), nil, approver)
	e.Runner = runner
	e.Logger = log.New(io.Discard, "", 0)
	return e
}

func newTask(name string, minutes int) model.Task {
	return model.Task{
		ID:               model.NewID(model.IDTypeTask),
		Name:             name,
		Status:           model.TaskPending,
		EstimatedMinutes: minutes,
	}
}

func newPhase(id, name string, order int, deps []string, tasks ...model.Task) model.Phase {
	total := 0
	for _, t := range tasks {
		total += t.EstimatedMinutes
	}
	return model.Phase{
		ID:               id,
		Name:             name,
		Order:            order,
		EstimatedMinutes: total,
		DependsOn:        deps,
		AssignedRoles:    []model.PodRole{model.RoleFrontend},
		Status:           model.PhasePending,
		Tasks:            tasks,
	}
}

func testWorkOrder(mode model.StrategyMode, phases ...model.Phase) *model.WorkOrder {
	now := time.Now().UTC().Format(time.RFC3339)
	wo := model.NewWorkOrder(model.TypeGeneric, "exercise the engine", 500, now)
	wo.Status = model.WorkOrderInProgress
	wo.Authority = model.AuthorityAutonomous
	wo.Plan = &model.ExecutionPlan{
		Summary:          "engine test plan",
		EstimatedMinutes: 500,
		Confidence:       0.9,
		Phases:           phases,
		PodStrategy:      model.PodStrategy{Mode: mode, MaxConcurrent: 3},
	}
	orch := model.PodState{ID: model.NewID(model.IDTypePod), Role: model.RoleOrchestrator, Name: "conductor", Status: model.PodInitializing}
	front := model.PodState{ID: model.NewID(model.IDTypePod), Role: model.RoleFrontend, Name: "builder", Status: model.PodInitializing}
	wo.Pods[orch.ID] = orch
	wo.Pods[front.ID] = front
	return wo
}

// recordingRunner collects executed task names in order, thread-safely.
type recordingRunner struct {
	mu    sync.Mutex
	names []string
	fail  map[string]bool // task name → force failure
}

func (r *recordingRunner) run(ctx context.Context, task *model.Task) pod.TaskOutcome {
	r.mu.Lock()
	r.names = append(r.names, task.Name)
	fail := r.fail[task.Name]
	r.mu.Unlock()
	if fail {
		return pod.TaskOutcome{Success: false, Error: "forced failure"}
	}
	return pod.TaskOutcome{Success: true, Output: task.Name + ".out"}
}

func (r *recordingRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func TestRunSequentialCompletesInOrder(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10), newTask("b", 20)),
		newPhase("p2", "second", 2, []string{"p1"}, newTask("c", 30)),
	)

	require.NoError(t, e.Run(context.Background(), wo))

	assert.Equal(t, []string{"a", "b", "c"}, rec.executed())
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
	for _, phase := range wo.Plan.Phases {
		assert.Equal(t, model.PhaseComplete, phase.Status)
		assert.Equal(t, 100.0, phase.Progress)
	}
}

func TestRunAccumulatesElapsedBudget(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10), newTask("b", 20)),
		newPhase("p2", "second", 2, []string{"p1"}, newTask("c", 30)),
	)

	require.NoError(t, e.Run(context.Background(), wo))
	assert.Equal(t, 60, wo.Budget.ElapsedMinutes)
}

func TestRunCollectsArtifacts(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)

	require.NoError(t, e.Run(context.Background(), wo))
	require.Len(t, wo.Artifacts, 1)
	assert.Equal(t, "a.out", wo.Artifacts[0].Name)
	assert.True(t, strings.HasPrefix(wo.Artifacts[0].ID, "art_"))
}

func TestRunParallelHonorsDependencies(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategyParallel,
		newPhase("p1", "foundation", 1, nil, newTask("base", 10)),
		newPhase("p2", "left", 2, []string{"p1"}, newTask("left-work", 10)),
		newPhase("p3", "right", 3, []string{"p1"}, newTask("right-work", 10)),
		newPhase("p4", "merge", 4, []string{"p2", "p3"}, newTask("merge-work", 10)),
	)

	require.NoError(t, e.Run(context.Background(), wo))

	names := rec.executed()
	require.Len(t, names, 4)
	assert.Equal(t, "base", names[0])
	assert.Equal(t, "merge-work", names[3])
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestMaxParallelCapsPlanConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	runner := func(ctx context.Context, task *model.Task) pod.TaskOutcome {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return pod.TaskOutcome{Success: true}
	}

	e := quietEngine(nil, runner)
	e.MaxParallel = 1
	wo := testWorkOrder(model.StrategyParallel,
		newPhase("p1", "a", 1, nil, newTask("a", 10)),
		newPhase("p2", "b", 2, nil, newTask("b", 10)),
		newPhase("p3", "c", 3, nil, newTask("c", 10)),
	)
	wo.Plan.PodStrategy.MaxConcurrent = 3 // the deployment cap must win

	require.NoError(t, e.Run(context.Background(), wo))
	assert.Equal(t, 1, peak)
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestRunFailureStopsDependentsOnly(t *testing.T) {
	rec := &recordingRunner{fail: map[string]bool{"breaks": true}}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("ok", 10), newTask("breaks", 10)),
		newPhase("p2", "second", 2, []string{"p1"}, newTask("never", 10)),
	)

	// a failed phase is recorded state, not a run error
	require.NoError(t, e.Run(context.Background(), wo))

	assert.Equal(t, model.PhaseFailed, wo.Plan.Phases[0].Status)
	assert.Equal(t, model.PhaseSkipped, wo.Plan.Phases[1].Status)
	assert.NotEqual(t, model.WorkOrderComplete, wo.Status)
	assert.NotContains(t, rec.executed(), "never")
}

func TestRetryPhaseReopensFailedAndDependents(t *testing.T) {
	rec := &recordingRunner{fail: map[string]bool{"breaks": true}}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("breaks", 10)),
		newPhase("p2", "second", 2, []string{"p1"}, newTask("after", 10)),
	)
	require.NoError(t, e.Run(context.Background(), wo))
	require.Equal(t, model.PhaseFailed, wo.Plan.Phases[0].Status)
	require.Equal(t, model.PhaseSkipped, wo.Plan.Phases[1].Status)

	// fix the fault, retry, rerun
	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()
	require.NoError(t, e.RetryPhase(wo, "p1"))
	assert.Equal(t, model.PhasePending, wo.Plan.Phases[0].Status)
	assert.Equal(t, model.PhasePending, wo.Plan.Phases[1].Status)
	assert.Equal(t, model.TaskPending, wo.Plan.Phases[0].Tasks[0].Status)

	require.NoError(t, e.Run(context.Background(), wo))
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestRetryPhaseLeavesCompleteUntouched(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)
	require.NoError(t, e.Run(context.Background(), wo))
	require.Equal(t, model.PhaseComplete, wo.Plan.Phases[0].Status)

	require.NoError(t, e.RetryPhase(wo, "p1"))
	assert.Equal(t, model.PhaseComplete, wo.Plan.Phases[0].Status)
	assert.Equal(t, 100.0, wo.Plan.Phases[0].Progress)
}

func TestRetryPhaseUnknownPhase(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))
	err := e.RetryPhase(wo, "nope")
	assert.Error(t, err)
}

func TestCheckpointSupervisedWaitsForApproval(t *testing.T) {
	approver := NewManualApprover()
	rec := &recordingRunner{}
	e := quietEngine(approver, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)
	wo.Authority = model.AuthoritySupervised

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), wo) }()

	// approval arriving before or after Wait both release the gate
	approver.Approve(wo.ID, "p1", "reviewer")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after approval")
	}

	require.Len(t, wo.Checkpoints, 1)
	cp := wo.Checkpoints[0]
	assert.Equal(t, "p1", cp.PhaseID)
	require.NotNil(t, cp.ApprovedBy)
	assert.Equal(t, "reviewer", *cp.ApprovedBy)
	assert.NotNil(t, cp.ApprovedAt)
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestCheckpointAutonomousSkipsApprover(t *testing.T) {
	approver := NewManualApprover()
	rec := &recordingRunner{}
	e := quietEngine(approver, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)
	wo.Authority = model.AuthorityAutonomous

	// no Approve call: autonomous must never block
	require.NoError(t, e.Run(context.Background(), wo))
	assert.Empty(t, wo.Checkpoints)
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestCheckpointStandardHonorsPhaseFlag(t *testing.T) {
	approver := NewManualApprover()
	rec := &recordingRunner{}
	e := quietEngine(approver, rec.run)
	flagged := newPhase("p2", "gated", 2, []string{"p1"}, newTask("b", 10))
	flagged.RequiresCheckpoint = true
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "open", 1, nil, newTask("a", 10)),
		flagged,
	)
	wo.Authority = model.AuthorityStandard

	approver.Approve(wo.ID, "p2", "reviewer")
	require.NoError(t, e.Run(context.Background(), wo))

	require.Len(t, wo.Checkpoints, 1)
	assert.Equal(t, "p2", wo.Checkpoints[0].PhaseID)
}

func TestCheckpointWaitCancelled(t *testing.T) {
	approver := NewManualApprover()
	e := quietEngine(approver, nil)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)
	wo.Authority = model.AuthoritySupervised

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, wo) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not return")
	}
}

func TestRunRequiresInProgress(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))
	wo.Status = model.WorkOrderDraft
	assert.Error(t, e.Run(context.Background(), wo))
}

func TestRunRequiresPlan(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential)
	wo.Plan = nil
	assert.Error(t, e.Run(context.Background(), wo))
}

func TestPauseAndResume(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))

	require.NoError(t, e.Pause(wo, "client call"))
	assert.Equal(t, model.WorkOrderPaused, wo.Status)
	require.Len(t, wo.PauseEvents, 1)
	assert.Nil(t, wo.PauseEvents[0].ResumedAt)
	assert.Equal(t, "client call", wo.PauseEvents[0].Reason)

	require.NoError(t, e.Resume(wo))
	assert.Equal(t, model.WorkOrderInProgress, wo.Status)
	assert.NotNil(t, wo.PauseEvents[0].ResumedAt)
}

func TestPauseRejectedWhenNotInProgress(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))
	wo.Status = model.WorkOrderDraft
	assert.Error(t, e.Pause(wo, "too early"))
}

func TestPausedRunStopsAtPhaseBoundary(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
		newPhase("p2", "second", 2, []string{"p1"}, newTask("b", 10)),
	)

	// the runner flips the status mid-run; Run must stop at the next
	// phase boundary instead of starting p2
	e.Runner = func(ctx context.Context, task *model.Task) pod.TaskOutcome {
		out := rec.run(ctx, task)
		if task.Name == "a" {
			wo.Status = model.WorkOrderPaused
		}
		return out
	}
	require.NoError(t, e.Run(context.Background(), wo))

	assert.Equal(t, model.WorkOrderPaused, wo.Status)
	assert.Equal(t, model.PhaseComplete, wo.Plan.Phases[0].Status)
	assert.Equal(t, model.PhasePending, wo.Plan.Phases[1].Status)

	require.NoError(t, e.Resume(wo))
	require.NoError(t, e.Run(context.Background(), wo))
	assert.Equal(t, model.WorkOrderComplete, wo.Status)
}

func TestSpawnPodsRequiresOrchestrator(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))
	for id, st := range wo.Pods {
		if st.Role == model.RoleOrchestrator {
			delete(wo.Pods, id)
		}
	}
	assert.Error(t, e.SpawnPods(wo))
}

func TestSpawnPodsAdoptsStateIDs(t *testing.T) {
	e := quietEngine(nil, nil)
	wo := testWorkOrder(model.StrategySequential, newPhase("p1", "first", 1, nil))
	require.NoError(t, e.SpawnPods(wo))
	for id, st := range wo.Pods {
		assert.Equal(t, id, st.ID)
		_, live := e.workers[id]
		assert.True(t, live, "pod %s has no live worker", id)
	}
}

func TestFinishMarksPodsComplete(t *testing.T) {
	rec := &recordingRunner{}
	e := quietEngine(nil, rec.run)
	wo := testWorkOrder(model.StrategySequential,
		newPhase("p1", "first", 1, nil, newTask("a", 10)),
	)
	require.NoError(t, e.Run(context.Background(), wo))
	for _, st := range wo.Pods {
		assert.Equal(t, model.PodComplete, st.Status)
	}
}
