// Package engine advances a work order's plan to completion, honoring
// phase dependency order and the plan's pod-concurrency strategy.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tbwo/internal/bus"
	"tbwo/internal/model"
	"tbwo/internal/pod"
	"tbwo/internal/telemetry"
)

// Approver releases checkpoint waits. Wait blocks until the phase is
// approved or the context ends; there is no implicit timeout.
type Approver interface {
	Wait(ctx context.Context, workOrderID, phaseID string) (approvedBy string, err error)
}

type Engine struct {
	Bus       *bus.Bus
	Telemetry *telemetry.Emitter
	Approver  Approver
	Runner    pod.TaskRunner
	Logger    *log.Logger
	Now       func() time.Time

	// MaxParallel caps the plan's own concurrency limit when positive. It
	// comes from deployment config, not from the plan.
	MaxParallel int

	// mu serializes mutations of work-order state shared across phase
	// goroutines (budget, artifacts, checkpoints)
	mu      sync.Mutex
	orch    *pod.Orchestrator
	workers map[string]pod.Pod // pod id → live pod, orchestrator included
}

func New(b *bus.Bus, emitter *telemetry.Emitter, approver Approver) *Engine {
	return &Engine{
		Bus:       b,
		Telemetry: emitter,
		Approver:  approver,
		Logger:    log.Default(),
		Now:       time.Now,
		workers:   make(map[string]pod.Pod),
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e *Engine) emit(t telemetry.EventType, data map[string]any) {
	if e.Telemetry != nil {
		e.Telemetry.Emit(t, data)
	}
}

// SpawnPods revives the work order's pods as live workers, wires them to
// the bus, and registers every non-orchestrator pod with the orchestrator.
func (e *Engine) SpawnPods(wo *model.WorkOrder) error {
	var orchState *model.PodState
	for id := range wo.Pods {
		st := wo.Pods[id]
		if st.Role == model.RoleOrchestrator {
			orchState = &st
			break
		}
	}
	if orchState == nil {
		return fmt.Errorf("work order %s has no orchestrator pod", wo.ID)
	}

	e.orch = pod.NewOrchestratorFromState(*orchState)
	e.orch.Initialize(e.Bus)
	e.workers = make(map[string]pod.Pod)
	e.workers[e.orch.ID()] = e.orch

	for id, st := range wo.Pods {
		if st.Role == model.RoleOrchestrator {
			continue
		}
		w := pod.NewWorkerFromState(st, e.Runner)
		w.Initialize(e.Bus)
		e.orch.RegisterPod(id, st.Role)
		e.workers[id] = w
	}
	e.syncPodStates(wo)
	return nil
}

// Orchestrator exposes the live orchestrator after SpawnPods.
func (e *Engine) Orchestrator() *pod.Orchestrator {
	return e.orch
}

func (e *Engine) syncPodStates(wo *model.WorkOrder) {
	for id, p := range e.workers {
		wo.Pods[id] = p.State()
	}
}

// Run walks the phase graph until no phase can make progress. It returns
// nil even when phases failed; a failed phase is state to retry, not an
// error to bubble.
func (e *Engine) Run(ctx context.Context, wo *model.WorkOrder) error {
	if wo.Status != model.WorkOrderInProgress {
		return fmt.Errorf("work order %s is %s, not in_progress", wo.ID, wo.Status)
	}
	if wo.Plan == nil {
		return fmt.Errorf("work order %s has no plan", wo.ID)
	}
	if e.orch == nil {
		if err := e.SpawnPods(wo); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wo.Status != model.WorkOrderInProgress {
			// paused mid-run; the next Resume+Run picks up from here
			return nil
		}
		eligible := e.eligiblePhases(wo.Plan)
		if len(eligible) == 0 {
			break
		}

		switch wo.Plan.PodStrategy.Mode {
		case model.StrategyParallel:
			if err := e.runParallel(ctx, wo, eligible); err != nil {
				return err
			}
		default:
			// sequential runs exactly one eligible phase per pass, in order
			if err := e.runPhase(ctx, wo, eligible[0]); err != nil {
				return err
			}
		}
		e.skipBlockedPhases(wo)
		e.syncPodStates(wo)
	}

	e.finish(wo)
	return nil
}

func (e *Engine) runParallel(ctx context.Context, wo *model.WorkOrder, eligible []*model.Phase) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := wo.Plan.PodStrategy.MaxConcurrent
	if limit <= 0 {
		limit = len(eligible)
	}
	if e.MaxParallel > 0 && limit > e.MaxParallel {
		limit = e.MaxParallel
	}
	g.SetLimit(limit)
	for _, phase := range eligible {
		phase := phase
		g.Go(func() error {
			return e.runPhase(gctx, wo, phase)
		})
	}
	return g.Wait()
}

// eligiblePhases returns pending phases whose dependencies are all
// complete, ordered by role priority then declared order.
func (e *Engine) eligiblePhases(plan *model.ExecutionPlan) []*model.Phase {
	byID := make(map[string]*model.Phase, len(plan.Phases))
	for i := range plan.Phases {
		byID[plan.Phases[i].ID] = &plan.Phases[i]
	}

	var eligible []*model.Phase
	for i := range plan.Phases {
		phase := &plan.Phases[i]
		if phase.Status != model.PhasePending {
			continue
		}
		ready := true
		for _, depID := range phase.DependsOn {
			dep := byID[depID]
			if dep == nil || dep.Status != model.PhaseComplete {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, phase)
		}
	}

	rank := rolePriority(plan.PodStrategy.PriorityOrder)
	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := phaseRank(eligible[i], rank), phaseRank(eligible[j], rank)
		if ri != rj {
			return ri < rj
		}
		return eligible[i].Order < eligible[j].Order
	})
	return eligible
}

func rolePriority(order []model.PodRole) map[model.PodRole]int {
	rank := make(map[model.PodRole]int, len(order))
	for i, r := range order {
		rank[r] = i
	}
	return rank
}

func phaseRank(phase *model.Phase, rank map[model.PodRole]int) int {
	best := len(rank) + 1
	for _, role := range phase.AssignedRoles {
		if r, ok := rank[role]; ok && r < best {
			best = r
		}
	}
	return best
}

// skipBlockedPhases marks pending phases whose dependencies terminally
// failed or were skipped, so a run with a failed phase terminates instead
// of spinning. Retry of the failed phase re-opens them.
func (e *Engine) skipBlockedPhases(wo *model.WorkOrder) {
	plan := wo.Plan
	byID := make(map[string]*model.Phase, len(plan.Phases))
	for i := range plan.Phases {
		byID[plan.Phases[i].ID] = &plan.Phases[i]
	}
	for i := range plan.Phases {
		phase := &plan.Phases[i]
		if phase.Status != model.PhasePending {
			continue
		}
		for _, depID := range phase.DependsOn {
			dep := byID[depID]
			if dep != nil && (dep.Status == model.PhaseFailed || dep.Status == model.PhaseSkipped) {
				phase.Status = model.PhaseSkipped
				e.emit(telemetry.EventPhaseTransition, map[string]any{
					"phase_id": phase.ID, "status": string(model.PhaseSkipped),
				})
				break
			}
		}
	}
}

func (e *Engine) runPhase(ctx context.Context, wo *model.WorkOrder, phase *model.Phase) error {
	if err := e.checkpointGate(ctx, wo, phase); err != nil {
		return err
	}

	if err := model.ValidatePhaseTransition(phase.Status, model.PhaseInProgress); err != nil {
		return err
	}
	phase.Status = model.PhaseInProgress
	e.emit(telemetry.EventPhaseTransition, map[string]any{
		"phase_id": phase.ID, "status": string(model.PhaseInProgress),
	})

	total := len(phase.Tasks)
	done := 0
	for i := range phase.Tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		task := &phase.Tasks[i]
		if task.Status == model.TaskComplete {
			done++
			continue
		}
		ok := e.runTask(ctx, wo, phase, task)
		e.mu.Lock()
		wo.Budget.ElapsedMinutes += task.EstimatedMinutes
		overBudget := wo.Budget.OverBudget()
		e.mu.Unlock()
		if overBudget {
			e.logf("work order %s is over budget: %d/%d minutes", wo.ID, wo.Budget.ElapsedMinutes, wo.Budget.TotalMinutes)
		}
		if !ok {
			phase.Status = model.PhaseFailed
			phase.Progress = progressPercent(done, total)
			e.emit(telemetry.EventPhaseTransition, map[string]any{
				"phase_id": phase.ID, "status": string(model.PhaseFailed),
			})
			e.logf("phase %s (%s) failed at task %s", phase.ID, phase.Name, task.Name)
			return nil
		}
		done++
		phase.Progress = progressPercent(done, total)
	}

	phase.Status = model.PhaseComplete
	phase.Progress = 100
	e.emit(telemetry.EventPhaseTransition, map[string]any{
		"phase_id": phase.ID, "status": string(model.PhaseComplete),
	})
	return nil
}

// checkpointGate halts before the phase when the plan or the authority
// level demands sign-off. The wait is unbounded; only approval or context
// cancellation releases it.
func (e *Engine) checkpointGate(ctx context.Context, wo *model.WorkOrder, phase *model.Phase) error {
	required := false
	switch wo.Authority {
	case model.AuthoritySupervised:
		required = true
	case model.AuthorityAutonomous:
		required = false
	default:
		required = phase.RequiresCheckpoint
	}
	if !required || e.Approver == nil {
		return nil
	}

	phase.Status = model.PhaseWaiting
	for _, p := range e.workers {
		if p.Role() != model.RoleOrchestrator {
			p.SetStatus(model.PodCheckpoint)
		}
	}
	cp := model.Checkpoint{
		PhaseID:     phase.ID,
		Reason:      fmt.Sprintf("sign-off before phase %q", phase.Name),
		RequestedAt: e.Now().UTC().Format(time.RFC3339),
	}
	e.mu.Lock()
	wo.Checkpoints = append(wo.Checkpoints, cp)
	idx := len(wo.Checkpoints) - 1
	e.mu.Unlock()
	e.emit(telemetry.EventCheckpointWaiting, map[string]any{
		"work_order_id": wo.ID, "phase_id": phase.ID,
	})

	approvedBy, err := e.Approver.Wait(ctx, wo.ID, phase.ID)
	if err != nil {
		return err
	}

	now := e.Now().UTC().Format(time.RFC3339)
	e.mu.Lock()
	wo.Checkpoints[idx].ApprovedAt = &now
	wo.Checkpoints[idx].ApprovedBy = &approvedBy
	e.mu.Unlock()
	for _, p := range e.workers {
		if p.Status() == model.PodCheckpoint {
			p.SetStatus(model.PodIdle)
		}
	}
	e.emit(telemetry.EventCheckpointApproved, map[string]any{
		"work_order_id": wo.ID, "phase_id": phase.ID, "approved_by": approvedBy,
	})
	return nil
}

// runTask delegates the task to a pod and drives it to an outcome. A pod
// crash or timeout surfaces as an ordinary failed outcome.
func (e *Engine) runTask(ctx context.Context, wo *model.WorkOrder, phase *model.Phase, task *model.Task) bool {
	target := e.resolvePod(phase, task)
	if target == nil {
		task.Status = model.TaskFailed
		e.emit(telemetry.EventTaskFailed, map[string]any{
			"task_id": task.ID, "reason": "no pod available for assigned roles",
		})
		return false
	}

	podID := target.ID()
	task.AssignedPodID = &podID
	task.Status = model.TaskInProgress
	e.orch.DelegateTask(task, podID)
	e.emit(telemetry.EventTaskStarted, map[string]any{
		"task_id": task.ID, "pod_id": podID,
	})

	outcome := target.ExecuteTask(ctx, task)
	if !outcome.Success {
		task.Status = model.TaskFailed
		e.emit(telemetry.EventTaskFailed, map[string]any{
			"task_id": task.ID, "pod_id": podID, "error": outcome.Error,
		})
		return false
	}

	task.Status = model.TaskComplete
	e.emit(telemetry.EventTaskCompleted, map[string]any{
		"task_id": task.ID, "pod_id": podID,
	})
	if outcome.Output != "" {
		artifact := model.Artifact{
			ID:        model.NewID(model.IDTypeArtifact),
			Name:      outcome.Output,
			Kind:      "output",
			CreatedBy: podID,
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		e.mu.Lock()
		wo.Artifacts = append(wo.Artifacts, artifact)
		e.mu.Unlock()
		e.emit(telemetry.EventArtifactCreated, map[string]any{
			"artifact_id": artifact.ID, "name": artifact.Name,
		})
	}
	return true
}

// resolvePod honors an explicit assignment first, then asks the
// orchestrator registry for an active pod with one of the phase's roles.
func (e *Engine) resolvePod(phase *model.Phase, task *model.Task) pod.Pod {
	if task.AssignedPodID != nil {
		if p, ok := e.workers[*task.AssignedPodID]; ok {
			return p
		}
	}
	for _, role := range phase.AssignedRoles {
		if role == model.RoleOrchestrator {
			return e.orch
		}
		for _, id := range e.orch.FindPodsByRole(role) {
			if p, ok := e.workers[id]; ok {
				return p
			}
		}
	}
	return nil
}

func (e *Engine) finish(wo *model.WorkOrder) {
	allComplete := true
	for i := range wo.Plan.Phases {
		if wo.Plan.Phases[i].Status != model.PhaseComplete {
			allComplete = false
			break
		}
	}
	if !allComplete {
		// failed/skipped phases stay visible with their retry affordance
		return
	}
	for _, p := range e.workers {
		p.SetStatus(model.PodComplete)
	}
	e.syncPodStates(wo)
	wo.Status = model.WorkOrderComplete
	wo.UpdatedAt = e.Now().UTC().Format(time.RFC3339)
}

func progressPercent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
