package engine

import (
	"fmt"
	"time"

	"tbwo/internal/model"
)

// RetryPhase resets a failed or skipped phase so the next Run picks it up
// again. Complete and in-progress phases are left untouched: retry is an
// idempotent affordance, not a rollback.
func (e *Engine) RetryPhase(wo *model.WorkOrder, phaseID string) error {
	if wo.Plan == nil {
		return fmt.Errorf("work order %s has no plan", wo.ID)
	}
	phase := wo.Plan.PhaseByID(phaseID)
	if phase == nil {
		return fmt.Errorf("work order %s has no phase %s", wo.ID, phaseID)
	}

	switch phase.Status {
	case model.PhaseComplete, model.PhaseInProgress:
		return nil
	case model.PhaseFailed, model.PhaseSkipped:
	default:
		return fmt.Errorf("phase %s is %s, not retryable", phaseID, phase.Status)
	}

	if err := model.ValidatePhaseTransition(phase.Status, model.PhasePending); err != nil {
		return err
	}
	phase.Status = model.PhasePending
	phase.Progress = 0
	for i := range phase.Tasks {
		if phase.Tasks[i].Status == model.TaskFailed || phase.Tasks[i].Status == model.TaskInProgress {
			phase.Tasks[i].Status = model.TaskPending
		}
	}
	e.reopenDependents(wo.Plan, phase.ID)
	e.logf("phase %s (%s) reset for retry", phase.ID, phase.Name)
	return nil
}

// reopenDependents walks skipped phases downstream of phaseID back to
// pending. They were only skipped because this phase blocked them.
func (e *Engine) reopenDependents(plan *model.ExecutionPlan, phaseID string) {
	reopened := map[string]bool{phaseID: true}
	for changed := true; changed; {
		changed = false
		for i := range plan.Phases {
			phase := &plan.Phases[i]
			if phase.Status != model.PhaseSkipped {
				continue
			}
			for _, depID := range phase.DependsOn {
				if reopened[depID] {
					phase.Status = model.PhasePending
					phase.Progress = 0
					reopened[phase.ID] = true
					changed = true
					break
				}
			}
		}
	}
}

// Pause suspends an in-progress work order. Execution halts at the next
// phase boundary; Run checks the status before each pass.
func (e *Engine) Pause(wo *model.WorkOrder, reason string) error {
	if err := model.ValidateWorkOrderTransition(wo.Status, model.WorkOrderPaused); err != nil {
		return err
	}
	wo.Status = model.WorkOrderPaused
	wo.PauseEvents = append(wo.PauseEvents, model.PauseEvent{
		PausedAt: e.Now().UTC().Format(time.RFC3339),
		Reason:   reason,
	})
	wo.UpdatedAt = e.Now().UTC().Format(time.RFC3339)
	e.logf("work order %s paused: %s", wo.ID, reason)
	return nil
}

// Resume returns a paused work order to in_progress and closes the open
// pause event. The caller re-invokes Run to continue.
func (e *Engine) Resume(wo *model.WorkOrder) error {
	if err := model.ValidateWorkOrderTransition(wo.Status, model.WorkOrderInProgress); err != nil {
		return err
	}
	wo.Status = model.WorkOrderInProgress
	now := e.Now().UTC().Format(time.RFC3339)
	for i := len(wo.PauseEvents) - 1; i >= 0; i-- {
		if wo.PauseEvents[i].ResumedAt == nil {
			wo.PauseEvents[i].ResumedAt = &now
			break
		}
	}
	wo.UpdatedAt = now
	e.logf("work order %s resumed", wo.ID)
	return nil
}
