// Package planner turns an objective plus a time budget into an execution
// plan whose total duration reconciles exactly to the budget.
package planner

import (
	"context"
	"fmt"
	"log"
	"time"

	"tbwo/internal/model"
	"tbwo/internal/reasoning"
)

type Planner struct {
	Registry *Registry
	Reason   reasoning.Client
	Logger   *log.Logger
	Now      func() time.Time
}

func New(registry *Registry, reason reasoning.Client) *Planner {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if reason == nil {
		reason = reasoning.Disabled{}
	}
	return &Planner{
		Registry: registry,
		Reason:   reason,
		Logger:   log.Default(),
		Now:      time.Now,
	}
}

func (p *Planner) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// Generate moves the work order draft → planning → awaiting_approval,
// building pods and a budget-scaled plan. Any synthesis failure reverts
// the status to draft so the work order is never stuck in planning.
func (p *Planner) Generate(ctx context.Context, wo *model.WorkOrder) error {
	if err := model.ValidateWorkOrderTransition(wo.Status, model.WorkOrderPlanning); err != nil {
		return err
	}
	wo.Status = model.WorkOrderPlanning

	plan, specs, err := p.synthesize(ctx, wo)
	if err != nil {
		wo.Status = model.WorkOrderDraft
		p.logf("plan synthesis failed for %s: %v", wo.ID, err)
		return fmt.Errorf("plan synthesis: %w", err)
	}

	scalePlan(plan, wo.Budget.TotalMinutes)

	if wo.Pods == nil {
		wo.Pods = make(map[string]model.PodState)
	}
	for _, spec := range specs {
		id := model.NewID(model.IDTypePod)
		wo.Pods[id] = model.PodState{
			ID:     id,
			Role:   spec.Role,
			Name:   spec.Name,
			Status: model.PodInitializing,
		}
	}

	wo.Plan = plan
	wo.Status = model.WorkOrderAwaitingApproval
	wo.UpdatedAt = p.Now().UTC().Format(time.RFC3339)
	return nil
}

func (p *Planner) synthesize(ctx context.Context, wo *model.WorkOrder) (*model.ExecutionPlan, []PodSpec, error) {
	if wo.Budget.TotalMinutes <= 0 {
		return nil, nil, fmt.Errorf("work order %s has no time budget", wo.ID)
	}

	var (
		plan  *model.ExecutionPlan
		specs []PodSpec
		err   error
	)
	if product, ok := p.Registry.Lookup(wo.Type); ok {
		plan, err = product.Plan(ctx, wo, p.Reason)
		if err != nil {
			return nil, nil, err
		}
		specs = product.Pods(wo)
	} else {
		plan = buildGenericPlan(wo.Objective)
		specs = genericPodSpecs()
	}

	ids := make([]string, len(plan.Phases))
	deps := make(map[string][]string)
	for i, ph := range plan.Phases {
		ids[i] = ph.ID
		if len(ph.DependsOn) > 0 {
			deps[ph.ID] = ph.DependsOn
		}
	}
	if _, err := validatePhaseDAG(ids, deps); err != nil {
		return nil, nil, err
	}
	if plan.EstimatedMinutes <= 0 {
		return nil, nil, fmt.Errorf("synthesized plan has no duration")
	}
	return plan, specs, nil
}

// scalePlan multiplies every phase and task duration by
// totalBudget/planEstimate, rounding to whole minutes, then pins the plan
// total to exactly the budget so it always reconciles.
func scalePlan(plan *model.ExecutionPlan, totalBudget int) {
	factor := float64(totalBudget) / float64(plan.EstimatedMinutes)
	for i := range plan.Phases {
		phase := &plan.Phases[i]
		phase.EstimatedMinutes = roundMinutes(float64(phase.EstimatedMinutes) * factor)
		for j := range phase.Tasks {
			task := &phase.Tasks[j]
			task.EstimatedMinutes = roundMinutes(float64(task.EstimatedMinutes) * factor)
		}
	}
	plan.EstimatedMinutes = totalBudget
}

// Approve moves awaiting_approval → in_progress and stamps the plan.
func (p *Planner) Approve(wo *model.WorkOrder, approvedBy string) error {
	if err := model.ValidateWorkOrderTransition(wo.Status, model.WorkOrderInProgress); err != nil {
		return err
	}
	if wo.Plan == nil {
		return fmt.Errorf("work order %s has no plan to approve", wo.ID)
	}
	now := p.Now().UTC().Format(time.RFC3339)
	wo.Plan.ApprovedAt = &now
	wo.Plan.ApprovedBy = &approvedBy
	wo.Status = model.WorkOrderInProgress
	wo.UpdatedAt = now
	return nil
}

// Reject discards the plan, returns the work order to draft, and retains
// the feedback for the next generation attempt.
func (p *Planner) Reject(wo *model.WorkOrder, feedback string) error {
	if wo.Status != model.WorkOrderAwaitingApproval {
		return fmt.Errorf("cannot reject work order in status %q", wo.Status)
	}
	wo.Plan = nil
	wo.Pods = make(map[string]model.PodState)
	if wo.Metadata == nil {
		wo.Metadata = make(map[string]any)
	}
	if feedback != "" {
		wo.Metadata[model.MetaRejectionFeedback] = feedback
	}
	wo.Status = model.WorkOrderDraft
	wo.UpdatedAt = p.Now().UTC().Format(time.RFC3339)
	return nil
}
