package planner

import (
	"fmt"

	"tbwo/internal/model"
)

// Product-tuned constants. The weights and splits were calibrated in the
// original product; keep them as-is rather than deriving new ones.
const (
	GenericConfidence = 0.85

	FractionAnalysis       = 0.15
	FractionImplementation = 0.50
	FractionQA             = 0.20
	FractionDelivery       = 0.15
)

// templateBaseMinutes is the unscaled template duration; fractions of it
// become phase durations before budget scaling.
const templateBaseMinutes = 100

type taskTemplate struct {
	name        string
	description string
	subFraction float64 // share of the owning phase
}

type phaseTemplate struct {
	name        string
	description string
	fraction    float64
	roles       []model.PodRole
	tasks       []taskTemplate
}

var genericPhases = []phaseTemplate{
	{
		name:        "Analysis & Planning",
		description: "Understand the objective and lay out the attack.",
		fraction:    FractionAnalysis,
		roles:       []model.PodRole{model.RoleOrchestrator},
		tasks: []taskTemplate{
			{name: "Clarify objective and scope", subFraction: 0.4},
			{name: "Draft work breakdown", subFraction: 0.6},
		},
	},
	{
		name:        "Core Implementation",
		description: "Build the primary deliverable.",
		fraction:    FractionImplementation,
		roles:       []model.PodRole{model.RoleFrontend, model.RoleDesign},
		tasks: []taskTemplate{
			{name: "Build primary deliverable", subFraction: 0.6},
			{name: "Integrate supporting pieces", subFraction: 0.4},
		},
	},
	{
		name:        "Quality Assurance",
		description: "Verify the deliverable against the objective.",
		fraction:    FractionQA,
		roles:       []model.PodRole{model.RoleQA},
		tasks: []taskTemplate{
			{name: "Verify against objective", subFraction: 0.7},
			{name: "Fix found defects", subFraction: 0.3},
		},
	},
	{
		name:        "Delivery",
		description: "Package and hand over the result.",
		fraction:    FractionDelivery,
		roles:       []model.PodRole{model.RoleOrchestrator},
		tasks: []taskTemplate{
			{name: "Package deliverable", subFraction: 0.5},
			{name: "Write handover summary", subFraction: 0.5},
		},
	},
}

// buildGenericPlan instantiates the four-phase template at its unscaled
// base duration. Phases chain sequentially via dependsOn.
func buildGenericPlan(objective string) *model.ExecutionPlan {
	plan := &model.ExecutionPlan{
		Summary:          fmt.Sprintf("Generic four-phase plan for: %s", objective),
		EstimatedMinutes: templateBaseMinutes,
		Confidence:       GenericConfidence,
		RequiresApproval: true,
		PodStrategy: model.PodStrategy{
			Mode:          model.StrategySequential,
			MaxConcurrent: 1,
			PriorityOrder: []model.PodRole{model.RoleOrchestrator, model.RoleDesign, model.RoleFrontend, model.RoleQA},
		},
		Assumptions:  []string{"objective achievable within the granted time budget"},
		Deliverables: []string{"primary deliverable", "handover summary"},
	}

	var prevID string
	for i, pt := range genericPhases {
		phase := model.Phase{
			ID:               model.NewID(model.IDTypePhase),
			Name:             pt.name,
			Description:      pt.description,
			Order:            i,
			EstimatedMinutes: roundMinutes(pt.fraction * templateBaseMinutes),
			AssignedRoles:    pt.roles,
			Status:           model.PhasePending,
		}
		if prevID != "" {
			phase.DependsOn = []string{prevID}
		}
		for _, tt := range pt.tasks {
			phase.Tasks = append(phase.Tasks, model.Task{
				ID:               model.NewID(model.IDTypeTask),
				Name:             tt.name,
				Description:      tt.description,
				Status:           model.TaskPending,
				EstimatedMinutes: roundMinutes(tt.subFraction * pt.fraction * templateBaseMinutes),
			})
		}
		plan.Phases = append(plan.Phases, phase)
		prevID = phase.ID
	}

	deps := make(map[string][]string)
	for _, ph := range plan.Phases {
		if len(ph.DependsOn) > 0 {
			deps[ph.ID] = ph.DependsOn
		}
	}
	plan.PodStrategy.Dependencies = deps
	return plan
}

// genericPodSpecs is the standard role set for the four generic phases.
func genericPodSpecs() []PodSpec {
	return []PodSpec{
		{Role: model.RoleOrchestrator, Name: "orchestrator"},
		{Role: model.RoleDesign, Name: "design"},
		{Role: model.RoleFrontend, Name: "frontend"},
		{Role: model.RoleQA, Name: "qa"},
	}
}

func roundMinutes(v float64) int {
	if v < 0 {
		return 0
	}
	return int(v + 0.5)
}
