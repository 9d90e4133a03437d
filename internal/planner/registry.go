package planner

import (
	"context"
	"fmt"

	"tbwo/internal/model"
	"tbwo/internal/reasoning"
)

// PodSpec describes a pod a domain product wants spawned; the embedding
// layer turns specs into live pods.
type PodSpec struct {
	Role model.PodRole
	Name string
}

// DomainProduct maps a work-order type to its pod set and plan shape.
type DomainProduct struct {
	Pods          func(wo *model.WorkOrder) []PodSpec
	Plan          func(ctx context.Context, wo *model.WorkOrder, r reasoning.Client) (*model.ExecutionPlan, error)
	DefaultConfig map[string]any
}

// Registry holds the domain products, looked up once per planning cycle
// and never mutated by the planning path.
type Registry struct {
	products map[model.WorkOrderType]DomainProduct
}

func NewRegistry() *Registry {
	return &Registry{products: make(map[model.WorkOrderType]DomainProduct)}
}

func (r *Registry) Register(t model.WorkOrderType, p DomainProduct) {
	r.products[t] = p
}

func (r *Registry) Lookup(t model.WorkOrderType) (DomainProduct, bool) {
	p, ok := r.products[t]
	return p, ok
}

// DefaultRegistry ships the website-build product. Other types fall
// through to the generic template.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.TypeWebsiteBuild, DomainProduct{
		Pods: websitePods,
		Plan: websitePlan,
		DefaultConfig: map[string]any{
			"max_concurrent": 3,
		},
	})
	return r
}

func websitePods(wo *model.WorkOrder) []PodSpec {
	return []PodSpec{
		{Role: model.RoleOrchestrator, Name: "orchestrator"},
		{Role: model.RoleDesign, Name: "design"},
		{Role: model.RoleFrontend, Name: "frontend"},
		{Role: model.RoleCopy, Name: "copy"},
		{Role: model.RoleMotion, Name: "motion"},
		{Role: model.RoleQA, Name: "qa"},
	}
}

type websitePhaseDef struct {
	name     string
	fraction float64
	roles    []model.PodRole
	tasks    []taskTemplate
}

var websitePhases = []websitePhaseDef{
	{
		name:     "Brief & Structure",
		fraction: 0.10,
		roles:    []model.PodRole{model.RoleOrchestrator, model.RoleResearch},
		tasks: []taskTemplate{
			{name: "Digest brief", subFraction: 0.5},
			{name: "Define sitemap", subFraction: 0.5},
		},
	},
	{
		name:     "Design System",
		fraction: 0.20,
		roles:    []model.PodRole{model.RoleDesign},
		tasks: []taskTemplate{
			{name: "Define visual language", subFraction: 0.6},
			{name: "Lay out key pages", subFraction: 0.4},
		},
	},
	{
		name:     "Build & Copy",
		fraction: 0.40,
		roles:    []model.PodRole{model.RoleFrontend, model.RoleCopy},
		tasks: []taskTemplate{
			{name: "Implement pages", subFraction: 0.6},
			{name: "Write site copy", subFraction: 0.25},
			{name: "Add motion polish", subFraction: 0.15},
		},
	},
	{
		name:     "QA Pass",
		fraction: 0.20,
		roles:    []model.PodRole{model.RoleQA},
		tasks: []taskTemplate{
			{name: "Cross-page review", subFraction: 0.6},
			{name: "Fix defects", subFraction: 0.4},
		},
	},
	{
		name:     "Launch Prep",
		fraction: 0.10,
		roles:    []model.PodRole{model.RoleOrchestrator},
		tasks: []taskTemplate{
			{name: "Final assembly", subFraction: 1.0},
		},
	},
}

// websitePlan builds the deterministic website-build plan. The reasoning
// collaborator, when reachable, contributes only the human-readable
// summary; its failure is tolerated and never fails plan synthesis.
func websitePlan(ctx context.Context, wo *model.WorkOrder, r reasoning.Client) (*model.ExecutionPlan, error) {
	plan := &model.ExecutionPlan{
		Summary:          fmt.Sprintf("Website build plan for: %s", wo.Objective),
		EstimatedMinutes: templateBaseMinutes,
		Confidence:       0.9,
		RequiresApproval: true,
		PodStrategy: model.PodStrategy{
			Mode:          model.StrategyParallel,
			MaxConcurrent: 3,
			PriorityOrder: []model.PodRole{
				model.RoleOrchestrator, model.RoleDesign, model.RoleFrontend,
				model.RoleCopy, model.RoleMotion, model.RoleQA,
			},
		},
		Risks: []model.Risk{
			{Description: "brief underspecifies content", Severity: model.RiskMedium, Mitigation: "copy pod drafts placeholders for review"},
		},
		Assumptions:  []string{"structured brief present in metadata or objective text is self-sufficient"},
		Deliverables: []string{"deployed site pages", "design tokens", "site copy"},
	}

	var prevID string
	for i, def := range websitePhases {
		phase := model.Phase{
			ID:               model.NewID(model.IDTypePhase),
			Name:             def.name,
			Order:            i,
			EstimatedMinutes: roundMinutes(def.fraction * templateBaseMinutes),
			AssignedRoles:    def.roles,
			Status:           model.PhasePending,
		}
		if prevID != "" {
			phase.DependsOn = []string{prevID}
		}
		for _, tt := range def.tasks {
			phase.Tasks = append(phase.Tasks, model.Task{
				ID:               model.NewID(model.IDTypeTask),
				Name:             tt.name,
				Status:           model.TaskPending,
				EstimatedMinutes: roundMinutes(tt.subFraction * def.fraction * templateBaseMinutes),
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

	if r != nil {
		req := reasoning.Request{
			Purpose:   "plan_synthesis",
			Objective: wo.Objective,
			Context:   map[string]any{"brief": wo.Metadata[model.MetaSiteBrief]},
		}
		if resp, err := r.Complete(ctx, req); err == nil && resp.Text != "" {
			plan.Summary = resp.Text
		}
	}

	return plan, nil
}
