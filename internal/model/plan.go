package model

type StrategyMode string

const (
	StrategyParallel   StrategyMode = "parallel"
	StrategySequential StrategyMode = "sequential"
)

type RiskSeverity string

const (
	RiskLow    RiskSeverity = "low"
	RiskMedium RiskSeverity = "medium"
	RiskHigh   RiskSeverity = "high"
)

type Risk struct {
	Description string       `json:"description"`
	Severity    RiskSeverity `json:"severity"`
	Mitigation  string       `json:"mitigation,omitempty"`
}

// PodStrategy controls how eligible phases are driven.
type PodStrategy struct {
	Mode          StrategyMode        `json:"mode"`
	MaxConcurrent int                 `json:"max_concurrent"`
	PriorityOrder []PodRole           `json:"priority_order,omitempty"`
	Dependencies  map[string][]string `json:"dependencies,omitempty"`
}

type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	AssignedPodID    *string    `json:"assigned_pod_id,omitempty"`
}

type Phase struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Order            int         `json:"order"`
	EstimatedMinutes int         `json:"estimated_minutes"`
	DependsOn        []string    `json:"depends_on,omitempty"`
	AssignedRoles    []PodRole   `json:"assigned_roles"`
	Status           PhaseStatus `json:"status"`
	Progress         float64     `json:"progress"` // percent, 0–100
	Tasks            []Task      `json:"tasks"`
	// RequiresCheckpoint asks for human sign-off before this phase starts.
	RequiresCheckpoint bool `json:"requires_checkpoint,omitempty"`
}

// TasksComplete reports whether every task in the phase is complete.
// A phase with no tasks is trivially complete.
func (p *Phase) TasksComplete() bool {
	for i := range p.Tasks {
		if p.Tasks[i].Status != TaskComplete {
			return false
		}
	}
	return true
}

// ExecutionPlan is owned exclusively by its work order.
type ExecutionPlan struct {
	Summary          string      `json:"summary"`
	EstimatedMinutes int         `json:"estimated_minutes"`
	Confidence       float64     `json:"confidence"` // [0,1]
	Phases           []Phase     `json:"phases"`
	PodStrategy      PodStrategy `json:"pod_strategy"`
	Risks            []Risk      `json:"risks,omitempty"`
	Assumptions      []string    `json:"assumptions,omitempty"`
	Deliverables     []string    `json:"deliverables,omitempty"`
	RequiresApproval bool        `json:"requires_approval"`
	ApprovedAt       *string     `json:"approved_at,omitempty"`
	ApprovedBy       *string     `json:"approved_by,omitempty"`
}

func (p *ExecutionPlan) PhaseByID(phaseID string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].ID == phaseID {
			return &p.Phases[i]
		}
	}
	return nil
}
