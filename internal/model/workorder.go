package model

type WorkOrderType string

const (
	TypeWebsiteBuild   WorkOrderType = "website_build"
	TypeCodeProject    WorkOrderType = "code_project"
	TypeResearchReport WorkOrderType = "research_report"
	TypeGeneric        WorkOrderType = "generic"
)

type QualityTarget string

const (
	QualityDraft    QualityTarget = "draft"
	QualityStandard QualityTarget = "standard"
	QualityPremium  QualityTarget = "premium"
	QualityFlagship QualityTarget = "flagship"
)

// AuthorityLevel bounds how far execution may go without a human sign-off.
type AuthorityLevel string

const (
	AuthoritySupervised AuthorityLevel = "supervised" // checkpoint at every phase boundary
	AuthorityStandard   AuthorityLevel = "standard"   // checkpoint only where the plan asks
	AuthorityAutonomous AuthorityLevel = "autonomous" // no checkpoints
)

// TimeBudget tracks minutes granted vs. minutes consumed. Elapsed only
// grows while the work order is in progress.
type TimeBudget struct {
	TotalMinutes   int `json:"total_minutes"`
	ElapsedMinutes int `json:"elapsed_minutes"`
}

func (b TimeBudget) OverBudget() bool {
	return b.ElapsedMinutes > b.TotalMinutes
}

func (b TimeBudget) RemainingMinutes() int {
	r := b.TotalMinutes - b.ElapsedMinutes
	if r < 0 {
		return 0
	}
	return r
}

type Artifact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	CreatedBy string `json:"created_by,omitempty"` // pod id
	CreatedAt string `json:"created_at"`
}

type Checkpoint struct {
	PhaseID     string  `json:"phase_id"`
	Reason      string  `json:"reason,omitempty"`
	RequestedAt string  `json:"requested_at"`
	ApprovedAt  *string `json:"approved_at,omitempty"`
	ApprovedBy  *string `json:"approved_by,omitempty"`
}

type PauseEvent struct {
	PausedAt  string  `json:"paused_at"`
	ResumedAt *string `json:"resumed_at,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// WorkOrder is the unit of orchestrated, time-boxed work.
type WorkOrder struct {
	ID            string              `json:"id"`
	Type          WorkOrderType       `json:"type"`
	Status        WorkOrderStatus     `json:"status"`
	Objective     string              `json:"objective"`
	Budget        TimeBudget          `json:"budget"`
	QualityTarget QualityTarget       `json:"quality_target"`
	Scope         string              `json:"scope,omitempty"`
	Authority     AuthorityLevel      `json:"authority"`
	Plan          *ExecutionPlan      `json:"plan,omitempty"`
	Pods          map[string]PodState `json:"pods,omitempty"`
	Artifacts     []Artifact          `json:"artifacts,omitempty"`
	Checkpoints   []Checkpoint        `json:"checkpoints,omitempty"`
	Receipt       *Receipt            `json:"receipt,omitempty"`
	PauseEvents   []PauseEvent        `json:"pause_events,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

// Metadata keys read by this core. The bag itself is open for domain
// extensions (e.g. the structured brief of a site build).
const (
	MetaRejectionFeedback     = "rejection_feedback"
	MetaExpectedArtifactCount = "expected_artifact_count"
	MetaSiteBrief             = "site_brief"
)

func NewWorkOrder(woType WorkOrderType, objective string, budgetMinutes int, now string) *WorkOrder {
	return &WorkOrder{
		ID:            NewID(IDTypeWorkOrder),
		Type:          woType,
		Status:        WorkOrderDraft,
		Objective:     objective,
		Budget:        TimeBudget{TotalMinutes: budgetMinutes},
		QualityTarget: QualityStandard,
		Authority:     AuthorityStandard,
		Pods:          make(map[string]PodState),
		Metadata:      make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
