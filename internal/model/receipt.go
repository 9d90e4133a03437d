package model

type BuildStatus string

const (
	BuildSuccess BuildStatus = "success"
	BuildPartial BuildStatus = "partial"
	BuildFailed  BuildStatus = "failed"
)

type ExecutiveSummary struct {
	Accomplishments []string `json:"accomplishments"`
	FilesCreated    []string `json:"files_created"`
	FilesModified   []string `json:"files_modified"`
	Simplifications []string `json:"simplifications"`
	Unfinished      []string `json:"unfinished"`
	QualityScore    int      `json:"quality_score"` // 0–100
	QualityNotes    string   `json:"quality_notes"`
}

// ConsistencyCheck records the outcome of the post-build truth check,
// when one ran.
type ConsistencyCheck struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}

type TechnicalSummary struct {
	BuildStatus      BuildStatus       `json:"build_status"`
	Dependencies     []string          `json:"dependencies"`
	Performance      map[string]string `json:"performance"`
	ConsistencyCheck *ConsistencyCheck `json:"consistency_check,omitempty"`
}

type PodReceipt struct {
	PodID          string  `json:"pod_id"`
	Role           PodRole `json:"role"`
	TasksCompleted int     `json:"tasks_completed"`
	// TasksSkipped stays 0 in this core: skipping happens at phase
	// granularity, so individual tasks never carry a skipped status.
	TasksSkipped     int      `json:"tasks_skipped"`
	TasksFailed      int      `json:"tasks_failed"`
	Artifacts        []string `json:"artifacts"`
	MinutesUsed      int      `json:"minutes_used"`
	MinutesAllocated int      `json:"minutes_allocated"`
	ConfidenceNotes  string   `json:"confidence_notes,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

type RollbackInfo struct {
	Available   bool   `json:"available"`
	Instruction string `json:"instruction,omitempty"`
}

// Receipt is generated exactly once per completed (or terminated) work
// order, immutable except for explicit regeneration.
type Receipt struct {
	ID          string           `json:"id"`
	WorkOrderID string           `json:"work_order_id"`
	Executive   ExecutiveSummary `json:"executive"`
	Technical   TechnicalSummary `json:"technical"`
	PodReceipts []PodReceipt     `json:"pod_receipts"`
	Rollback    RollbackInfo     `json:"rollback"`
	PauseEvents []PauseEvent     `json:"pause_events"`
	GeneratedAt string           `json:"generated_at"`
	Fallback    bool             `json:"fallback"` // true when the deterministic path produced it
}
