// Package receipt reduces a finished work order into its authoritative
// scored summary. Generation never fails the overall flow: when the
// reasoning collaborator is unavailable the deterministic fallback path
// fills every section from counts alone.
package receipt

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"tbwo/internal/model"
	"tbwo/internal/reasoning"
)

type Generator struct {
	Reason reasoning.Client
	Logger *log.Logger
	Now    func() time.Time

	group singleflight.Group
}

func New(reason reasoning.Client) *Generator {
	if reason == nil {
		reason = reasoning.Disabled{}
	}
	return &Generator{
		Reason: reason,
		Logger: log.Default(),
		Now:    time.Now,
	}
}

func (g *Generator) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}

// Generate builds the receipt for wo. Concurrent calls for the same work
// order collapse into a single generation; each caller gets its own copy.
func (g *Generator) Generate(ctx context.Context, wo *model.WorkOrder, check *model.ConsistencyCheck) (*model.Receipt, error) {
	v, err, _ := g.group.Do(wo.ID, func() (any, error) {
		return g.generate(ctx, wo, check), nil
	})
	if err != nil {
		return nil, err
	}
	r := *(v.(*model.Receipt))
	return &r, nil
}

func (g *Generator) generate(ctx context.Context, wo *model.WorkOrder, check *model.ConsistencyCheck) *model.Receipt {
	ec := buildExecutionContext(wo, check)

	r := &model.Receipt{
		ID:          model.NewID(model.IDTypeReceipt),
		WorkOrderID: wo.ID,
		PodReceipts: podReceipts(wo),
		Rollback:    rollbackInfo(wo),
		PauseEvents: append([]model.PauseEvent(nil), wo.PauseEvents...),
		GeneratedAt: g.Now().UTC().Format(time.RFC3339),
	}
	r.Technical = model.TechnicalSummary{
		BuildStatus:      inferBuildStatus(ec.artifactsProduced, check),
		Dependencies:     []string{},
		Performance:      ec.performance(),
		ConsistencyCheck: check,
	}

	if err := g.synthesize(ctx, wo, ec, r); err != nil {
		g.logf("receipt synthesis unavailable for %s, using fallback: %v", wo.ID, err)
		fillFallback(wo, ec, r)
	}
	return r
}

// synthesize is the primary path: deterministic score, AI-written prose.
func (g *Generator) synthesize(ctx context.Context, wo *model.WorkOrder, ec executionContext, r *model.Receipt) error {
	resp, err := g.Reason.Complete(ctx, reasoning.Request{
		Purpose:   "receipt_summary",
		Objective: wo.Objective,
		Context: map[string]any{
			"tasks_completed":    ec.tasksCompleted,
			"tasks_total":        ec.tasksTotal,
			"tasks_failed":       ec.tasksFailed,
			"artifacts_produced": ec.artifactsProduced,
			"elapsed_minutes":    wo.Budget.ElapsedMinutes,
			"total_minutes":      wo.Budget.TotalMinutes,
			"health_warnings":    ec.healthWarnings,
		},
	})
	if err != nil {
		return err
	}

	r.Executive = model.ExecutiveSummary{
		Accomplishments: stringList(resp.Structured, "accomplishments"),
		FilesCreated:    ec.artifactNames,
		FilesModified:   []string{},
		Simplifications: stringList(resp.Structured, "simplifications"),
		Unfinished:      stringList(resp.Structured, "unfinished"),
		QualityScore:    ec.score,
		QualityNotes:    resp.Text,
	}
	if len(r.Executive.Accomplishments) == 0 {
		r.Executive.Accomplishments = ec.defaultAccomplishments()
	}
	r.Fallback = false
	return nil
}

// fillFallback populates the executive section with templated text derived
// purely from counts. Every field is set; nothing stays undefined.
func fillFallback(wo *model.WorkOrder, ec executionContext, r *model.Receipt) {
	r.Executive = model.ExecutiveSummary{
		Accomplishments: ec.defaultAccomplishments(),
		FilesCreated:    ec.artifactNames,
		FilesModified:   []string{},
		Simplifications: []string{},
		Unfinished:      ec.unfinished(),
		QualityScore:    ec.score,
		QualityNotes: fmt.Sprintf("deterministic summary: %d/%d tasks complete, %d artifacts, build %s",
			ec.tasksCompleted, ec.tasksTotal, ec.artifactsProduced, r.Technical.BuildStatus),
	}
	r.Fallback = true
}

// executionContext is the reduced view of a finished work order that both
// synthesis paths score and summarize from.
type executionContext struct {
	tasksCompleted    int
	tasksTotal        int
	tasksFailed       int
	artifactsProduced int
	artifactNames     []string
	healthWarnings    []string
	phaseNames        []string // complete phases, in plan order
	failedPhases      []string
	tokensUsed        int
	executionSeconds  int
	score             int
}

func buildExecutionContext(wo *model.WorkOrder, check *model.ConsistencyCheck) executionContext {
	var ec executionContext
	if wo.Plan != nil {
		for i := range wo.Plan.Phases {
			phase := &wo.Plan.Phases[i]
			ec.tasksTotal += len(phase.Tasks)
			for j := range phase.Tasks {
				switch phase.Tasks[j].Status {
				case model.TaskComplete:
					ec.tasksCompleted++
				case model.TaskFailed:
					ec.tasksFailed++
				}
			}
			switch phase.Status {
			case model.PhaseComplete:
				ec.phaseNames = append(ec.phaseNames, phase.Name)
			case model.PhaseFailed:
				ec.failedPhases = append(ec.failedPhases, phase.Name)
			}
		}
	}
	ec.artifactsProduced = len(wo.Artifacts)
	for _, a := range wo.Artifacts {
		ec.artifactNames = append(ec.artifactNames, a.Name)
	}
	for _, st := range wo.Pods {
		ec.healthWarnings = append(ec.healthWarnings, st.HealthWarnings...)
		ec.tokensUsed += st.Usage.TokensUsed
		ec.executionSeconds += st.Usage.ExecutionSeconds
	}
	sort.Strings(ec.healthWarnings)

	expected := ec.artifactsProduced
	if v, ok := wo.Metadata[model.MetaExpectedArtifactCount]; ok {
		switch n := v.(type) {
		case int:
			expected = n
		case float64:
			expected = int(n)
		}
	}
	ec.score = QualityScore(ec.tasksCompleted, ec.tasksTotal, ec.artifactsProduced, expected, check)
	return ec
}

func (ec executionContext) performance() map[string]string {
	return map[string]string{
		"tokens_used":       fmt.Sprintf("%d", ec.tokensUsed),
		"execution_seconds": fmt.Sprintf("%d", ec.executionSeconds),
	}
}

func (ec executionContext) defaultAccomplishments() []string {
	out := make([]string, 0, len(ec.phaseNames))
	for _, name := range ec.phaseNames {
		out = append(out, fmt.Sprintf("completed phase %q", name))
	}
	return out
}

func (ec executionContext) unfinished() []string {
	out := make([]string, 0, len(ec.failedPhases))
	for _, name := range ec.failedPhases {
		out = append(out, fmt.Sprintf("phase %q did not complete", name))
	}
	return out
}

func podReceipts(wo *model.WorkOrder) []model.PodReceipt {
	failedByPod := make(map[string]int)
	allocatedByPod := make(map[string]int)
	if wo.Plan != nil {
		for i := range wo.Plan.Phases {
			for j := range wo.Plan.Phases[i].Tasks {
				task := &wo.Plan.Phases[i].Tasks[j]
				if task.AssignedPodID == nil {
					continue
				}
				allocatedByPod[*task.AssignedPodID] += task.EstimatedMinutes
				if task.Status == model.TaskFailed {
					failedByPod[*task.AssignedPodID]++
				}
			}
		}
	}
	artifactsByPod := make(map[string][]string)
	for _, a := range wo.Artifacts {
		if a.CreatedBy != "" {
			artifactsByPod[a.CreatedBy] = append(artifactsByPod[a.CreatedBy], a.Name)
		}
	}

	receipts := make([]model.PodReceipt, 0, len(wo.Pods))
	for id, st := range wo.Pods {
		pr := model.PodReceipt{
			PodID:            id,
			Role:             st.Role,
			TasksCompleted:   len(st.CompletedTaskIDs),
			TasksFailed:      failedByPod[id],
			Artifacts:        artifactsByPod[id],
			MinutesUsed:      st.Usage.ExecutionSeconds / 60,
			MinutesAllocated: allocatedByPod[id],
			ConfidenceNotes:  confidenceNote(len(st.CompletedTaskIDs), failedByPod[id]),
			Warnings:         append([]string(nil), st.HealthWarnings...),
		}
		if pr.Artifacts == nil {
			pr.Artifacts = []string{}
		}
		receipts = append(receipts, pr)
	}
	sort.Slice(receipts, func(i, j int) bool { return receipts[i].PodID < receipts[j].PodID })
	return receipts
}

// confidenceNote summarizes how cleanly the pod got through its share.
func confidenceNote(completed, failed int) string {
	total := completed + failed
	switch {
	case total == 0:
		return "no tasks assigned"
	case failed == 0:
		return fmt.Sprintf("completed all %d assigned task(s)", completed)
	default:
		return fmt.Sprintf("completed %d of %d assigned task(s)", completed, total)
	}
}

func rollbackInfo(wo *model.WorkOrder) model.RollbackInfo {
	if len(wo.Artifacts) == 0 {
		return model.RollbackInfo{Available: false}
	}
	return model.RollbackInfo{
		Available:   true,
		Instruction: fmt.Sprintf("remove the %d artifact(s) listed in this receipt", len(wo.Artifacts)),
	}
}

func stringList(structured map[string]any, key string) []string {
	raw, ok := structured[key]
	if !ok {
		return []string{}
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
