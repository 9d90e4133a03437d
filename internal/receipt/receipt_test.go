package receipt

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"

	"tbwo/internal/model"
	"tbwo/internal/reasoning"
)

func quietGenerator(client reasoning.Client) *Generator {
	g := New(client)
	g.Logger = log.New(io.Discard, "", 0)
	return g
}

func finishedWorkOrder() *model.WorkOrder {
	now := time.Now().UTC().Format(time.RFC3339)
	wo := model.NewWorkOrder(model.TypeWebsiteBuild, "build the launch site", 200, now)
	wo.Status = model.WorkOrderComplete
	wo.Budget.ElapsedMinutes = 180
	podID := model.NewID(model.IDTypePod)
	wo.Pods[podID] = model.PodState{
		ID:               podID,
		Role:             model.RoleFrontend,
		Name:             "builder",
		Status:           model.PodComplete,
		Usage:            model.ResourceUsage{TokensUsed: 1200, ExecutionSeconds: 300},
		CompletedTaskIDs: []string{"task_1", "task_2"},
	}
	wo.Plan = &model.ExecutionPlan{
		Phases: []model.Phase{
			{
				ID: "p1", Name: "build", Status: model.PhaseComplete, Progress: 100,
				Tasks: []model.Task{
					{ID: "task_1", Name: "scaffold", Status: model.TaskComplete, EstimatedMinutes: 90, AssignedPodID: &podID},
					{ID: "task_2", Name: "style", Status: model.TaskComplete, EstimatedMinutes: 90, AssignedPodID: &podID},
				},
			},
		},
	}
	wo.Artifacts = []model.Artifact{
		{ID: model.NewID(model.IDTypeArtifact), Name: "index.html", Kind: "output", CreatedBy: podID, CreatedAt: now},
		{ID: model.NewID(model.IDTypeArtifact), Name: "style.css", Kind: "output", CreatedBy: podID, CreatedAt: now},
	}
	return wo
}

func TestQualityScoreDeterminism(t *testing.T) {
	check := &model.ConsistencyCheck{Passed: false, Violations: []string{"a", "b"}}
	first := QualityScore(8, 10, 4, 5, check)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, QualityScore(8, 10, 4, 5, check))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.LessOrEqual(t, first, 100)
}

func TestQualityScorePerfectRun(t *testing.T) {
	// full completion, full coverage, no check ran
	score := QualityScore(10, 10, 5, 5, nil)
	assert.Equal(t, 80, score) // 50 + 30 + round-in of the consistency term
}

func TestQualityScoreZeroTasksIsNotZero(t *testing.T) {
	// an empty plan is trivially complete, not a failure
	score := QualityScore(0, 0, 0, 0, nil)
	assert.Equal(t, 80, score)
}

func TestQualityScoreCoverageClamped(t *testing.T) {
	over := QualityScore(10, 10, 50, 5, nil)
	exact := QualityScore(10, 10, 5, 5, nil)
	assert.Equal(t, exact, over)
}

func TestQualityScoreViolationsDegrade(t *testing.T) {
	clean := QualityScore(10, 10, 5, 5, &model.ConsistencyCheck{Passed: true})
	dirty := QualityScore(10, 10, 5, 5, &model.ConsistencyCheck{Passed: false, Violations: make([]string, 20)})
	assert.GreaterOrEqual(t, clean, dirty)
}

func TestInferBuildStatus(t *testing.T) {
	assert.Equal(t, model.BuildFailed, inferBuildStatus(0, nil))
	assert.Equal(t, model.BuildPartial, inferBuildStatus(3, &model.ConsistencyCheck{Passed: false, Violations: []string{"x"}}))
	assert.Equal(t, model.BuildSuccess, inferBuildStatus(3, nil))
	assert.Equal(t, model.BuildSuccess, inferBuildStatus(3, &model.ConsistencyCheck{Passed: true}))
}

func TestGenerateFallbackIsStructurallyComplete(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})
	wo := finishedWorkOrder()

	r, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)

	assert.True(t, r.Fallback)
	assert.Equal(t, wo.ID, r.WorkOrderID)
	assert.NotEmpty(t, r.ID)
	assert.NotEmpty(t, r.GeneratedAt)
	assert.NotNil(t, r.Executive.Accomplishments)
	assert.NotNil(t, r.Executive.FilesCreated)
	assert.NotNil(t, r.Executive.FilesModified)
	assert.NotNil(t, r.Executive.Simplifications)
	assert.NotNil(t, r.Executive.Unfinished)
	assert.NotEmpty(t, r.Executive.QualityNotes)
	assert.Equal(t, model.BuildSuccess, r.Technical.BuildStatus)
	assert.NotNil(t, r.Technical.Dependencies)
	assert.NotNil(t, r.Technical.Performance)
	require.Len(t, r.PodReceipts, 1)
	assert.Equal(t, 2, r.PodReceipts[0].TasksCompleted)
	assert.Equal(t, []string{"index.html", "style.css"}, r.PodReceipts[0].Artifacts)
	assert.True(t, r.Rollback.Available)
}

func TestGeneratePrimaryPathUsesReasoning(t *testing.T) {
	client := &reasoning.Static{Response: reasoning.Response{
		Text: "strong delivery under budget",
		Structured: map[string]any{
			"accomplishments": []any{"shipped the launch site"},
			"unfinished":      []any{},
		},
	}}
	g := quietGenerator(client)
	wo := finishedWorkOrder()

	r, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)

	assert.False(t, r.Fallback)
	assert.Equal(t, 1, client.Calls)
	assert.Equal(t, "strong delivery under budget", r.Executive.QualityNotes)
	assert.Equal(t, []string{"shipped the launch site"}, r.Executive.Accomplishments)
}

func TestPodReceiptConfidenceNotes(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})

	clean, err := g.Generate(context.Background(), finishedWorkOrder(), nil)
	require.NoError(t, err)
	require.Len(t, clean.PodReceipts, 1)
	assert.Equal(t, "completed all 2 assigned task(s)", clean.PodReceipts[0].ConfidenceNotes)

	wo := finishedWorkOrder()
	wo.Plan.Phases[0].Tasks[1].Status = model.TaskFailed
	for id, st := range wo.Pods {
		st.CompletedTaskIDs = []string{"task_1"}
		wo.Pods[id] = st
	}
	mixed, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)
	require.Len(t, mixed.PodReceipts, 1)
	assert.Equal(t, "completed 1 of 2 assigned task(s)", mixed.PodReceipts[0].ConfidenceNotes)
}

func TestGenerateScoreIdenticalAcrossPaths(t *testing.T) {
	wo := finishedWorkOrder()
	primary, err := quietGenerator(&reasoning.Static{Response: reasoning.Response{Text: "ok"}}).Generate(context.Background(), wo, nil)
	require.NoError(t, err)
	fallback, err := quietGenerator(reasoning.Disabled{}).Generate(context.Background(), wo, nil)
	require.NoError(t, err)
	assert.Equal(t, primary.Executive.QualityScore, fallback.Executive.QualityScore)
}

func TestGenerateFailedWorkOrderStillGetsReceipt(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})
	wo := finishedWorkOrder()
	wo.Status = model.WorkOrderFailed
	wo.Artifacts = nil
	wo.Plan.Phases[0].Status = model.PhaseFailed
	wo.Plan.Phases[0].Tasks[1].Status = model.TaskFailed

	r, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BuildFailed, r.Technical.BuildStatus)
	assert.NotEmpty(t, r.Executive.Unfinished)
	assert.False(t, r.Rollback.Available)
}

func TestGenerateExpectedArtifactCountFromMetadata(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})
	wo := finishedWorkOrder()
	wo.Metadata[model.MetaExpectedArtifactCount] = 4 // produced 2 of 4

	r, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)
	full, err := g.Generate(context.Background(), finishedWorkOrder(), nil)
	require.NoError(t, err)
	assert.Less(t, r.Executive.QualityScore, full.Executive.QualityScore)
}

func TestGenerateConsistencyFailureMarksPartial(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})
	wo := finishedWorkOrder()
	check := &model.ConsistencyCheck{Passed: false, Violations: []string{"claimed page missing"}}

	r, err := g.Generate(context.Background(), wo, check)
	require.NoError(t, err)
	assert.Equal(t, model.BuildPartial, r.Technical.BuildStatus)
	require.NotNil(t, r.Technical.ConsistencyCheck)
	assert.False(t, r.Technical.ConsistencyCheck.Passed)
}

func TestExportYAMLRoundTrip(t *testing.T) {
	g := quietGenerator(reasoning.Disabled{})
	wo := finishedWorkOrder()
	r, err := g.Generate(context.Background(), wo, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "receipt.yaml")
	require.NoError(t, ExportYAML(path, r))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back model.Receipt
	require.NoError(t, yamlv3.Unmarshal(raw, &back))
	assert.Equal(t, r.WorkOrderID, back.WorkOrderID)
	assert.Equal(t, r.Executive.QualityScore, back.Executive.QualityScore)
}
