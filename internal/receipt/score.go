package receipt

import (
	"math"

	"tbwo/internal/model"
)

// Product-tuned scoring constants. The weighting has no stated derivation;
// it is carried as-is rather than re-derived.
const (
	WeightCompletion  = 0.5
	WeightCoverage    = 0.3
	WeightConsistency = 0.2

	violationPenalty = 0.1
)

// QualityScore reduces execution counts to a deterministic 0–100 score.
// Identical inputs always yield the identical score.
func QualityScore(tasksCompleted, tasksTotal, artifactsProduced, expectedArtifacts int, check *model.ConsistencyCheck) int {
	completion := 1.0
	if tasksTotal > 0 {
		completion = float64(tasksCompleted) / float64(tasksTotal)
	}

	// absent an expected count, coverage is 1 by construction
	coverage := 1.0
	if expectedArtifacts > 0 {
		coverage = math.Min(1, float64(artifactsProduced)/float64(expectedArtifacts))
	}

	consistency := consistencyScore(check)

	score := int(math.Round(completion*100*WeightCompletion + coverage*100*WeightCoverage + consistency*WeightConsistency))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func consistencyScore(check *model.ConsistencyCheck) float64 {
	if check == nil || check.Passed {
		return 1.0
	}
	return math.Max(0, 1-violationPenalty*float64(len(check.Violations)))
}

// inferBuildStatus derives the build status from what physically exists.
func inferBuildStatus(artifactsProduced int, check *model.ConsistencyCheck) model.BuildStatus {
	if artifactsProduced == 0 {
		return model.BuildFailed
	}
	if check != nil && !check.Passed {
		return model.BuildPartial
	}
	return model.BuildSuccess
}
