package model

type PodRole string

const (
	RoleOrchestrator PodRole = "orchestrator"
	RoleDesign       PodRole = "design"
	RoleFrontend     PodRole = "frontend"
	RoleBackend      PodRole = "backend"
	RoleCopy         PodRole = "copy"
	RoleMotion       PodRole = "motion"
	RoleQA           PodRole = "qa"
	RoleResearch     PodRole = "research"
	RoleData         PodRole = "data"
	RoleDeployment   PodRole = "deployment"
	RoleDevOps       PodRole = "devops"
)

var validPodRoles = map[PodRole]bool{
	RoleOrchestrator: true,
	RoleDesign:       true,
	RoleFrontend:     true,
	RoleBackend:      true,
	RoleCopy:         true,
	RoleMotion:       true,
	RoleQA:           true,
	RoleResearch:     true,
	RoleData:         true,
	RoleDeployment:   true,
	RoleDevOps:       true,
}

func ValidPodRole(r PodRole) bool {
	return validPodRoles[r]
}

type ResourceUsage struct {
	TokensUsed       int `json:"tokens_used"`
	ExecutionSeconds int `json:"execution_seconds"`
}

// PodState is the work order's own record of a pod. The orchestrator's live
// registry is a transient coordination view, not this.
type PodState struct {
	ID               string        `json:"id"`
	Role             PodRole       `json:"role"`
	Name             string        `json:"name"`
	Status           PodStatus     `json:"status"`
	Usage            ResourceUsage `json:"usage"`
	HealthWarnings   []string      `json:"health_warnings,omitempty"`
	CompletedTaskIDs []string      `json:"completed_task_ids,omitempty"`
	Outputs          []string      `json:"outputs,omitempty"`
}
