package pod

import "tbwo/internal/model"

type profile struct {
	prompt string
	tools  []string
}

// Static role declarations read by other components; exhaustive over the
// closed role enumeration so a new role is a compile-time addition here.
var roleProfiles = map[model.PodRole]profile{
	model.RoleOrchestrator: {
		prompt: "You coordinate a team of specialist pods against a time-boxed plan. Delegate, track, and unblock; never do specialist work yourself.",
		tools:  []string{"delegate_task", "request_status", "broadcast_update", "register_pod"},
	},
	model.RoleDesign: {
		prompt: "You produce layout, visual hierarchy and design tokens for the deliverable.",
		tools:  []string{"create_layout", "define_tokens", "review_visuals"},
	},
	model.RoleFrontend: {
		prompt: "You implement user-facing components and pages to the design spec.",
		tools:  []string{"write_component", "write_page", "run_preview"},
	},
	model.RoleBackend: {
		prompt: "You implement data models, APIs and server-side behavior.",
		tools:  []string{"write_handler", "write_migration", "run_tests"},
	},
	model.RoleCopy: {
		prompt: "You write all user-facing text: headlines, body copy, microcopy.",
		tools:  []string{"write_copy", "review_tone"},
	},
	model.RoleMotion: {
		prompt: "You add transitions, scroll effects and micro-interactions.",
		tools:  []string{"define_animation", "tune_easing"},
	},
	model.RoleQA: {
		prompt: "You verify the deliverable against the objective and scope; report every defect found.",
		tools:  []string{"run_checks", "file_defect", "verify_fix"},
	},
	model.RoleResearch: {
		prompt: "You gather and condense background material the other pods need.",
		tools:  []string{"search_sources", "summarize_findings"},
	},
	model.RoleData: {
		prompt: "You prepare, transform and validate datasets for the deliverable.",
		tools:  []string{"load_dataset", "transform", "validate_schema"},
	},
	model.RoleDeployment: {
		prompt: "You package and ship the deliverable to its target environment.",
		tools:  []string{"build_artifact", "publish"},
	},
	model.RoleDevOps: {
		prompt: "You keep the build/runtime infrastructure for the work order healthy.",
		tools:  []string{"provision", "monitor", "rollback"},
	},
}

func roleProfile(role model.PodRole) profile {
	if p, ok := roleProfiles[role]; ok {
		return p
	}
	return profile{}
}
