package model

import "fmt"

type WorkOrderStatus string

const (
	WorkOrderDraft            WorkOrderStatus = "draft"
	WorkOrderPlanning         WorkOrderStatus = "planning"
	WorkOrderAwaitingApproval WorkOrderStatus = "awaiting_approval"
	WorkOrderInProgress       WorkOrderStatus = "in_progress"
	WorkOrderPaused           WorkOrderStatus = "paused"
	WorkOrderComplete         WorkOrderStatus = "complete"
	WorkOrderFailed           WorkOrderStatus = "failed"
)

type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseComplete   PhaseStatus = "complete"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseWaiting    PhaseStatus = "waiting"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
)

type PodStatus string

const (
	PodInitializing PodStatus = "initializing"
	PodIdle         PodStatus = "idle"
	PodWorking      PodStatus = "working"
	PodWaiting      PodStatus = "waiting"
	PodCheckpoint   PodStatus = "checkpoint"
	PodComplete     PodStatus = "complete"
	PodFailed       PodStatus = "failed"
	PodTerminated   PodStatus = "terminated"
)

var terminalWorkOrderStatuses = map[WorkOrderStatus]bool{
	WorkOrderComplete: true,
	WorkOrderFailed:   true,
}

var terminalPodStatuses = map[PodStatus]bool{
	PodComplete:   true,
	PodFailed:     true,
	PodTerminated: true,
}

// Work order transitions are monotonic except for two explicit escapes:
// rejection (awaiting_approval → draft) and pause/resume.
var validWorkOrderTransitions = map[WorkOrderStatus]map[WorkOrderStatus]bool{
	WorkOrderDraft: {
		WorkOrderPlanning: true,
	},
	WorkOrderPlanning: {
		WorkOrderAwaitingApproval: true,
		WorkOrderDraft:            true, // plan synthesis failed
	},
	WorkOrderAwaitingApproval: {
		WorkOrderInProgress: true,
		WorkOrderDraft:      true, // rejected with feedback
	},
	WorkOrderInProgress: {
		WorkOrderPaused:   true,
		WorkOrderComplete: true,
		WorkOrderFailed:   true,
	},
	WorkOrderPaused: {
		WorkOrderInProgress: true,
		WorkOrderFailed:     true,
	},
}

var validPhaseTransitions = map[PhaseStatus]map[PhaseStatus]bool{
	PhasePending: {
		PhaseInProgress: true,
		PhaseSkipped:    true,
		PhaseWaiting:    true,
	},
	PhaseWaiting: {
		PhaseInProgress: true,
		PhaseSkipped:    true,
	},
	PhaseInProgress: {
		PhaseComplete: true,
		PhaseFailed:   true,
	},
	// retry reopens failed/skipped phases
	PhaseFailed: {
		PhasePending: true,
	},
	PhaseSkipped: {
		PhasePending: true,
	},
}

var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskInProgress: true,
	},
	TaskInProgress: {
		TaskComplete: true,
		TaskFailed:   true,
	},
	TaskFailed: {
		TaskPending: true, // phase retry re-queues its tasks
	},
}

func IsWorkOrderTerminal(s WorkOrderStatus) bool {
	return terminalWorkOrderStatuses[s]
}

func IsPodTerminal(s PodStatus) bool {
	return terminalPodStatuses[s]
}

func ValidateWorkOrderTransition(from, to WorkOrderStatus) error {
	if IsWorkOrderTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validWorkOrderTransitions[from]
	if !ok {
		return fmt.Errorf("unknown work order status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid work order transition: %q → %q", from, to)
	}
	return nil
}

func ValidatePhaseTransition(from, to PhaseStatus) error {
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q → %q", from, to)
	}
	return nil
}

func ValidateTaskTransition(from, to TaskStatus) error {
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}
