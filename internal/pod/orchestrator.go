package pod

import (
	"sync"

	"tbwo/internal/bus"
	"tbwo/internal/model"
)

// RegistryEntry is the orchestrator's coordination view of one sibling pod.
type RegistryEntry struct {
	Role   model.PodRole
	Status string
}

const (
	registryActive     = "active"
	registryTerminated = "terminated"
)

// Orchestrator is the only role permitted to hold a live pod registry.
// The registry is private; every mutation goes through these methods.
type Orchestrator struct {
	*BasePod

	regMu    sync.Mutex
	registry map[string]RegistryEntry
	bus      *bus.Bus
}

func NewOrchestrator(name string) *Orchestrator {
	return &Orchestrator{
		BasePod:  newBasePod(model.RoleOrchestrator, name, nil),
		registry: make(map[string]RegistryEntry),
	}
}

// NewOrchestratorFromState revives the orchestrator under the id the work
// order already holds for it.
func NewOrchestratorFromState(st model.PodState) *Orchestrator {
	o := NewOrchestrator(st.Name)
	o.BasePod.id = st.ID
	return o
}

func (o *Orchestrator) Initialize(b *bus.Bus) {
	o.regMu.Lock()
	o.bus = b
	o.regMu.Unlock()
	o.BasePod.Initialize(b)
}

// RegisterPod adds or refreshes a registry entry. Registering the same id
// twice does not duplicate anything.
func (o *Orchestrator) RegisterPod(podID string, role model.PodRole) {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	o.registry[podID] = RegistryEntry{Role: role, Status: registryActive}
}

func (o *Orchestrator) UnregisterPod(podID string) {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	delete(o.registry, podID)
}

// UpdatePodStatus marks a registered pod's coordination status. Unknown
// ids are ignored.
func (o *Orchestrator) UpdatePodStatus(podID, status string) {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	entry, ok := o.registry[podID]
	if !ok {
		return
	}
	entry.Status = status
	o.registry[podID] = entry
}

// GetRegisteredPods returns a defensive copy; callers cannot corrupt the
// orchestrator's state through it.
func (o *Orchestrator) GetRegisteredPods() map[string]RegistryEntry {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	out := make(map[string]RegistryEntry, len(o.registry))
	for id, entry := range o.registry {
		out[id] = entry
	}
	return out
}

// FindPodsByRole returns ids of registered pods with the role and status
// active. Terminated and failed pods are excluded.
func (o *Orchestrator) FindPodsByRole(role model.PodRole) []string {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	var ids []string
	for id, entry := range o.registry {
		if entry.Role == role && entry.Status == registryActive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (o *Orchestrator) GetActivePodCount() int {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	n := 0
	for _, entry := range o.registry {
		if entry.Status == registryActive {
			n++
		}
	}
	return n
}

// DelegateTask publishes a high-priority task assignment to podID. A nil
// bus (delegation before wiring) is tolerated, not crashed on.
func (o *Orchestrator) DelegateTask(task *model.Task, podID string) {
	o.regMu.Lock()
	b := o.bus
	o.regMu.Unlock()
	if b == nil {
		return
	}
	b.Publish(model.Message{
		From:     o.ID(),
		To:       podID,
		Type:     model.MessageTaskAssignment,
		Priority: model.PriorityHigh,
		Payload: map[string]any{
			"task_id":   task.ID,
			"task_name": task.Name,
		},
	})
}

// Assignment pairs a task with its target pod for batch delegation.
type Assignment struct {
	PodID string
	Task  *model.Task
}

// DelegateTaskBatch delegates each pair in the order given. There is no
// atomicity across the batch.
func (o *Orchestrator) DelegateTaskBatch(assignments []Assignment) {
	for _, a := range assignments {
		o.DelegateTask(a.Task, a.PodID)
	}
}

// RequestStatusFromAll broadcasts a status probe to every pod.
func (o *Orchestrator) RequestStatusFromAll() {
	o.regMu.Lock()
	b := o.bus
	o.regMu.Unlock()
	if b == nil {
		return
	}
	b.Broadcast(o.ID(), model.MessageQuestion, map[string]any{"probe": "status"})
}

// BroadcastUpdate broadcasts a status update to every pod.
func (o *Orchestrator) BroadcastUpdate(payload map[string]any) {
	o.regMu.Lock()
	b := o.bus
	o.regMu.Unlock()
	if b == nil {
		return
	}
	b.Broadcast(o.ID(), model.MessageStatusUpdate, payload)
}
