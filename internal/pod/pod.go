// Package pod implements the role-scoped workers that carry out a work
// order, plus the orchestrator specialization that coordinates them.
package pod

import (
	"context"
	"sync"

	"tbwo/internal/bus"
	"tbwo/internal/model"
)

// TaskOutcome is the uniform result of a task execution. Ordinary task
// failures come back as Success=false with a diagnostic, never as a panic.
type TaskOutcome struct {
	Success bool
	Output  string
	Error   string
}

// Pod is the task-execution contract the engine drives polymorphically.
type Pod interface {
	ID() string
	Role() model.PodRole
	Name() string
	Status() model.PodStatus
	SetStatus(model.PodStatus)
	Initialize(b *bus.Bus)
	ExecuteTask(ctx context.Context, task *model.Task) TaskOutcome
	SystemPrompt() string
	SpecializedTools() []string
	State() model.PodState
}

// TaskRunner is the pluggable role-specific behavior behind ExecuteTask.
// It typically wraps a long-latency external call.
type TaskRunner func(ctx context.Context, task *model.Task) TaskOutcome

// BasePod carries the lifecycle and bookkeeping shared by every role.
type BasePod struct {
	id   string
	role model.PodRole
	name string

	mu             sync.Mutex
	status         model.PodStatus
	initialized    bool
	bus            *bus.Bus
	unsubscribe    func()
	usage          model.ResourceUsage
	healthWarnings []string
	completedTasks []string
	outputs        []string

	runner TaskRunner
}

func newBasePod(role model.PodRole, name string, runner TaskRunner) *BasePod {
	return &BasePod{
		id:     model.NewID(model.IDTypePod),
		role:   role,
		name:   name,
		status: model.PodInitializing,
		runner: runner,
	}
}

func (p *BasePod) ID() string          { return p.id }
func (p *BasePod) Role() model.PodRole { return p.role }
func (p *BasePod) Name() string        { return p.name }

func (p *BasePod) Status() model.PodStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *BasePod) SetStatus(s model.PodStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// Initialize subscribes the pod to the bus under its own id. Idempotent:
// a second call keeps the original subscription.
func (p *BasePod) Initialize(b *bus.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return
	}
	p.bus = b
	p.unsubscribe = b.Subscribe(p.id, p.handleMessage, bus.Filter{})
	p.initialized = true
	p.status = model.PodIdle
}

// handleMessage keeps the pod reachable while it is busy: assignments are
// acknowledged on receipt, and status probes get a status_update reply.
// Task execution itself is driven by the engine through ExecuteTask.
func (p *BasePod) handleMessage(msg model.Message) {
	p.mu.Lock()
	b := p.bus
	status := p.status
	p.mu.Unlock()
	if b == nil {
		return
	}

	switch msg.Type {
	case model.MessageTaskAssignment:
		b.Acknowledge(msg.ID)
	case model.MessageQuestion:
		if msg.Payload["probe"] == "status" {
			b.Publish(model.Message{
				From:    p.id,
				To:      msg.From,
				Type:    model.MessageStatusUpdate,
				Payload: map[string]any{"status": string(status)},
			})
		}
	}
}

// Terminate tears down the bus subscription and marks the pod terminated.
func (p *BasePod) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.initialized = false
	p.status = model.PodTerminated
}

// ExecuteTask runs the role-specific runner, recovering any panic into an
// ordinary failed outcome so a buggy runner cannot crash the engine.
func (p *BasePod) ExecuteTask(ctx context.Context, task *model.Task) (outcome TaskOutcome) {
	p.SetStatus(model.PodWorking)
	defer func() {
		if r := recover(); r != nil {
			outcome = TaskOutcome{Success: false, Error: "task runner panicked"}
			p.recordFailure()
			return
		}
		if outcome.Success {
			p.recordCompletion(task.ID, outcome.Output)
		} else {
			p.recordFailure()
		}
	}()

	if err := ctx.Err(); err != nil {
		return TaskOutcome{Success: false, Error: err.Error()}
	}
	if p.runner == nil {
		// default behavior: the task is acknowledged and marked done
		return TaskOutcome{Success: true, Output: task.Name}
	}
	return p.runner(ctx, task)
}

func (p *BasePod) recordCompletion(taskID, output string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completedTasks = append(p.completedTasks, taskID)
	if output != "" {
		p.outputs = append(p.outputs, output)
	}
	p.status = model.PodIdle
}

func (p *BasePod) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = model.PodIdle
}

// AddUsage accumulates resource consumption reported by the runner layer.
func (p *BasePod) AddUsage(tokens, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage.TokensUsed += tokens
	p.usage.ExecutionSeconds += seconds
}

// AddHealthWarning appends a warning surfaced in the pod's receipt.
func (p *BasePod) AddHealthWarning(w string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthWarnings = append(p.healthWarnings, w)
}

func (p *BasePod) SystemPrompt() string {
	return roleProfile(p.role).prompt
}

func (p *BasePod) SpecializedTools() []string {
	prof := roleProfile(p.role)
	tools := make([]string, len(prof.tools))
	copy(tools, prof.tools)
	return tools
}

// State snapshots the pod for the work order's pods map.
func (p *BasePod) State() model.PodState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := model.PodState{
		ID:     p.id,
		Role:   p.role,
		Name:   p.name,
		Status: p.status,
		Usage:  p.usage,
	}
	st.HealthWarnings = append(st.HealthWarnings, p.healthWarnings...)
	st.CompletedTaskIDs = append(st.CompletedTaskIDs, p.completedTasks...)
	st.Outputs = append(st.Outputs, p.outputs...)
	return st
}

// Worker is a plain role pod.
type Worker struct {
	*BasePod
}

// NewWorker creates a pod for any non-orchestrator role. The runner may be
// nil, in which case tasks succeed trivially.
func NewWorker(role model.PodRole, name string, runner TaskRunner) *Worker {
	return &Worker{BasePod: newBasePod(role, name, runner)}
}

// NewWorkerFromState revives a pod under the id the work order already
// holds for it, so the work order's pods map and the live pod agree.
func NewWorkerFromState(st model.PodState, runner TaskRunner) *Worker {
	base := newBasePod(st.Role, st.Name, runner)
	base.id = st.ID
	return &Worker{BasePod: base}
}
