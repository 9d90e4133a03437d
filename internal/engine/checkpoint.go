package engine

import (
	"context"
	"sync"
)

// ManualApprover releases checkpoint waits through explicit Approve calls.
// It backs the CLI's approve command and the engine tests.
type ManualApprover struct {
	mu      sync.Mutex
	waiting map[string]chan string // workOrderID/phaseID → approver name
}

func NewManualApprover() *ManualApprover {
	return &ManualApprover{waiting: make(map[string]chan string)}
}

func checkpointKey(workOrderID, phaseID string) string {
	return workOrderID + "/" + phaseID
}

// Wait blocks until Approve is called for the same work order and phase,
// or the context ends.
func (a *ManualApprover) Wait(ctx context.Context, workOrderID, phaseID string) (string, error) {
	key := checkpointKey(workOrderID, phaseID)
	a.mu.Lock()
	ch, ok := a.waiting[key]
	if !ok {
		ch = make(chan string, 1)
		a.waiting[key] = ch
	}
	a.mu.Unlock()

	select {
	case by := <-ch:
		a.mu.Lock()
		delete(a.waiting, key)
		a.mu.Unlock()
		return by, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Approve releases the waiter for the phase. Approving before Wait is
// safe: the approval is buffered and consumed by the next Wait.
func (a *ManualApprover) Approve(workOrderID, phaseID, approvedBy string) {
	key := checkpointKey(workOrderID, phaseID)
	a.mu.Lock()
	ch, ok := a.waiting[key]
	if !ok {
		ch = make(chan string, 1)
		a.waiting[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- approvedBy:
	default:
	}
}
