// Package bus is the in-process transport between pods. Senders never need
// to know whether a receiver is currently listening: messages for a pod
// that has not subscribed yet are queued and flushed, in arrival order, the
// moment it does.
package bus

import (
	"sync"
	"time"

	"tbwo/internal/model"
)

// Handler receives messages delivered to a subscription.
type Handler func(model.Message)

// Filter narrows a subscription. Empty slices accept everything.
type Filter struct {
	Types []model.MessageType
	From  []string
}

func (f Filter) acceptsType(t model.MessageType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

func (f Filter) accepts(msg model.Message) bool {
	if !f.acceptsType(msg.Type) {
		return false
	}
	if len(f.From) > 0 {
		ok := false
		for _, from := range f.From {
			if msg.From == from {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

type subscription struct {
	podID   string
	handler Handler
	filter  Filter

	// queue preserves per-subscriber delivery order: messages are enqueued
	// under the bus lock (the same lock that orders the log) and drained by
	// at most one goroutine at a time.
	queue    []model.Message
	draining bool
}

type pendingRequest struct {
	ch chan model.Message
}

// Stats summarizes bus traffic.
type Stats struct {
	TotalMessages       int
	ActiveSubscriptions int
	Unacknowledged      int
}

// DetailedStats breaks traffic down by type and priority.
type DetailedStats struct {
	Stats
	ByType     map[model.MessageType]int
	ByPriority map[model.MessagePriority]int
	ActivePods []string
}

const defaultMaxLog = 1000

// Bus routes messages between pods. The message log and subscription table
// are the only cross-pod shared state; all mutation is serialized behind a
// single mutex. Handler invocation happens outside the lock so handlers may
// publish, subscribe, or respond without deadlocking.
type Bus struct {
	mu       sync.Mutex
	subs     []*subscription
	log      []model.Message
	pending  map[string][]model.Message
	requests map[string]*pendingRequest
	maxLog   int
}

func New() *Bus {
	return NewWithLogLimit(defaultMaxLog)
}

// NewWithLogLimit bounds the retained message log at maxLog entries.
func NewWithLogLimit(maxLog int) *Bus {
	if maxLog <= 0 {
		maxLog = defaultMaxLog
	}
	return &Bus{
		pending:  make(map[string][]model.Message),
		requests: make(map[string]*pendingRequest),
		maxLog:   maxLog,
	}
}

// Subscribe registers handler for every future message addressed to podID
// (or broadcast) that the filter accepts, flushes the pod's pending queue
// in arrival order, and returns an unsubscribe function. Unsubscribing
// never affects other subscribers.
func (b *Bus) Subscribe(podID string, handler Handler, filter Filter) func() {
	sub := &subscription{podID: podID, handler: handler, filter: filter}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	for _, msg := range b.pending[podID] {
		if sub.filter.accepts(msg) {
			sub.queue = append(sub.queue, msg)
		}
	}
	delete(b.pending, podID)
	b.mu.Unlock()

	b.drain(sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

// Publish assigns an id and timestamp, appends to the bounded log, and
// delivers to every matching subscriber in log order (enqueue and log
// append happen under the same lock). A message for a pod with no
// subscriber is queued, not dropped.
func (b *Bus) Publish(msg model.Message) string {
	if msg.ID == "" {
		msg.ID = model.NewID(model.IDTypeMessage)
	}
	if msg.Priority == "" {
		msg.Priority = model.PriorityNormal
	}
	msg.CreatedAt = time.Now().UTC()

	b.mu.Lock()
	b.log = append(b.log, msg)
	if len(b.log) > b.maxLog {
		b.log = b.log[len(b.log)-b.maxLog:]
	}

	var targets []*subscription
	matched := false
	for _, sub := range b.subs {
		if msg.IsBroadcast() {
			// broadcasts ignore sender/destination filters, type filters still apply
			if sub.filter.acceptsType(msg.Type) {
				sub.queue = append(sub.queue, msg)
				targets = append(targets, sub)
			}
			continue
		}
		if sub.podID != msg.To {
			continue
		}
		matched = true
		if sub.filter.accepts(msg) {
			sub.queue = append(sub.queue, msg)
			targets = append(targets, sub)
		}
	}
	if !msg.IsBroadcast() && !matched {
		b.pending[msg.To] = append(b.pending[msg.To], msg)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.drain(sub)
	}
	return msg.ID
}

// drain delivers a subscription's queued messages in order. Only one
// goroutine drains a subscription at a time; a concurrent Publish that
// enqueues mid-drain leaves delivery to the active drainer, which keeps
// per-subscriber order identical to log order. Handlers run outside the
// lock, so they may publish, respond, or subscribe during delivery.
func (b *Bus) drain(sub *subscription) {
	b.mu.Lock()
	if sub.draining {
		b.mu.Unlock()
		return
	}
	sub.draining = true
	for len(sub.queue) > 0 {
		msg := sub.queue[0]
		sub.queue = sub.queue[1:]
		b.mu.Unlock()
		invoke(sub.handler, msg)
		b.mu.Lock()
	}
	sub.draining = false
	b.mu.Unlock()
}

// invoke isolates handler panics so one faulty pod cannot block bus-wide
// delivery.
func invoke(h Handler, msg model.Message) {
	defer func() {
		_ = recover()
	}()
	h(msg)
}

// Broadcast delivers to all active subscribers regardless of destination
// filters, still subject to type filters.
func (b *Bus) Broadcast(from string, msgType model.MessageType, payload map[string]any) string {
	return b.Publish(model.Message{
		From:    from,
		To:      model.BroadcastTarget,
		Type:    msgType,
		Payload: payload,
	})
}

// Acknowledge marks a logged message acknowledged. Unknown ids are a no-op.
func (b *Bus) Acknowledge(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.log {
		if b.log[i].ID == messageID {
			b.log[i].Acknowledged = true
			return
		}
	}
}

// Request publishes a question to `to` and waits for the matching Respond
// call. It returns nil, never an error, when no response arrives within
// the timeout; callers must treat nil as "no answer".
func (b *Bus) Request(from, to string, payload map[string]any, timeout time.Duration) *model.Message {
	msg := model.Message{
		ID:      model.NewID(model.IDTypeMessage),
		From:    from,
		To:      to,
		Type:    model.MessageQuestion,
		Payload: payload,
	}

	req := &pendingRequest{ch: make(chan model.Message, 1)}
	b.mu.Lock()
	b.requests[msg.ID] = req
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.requests, msg.ID)
		b.mu.Unlock()
	}()

	b.Publish(msg)

	select {
	case resp := <-req.ch:
		return &resp
	case <-time.After(timeout):
		return nil
	}
}

// Respond resolves the pending request identified by correlationID, if any.
// Without a waiter it is a no-op.
func (b *Bus) Respond(correlationID, from string, payload map[string]any) {
	b.mu.Lock()
	req, ok := b.requests[correlationID]
	if ok {
		delete(b.requests, correlationID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	resp := model.Message{
		ID:      model.NewID(model.IDTypeMessage),
		From:    from,
		Type:    model.MessageResult,
		Payload: payload,
	}
	resp.CreatedAt = time.Now().UTC()

	b.mu.Lock()
	b.log = append(b.log, resp)
	if len(b.log) > b.maxLog {
		b.log = b.log[len(b.log)-b.maxLog:]
	}
	b.mu.Unlock()

	req.ch <- resp
}

// GetPendingDelivery returns a copy of the messages queued for a pod that
// has not subscribed yet.
func (b *Bus) GetPendingDelivery(podID string) []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Message, len(b.pending[podID]))
	copy(out, b.pending[podID])
	return out
}

// GetUnacknowledged returns logged messages addressed to podID that have
// not been acknowledged.
func (b *Bus) GetUnacknowledged(podID string) []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Message
	for _, msg := range b.log {
		if msg.To == podID && !msg.Acknowledged {
			out = append(out, msg)
		}
	}
	return out
}

// GetMessagesForPod returns logged messages addressed to podID plus all
// broadcasts.
func (b *Bus) GetMessagesForPod(podID string) []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Message
	for _, msg := range b.log {
		if msg.To == podID || msg.IsBroadcast() {
			out = append(out, msg)
		}
	}
	return out
}

func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Bus) statsLocked() Stats {
	unacked := 0
	for _, msg := range b.log {
		if !msg.Acknowledged {
			unacked++
		}
	}
	return Stats{
		TotalMessages:       len(b.log),
		ActiveSubscriptions: len(b.subs),
		Unacknowledged:      unacked,
	}
}

func (b *Bus) GetDetailedStats() DetailedStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	ds := DetailedStats{
		Stats:      b.statsLocked(),
		ByType:     make(map[model.MessageType]int),
		ByPriority: make(map[model.MessagePriority]int),
	}
	podSeen := make(map[string]bool)
	for _, msg := range b.log {
		ds.ByType[msg.Type]++
		ds.ByPriority[msg.Priority]++
		if msg.From != "" && !podSeen[msg.From] {
			podSeen[msg.From] = true
			ds.ActivePods = append(ds.ActivePods, msg.From)
		}
		if msg.To != model.BroadcastTarget && !podSeen[msg.To] {
			podSeen[msg.To] = true
			ds.ActivePods = append(ds.ActivePods, msg.To)
		}
	}
	return ds
}

// Clear drops the message log but keeps subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Destroy drops subscriptions, pending queues and the message log.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.log = nil
	b.pending = make(map[string][]model.Message)
	b.requests = make(map[string]*pendingRequest)
}
