package model

import "time"

type MessageType string

const (
	MessageStatusUpdate   MessageType = "status_update"
	MessageTaskAssignment MessageType = "task_assignment"
	MessageQuestion       MessageType = "question"
	MessageResult         MessageType = "result"
	MessageBroadcast      MessageType = "broadcast"
)

type MessagePriority string

const (
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
)

// BroadcastTarget is the sentinel destination for broadcast messages.
const BroadcastTarget = ""

// Message is ephemeral bus traffic, never persisted with the work order.
type Message struct {
	ID           string          `json:"id"`
	From         string          `json:"from"`
	To           string          `json:"to,omitempty"` // BroadcastTarget means broadcast
	Type         MessageType     `json:"type"`
	Payload      map[string]any  `json:"payload,omitempty"`
	Priority     MessagePriority `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	Acknowledged bool            `json:"acknowledged"`
}

func (m Message) IsBroadcast() bool {
	return m.To == BroadcastTarget
}
