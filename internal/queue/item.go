// Package queue implements the disk-backed capture queue (spec.md §4.4):
// a FIFO spool of captured conversation turns, drained by POSTing each item
// to the local ingest endpoint once it becomes reachable.
package queue

import (
	"time"

	"github.com/kart-io/memoryd/internal/model"
)

// CapturedMessage is one turn as handed to the queue by the CLI wrapper,
// before it is assigned a MessageID by the ingest endpoint.
type CapturedMessage struct {
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// CapturedBatch is the payload of a single spool file: a pair of turns or a
// multi-turn batch belonging to one conversation, plus capture metadata.
type CapturedBatch struct {
	ProjectID   string            `json:"project_id"`
	SessionID   string            `json:"session_id,omitempty"`
	SourceAgent string            `json:"source_agent,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
	Close       bool              `json:"close,omitempty"` // explicit conversation-close signal
	Messages    []CapturedMessage `json:"messages"`
}
