package model

import "time"

// Conversation is one multi-turn exchange, owned by a Project. Messages are
// owned by the Conversation and cascade-deleted with it — modelled as
// parent-owns-children with stable ids, never as a back-reference cycle
// (see SPEC_FULL.md §9 REDESIGN FLAGS).
type Conversation struct {
	ConversationID string         `gorm:"column:conversation_id;primaryKey;type:uuid" json:"conversation_id"`
	ProjectID      string         `gorm:"column:project_id;type:varchar(128);index:idx_conv_project" json:"project_id"`
	SessionID      *string        `gorm:"column:session_id;type:varchar(255)" json:"session_id,omitempty"`
	Title          string         `gorm:"column:title;type:varchar(500)" json:"title"`
	StartedAt      time.Time      `gorm:"column:started_at" json:"started_at"`
	EndedAt        *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	MessageCount   int            `gorm:"column:message_count;default:0" json:"message_count"`
	TokenCount     int            `gorm:"column:token_count;default:0" json:"token_count"`
	Metadata       map[string]any `gorm:"column:metadata;serializer:json" json:"metadata"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }

// IsOpen reports whether the conversation has not yet received a close signal.
func (c *Conversation) IsOpen() bool { return c.EndedAt == nil }

// Role enumerates the four message roles (spec §3).
type Role string

const (
	RoleHuman     Role = "HUMAN"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"
)

// Message is one turn, owned by a Conversation.
type Message struct {
	MessageID      string         `gorm:"column:message_id;primaryKey;type:uuid" json:"message_id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index:idx_msg_conversation" json:"conversation_id"`
	Role           Role           `gorm:"column:role;type:varchar(16)" json:"role"`
	Content        string         `gorm:"column:content;type:text" json:"content"`
	Timestamp      time.Time      `gorm:"column:timestamp" json:"timestamp"`
	TokenCount     int            `gorm:"column:token_count;default:0" json:"token_count"`
	Metadata       map[string]any `gorm:"column:metadata;serializer:json" json:"metadata"`
}

func (Message) TableName() string { return "messages" }

// Ingestable reports whether the conversation has at least one HUMAN and one
// ASSISTANT message (spec I5) — compression must never run otherwise.
func Ingestable(messages []Message) bool {
	var hasHuman, hasAssistant bool
	for _, m := range messages {
		switch m.Role {
		case RoleHuman:
			hasHuman = true
		case RoleAssistant:
			hasAssistant = true
		}
	}
	return hasHuman && hasAssistant
}
