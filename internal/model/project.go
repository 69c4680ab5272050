// Package model defines the persisted conversation-memory domain types:
// Project, Conversation, Message, MemoryUnit, Embedding reference and
// CostRecord. These are gorm models for the structured store; the vector
// store (internal/store/vector) keeps its own payload projection of
// MemoryUnit/Embedding rather than sharing these structs directly.
package model

import "time"

// GlobalProjectID is the distinguished shared-memory project (spec §3).
const GlobalProjectID = "global"

// Project is the tenant boundary. Created lazily on first reference.
type Project struct {
	ProjectID string         `gorm:"column:project_id;primaryKey;type:varchar(128)" json:"project_id"`
	Name      string         `gorm:"column:name;type:varchar(255)" json:"name"`
	IsActive  bool           `gorm:"column:is_active;default:true" json:"is_active"`
	Settings  map[string]any `gorm:"column:settings;serializer:json" json:"settings"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName pins the gorm table name explicitly (teacher convention).
func (Project) TableName() string { return "projects" }
