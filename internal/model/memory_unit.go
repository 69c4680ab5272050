package model

import "time"

// UnitType enumerates the memory-unit categories (spec §3), also used as the
// Stage D type-priority lookup key (SPEC_FULL.md §4.6).
type UnitType string

const (
	UnitConversation UnitType = "CONVERSATION"
	UnitErrorLog     UnitType = "ERROR_LOG"
	UnitDecision     UnitType = "DECISION"
	UnitCodeSnippet  UnitType = "CODE_SNIPPET"
	UnitDocumentation UnitType = "DOCUMENTATION"
	UnitArchive      UnitType = "ARCHIVE"
)

// TypePriority is the Stage D / injector type-priority weight table
// (SPEC_FULL.md §4.6 Stage D, §4.7 step 2).
var TypePriority = map[UnitType]float64{
	UnitDocumentation: 1.3,
	UnitDecision:       1.4,
	UnitErrorLog:       1.3,
	UnitCodeSnippet:    1.2,
	UnitConversation:   1.0,
	UnitArchive:        1.1,
}

// MemoryUnit is a compressed, retrievable summary of one conversation (or
// slice thereof). It is created by the Compressor and persisted atomically
// with its Embedding via the compensating write (SPEC_FULL.md §4.8).
type MemoryUnit struct {
	UnitID string `gorm:"column:unit_id;primaryKey;type:uuid" json:"unit_id"`

	// ProjectID leads the composite (project_id, unit_type, created_at)
	// index named in SPEC_FULL.md §4.2 and ConversationID has its own
	// index; ConversationID is a weak backref — the unit
	// survives conversation deletion iff archived (spec §3).
	ProjectID      string  `gorm:"column:project_id;type:varchar(128);index:idx_unit_proj_type_created,priority:1" json:"project_id"`
	ConversationID *string `gorm:"column:conversation_id;type:uuid;index:idx_unit_conversation" json:"conversation_id,omitempty"`

	UnitType UnitType `gorm:"column:unit_type;type:varchar(32);index:idx_unit_proj_type_created,priority:2" json:"unit_type"`

	Title   string `gorm:"column:title;type:varchar(500)" json:"title"`
	Summary string `gorm:"column:summary;type:text" json:"summary"`
	Content string `gorm:"column:content;type:text" json:"content"`

	// Keywords is stored as a postgres text[] column with a GIN index
	// (see internal/store/structured/migrate.go) so containment queries
	// are O(log n), never substring matching of a serialized form (I3).
	Keywords StringArray `gorm:"column:keywords;type:text[]" json:"keywords"`

	RelevanceScore float64 `gorm:"column:relevance_score" json:"relevance_score"`
	TokenCount     int     `gorm:"column:token_count;default:0" json:"token_count"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_unit_proj_type_created,priority:3" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`

	IsActive bool `gorm:"column:is_active;default:true" json:"is_active"`
}

func (MemoryUnit) TableName() string { return "memory_units" }

// Expired reports whether the unit's TTL (I6) has lapsed as of now.
func (u *MemoryUnit) Expired(now time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}

// KeywordSet returns the keywords as a set for Jaccard/containment checks.
func (u *MemoryUnit) KeywordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(u.Keywords))
	for _, k := range u.Keywords {
		set[k] = struct{}{}
	}
	return set
}

// Embedding is the dense vector 1:1 with a MemoryUnit. It is stored only in
// the vector store (SPEC_FULL.md §4.3); the structured store never persists
// this type — it exists as an in-memory carrier between the Compressor and
// the Orchestrator's compensating write.
type Embedding struct {
	UnitID    string
	Vector    []float32
	ModelName string
	Dimension int
}

// CostRecord is a per-API-call accounting row.
type CostRecord struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Provider     string    `gorm:"column:provider;type:varchar(64);index:idx_cost_project" json:"provider"`
	Model        string    `gorm:"column:model;type:varchar(128)" json:"model"`
	Operation    string    `gorm:"column:operation;type:varchar(32)" json:"operation"`
	InputTokens  int       `gorm:"column:input_tokens" json:"input_tokens"`
	OutputTokens int       `gorm:"column:output_tokens" json:"output_tokens"`
	Cost         float64   `gorm:"column:cost" json:"cost"`
	Timestamp    time.Time `gorm:"column:timestamp;autoCreateTime" json:"timestamp"`
	ProjectID    string    `gorm:"column:project_id;type:varchar(128);index:idx_cost_project" json:"project_id"`
}

func (CostRecord) TableName() string { return "cost_records" }
