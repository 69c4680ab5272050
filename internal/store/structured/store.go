// Package structured implements the Structured Store (C2): the relational
// side of projects, conversations, messages, memory units and cost rows.
// It is grounded on pkg/component/postgres (gorm over the pgx postgres
// driver), adapted from document-RAG persistence to the conversation-memory
// model in internal/model.
package structured

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/logger"
	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/component/postgres"
)

// Store wraps a postgres client with the typed operations C6/C8 need.
// Transactional boundaries are explicit (Begin/Commit/Rollback) rather than
// implicit, so the compensating write in internal/orchestrator can commit
// the row before attempting the vector-store upsert (SPEC_FULL.md §4.8).
type Store struct {
	client *postgres.Client
}

// New wraps an already-connected postgres client.
func New(client *postgres.Client) *Store {
	return &Store{client: client}
}

// Ping reports store reachability for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

// ErrNotFound mirrors the NOT_FOUND error class (SPEC_FULL.md §7).
var ErrNotFound = errors.New("structured store: not found")

// EnsureProject creates a project row if absent ("created lazily on first
// reference", spec §3). The distinguished GlobalProjectID is equally lazy.
func (s *Store) EnsureProject(ctx context.Context, projectID string) error {
	return s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Project{ProjectID: projectID, Name: projectID, IsActive: true}).Error
}

// StoreConversation persists a conversation and its messages in one
// transaction. It is the low-level admin operation named in spec §4.8
// (`store_conversation`).
func (s *Store) StoreConversation(ctx context.Context, conv *model.Conversation, messages []model.Message) error {
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for i := range messages {
			messages[i].ConversationID = conv.ConversationID
		}
		if len(messages) > 0 {
			if err := tx.Create(&messages).Error; err != nil {
				return fmt.Errorf("insert messages: %w", err)
			}
		}
		conv.MessageCount = len(messages)
		return tx.Model(conv).Update("message_count", conv.MessageCount).Error
	})
}

// GetConversation loads a conversation and its messages in timestamp order.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, []model.Message, error) {
	var conv model.Conversation
	if err := s.client.DB().WithContext(ctx).First(&conv, "conversation_id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var messages []model.Message
	if err := s.client.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Find(&messages).Error; err != nil {
		return nil, nil, err
	}
	return &conv, messages, nil
}

// CloseConversation sets EndedAt, marking the conversation ingestable if it
// already satisfies the HUMAN+ASSISTANT rule (I5).
func (s *Store) CloseConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	res := s.client.DB().WithContext(ctx).
		Model(&model.Conversation{}).
		Where("conversation_id = ? AND ended_at IS NULL", conversationID).
		Update("ended_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMemoryUnit inserts a single memory-unit row inside the caller's
// transaction; the caller (internal/orchestrator) commits it before
// attempting the vector-store upsert, per the compensating-write contract.
func (s *Store) InsertMemoryUnit(ctx context.Context, tx *gorm.DB, unit *model.MemoryUnit) error {
	db := tx
	if db == nil {
		db = s.client.DB().WithContext(ctx)
	}
	return db.Create(unit).Error
}

// DeleteMemoryUnit is the compensation step: it removes the row inserted by
// InsertMemoryUnit when the paired vector-store upsert fails.
func (s *Store) DeleteMemoryUnit(ctx context.Context, unitID string) error {
	return s.client.DB().WithContext(ctx).
		Delete(&model.MemoryUnit{}, "unit_id = ?", unitID).Error
}

// GetMemoryUnit loads one unit by id, used by reconciliation read-back paths
// (spec §4.8: "retrieval by unit_id must check both [stores] on read-back").
func (s *Store) GetMemoryUnit(ctx context.Context, unitID string) (*model.MemoryUnit, error) {
	var unit model.MemoryUnit
	if err := s.client.DB().WithContext(ctx).First(&unit, "unit_id = ?", unitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &unit, nil
}

// WithTransaction runs fn inside a structured-store transaction; fn receives
// the *gorm.DB bound to the transaction so callers (the orchestrator) can
// pass it to InsertMemoryUnit.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.client.DB().WithContext(ctx).Transaction(fn)
}

// KeywordSearchRequest captures Stage A's keyword-branch query parameters
// (SPEC_FULL.md §4.6).
type KeywordSearchRequest struct {
	ProjectID       []string
	Candidates      []string
	UnitTypes       []model.UnitType
	IncludeExpired  bool
	Limit           int
}

// KeywordSearch returns units whose keywords intersect Candidates, newest
// first, limited to Limit — Stage A's keyword branch.
func (s *Store) KeywordSearch(ctx context.Context, req KeywordSearchRequest) ([]model.MemoryUnit, error) {
	if len(req.Candidates) == 0 || len(req.ProjectID) == 0 {
		return nil, nil
	}
	q := s.client.DB().WithContext(ctx).
		Where("project_id IN ?", req.ProjectID).
		Where("is_active = true").
		Where("keywords && ?", candidatesToArrayLiteral(req.Candidates))
	if len(req.UnitTypes) > 0 {
		q = q.Where("unit_type IN ?", req.UnitTypes)
	}
	if !req.IncludeExpired {
		q = q.Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())
	}
	var units []model.MemoryUnit
	if err := q.Order("created_at DESC").Limit(req.Limit).Find(&units).Error; err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return units, nil
}

// candidatesToArrayLiteral renders a postgres text[] literal for the `&&`
// (overlap) operator used by KeywordSearch's containment predicate (I3).
func candidatesToArrayLiteral(candidates []string) string {
	v, _ := model.StringArray(candidates).Value()
	return v.(string)
}

// InsertCostRecord appends one accounting row (§3 CostRecord).
func (s *Store) InsertCostRecord(ctx context.Context, rec *model.CostRecord) error {
	if err := s.client.DB().WithContext(ctx).Create(rec).Error; err != nil {
		logger.Warnf("structured store: failed to persist cost record: %v", err)
		return err
	}
	return nil
}

// SweepExpired soft-deletes memory units whose TTL has lapsed (I6), called
// periodically by the orchestrator's admin TTL sweep.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res := s.client.DB().WithContext(ctx).
		Model(&model.MemoryUnit{}).
		Where("is_active = true AND expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC()).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// ListProjects returns every known project id, used by the
// `include_all_projects` path of cross_project_search (spec.md §6) when the
// caller doesn't name an explicit project list.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.client.DB().WithContext(ctx).
		Model(&model.Project{}).
		Where("is_active = true").
		Order("project_id ASC").
		Pluck("project_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return ids, nil
}
