package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/retriever"
	"github.com/kart-io/memoryd/internal/store/structured"
	memerrors "github.com/kart-io/memoryd/pkg/utils/errors"
	"github.com/kart-io/memoryd/pkg/utils/response"
)

// classifyError maps an orchestrator/store error onto the eight-class
// taxonomy (SPEC_FULL.md §7), the same default-to-INTERNAL propagation
// policy internal/surface/mcp.classifyError applies to the stdio surface.
func classifyError(err error) *memerrors.Errno {
	switch {
	case errors.Is(err, structured.ErrNotFound):
		return memerrors.ErrMemoryNotFound
	case errors.Is(err, context.Canceled):
		return memerrors.ErrMemoryCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return memerrors.ErrMemoryDeadlineExceeded
	default:
		return memerrors.ErrMemoryInternal
	}
}

func writeErrno(c *gin.Context, err error) {
	errno := classifyError(err)
	resp := response.Err(errno)
	defer response.Release(resp)
	resp.WithRequestID(requestID(c))
	c.JSON(resp.HTTPStatus(), resp)
}

func writeValidationError(c *gin.Context, message string) {
	resp := response.ErrorWithData(memerrors.ErrMemoryValidation.Code, message, nil)
	defer response.Release(resp)
	resp.WithRequestID(requestID(c))
	c.JSON(resp.HTTPStatus(), resp)
}

func writeOK(c *gin.Context, data any) {
	resp := response.Success(data)
	defer response.Release(resp)
	resp.WithRequestID(requestID(c))
	c.JSON(resp.HTTPStatus(), resp)
}

// storeConversationRequest mirrors spec.md §6's POST /conversation/store
// body, a superset of queue.CapturedBatch's shape so the capture queue's
// Drainer can retarget its spooled items at this same endpoint (§4.4's
// "HTTP ingest (C9)" write-path hop) without a translation layer.
type storeConversationRequest struct {
	ProjectID   string                    `json:"project_id" binding:"required"`
	SessionID   string                    `json:"session_id"`
	SourceAgent string                    `json:"source_agent"`
	Messages    []storeConversationTurn   `json:"messages" binding:"required,min=1,dive"`
}

type storeConversationTurn struct {
	Role      model.Role `json:"role" binding:"required"`
	Content   string     `json:"content" binding:"required"`
	Timestamp time.Time  `json:"timestamp"`
}

type storeConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

const idempotencyKeyHeader = "Idempotency-Key"

func (s *Server) handleStoreConversation(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req storeConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidationError(c, "conversation/store: "+err.Error())
			return
		}

		conversationID := uuid.NewString()

		if key := c.GetHeader(idempotencyKeyHeader); key != "" && s.idem != nil {
			existing, claimed, err := s.idem.reserve(c.Request.Context(), key, conversationID)
			if err != nil {
				writeErrno(c, err)
				return
			}
			if claimed {
				writeOK(c, storeConversationResponse{ConversationID: existing})
				return
			}
		}

		now := time.Now().UTC()
		conv := &model.Conversation{
			ConversationID: conversationID,
			ProjectID:      req.ProjectID,
			StartedAt:      now,
		}
		if req.SessionID != "" {
			conv.SessionID = &req.SessionID
		}

		messages := make([]model.Message, len(req.Messages))
		for i, t := range req.Messages {
			ts := t.Timestamp
			if ts.IsZero() {
				ts = now
			}
			messages[i] = model.Message{
				MessageID: uuid.NewString(),
				Role:      t.Role,
				Content:   t.Content,
				Timestamp: ts,
			}
		}

		if _, err := svc.IngestConversation(c.Request.Context(), conv, messages); err != nil {
			writeErrno(c, err)
			return
		}
		writeOK(c, storeConversationResponse{ConversationID: conversationID})
	}
}

type searchRequest struct {
	Query     string  `json:"query" binding:"required"`
	Limit     int     `json:"limit"`
	ProjectID string  `json:"project_id"`
	MinScore  float64 `json:"min_score"`
}

type searchResultItem struct {
	UnitID    string  `json:"unit_id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Score     float64 `json:"score"`
	Source    string  `json:"source"`
	ProjectID string  `json:"project_id"`
	CreatedAt string  `json:"created_at"`
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func toSearchResultItem(r retriever.Result) searchResultItem {
	return searchResultItem{
		UnitID:    r.Unit.UnitID,
		Title:     r.Unit.Title,
		Summary:   r.Unit.Summary,
		Score:     r.Score,
		Source:    string(r.Source),
		ProjectID: r.Unit.ProjectID,
		CreatedAt: r.Unit.CreatedAt.UTC().Format(rfc3339),
	}
}

func (s *Server) handleSearch(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidationError(c, "memory/search: "+err.Error())
			return
		}

		r := retriever.Request{QueryText: req.Query, ProjectID: req.ProjectID}
		if req.Limit > 0 {
			r.Limit = req.Limit
		}
		if req.MinScore > 0 {
			r.MinScore = req.MinScore
		}

		results, err := svc.Search(c.Request.Context(), r)
		if err != nil {
			writeErrno(c, err)
			return
		}

		items := make([]searchResultItem, len(results))
		for i, res := range results {
			items[i] = toSearchResultItem(res)
		}
		writeOK(c, gin.H{"results": items})
	}
}

type injectRequest struct {
	OriginalPrompt string `json:"original_prompt" binding:"required"`
	QueryText      string `json:"query_text"`
}

func (s *Server) handleInject(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req injectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidationError(c, "memory/inject: "+err.Error())
			return
		}

		query := req.QueryText
		if query == "" {
			query = req.OriginalPrompt
		}

		enhanced, ids, err := svc.Inject(c.Request.Context(), req.OriginalPrompt, retriever.Request{QueryText: query})
		if err != nil {
			writeErrno(c, err)
			return
		}
		writeOK(c, gin.H{"enhanced_prompt": enhanced, "injected_unit_ids": ids})
	}
}

func (s *Server) handleHealth(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := svc.Health(c.Request.Context())
		status := http.StatusOK
		for _, h := range health {
			if h.Status != "ok" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(status, gin.H{"components": health})
	}
}

func (s *Server) handleStatus(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeOK(c, svc.Status(c.Request.Context()))
	}
}
