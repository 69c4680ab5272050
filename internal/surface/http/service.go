package http

import (
	"context"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/orchestrator"
	"github.com/kart-io/memoryd/internal/retriever"
)

// Service is the subset of *orchestrator.Orchestrator this surface calls,
// narrowed to an interface so tests can fake it (the same narrowing idiom
// internal/surface/mcp.Service and the compressor/retriever/injector
// upstream-dependency interfaces use).
type Service interface {
	IngestConversation(ctx context.Context, conv *model.Conversation, messages []model.Message) (*model.MemoryUnit, error)
	Search(ctx context.Context, req retriever.Request) ([]retriever.Result, error)
	Inject(ctx context.Context, originalPrompt string, req retriever.Request) (string, []string, error)
	Health(ctx context.Context) map[string]orchestrator.ComponentHealth
	Status(ctx context.Context) orchestrator.StatusReport
}
