package mcp

import (
	"context"

	"github.com/kart-io/memoryd/internal/orchestrator"
	"github.com/kart-io/memoryd/internal/retriever"
)

// Service is the subset of *orchestrator.Orchestrator this surface calls,
// narrowed to an interface so tests can fake it (the same
// narrow-to-an-interface idiom internal/compressor, internal/retriever and
// internal/injector all use for their own upstream dependency).
type Service interface {
	Search(ctx context.Context, req retriever.Request) ([]retriever.Result, error)
	Inject(ctx context.Context, originalPrompt string, req retriever.Request) (string, []string, error)
	CrossProjectSearch(ctx context.Context, subject string, req retriever.Request, projectIDs []string, includeAll bool, strategy retriever.MergeStrategy, maxResultsPerProject int) ([]retriever.ProjectResult, []retriever.Result, error)
	Health(ctx context.Context) map[string]orchestrator.ComponentHealth
	Status(ctx context.Context) orchestrator.StatusReport
}
