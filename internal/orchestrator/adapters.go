package orchestrator

import (
	"context"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/retriever"
	"github.com/kart-io/memoryd/internal/store/structured"
)

// keywordSearchAdapter bridges structured.Store's KeywordSearchRequest to
// retriever.KeywordSearchRequest. The two types are field-for-field
// identical but intentionally distinct: internal/retriever depends on no
// concrete store package, so it declares its own request shape and this
// adapter is the one place that knows both.
type keywordSearchAdapter struct {
	store *structured.Store
}

func (a keywordSearchAdapter) KeywordSearch(ctx context.Context, req retriever.KeywordSearchRequest) ([]model.MemoryUnit, error) {
	return a.store.KeywordSearch(ctx, structured.KeywordSearchRequest{
		ProjectID:      req.ProjectID,
		Candidates:     req.Candidates,
		UnitTypes:      req.UnitTypes,
		IncludeExpired: req.IncludeExpired,
		Limit:          req.Limit,
	})
}
