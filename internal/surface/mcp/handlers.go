package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/memoryd/internal/retriever"
	memjson "github.com/kart-io/memoryd/pkg/utils/json"
)

// searchParams mirrors memory_search's request shape (spec.md §6).
type searchParams struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	ProjectID string  `json:"project_id"`
	MinScore  float64 `json:"min_score"`
}

// searchResultItem mirrors one entry of memory_search's `results` array.
type searchResultItem struct {
	UnitID    string  `json:"unit_id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Score     float64 `json:"score"`
	Source    string  `json:"source"`
	ProjectID string  `json:"project_id"`
	CreatedAt string  `json:"created_at"`
}

type searchResponse struct {
	Results []searchResultItem `json:"results"`
}

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

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleSearch(svc Service) handlerFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var p searchParams
		if err := memjson.Unmarshal(raw, &p); err != nil {
			return nil, newToolError(CodeValidation, "memory_search: "+err.Error())
		}
		if p.Query == "" {
			return nil, newToolError(CodeValidation, "memory_search: query is required")
		}

		req := retriever.Request{QueryText: p.Query, ProjectID: p.ProjectID}
		if p.Limit > 0 {
			req.Limit = p.Limit
		}
		if p.MinScore > 0 {
			req.MinScore = p.MinScore
		}

		results, err := svc.Search(ctx, req)
		if err != nil {
			return nil, err
		}

		items := make([]searchResultItem, len(results))
		for i, r := range results {
			items[i] = toSearchResultItem(r)
		}
		return searchResponse{Results: items}, nil
	}
}

// injectionModeBudget maps spec.md §6's {comprehensive, balanced, conservative}
// preset onto a numeric token budget: comprehensive is unbounded (the
// Injector's own default), balanced and conservative are progressively
// tighter caps. handleInject uses it only to reject an unknown mode; the
// budget is not passed to the Injector, which applies its configured
// TokenBudget to every request. No teacher or pack file names these three
// presets; the thresholds are a judgment call recorded in DESIGN.md.
func injectionModeBudget(mode string) (int, bool) {
	switch mode {
	case "", "comprehensive":
		return 0, true
	case "balanced":
		return balancedTokenBudget, true
	case "conservative":
		return conservativeTokenBudget, true
	default:
		return 0, false
	}
}

const (
	balancedTokenBudget     = 4000
	conservativeTokenBudget = 1500
)

type injectParams struct {
	OriginalPrompt string `json:"original_prompt"`
	QueryText      string `json:"query_text"`
	InjectionMode  string `json:"injection_mode"`
}

type injectResponse struct {
	EnhancedPrompt   string   `json:"enhanced_prompt"`
	InjectedUnitIDs  []string `json:"injected_unit_ids"`
}

func (s *Server) handleInject(svc Service) handlerFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var p injectParams
		if err := memjson.Unmarshal(raw, &p); err != nil {
			return nil, newToolError(CodeValidation, "memory_inject: "+err.Error())
		}
		if p.OriginalPrompt == "" {
			return nil, newToolError(CodeValidation, "memory_inject: original_prompt is required")
		}
		if _, ok := injectionModeBudget(p.InjectionMode); !ok {
			return nil, newToolError(CodeValidation, "memory_inject: invalid injection_mode: "+p.InjectionMode)
		}

		query := p.QueryText
		if query == "" {
			query = p.OriginalPrompt
		}

		req := retriever.Request{QueryText: query}
		enhanced, ids, err := svc.Inject(ctx, p.OriginalPrompt, req)
		if err != nil {
			return nil, err
		}
		return injectResponse{EnhancedPrompt: enhanced, InjectedUnitIDs: ids}, nil
	}
}

func (s *Server) handleStatus(svc Service) handlerFunc {
	return func(ctx context.Context, _ []byte) (any, error) {
		return svc.Status(ctx), nil
	}
}

func (s *Server) handleHealth(svc Service) handlerFunc {
	return func(ctx context.Context, _ []byte) (any, error) {
		return svc.Health(ctx), nil
	}
}

// crossProjectParams mirrors memory_cross_project_search's request shape
// (spec.md §6). merge_strategy accepts both spec §4.6's canonical
// "round_robin" and §6's own "project" alias for the same strategy — the
// two sections of spec.md name it differently; see DESIGN.md.
type crossProjectParams struct {
	Query                string   `json:"query"`
	ProjectIDs           []string `json:"project_ids"`
	IncludeAllProjects   bool     `json:"include_all_projects"`
	MergeStrategy        string   `json:"merge_strategy"`
	MaxResultsPerProject int      `json:"max_results_per_project"`
	Subject              string   `json:"subject"`
}

type projectStat struct {
	ProjectID   string `json:"project_id"`
	ResultCount int    `json:"result_count"`
}

type crossProjectResponse struct {
	Results         []searchResultItem `json:"results"`
	ProjectStats    []projectStat      `json:"project_stats"`
	ProjectsSearched int                `json:"projects_searched"`
	SearchTimeMS    int64              `json:"search_time_ms"`
}

func parseMergeStrategy(s string) (retriever.MergeStrategy, error) {
	switch s {
	case "", "score":
		return retriever.MergeScore, nil
	case "time":
		return retriever.MergeTime, nil
	case "round_robin", "project":
		return retriever.MergeRoundRobin, nil
	default:
		return "", fmt.Errorf("invalid merge_strategy: %s", s)
	}
}

func (s *Server) handleCrossProjectSearch(svc Service) handlerFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var p crossProjectParams
		if err := memjson.Unmarshal(raw, &p); err != nil {
			return nil, newToolError(CodeValidation, "memory_cross_project_search: "+err.Error())
		}
		if p.Query == "" {
			return nil, newToolError(CodeValidation, "memory_cross_project_search: query is required")
		}
		strategy, err := parseMergeStrategy(p.MergeStrategy)
		if err != nil {
			return nil, newToolError(CodeValidation, "memory_cross_project_search: "+err.Error())
		}

		start := time.Now()
		req := retriever.Request{QueryText: p.Query}
		perProject, merged, err := svc.CrossProjectSearch(ctx, p.Subject, req, p.ProjectIDs, p.IncludeAllProjects, strategy, p.MaxResultsPerProject)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		items := make([]searchResultItem, len(merged))
		for i, r := range merged {
			items[i] = toSearchResultItem(r)
		}
		stats := make([]projectStat, len(perProject))
		for i, pr := range perProject {
			stats[i] = projectStat{ProjectID: pr.ProjectID, ResultCount: len(pr.Results)}
		}

		return crossProjectResponse{
			Results:          items,
			ProjectStats:     stats,
			ProjectsSearched: len(perProject),
			SearchTimeMS:     elapsed.Milliseconds(),
		}, nil
	}
}
