// Package retriever implements the Retriever (C6): hybrid semantic+keyword
// recall, merge, rerank and policy reranking over memory units
// (SPEC_FULL.md §4.6).
//
// Grounded on the teacher's internal/rag/biz/retriever.go embed→search→
// rerank→repack shape and its internal/pkg/rag/enhancer.Enhancer.RerankResults
// blend, generalised from a single vector-only recall to the spec's
// two-branch parallel recall with a merge stage in between.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/store/vector"
	"github.com/kart-io/memoryd/pkg/infra/tracing"
)

const tracerName = "memoryd/retriever"

// Embedder is the subset of the gateway the semantic branch needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker is the subset of the gateway Stage C needs.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float32, error)
}

// VectorSearcher is the subset of the vector store Stage A's semantic
// branch needs. internal/store/vector.Store satisfies this directly.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, topK int, filter vector.SearchFilter) ([]vector.Hit, error)
}

// KeywordSearchRequest mirrors structured.KeywordSearchRequest without
// importing the structured package, keeping this package's surface
// store-agnostic the way the teacher's retriever only depends on a
// store.VectorStore interface rather than a concrete client.
type KeywordSearchRequest struct {
	ProjectID      []string
	Candidates     []string
	UnitTypes      []model.UnitType
	IncludeExpired bool
	Limit          int
}

// KeywordSearcher is the subset of the structured store Stage A's keyword
// branch needs.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, req KeywordSearchRequest) ([]model.MemoryUnit, error)
}

// UnitGetter fetches a unit's full row by id, used to resolve the semantic
// branch's (unit_id, similarity) hits into retrievable units.
type UnitGetter interface {
	GetMemoryUnit(ctx context.Context, unitID string) (*model.MemoryUnit, error)
}

// QueryType selects which branch(es) of Stage A run.
type QueryType string

const (
	QuerySemantic QueryType = "semantic"
	QueryKeyword  QueryType = "keyword"
	QueryHybrid   QueryType = "hybrid"
)

// PolicyStrategy names Stage D's optional reranking weight.
type PolicyStrategy string

const (
	PolicyRelevanceTime PolicyStrategy = "relevance_time"
	PolicyQualityBoost  PolicyStrategy = "quality_boost"
	PolicyTypePriority  PolicyStrategy = "type_priority"
)

// Request is a RetrievalRequest (spec.md §4.6 Inputs).
type Request struct {
	QueryText      string
	QueryType      QueryType
	ProjectID      string
	Limit          int
	MinScore       float64
	UnitTypes      []model.UnitType
	IncludeExpired bool
	Policy         PolicyStrategy
	HalfLifeDays   float64 // τ for relevance_time, default 30
}

// Source tags which branch (or their merge) produced a result.
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceKeyword  Source = "keyword"
	SourceHybrid   Source = "hybrid"
)

// Result is one RetrievalResult (spec.md §4.6 Output).
type Result struct {
	Unit        model.MemoryUnit
	Score       float64
	Source      Source
	RerankScore *float64
}

const (
	// stageARecallK is K1, the per-branch recall depth.
	stageARecallK = 20
	// stageCRerankM is M, the cap on merged candidates passed to rerank.
	stageCRerankM = 20
	// stageCRerankK is K2, the number of candidates actually reranked.
	stageCRerankK = 5
	// crossBranchBoost is the fixed +30% Stage B boost.
	crossBranchBoost = 0.3
	// defaultHalfLifeDays is τ for the default relevance_time policy.
	defaultHalfLifeDays = 30.0
	// tieEpsilon is the Stage E/tie-break score-equality tolerance.
	tieEpsilon = 1e-6
)

// Config bundles the collaborators a Retriever is built from.
type Config struct {
	Vector   VectorSearcher
	Keyword  KeywordSearcher
	Units    UnitGetter
	Embed    Embedder
	Rerank   Reranker
}

// Retriever implements the hybrid recall algorithm.
type Retriever struct {
	cfg Config
}

// New builds a Retriever from its collaborators.
func New(cfg Config) *Retriever {
	return &Retriever{cfg: cfg}
}

// Retrieve runs Stage A through E for req.QueryType and returns results
// ordered by final score descending, tie-broken per spec.md §4.6.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "retriever.Retrieve")
	defer tracing.EndSpan(span)
	tracing.AddSpanAttributes(ctx,
		tracing.String("memoryd.query_type", string(req.QueryType)),
		tracing.String("memoryd.policy", string(req.Policy)),
	)

	if req.Limit <= 0 {
		req.Limit = 5
	}
	if req.MinScore == 0 {
		req.MinScore = 0.3
	}
	if req.Policy == "" {
		req.Policy = PolicyRelevanceTime
	}
	if req.HalfLifeDays == 0 {
		req.HalfLifeDays = defaultHalfLifeDays
	}

	var merged []Result
	var err error

	switch req.QueryType {
	case QuerySemantic:
		merged, err = r.recallSemantic(ctx, req)
	case QueryKeyword:
		merged, err = r.recallKeyword(ctx, req)
	default:
		merged, err = r.recallHybrid(ctx, req)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if req.QueryType == QueryHybrid || req.QueryType == "" {
		merged = r.rerank(ctx, req.QueryText, merged)
	}

	merged = applyPolicy(merged, req.Policy, req.HalfLifeDays)
	merged = thresholdAndTruncate(merged, req.MinScore, req.Limit)
	tracing.AddSpanAttributes(ctx, tracing.Int("memoryd.result_count", len(merged)))
	return merged, nil
}

// recallHybrid runs both Stage A branches concurrently (spec.md §4.6: "Both
// branches execute concurrently. A branch failing with a recoverable error
// does not fail the whole retrieval; its contribution is the empty list").
func (r *Retriever) recallHybrid(ctx context.Context, req Request) ([]Result, error) {
	var semantic, keyword []Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.recallSemantic(gctx, req)
		if err != nil {
			logger.Warnw("retriever: semantic branch degraded to empty", "error", err.Error())
			return nil
		}
		semantic = res
		return nil
	})
	g.Go(func() error {
		res, err := r.recallKeyword(gctx, req)
		if err != nil {
			logger.Warnw("retriever: keyword branch degraded to empty", "error", err.Error())
			return nil
		}
		keyword = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeBranches(semantic, keyword), nil
}

// recallSemantic is Stage A's semantic branch: embed, search C3, resolve
// unit rows from C2.
func (r *Retriever) recallSemantic(ctx context.Context, req Request) ([]Result, error) {
	if r.cfg.Embed == nil || r.cfg.Vector == nil {
		return nil, fmt.Errorf("retriever: semantic branch not configured")
	}
	vecs, err := r.cfg.Embed.Embed(ctx, []string{req.QueryText})
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retriever: embed returned %d vectors, expected 1", len(vecs))
	}

	hits, err := r.cfg.Vector.Search(ctx, vecs[0], stageARecallK, vector.SearchFilter{
		ProjectIDs:     []string{req.ProjectID},
		UnitTypes:      req.UnitTypes,
		IncludeExpired: req.IncludeExpired,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: vector search: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		unit, err := r.cfg.Units.GetMemoryUnit(ctx, h.UnitID)
		if err != nil {
			logger.Warnw("retriever: semantic hit missing structured row, dropping", "unit_id", h.UnitID, "error", err.Error())
			continue
		}
		out = append(out, Result{Unit: *unit, Score: float64(h.Similarity), Source: SourceSemantic})
	}
	return out, nil
}

// recallKeyword is Stage A's keyword branch: tokenise, query C2, score by
// match fraction.
func (r *Retriever) recallKeyword(ctx context.Context, req Request) ([]Result, error) {
	if r.cfg.Keyword == nil {
		return nil, fmt.Errorf("retriever: keyword branch not configured")
	}
	candidates := tokenize(req.QueryText)
	if len(candidates) == 0 {
		return nil, nil
	}

	units, err := r.cfg.Keyword.KeywordSearch(ctx, KeywordSearchRequest{
		ProjectID:      []string{req.ProjectID},
		Candidates:     candidates,
		UnitTypes:      req.UnitTypes,
		IncludeExpired: req.IncludeExpired,
		Limit:          stageARecallK,
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: keyword search: %w", err)
	}

	candidateSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = struct{}{}
	}

	out := make([]Result, 0, len(units))
	for _, u := range units {
		matched := 0
		keywordSet := u.KeywordSet()
		for c := range candidateSet {
			if _, ok := keywordSet[c]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(candidateSet))
		out = append(out, Result{Unit: u, Score: score, Source: SourceKeyword})
	}
	return out, nil
}

// rerank is Stage C: rerank up to stageCRerankM merged candidates, replacing
// their score with the rerank score for the top stageCRerankK; the rest
// keep their Stage-B score.
func (r *Retriever) rerank(ctx context.Context, query string, results []Result) []Result {
	if r.cfg.Rerank == nil || len(results) == 0 {
		return results
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "retriever.rerank")
	defer tracing.EndSpan(span)
	tracing.AddSpanAttributes(ctx, tracing.Int("memoryd.candidate_count", len(results)))

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	m := results
	rest := []Result(nil)
	if len(results) > stageCRerankM {
		m = results[:stageCRerankM]
		rest = append(rest, results[stageCRerankM:]...)
	}

	docs := make([]string, len(m))
	for i, res := range m {
		docs[i] = res.Unit.Title + " " + res.Unit.Summary
	}

	scores, err := r.cfg.Rerank.Rerank(ctx, query, docs)
	if err != nil || len(scores) != len(m) {
		logger.Warnw("retriever: rerank failed, keeping stage-B scores", "error", fmt.Sprint(err))
		return append(m, rest...)
	}

	for i := range m {
		s := float64(scores[i])
		m[i].RerankScore = &s
	}
	sort.SliceStable(m, func(i, j int) bool { return *m[i].RerankScore > *m[j].RerankScore })

	topK := stageCRerankK
	if topK > len(m) {
		topK = len(m)
	}
	for i := 0; i < topK; i++ {
		m[i].Score = *m[i].RerankScore
	}
	// Candidates past K2 were sent to the reranker but did not make the cut;
	// they keep their Stage-B score per spec.md §4.6 Stage C.
	for i := topK; i < len(m); i++ {
		m[i].RerankScore = nil
	}

	return append(m, rest...)
}

func thresholdAndTruncate(results []Result, minScore float64, limit int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return lessResult(results[j], results[i])
	})

	out := make([]Result, 0, limit)
	for _, res := range results {
		if res.Score < minScore {
			continue
		}
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}
	return out
}

// typePriority returns u's weight from model.TypePriority, or 1.0 for a
// unit_type the table does not list.
func typePriority(u model.MemoryUnit) float64 {
	if p, ok := model.TypePriority[u.UnitType]; ok {
		return p
	}
	return 1.0
}

// lessResult implements the Stage E sort order: final score descending,
// then the tie-break rules in spec.md §4.6 when scores are equal within
// tieEpsilon — higher unit_type priority, more recent created_at,
// lexicographically smaller unit_id.
func lessResult(a, b Result) bool {
	if diff := a.Score - b.Score; diff < -tieEpsilon || diff > tieEpsilon {
		return a.Score < b.Score
	}
	if pa, pb := model.TypePriority[a.Unit.UnitType], model.TypePriority[b.Unit.UnitType]; pa != pb {
		return pa < pb
	}
	if !a.Unit.CreatedAt.Equal(b.Unit.CreatedAt) {
		return a.Unit.CreatedAt.Before(b.Unit.CreatedAt)
	}
	return a.Unit.UnitID > b.Unit.UnitID
}
