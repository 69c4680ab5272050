package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/store/vector"
)

type fakeVector struct {
	hits []vector.Hit
	err  error
}

func (f *fakeVector) Search(_ context.Context, _ []float32, _ int, _ vector.SearchFilter) ([]vector.Hit, error) {
	return f.hits, f.err
}

type fakeKeyword struct {
	units []model.MemoryUnit
	err   error
}

func (f *fakeKeyword) KeywordSearch(_ context.Context, _ KeywordSearchRequest) ([]model.MemoryUnit, error) {
	return f.units, f.err
}

type fakeUnits struct {
	byID map[string]model.MemoryUnit
}

func (f *fakeUnits) GetMemoryUnit(_ context.Context, unitID string) (*model.MemoryUnit, error) {
	u, ok := f.byID[unitID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &u, nil
}

type fakeEmbed struct {
	vec []float32
	err error
}

func (f *fakeEmbed) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeRerank struct {
	scores []float32
	err    error
}

func (f *fakeRerank) Rerank(_ context.Context, _ string, _ []string) ([]float32, error) {
	return f.scores, f.err
}

func unit(id string, typ model.UnitType, keywords []string, createdAt time.Time) model.MemoryUnit {
	return model.MemoryUnit{
		UnitID:    id,
		ProjectID: "proj-1",
		UnitType:  typ,
		Title:     "title-" + id,
		Summary:   "summary-" + id,
		Keywords:  keywords,
		CreatedAt: createdAt,
	}
}

func TestRetrieveHybridMergesAndBoostsOverlap(t *testing.T) {
	now := time.Now().UTC()
	units := map[string]model.MemoryUnit{
		"a": unit("a", model.UnitConversation, []string{"deploy", "bug"}, now),
		"b": unit("b", model.UnitConversation, []string{"deploy"}, now),
	}
	r := New(Config{
		Vector:  &fakeVector{hits: []vector.Hit{{UnitID: "a", Similarity: 0.5}, {UnitID: "b", Similarity: 0.4}}},
		Keyword: &fakeKeyword{units: []model.MemoryUnit{units["a"]}},
		Units:   &fakeUnits{byID: units},
		Embed:   &fakeEmbed{vec: []float32{0.1, 0.2}},
	})

	results, err := r.Retrieve(context.Background(), Request{
		QueryText: "deploy bug", QueryType: QueryHybrid, ProjectID: "proj-1", MinScore: 0, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// "a" appeared in both branches: semantic 0.5 + 0.3*keyword_score, where
	// keyword_score = |{deploy,bug}|/|{deploy,bug}| = 1.0, decayed by the
	// default relevance_time policy (same day, so factor ~1).
	if results[0].Unit.UnitID != "a" {
		t.Errorf("expected unit a to rank first after the cross-branch boost, got %s", results[0].Unit.UnitID)
	}
	if results[0].Source != SourceHybrid {
		t.Errorf("expected hybrid source for the merged unit, got %s", results[0].Source)
	}
}

func TestRetrieveSemanticOnlySkipsKeywordBranch(t *testing.T) {
	units := map[string]model.MemoryUnit{
		"a": unit("a", model.UnitConversation, nil, time.Now().UTC()),
	}
	r := New(Config{
		Vector: &fakeVector{hits: []vector.Hit{{UnitID: "a", Similarity: 0.9}}},
		Units:  &fakeUnits{byID: units},
		Embed:  &fakeEmbed{vec: []float32{0.1}},
		// Keyword branch intentionally left nil; semantic-only must not call it.
	})

	results, err := r.Retrieve(context.Background(), Request{
		QueryText: "x", QueryType: QuerySemantic, ProjectID: "proj-1", MinScore: 0, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Unit.UnitID != "a" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRetrieveKeywordOnlySkipsRerank(t *testing.T) {
	units := []model.MemoryUnit{unit("a", model.UnitConversation, []string{"deploy"}, time.Now().UTC())}
	r := New(Config{
		Keyword: &fakeKeyword{units: units},
		Rerank:  &fakeRerank{err: errors.New("must not be called")},
	})

	results, err := r.Retrieve(context.Background(), Request{
		QueryText: "deploy", QueryType: QueryKeyword, ProjectID: "proj-1", MinScore: 0, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestRetrieveHybridDegradesOnBranchFailure(t *testing.T) {
	units := map[string]model.MemoryUnit{
		"a": unit("a", model.UnitConversation, nil, time.Now().UTC()),
	}
	r := New(Config{
		Vector:  &fakeVector{hits: []vector.Hit{{UnitID: "a", Similarity: 0.7}}},
		Units:   &fakeUnits{byID: units},
		Embed:   &fakeEmbed{vec: []float32{0.1}},
		Keyword: &fakeKeyword{err: errors.New("db unreachable")},
	})

	results, err := r.Retrieve(context.Background(), Request{
		QueryText: "x", QueryType: QueryHybrid, ProjectID: "proj-1", MinScore: 0, Limit: 10,
	})
	if err != nil {
		t.Fatalf("expected the whole retrieval to succeed despite one branch failing, got: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the surviving branch's result, got %d", len(results))
	}
}

func TestThresholdDropsLowScores(t *testing.T) {
	results := []Result{
		{Unit: unit("a", model.UnitConversation, nil, time.Now()), Score: 0.1},
		{Unit: unit("b", model.UnitConversation, nil, time.Now()), Score: 0.9},
	}
	out := thresholdAndTruncate(results, 0.3, 10)
	if len(out) != 1 || out[0].Unit.UnitID != "b" {
		t.Fatalf("expected only unit b to survive the threshold, got %+v", out)
	}
}

func TestTieBreakPrefersHigherTypePriorityThenRecencyThenID(t *testing.T) {
	now := time.Now()
	a := Result{Unit: unit("zzz", model.UnitConversation, nil, now), Score: 0.5}
	b := Result{Unit: unit("aaa", model.UnitDecision, nil, now), Score: 0.5}
	out := thresholdAndTruncate([]Result{a, b}, 0, 10)
	if out[0].Unit.UnitID != "aaa" {
		t.Fatalf("expected DECISION (higher type priority) to rank first, got %s", out[0].Unit.UnitID)
	}

	c := Result{Unit: unit("c1", model.UnitConversation, nil, now.Add(-time.Hour)), Score: 0.5}
	d := Result{Unit: unit("c2", model.UnitConversation, nil, now), Score: 0.5}
	out = thresholdAndTruncate([]Result{c, d}, 0, 10)
	if out[0].Unit.UnitID != "c2" {
		t.Fatalf("expected the more recent unit to rank first, got %s", out[0].Unit.UnitID)
	}

	e := Result{Unit: unit("b-id", model.UnitConversation, nil, now), Score: 0.5}
	f := Result{Unit: unit("a-id", model.UnitConversation, nil, now), Score: 0.5}
	out = thresholdAndTruncate([]Result{e, f}, 0, 10)
	if out[0].Unit.UnitID != "a-id" {
		t.Fatalf("expected the lexicographically smaller unit_id to rank first, got %s", out[0].Unit.UnitID)
	}
}

func TestApplyPolicyQualityBoost(t *testing.T) {
	u := unit("a", model.UnitConversation, nil, time.Now())
	u.RelevanceScore = 1.0
	results := applyPolicy([]Result{{Unit: u, Score: 1.0}}, PolicyQualityBoost, 30)
	if results[0].Score != 1.2 {
		t.Errorf("expected 1.2, got %v", results[0].Score)
	}
}

func TestApplyPolicyTypePriority(t *testing.T) {
	u := unit("a", model.UnitDecision, nil, time.Now())
	results := applyPolicy([]Result{{Unit: u, Score: 1.0}}, PolicyTypePriority, 30)
	if results[0].Score != model.TypePriority[model.UnitDecision] {
		t.Errorf("expected %v, got %v", model.TypePriority[model.UnitDecision], results[0].Score)
	}
}

func TestApplyPolicyRelevanceTimeDecaysOlderUnits(t *testing.T) {
	fresh := unit("fresh", model.UnitConversation, nil, time.Now())
	old := unit("old", model.UnitConversation, nil, time.Now().Add(-60*24*time.Hour))
	results := applyPolicy([]Result{{Unit: fresh, Score: 1.0}, {Unit: old, Score: 1.0}}, PolicyRelevanceTime, 30)
	if results[0].Score <= results[1].Score {
		t.Errorf("expected the fresher unit to decay less: fresh=%v old=%v", results[0].Score, results[1].Score)
	}
}

func TestRerankReplacesTopK2ScoresOnly(t *testing.T) {
	now := time.Now()
	var results []Result
	for i := 0; i < 7; i++ {
		results = append(results, Result{Unit: unit(string(rune('a'+i)), model.UnitConversation, nil, now), Score: 0.1 * float64(i+1)})
	}
	scores := make([]float32, 7)
	for i := range scores {
		scores[i] = float32(i + 1) // reversed relative order vs. input
	}
	r := New(Config{Rerank: &fakeRerank{scores: scores}})

	out := r.rerank(context.Background(), "q", results)
	// stageCRerankK = 5: the top 5 after rerank sort must carry RerankScore.
	rerankedCount := 0
	for _, res := range out {
		if res.RerankScore != nil {
			rerankedCount++
		}
	}
	if rerankedCount != stageCRerankK {
		t.Errorf("expected exactly %d reranked results, got %d", stageCRerankK, rerankedCount)
	}
}

func TestCrossProjectDropsInaccessibleProjects(t *testing.T) {
	units := map[string]model.MemoryUnit{
		"a": unit("a", model.UnitConversation, nil, time.Now()),
	}
	r := New(Config{
		Vector: &fakeVector{hits: []vector.Hit{{UnitID: "a", Similarity: 0.9}}},
		Units:  &fakeUnits{byID: units},
		Embed:  &fakeEmbed{vec: []float32{0.1}},
	})
	perms := denyList{denied: map[string]bool{"proj-2": true}}

	perProject, merged, err := r.RetrieveCrossProject(context.Background(), Request{
		QueryText: "x", QueryType: QuerySemantic, MinScore: 0, Limit: 10,
	}, []string{"proj-1", "proj-2"}, perms, MergeScore, 0)
	if err != nil {
		t.Fatalf("RetrieveCrossProject: %v", err)
	}
	if len(perProject) != 1 || perProject[0].ProjectID != "proj-1" {
		t.Fatalf("expected only proj-1 to be searched, got %+v", perProject)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged result, got %d", len(merged))
	}
}

type denyList struct {
	denied map[string]bool
}

func (d denyList) CanRead(_ context.Context, projectID string) (bool, error) {
	return !d.denied[projectID], nil
}

func TestMergeCrossProjectRoundRobin(t *testing.T) {
	now := time.Now()
	perProject := []ProjectResult{
		{ProjectID: "p1", Results: []Result{
			{Unit: unit("p1-a", model.UnitConversation, nil, now), Score: 1},
			{Unit: unit("p1-b", model.UnitConversation, nil, now), Score: 1},
		}},
		{ProjectID: "p2", Results: []Result{
			{Unit: unit("p2-a", model.UnitConversation, nil, now), Score: 1},
		}},
	}
	merged := mergeCrossProject(perProject, MergeRoundRobin)
	if len(merged) != 3 {
		t.Fatalf("expected 3 results, got %d", len(merged))
	}
	if merged[0].Unit.UnitID != "p1-a" || merged[1].Unit.UnitID != "p2-a" || merged[2].Unit.UnitID != "p1-b" {
		t.Fatalf("unexpected round-robin order: %v", []string{merged[0].Unit.UnitID, merged[1].Unit.UnitID, merged[2].Unit.UnitID})
	}
}

func TestMergeCrossProjectTime(t *testing.T) {
	now := time.Now()
	perProject := []ProjectResult{
		{ProjectID: "p1", Results: []Result{{Unit: unit("old", model.UnitConversation, nil, now.Add(-time.Hour)), Score: 1}}},
		{ProjectID: "p2", Results: []Result{{Unit: unit("new", model.UnitConversation, nil, now), Score: 1}}},
	}
	merged := mergeCrossProject(perProject, MergeTime)
	if merged[0].Unit.UnitID != "new" {
		t.Fatalf("expected the newer unit first, got %s", merged[0].Unit.UnitID)
	}
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	got := tokenize("The quick brown fox is a go tool")
	for _, w := range got {
		if w == "the" || w == "is" || w == "a" {
			t.Errorf("expected stopwords to be filtered, found %q in %v", w, got)
		}
	}
}
