package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/infra/pool"
	"github.com/kart-io/memoryd/pkg/llm"
	"github.com/kart-io/memoryd/pkg/llm/resilience"
)

func testTimeout() time.Duration { return 5 * time.Second }

func newLocalPool(kind ProviderKind) (*pool.Pool, error) {
	return pool.NewPool(string(kind)+"-test", &pool.PoolConfig{Capacity: 4, ExpiryDuration: time.Second})
}

// mockEmbedProvider always fails if failing is true, otherwise returns a
// fixed, unnormalised vector so tests can assert Embed L2-normalises it.
type mockEmbedProvider struct {
	name    string
	failing bool
	calls   int
}

func (m *mockEmbedProvider) Name() string { return m.name }

func (m *mockEmbedProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.failing {
		return nil, errors.New("embed boom")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{3, 4} // norm 5
	}
	return out, nil
}

func (m *mockEmbedProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

type mockChatProvider struct {
	name    string
	failing bool
	reply   string
	calls   int
}

func (m *mockChatProvider) Name() string { return m.name }

func (m *mockChatProvider) Chat(_ context.Context, _ []llm.Message) (string, error) {
	m.calls++
	if m.failing {
		return "", errors.New("chat boom")
	}
	return m.reply, nil
}

func (m *mockChatProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*llm.GenerateResponse, error) {
	content, err := m.Chat(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{Content: content}, nil
}

type mockRerankProvider struct {
	name   string
	scores []float32
}

func (m *mockRerankProvider) Name() string { return m.name }

func (m *mockRerankProvider) Rerank(_ context.Context, _ string, docs []string) ([]float32, error) {
	if len(m.scores) != len(docs) {
		return nil, errors.New("score/doc length mismatch")
	}
	return m.scores, nil
}

type fakeRecorder struct {
	records []*model.CostRecord
}

func (f *fakeRecorder) InsertCostRecord(_ context.Context, rec *model.CostRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func newTestHandle(kind ProviderKind, built builtProvider) *providerHandle {
	p, err := newLocalPool(kind)
	if err != nil {
		panic(err)
	}
	return &providerHandle{
		kind:    kind,
		built:   built,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		pool:    p,
	}
}

func TestGatewayEmbedNormalizesAndCaches(t *testing.T) {
	primary := &mockEmbedProvider{name: "primary"}
	l1, err := lru.New[string, []float32](16)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	g := &Gateway{
		cfg: &Config{EmbedPrimary: KindOpenAI, RequestTimeout: testTimeout(), Retry: resilience.DefaultRetryConfig()},
		handles: map[ProviderKind]*providerHandle{
			KindOpenAI: newTestHandle(KindOpenAI, builtProvider{embed: primary}),
		},
		recorder: &fakeRecorder{},
		l1:       l1,
	}

	vecs, err := g.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 2 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
	if vecs[0][0] != 0.6 || vecs[0][1] != 0.8 {
		t.Errorf("expected L2-normalised [0.6 0.8], got %v", vecs[0])
	}
	if primary.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", primary.calls)
	}

	if _, err := g.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("expected the repeated text to be served from the L1 cache, got %d provider calls", primary.calls)
	}
}

func TestGatewayEmbedFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &mockEmbedProvider{name: "primary", failing: true}
	fallback := &mockEmbedProvider{name: "fallback"}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1

	g := &Gateway{
		cfg: &Config{
			EmbedPrimary:   KindOpenAI,
			EmbedFallback:  KindOllama,
			RequestTimeout: testTimeout(),
			Retry:          retry,
		},
		handles: map[ProviderKind]*providerHandle{
			KindOpenAI: newTestHandle(KindOpenAI, builtProvider{embed: primary}),
			KindOllama: newTestHandle(KindOllama, builtProvider{embed: fallback}),
		},
		recorder: &fakeRecorder{},
	}

	vecs, err := g.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if fallback.calls != 1 {
		t.Errorf("expected fallback to be called once, got %d", fallback.calls)
	}
}

func TestGatewayEmbedReturnsProviderUnavailableWhenExhausted(t *testing.T) {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1
	primary := &mockEmbedProvider{name: "primary", failing: true}

	g := &Gateway{
		cfg: &Config{EmbedPrimary: KindOpenAI, RequestTimeout: testTimeout(), Retry: retry},
		handles: map[ProviderKind]*providerHandle{
			KindOpenAI: newTestHandle(KindOpenAI, builtProvider{embed: primary}),
		},
	}

	_, err := g.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestGatewayComplete(t *testing.T) {
	chat := &mockChatProvider{name: "chat", reply: "hi there"}
	g := &Gateway{
		cfg: &Config{ChatPrimary: KindOpenAI, RequestTimeout: testTimeout(), Retry: resilience.DefaultRetryConfig()},
		handles: map[ProviderKind]*providerHandle{
			KindOpenAI: newTestHandle(KindOpenAI, builtProvider{chat: chat}),
		},
		recorder: &fakeRecorder{},
	}

	resp, err := g.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("expected 'hi there', got %q", resp.Content)
	}
}

func TestGatewayRerank(t *testing.T) {
	rerank := &mockRerankProvider{name: "cohere", scores: []float32{0.9, 0.1}}
	g := &Gateway{
		cfg: &Config{RerankPrimary: KindCohere, RequestTimeout: testTimeout(), Retry: resilience.DefaultRetryConfig()},
		handles: map[ProviderKind]*providerHandle{
			KindCohere: newTestHandle(KindCohere, builtProvider{rerank: rerank}),
		},
		recorder: &fakeRecorder{},
	}

	scores, err := g.Rerank(context.Background(), "query", []string{"doc a", "doc b"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.9 || scores[1] != 0.1 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestGatewayRerankNoProviderConfigured(t *testing.T) {
	g := &Gateway{
		cfg:     &Config{RerankPrimary: KindCohere, RequestTimeout: testTimeout()},
		handles: map[ProviderKind]*providerHandle{},
	}

	_, err := g.Rerank(context.Background(), "query", []string{"doc"})
	if err == nil {
		t.Fatal("expected error when no rerank provider is configured")
	}
}

func TestNewRequiresSettingsForEverySelectedProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbedPrimary = KindOllama
	// Providers map left empty on purpose.

	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected an error when a selected provider has no settings")
	}
}

func TestNewBuildsProviderlessGateway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbedPrimary = KindOllama
	cfg.Providers[KindOllama] = ProviderSettings{BaseURL: "http://localhost:11434"}

	g, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if _, ok := g.handles[KindOllama]; !ok {
		t.Fatal("expected an ollama handle to be built")
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	if v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("expected [0.6 0.8], got %v", v)
	}

	zero := normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("expected zero vector unchanged, got %v", zero)
	}
}

func TestCacheKeysAreDeterministic(t *testing.T) {
	if embedCacheKey("hello") != embedCacheKey("hello") {
		t.Error("embedCacheKey should be deterministic")
	}
	if embedCacheKey("hello") == embedCacheKey("world") {
		t.Error("embedCacheKey should differ for different inputs")
	}

	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	if chatCacheKey("sys", msgs) != chatCacheKey("sys", msgs) {
		t.Error("chatCacheKey should be deterministic")
	}
	if chatCacheKey("sys", msgs) == chatCacheKey("other", msgs) {
		t.Error("chatCacheKey should differ for different system prompts")
	}
}
