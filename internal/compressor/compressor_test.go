package compressor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/llm"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ []llm.Message, _ string) (*llm.GenerateResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Content: f.reply}, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func sampleMessages() []model.Message {
	now := time.Now()
	return []model.Message{
		{Role: model.RoleHuman, Content: "the deploy is failing with a nil pointer in auth.go", Timestamp: now},
		{Role: model.RoleAssistant, Content: "found it: missing nil check in middleware, fixed in commit abc123", Timestamp: now},
	}
}

func TestCompressParsesFencedJSON(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n" +
		`{"title": "fix nil pointer in auth middleware", "summary": "Diagnosed and fixed a nil pointer panic in auth.go.", "keywords": ["auth.go", "nil pointer", "abc123"], "unit_type": "ERROR_LOG", "relevance_score": 0.82}` +
		"\n```"}
	c := New(completer, &fakeEmbedder{}, nil)

	p, err := c.Compress(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.Title != "fix nil pointer in auth middleware" {
		t.Errorf("unexpected title: %q", p.Title)
	}
	if p.UnitType != model.UnitErrorLog {
		t.Errorf("expected ERROR_LOG, got %s", p.UnitType)
	}
	if p.RelevanceScore != 0.82 {
		t.Errorf("expected 0.82, got %v", p.RelevanceScore)
	}
	if len(p.Keywords) != 3 {
		t.Errorf("expected 3 keywords, got %v", p.Keywords)
	}
	if completer.calls != 1 {
		t.Errorf("expected 1 completion call, got %d", completer.calls)
	}
}

func TestCompressParsesBareJSONWithoutFence(t *testing.T) {
	completer := &fakeCompleter{reply: `{"title": "decided on postgres over sqlite", "summary": "Team picked postgres for multi-tenant scale.", "keywords": ["postgres", "decision"], "unit_type": "DECISION", "relevance_score": 0.6}`}
	c := New(completer, &fakeEmbedder{}, nil)

	p, err := c.Compress(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.UnitType != model.UnitDecision {
		t.Errorf("expected DECISION, got %s", p.UnitType)
	}
}

func TestCompressClampsOutOfRangeScore(t *testing.T) {
	completer := &fakeCompleter{reply: `{"title": "t", "summary": "a summary long enough", "keywords": [], "unit_type": "CONVERSATION", "relevance_score": 4.5}`}
	c := New(completer, &fakeEmbedder{}, nil)

	p, err := c.Compress(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.RelevanceScore != 1 {
		t.Errorf("expected score clamped to 1, got %v", p.RelevanceScore)
	}
}

func TestCompressUnknownUnitTypeDefaultsToConversation(t *testing.T) {
	completer := &fakeCompleter{reply: `{"title": "t", "summary": "a summary long enough", "keywords": [], "unit_type": "BOGUS", "relevance_score": 0.5}`}
	c := New(completer, &fakeEmbedder{}, nil)

	p, err := c.Compress(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.UnitType != model.UnitConversation {
		t.Errorf("expected default CONVERSATION, got %s", p.UnitType)
	}
}

func TestCompressFallsBackOnUnparsableOutput(t *testing.T) {
	completer := &fakeCompleter{reply: "I'm not going to format this as JSON, sorry."}
	c := New(completer, &fakeEmbedder{}, nil)

	p, err := c.Compress(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.Title == "" || p.Summary == "" {
		t.Errorf("expected a non-empty fallback title/summary, got %+v", p)
	}
}

func TestCompressRejectsNonIngestableConversation(t *testing.T) {
	c := New(&fakeCompleter{}, &fakeEmbedder{}, nil)

	onlyHuman := []model.Message{{Role: model.RoleHuman, Content: "hi"}}
	if _, err := c.Compress(context.Background(), onlyHuman); err == nil {
		t.Fatal("expected an error for a non-ingestable conversation")
	}
}

func TestCompressPropagatesProviderFailure(t *testing.T) {
	c := New(&fakeCompleter{err: errors.New("all providers exhausted")}, &fakeEmbedder{}, nil)

	if _, err := c.Compress(context.Background(), sampleMessages()); err == nil {
		t.Fatal("expected compression failure to propagate, leaving the conversation uncompressed")
	}
}

func TestCompressChunksLongTranscripts(t *testing.T) {
	completer := &fakeCompleter{reply: `{"title": "long convo", "summary": "folded summary of a long conversation", "keywords": ["long"], "unit_type": "CONVERSATION", "relevance_score": 0.4}`}
	cfg := DefaultConfig()
	cfg.MaxInputChars = 200
	cfg.ChunkOverlap = 10
	c := New(completer, &fakeEmbedder{}, cfg)

	var longMessages []model.Message
	for i := 0; i < 40; i++ {
		longMessages = append(longMessages,
			model.Message{Role: model.RoleHuman, Content: fmt.Sprintf("question number %d about the system", i)},
			model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("answer number %d with some detail", i)},
		)
	}

	p, err := c.Compress(context.Background(), longMessages)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.Title != "long convo" {
		t.Errorf("unexpected title after folding: %q", p.Title)
	}
	if completer.calls < 2 {
		t.Errorf("expected multiple completion calls for a chunked transcript, got %d", completer.calls)
	}
}

func TestEmbedMemoryUnit(t *testing.T) {
	c := New(&fakeCompleter{}, &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, nil)
	p := &Proposal{Title: "t", Summary: "s", Content: "c"}

	vec, err := c.EmbedMemoryUnit(context.Background(), p)
	if err != nil {
		t.Fatalf("EmbedMemoryUnit: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %v", vec)
	}
}

func TestEmbedMemoryUnitPropagatesError(t *testing.T) {
	c := New(&fakeCompleter{}, &fakeEmbedder{err: errors.New("boom")}, nil)
	p := &Proposal{Title: "t", Summary: "s", Content: "c"}

	if _, err := c.EmbedMemoryUnit(context.Background(), p); err == nil {
		t.Fatal("expected embed error to propagate")
	}
}

func TestPlainTitleStripsWrapping(t *testing.T) {
	if got := plainTitle(`"hello"`); got != "hello" {
		t.Errorf("expected unwrapped title, got %q", got)
	}
	if got := plainTitle("plain"); got != "plain" {
		t.Errorf("expected unchanged title, got %q", got)
	}
}

func TestDedupeKeywords(t *testing.T) {
	got := dedupeKeywords([]string{"Foo", "foo", " bar ", "", "baz"})
	if len(got) != 3 {
		t.Errorf("expected 3 deduped keywords, got %v", got)
	}
	if !strings.Contains(strings.Join(got, ","), "foo") {
		t.Errorf("expected lowercased foo in %v", got)
	}
}
