// Package compressor implements the Compressor (C5): it turns a closed or
// closeable Conversation into a MemoryUnit proposal — title, summary,
// keywords, unit type and relevance score — by calling the Model Gateway's
// complete() operation and validating/repairing its output (SPEC_FULL.md
// §4.5).
//
// Grounded on the teacher's internal/rag/biz/summarizer.go: same
// call-LLM/validate/fall-back-to-truncation shape, generalised from a single
// prose summary to the full MemoryUnit field set.
package compressor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/pkg/rag/textutil"
	"github.com/kart-io/memoryd/pkg/llm"
)

// Completer is the subset of the gateway the compressor needs to produce
// text. Narrowed to an interface so tests don't need a real Gateway.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.GenerateResponse, error)
}

// Embedder is the subset of the gateway the embed-memory-unit helper needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls chunking and validation thresholds.
type Config struct {
	// MaxInputChars bounds the role-annotated transcript passed to one
	// compression call before it is split into chunks (spec.md §4.5 step
	// 6 "token budget"; approximated in characters the same way the
	// teacher's summarizer budgets in chars, not a tokenizer call).
	MaxInputChars int
	// ChunkOverlap is the character overlap between adjacent chunks.
	ChunkOverlap int
	// EmbedModel is the model name recorded against the unit's embedding.
	EmbedModel string
}

// DefaultConfig mirrors the teacher's summarizer budget (4000 chars ~= 1000
// tokens) scaled up for a whole conversation rather than one document chunk.
func DefaultConfig() *Config {
	return &Config{
		MaxInputChars: 12000,
		ChunkOverlap:  200,
		EmbedModel:    "default",
	}
}

// Compressor produces MemoryUnit proposals from conversations.
type Compressor struct {
	complete Completer
	embed    Embedder
	cfg      *Config
}

// New builds a Compressor. complete and embed are typically the same
// *gateway.Gateway, accepted as separate interfaces to keep this package
// decoupled from internal/gateway.
func New(complete Completer, embed Embedder, cfg *Config) *Compressor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Compressor{complete: complete, embed: embed, cfg: cfg}
}

// Proposal is a MemoryUnit not yet persisted: the Compressor's output before
// the Orchestrator assigns it an id and writes it via the compensating
// transaction (SPEC_FULL.md §4.8).
type Proposal struct {
	Title          string
	Summary        string
	Content        string
	Keywords       []string
	UnitType       model.UnitType
	RelevanceScore float64
}

// compressionOutput is the JSON shape elicited from the completion prompt.
type compressionOutput struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	UnitType       string   `json:"unit_type"`
	RelevanceScore float64  `json:"relevance_score"`
}

var validUnitTypes = map[string]model.UnitType{
	"CONVERSATION":  model.UnitConversation,
	"ERROR_LOG":     model.UnitErrorLog,
	"DECISION":      model.UnitDecision,
	"CODE_SNIPPET":  model.UnitCodeSnippet,
	"DOCUMENTATION": model.UnitDocumentation,
	"ARCHIVE":       model.UnitArchive,
}

// Compress turns a conversation's messages into a MemoryUnit Proposal.
// Returns an error (never a partial Proposal) if the conversation is not yet
// ingestable (I5) or if compression fails after the gateway's own
// primary/fallback exhaustion — the conversation then remains uncompressed
// and eligible for retry, per spec.md §4.5 step 5.
func (c *Compressor) Compress(ctx context.Context, messages []model.Message) (*Proposal, error) {
	if !model.Ingestable(messages) {
		return nil, fmt.Errorf("compressor: conversation is not ingestable (needs >=1 HUMAN and >=1 ASSISTANT message)")
	}

	transcript := renderTranscript(messages)

	var out *compressionOutput
	var err error
	if len([]rune(transcript)) <= c.cfg.MaxInputChars {
		out, err = c.compressOnce(ctx, transcript)
	} else {
		out, err = c.compressChunked(ctx, transcript)
	}
	if err != nil {
		return nil, err
	}

	unitType, ok := validUnitTypes[strings.ToUpper(strings.TrimSpace(out.UnitType))]
	if !ok {
		unitType = model.UnitConversation
	}

	return &Proposal{
		Title:          plainTitle(out.Title),
		Summary:        strings.TrimSpace(out.Summary),
		Content:        transcript,
		Keywords:       dedupeKeywords(out.Keywords),
		UnitType:       unitType,
		RelevanceScore: clamp01(out.RelevanceScore),
	}, nil
}

// compressOnce runs a single compression call over content that already
// fits the token budget.
func (c *Compressor) compressOnce(ctx context.Context, content string) (*compressionOutput, error) {
	resp, err := c.complete.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(content)}}, compressionSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("compressor: complete: %w", err)
	}
	out, err := parseOutput(resp.Content)
	if err != nil {
		logger.Warnw("compressor: model output failed validation", "error", err.Error())
		return fallbackOutput(content), nil
	}
	return out, nil
}

// compressChunked implements spec.md §4.5 step 6: split the transcript into
// overlapping chunks, compress each, then fold the per-chunk summaries back
// through one final compression pass to produce a single proposal.
func (c *Compressor) compressChunked(ctx context.Context, content string) (*compressionOutput, error) {
	chunks := textutil.SplitIntoChunks(content, c.cfg.MaxInputChars, c.cfg.ChunkOverlap)

	folded := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := c.compressOnce(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("compressor: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		folded = append(folded, fmt.Sprintf("%s: %s", out.Title, out.Summary))
	}

	return c.compressOnce(ctx, strings.Join(folded, "\n"))
}

// EmbedMemoryUnit is the embed-memory-unit helper named in spec.md §4.5: it
// embeds title+summary+content (truncated to an embedding-model-sized
// window) and returns the L2-normalised vector the gateway already
// normalises on its end.
func (c *Compressor) EmbedMemoryUnit(ctx context.Context, p *Proposal) ([]float32, error) {
	text := p.Title + "\n" + p.Summary + "\n" + p.Content
	text = textutil.TruncateString(text, c.cfg.MaxInputChars)

	vecs, err := c.embed.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("compressor: embed memory unit: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("compressor: embed returned %d vectors, expected 1", len(vecs))
	}
	return vecs[0], nil
}

func renderTranscript(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
