// Package injector implements the Injector (C7): it turns a user's prompt
// plus a RetrievalResult[] into a single enriched prompt string, applying a
// diversity filter, a type-priority reorder, an optional token budget and
// an optional LLM fusion pass (SPEC_FULL.md §4.7).
//
// No direct teacher analog exists for the diversity/budget/format pipeline
// (internal/rag/biz/rag.go only ever concatenates retrieved chunks
// verbatim); the admitted-set's final formatting step is grounded on
// rag.go's own prompt-assembly section, and Stage D's type-priority table is
// shared with internal/retriever via model.TypePriority.
package injector

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/retriever"
	"github.com/kart-io/memoryd/pkg/llm"
)

// Completer is the subset of the gateway the optional fusion step needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.GenerateResponse, error)
}

// Config controls diversity, budget and fusion behaviour.
type Config struct {
	// DiversityThreshold is the max keyword-set Jaccard overlap with every
	// already-admitted result before a candidate is rejected (spec.md
	// §4.7 step 1, default 0.7).
	DiversityThreshold float64
	// TokenBudget caps the admitted set's total TokenCount. Zero means
	// unbounded ("comprehensive" mode, the spec's default).
	TokenBudget int
	// FusionEnabled turns on step 5's LLM consolidation pass.
	FusionEnabled bool
}

// DefaultConfig is the spec's default: 0.7 diversity threshold, unbounded
// budget, fusion disabled.
func DefaultConfig() *Config {
	return &Config{DiversityThreshold: 0.7, TokenBudget: 0, FusionEnabled: false}
}

// Injector builds enriched prompts from retrieval results.
type Injector struct {
	complete Completer
	cfg      *Config
}

// New builds an Injector. complete may be nil if FusionEnabled is false.
func New(complete Completer, cfg *Config) *Injector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Injector{complete: complete, cfg: cfg}
}

// Inject runs the full C7 procedure and returns the enriched prompt plus
// the ids of the memory units actually admitted.
func (inj *Injector) Inject(ctx context.Context, originalPrompt, query string, results []retriever.Result) (string, []string, error) {
	admitted := diversityFilter(results, inj.cfg.DiversityThreshold)
	admitted = reorderByTypePriority(admitted)
	admitted = applyTokenBudget(admitted, inj.cfg.TokenBudget)

	ids := make([]string, len(admitted))
	for i, r := range admitted {
		ids[i] = r.Unit.UnitID
	}

	if !inj.cfg.FusionEnabled || inj.complete == nil || len(admitted) == 0 {
		return formatPlain(originalPrompt, admitted), ids, nil
	}

	fused, err := inj.fuse(ctx, query, originalPrompt, admitted)
	if err != nil {
		logger.Warnw("injector: fusion failed, falling back to plain concatenation", "error", err.Error())
		return formatPlain(originalPrompt, admitted), ids, nil
	}
	return fused, ids, nil
}

// diversityFilter implements step 1: admit a result only if its keyword-set
// Jaccard overlap with every already-admitted result is below threshold.
// Iteration order is preserved (callers pass results already sorted by
// final score, so earlier/higher-scoring results win ties for admission).
func diversityFilter(results []retriever.Result, threshold float64) []retriever.Result {
	admitted := make([]retriever.Result, 0, len(results))
	for _, r := range results {
		keywords := r.Unit.KeywordSet()
		ok := true
		for _, a := range admitted {
			if jaccard(keywords, a.Unit.KeywordSet()) >= threshold {
				ok = false
				break
			}
		}
		if ok {
			admitted = append(admitted, r)
		}
	}
	return admitted
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// reorderByTypePriority implements step 2: a stable sort by unit_type
// priority, so same-type results keep their relative (score) order.
func reorderByTypePriority(results []retriever.Result) []retriever.Result {
	out := make([]retriever.Result, len(results))
	copy(out, results)
	stableSortByPriority(out)
	return out
}

func stableSortByPriority(results []retriever.Result) {
	// Insertion sort: stable and plenty fast for the handful of admitted
	// results this stage ever sees (diversity filtering already bounds the
	// set well below the recall depth).
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && priorityOf(results[j-1]) < priorityOf(results[j]) {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}

func priorityOf(r retriever.Result) float64 {
	if p, ok := model.TypePriority[r.Unit.UnitType]; ok {
		return p
	}
	return 1.0
}

// applyTokenBudget implements step 3: accumulate admitted results while the
// running token total stays within budget; a zero budget means unbounded.
// When finite, the lowest-priority tail (the reorder in step 2 already put
// low-priority results last) is dropped first.
func applyTokenBudget(results []retriever.Result, budget int) []retriever.Result {
	if budget <= 0 {
		return results
	}
	total := 0
	out := make([]retriever.Result, 0, len(results))
	for _, r := range results {
		if total+r.Unit.TokenCount > budget {
			break
		}
		total += r.Unit.TokenCount
		out = append(out, r)
	}
	return out
}

// formatPlain implements step 4: one markdown section per admitted result,
// then a final section with the original prompt verbatim.
func formatPlain(originalPrompt string, admitted []retriever.Result) string {
	var b strings.Builder
	if len(admitted) > 0 {
		b.WriteString("## Relevant memory\n\n")
		for _, r := range admitted {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", r.Unit.Title, r.Unit.UnitType, r.Unit.Summary)
		}
	}
	b.WriteString("## Prompt\n\n")
	b.WriteString(originalPrompt)
	return b.String()
}
