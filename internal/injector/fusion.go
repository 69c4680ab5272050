package injector

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/memoryd/internal/retriever"
	"github.com/kart-io/memoryd/pkg/llm"
)

const fusionSystemPrompt = `You consolidate retrieved memory context for a coding-assistant CLI ` +
	`into a single coherent briefing. You never invent information not present in the provided ` +
	`memory excerpts, and you must reproduce the final "Prompt" section exactly as given, ` +
	`verbatim, with no paraphrasing.`

// fuse implements step 5: pass the admitted set + query to complete() with
// a fusion prompt that returns one consolidated context block. The caller
// (Inject) handles the fallback-to-plain-concatenation path on error.
func (inj *Injector) fuse(ctx context.Context, query, originalPrompt string, admitted []retriever.Result) (string, error) {
	resp, err := inj.complete.Complete(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: buildFusionPrompt(query, originalPrompt, admitted)}},
		fusionSystemPrompt)
	if err != nil {
		return "", fmt.Errorf("injector: fusion complete: %w", err)
	}

	fused := strings.TrimSpace(resp.Content)
	if fused == "" {
		return "", fmt.Errorf("injector: fusion returned empty content")
	}

	// Fusion must never alter the verbatim original prompt (spec.md §4.7
	// step 5): if the model dropped or rewrote it, treat this as a fusion
	// failure so the caller falls back to plain concatenation.
	if !strings.Contains(fused, originalPrompt) {
		return "", fmt.Errorf("injector: fused output does not contain the verbatim original prompt")
	}
	return fused, nil
}

func buildFusionPrompt(query string, originalPrompt string, admitted []retriever.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nMemory excerpts:\n", query)
	for _, r := range admitted {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Unit.UnitType, r.Unit.Title, r.Unit.Summary)
	}
	b.WriteString("\nConsolidate the above into one briefing, then append a final section " +
		"titled \"## Prompt\" containing exactly this text verbatim:\n\n")
	b.WriteString(originalPrompt)
	return b.String()
}
