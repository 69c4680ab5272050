package compressor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kart-io/memoryd/internal/pkg/rag/textutil"
	"github.com/kart-io/memoryd/pkg/utils/json"
)

// fencedBlockRe matches a ```json ... ``` or bare ``` ... ``` fenced code
// block, the same regexp-over-text-surgery idiom the teacher's
// textutil.ParseJSONArray/ExtractMarkdownSections use for pulling structured
// content out of free-form model output.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// jsonObjectRe is the fallback when the model didn't fence its output at
// all: grab the first top-level-looking {...} span.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseOutput extracts a compressionOutput from raw model text, unwrapping
// a fenced code block or bare JSON envelope first (spec.md §4.5 step 3 / I4:
// "the persisted title must be plain text").
func parseOutput(raw string) (*compressionOutput, error) {
	candidate := strings.TrimSpace(raw)

	if m := fencedBlockRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else if m := jsonObjectRe.FindString(candidate); m != "" {
		candidate = m
	}

	var out compressionOutput
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, fmt.Errorf("compressor: parse model output: %w", err)
	}

	if strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Summary) == "" {
		return nil, fmt.Errorf("compressor: model output missing title or summary")
	}

	return &out, nil
}

// fallbackOutput implements the degrade-to-truncation path (spec.md §4.5
// step 5 is about provider exhaustion; this is the quality-check-failed
// sibling described by the teacher's summarizer.fallbackSummary, adapted to
// the full MemoryUnit field set instead of a single prose summary).
func fallbackOutput(content string) *compressionOutput {
	summary := textutil.TruncateString(strings.TrimSpace(content), 200)
	title := textutil.TruncateString(strings.TrimSpace(content), 80)
	return &compressionOutput{
		Title:          title,
		Summary:        summary,
		Keywords:       nil,
		UnitType:       "CONVERSATION",
		RelevanceScore: 0.5,
	}
}
