package compressor

import "fmt"

const compressionSystemPrompt = `You are a memory-compression assistant for a long-running coding-assistant ` +
	`CLI. You turn one finished conversation into a single compact memory unit that a ` +
	`later session can retrieve and act on. Respond with a single JSON object only, no ` +
	`surrounding prose.`

func buildPrompt(transcript string) string {
	return fmt.Sprintf(`Summarize the following conversation into one memory unit.

Requirements:
- "title": plain text, no markdown, no surrounding quotes, <=500 characters.
- "summary": 1-3 sentences of prose.
- "keywords": an array of short lowercase tags (names, error strings, file paths, decisions).
- "unit_type": exactly one of CONVERSATION, ERROR_LOG, DECISION, CODE_SNIPPET, DOCUMENTATION, ARCHIVE.
- "relevance_score": a number in [0,1] estimating how likely this conversation will be useful to recall later.

Respond with exactly this JSON shape:
{"title": "...", "summary": "...", "keywords": ["..."], "unit_type": "...", "relevance_score": 0.0}

Conversation:
%s`, transcript)
}

// plainTitle strips any residual JSON/markdown wrapping a model might still
// emit around an otherwise-parsed title field (I4: title must be plain
// text). parseOutput already extracts the field from the envelope; this is
// a second, narrower pass over the field value itself.
func plainTitle(title string) string {
	t := title
	for len(t) > 1 && (t[0] == '"' || t[0] == '`') && (t[len(t)-1] == '"' || t[len(t)-1] == '`') {
		t = t[1 : len(t)-1]
	}
	return t
}
