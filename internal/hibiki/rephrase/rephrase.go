// Package rephrase condenses a terse follow-up message into a standalone,
// context-complete query for semantic retrieval. The model is asked for a
// JSON list of candidate rephrasings; the reply is parsed leniently and the
// first candidate that survives schema validation wins. Rephrasing is pure
// best-effort — any failure falls back to the original input, because a bad
// retrieval query must never block the pipeline.
package rephrase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/hibiki/internal/hibiki/llm"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// promptTmpl carries the few-shot examples that pin down the output shape:
// a literal JSON array of strings, nothing else. Two printf verbs are
// substituted at call time: the rendered conversation and the new input.
const promptTmpl = `Below is the conversation between human and AI.
Based on it generate rephrased versions of the last message from the human that are extended to include all key context from the conversation.
It should include all the context needed to understand it without seeing the entire conversation.
DO NOT MISS ANY BIT OF THE CONTEXT, everything should be present in the rephrased messages.
List top 3 rephrased options using the following JSON format. Respond with valid JSON list of strings only.
ALWAYS RESPOND WITH THE REPHRASED VERSION OF A MESSAGE - VALID JSON ONLY. Response format:
["<rephrased1>", "<rephrased2>", "<rephrased3>"]

--- example 1 start ---
CONVERSATION:
human: my birthday is on the 5th of May
ai: great, that is awesome
human: when is the best time to start preparing?

OUTPUT:
["when is the best time to start preparing for my birthday on the 5th of May?"]
--- example 1 end ---

--- example 2 start ---
CONVERSATION:
human: propose a name for a new company
ai: Innovative Solutions
human: improve

OUTPUT:
["improve the generated company name 'Innovative Solutions'"]
--- example 2 end ---

--- conversation start ---
%s

human: %s
--- conversation end ---

OUTPUT:
`

// candidateSchema accepts a non-empty JSON array of strings. Every other
// shape the model might produce (bare string, object, mixed array) is
// rejected and the scan moves on to the next fragment.
var candidateSchema = jsonschema.MustCompileString("rephrasings.json", `{
	"type": "array",
	"items": {"type": "string"},
	"minItems": 1
}`)

// Rephrase rewrites newInput into a standalone query using the recent
// history for context. The history is expected to be pre-windowed by the
// caller at the rephrase budget — it only needs to disambiguate the new
// input, not answer it. On any failure (model error, no valid candidates)
// the original input is returned unchanged.
func Rephrase(ctx context.Context, completer llm.Completer, newInput string, recentHistory []store.Message, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	prompt := fmt.Sprintf(promptTmpl, RenderHistory(recentHistory), newInput)

	raw, err := completer.Complete(ctx, []llm.Message{{Role: llm.RoleHuman, Content: prompt}})
	if err != nil {
		logger.Warn("rephrase: model call failed, using original input", "err", err)
		return newInput
	}

	if rephrased, ok := firstCandidate(raw); ok {
		return rephrased
	}

	logger.Debug("rephrase: no valid candidate in model output, using original input",
		"output_len", len(raw))
	return newInput
}

// firstCandidate scans raw model output for JSON fragments and returns the
// first element of the first fragment that validates as a non-empty array
// of strings.
func firstCandidate(raw string) (string, bool) {
	for _, value := range scanJSON(raw) {
		if err := candidateSchema.Validate(value); err != nil {
			continue
		}
		list := value.([]any)
		if s, ok := list[0].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// RenderHistory renders messages as "role: content" lines separated by blank
// lines, the shape the few-shot examples establish. The generation pipeline
// reuses it when logging assembled context.
func RenderHistory(messages []store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n\n")
}
