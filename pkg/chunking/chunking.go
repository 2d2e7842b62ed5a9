// Package chunking implements the postprocessor's LLM-guided semantic
// chunking algorithm: coarse windowing bounds LLM context, a small model
// proposes sentence-level boundaries per window, and a left-to-right
// cursor resolves those candidates into disjoint, gap-permitting chunks
// of the original content. A rule-based sentence-grouping fallback covers
// the case where the model yields nothing usable.
//
// Grounded on spec.md §4.3's boundary-proposal/boundary-resolution
// algorithm; the cursor-driven resolution scheme and rune-offset cursor
// arithmetic are this package's own, since the spec's "never by
// re-searching" offset requirement rules out a generic chunking-strategy
// abstraction.
package chunking

import (
	"context"
	"fmt"
	"strings"

	"docindex/pkg/config"
	"docindex/pkg/events"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
)

// Completer is the subset of llm.Service this package depends on, so
// tests can supply a fake without standing up real model endpoints.
type Completer interface {
	Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error)
}

// Chunker runs the boundary-proposal + cursor-resolution algorithm over a
// document's content.
type Chunker struct {
	llm Completer
	cfg config.ChunkingConfig

	// UseSentenceIndexVariant switches to the alternative permitted mode
	// (numbered sentence list, first/last sentence index per chunk)
	// instead of the default free-text boundary-sentence mode.
	UseSentenceIndexVariant bool
}

// NewChunker constructs a Chunker bound to completer and cfg.
func NewChunker(completer Completer, cfg config.ChunkingConfig) *Chunker {
	return &Chunker{llm: completer, cfg: cfg}
}

// Chunk produces the ordered, disjoint chunk set for content, per the
// chunking algorithm's five steps. Restartable: given the same content and
// the same LLM responses, it returns byte-identical boundaries, since
// every offset is derived from the cursor, never by re-searching after
// the fact.
func (c *Chunker) Chunk(ctx context.Context, content string) ([]events.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	runes := []rune(content)

	spans := splitSentences(runes)
	if len(spans) <= 1 {
		return []events.Chunk{newChunk(runes, 0, 0, len(runes))}, nil
	}

	if c.UseSentenceIndexVariant {
		return c.chunkBySentenceIndex(ctx, runes, spans)
	}
	return c.chunkByBoundarySentence(ctx, runes)
}

// chunkByBoundarySentence is the default mode: each window's LLM call
// returns the literal text of the last sentence of each semantically
// complete span, and a cursor locates those sentences in order.
func (c *Chunker) chunkByBoundarySentence(ctx context.Context, runes []rune) ([]events.Chunk, error) {
	windows := coarseWindows(string(runes), c.cfg.WindowSize, c.cfg.WindowOverlap)

	var candidates []string
	for _, w := range windows {
		proposed, err := c.proposeBoundaries(ctx, w.Text)
		if err != nil {
			logger.Warn("chunking: boundary proposal failed, window [%d,%d): %v", w.Start, w.End, err)
			continue
		}
		candidates = append(candidates, proposed...)
	}

	chunks, resolved := resolveBoundaries(runes, candidates)
	if resolved == 0 {
		return c.fallback(runes), nil
	}
	return chunks, nil
}

// resolveBoundaries implements step 3: scan left-to-right with a cursor,
// locating each candidate sentence at or after the cursor in emission
// order. Candidates that cannot be located are dropped; overlapping
// windows cannot cause duplicate emission because a match only ever
// advances the cursor forward.
func resolveBoundaries(runes []rune, candidates []string) ([]events.Chunk, int) {
	var chunks []events.Chunk
	cursor := 0
	resolved := 0

	for _, candidate := range candidates {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		needle := []rune(trimmed)
		idx := runeIndexFrom(runes, needle, cursor)
		if idx < 0 {
			continue
		}
		matchEnd := idx + len(needle)
		if matchEnd <= cursor {
			continue
		}
		chunks = append(chunks, newChunk(runes, len(chunks), cursor, matchEnd))
		cursor = matchEnd
		resolved++
	}

	if cursor < len(runes) {
		if remainder := strings.TrimSpace(string(runes[cursor:])); remainder != "" {
			chunks = append(chunks, newChunk(runes, len(chunks), cursor, len(runes)))
		}
	}

	return chunks, resolved
}

// runeIndexFrom returns the rune index of the first occurrence of needle
// in haystack at or after from, or -1.
func runeIndexFrom(haystack, needle []rune, from int) int {
	if len(needle) == 0 || from >= len(haystack) {
		return -1
	}
	if from < 0 {
		from = 0
	}
	limit := len(haystack) - len(needle)
	for i := from; i <= limit; i++ {
		if runesEqual(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Chunker) fallback(runes []rune) []events.Chunk {
	return ruleBasedFallback(runes, c.cfg.FallbackGroupSize, c.cfg.FallbackMinGroup, c.cfg.FallbackMaxGroup)
}

type boundaryResponse struct {
	Boundaries []string `json:"boundaries"`
}

// proposeBoundaries issues the boundary-proposal LLM call for one window,
// with one repair reprompt on unparseable output, per the "LLM response
// parsing" contract.
func (c *Chunker) proposeBoundaries(ctx context.Context, windowText string) ([]string, error) {
	resp, err := c.llm.Complete(boundaryPromptMessages(windowText))
	if err != nil {
		return nil, fmt.Errorf("boundary proposal: %w", err)
	}

	var parsed boundaryResponse
	if err := ParseLenient(resp.Content, &parsed); err != nil {
		repaired, repairErr := c.llm.Complete(repairPromptMessages(boundaryPromptMessages(windowText), resp.Content))
		if repairErr != nil {
			return nil, fmt.Errorf("boundary proposal: repair reprompt: %w", repairErr)
		}
		if err := ParseLenient(repaired.Content, &parsed); err != nil {
			return nil, fmt.Errorf("boundary proposal: unrecoverable after repair reprompt: %w", err)
		}
	}

	return parsed.Boundaries, nil
}

func boundaryPromptMessages(windowText string) []llm.ChatMessage {
	system := `You segment a passage of text into semantically complete spans.

Respond with a single JSON object of the form {"boundaries": ["...", "..."]}, where each string is the exact, verbatim last sentence of one semantically complete span in the passage, in the order the spans occur. Do not paraphrase. Do not include any text outside the JSON object.`

	user := fmt.Sprintf("Passage:\n\n%s", windowText)

	return []llm.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// repairPromptMessages builds the single permitted repair reprompt,
// quoting the malformed prior output and re-stating the schema.
func repairPromptMessages(original []llm.ChatMessage, malformed string) []llm.ChatMessage {
	truncated := malformed
	const maxQuote = 500
	if len([]rune(truncated)) > maxQuote {
		truncated = string([]rune(truncated)[:maxQuote]) + "..."
	}

	repair := llm.ChatMessage{
		Role: "user",
		Content: fmt.Sprintf(
			"Your previous response could not be parsed as JSON. It began:\n\n%s\n\nRespond again with ONLY a single JSON object of the form {\"boundaries\": [\"...\", \"...\"]}. No markdown fences, no commentary.",
			truncated,
		),
	}
	return append(append([]llm.ChatMessage{}, original...), repair)
}
