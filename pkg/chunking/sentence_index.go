package chunking

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"docindex/pkg/events"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
)

// indexRange is one chunk candidate returned by the sentence-index
// variant: the first and last sentence index (in the numbered list given
// to the model) that the chunk spans.
type indexRange struct {
	First int `json:"first_sentence_index"`
	Last  int `json:"last_sentence_index"`
}

type sentenceIndexResponse struct {
	Chunks []indexRange `json:"chunks"`
}

// chunkBySentenceIndex implements the "LLM-guided-by-sentence-index"
// alternative: the model receives a numbered sentence list per window and
// returns first/last sentence indices per chunk, instead of literal
// boundary sentence text. Indices are auto-detected as 0- or 1-based.
func (c *Chunker) chunkBySentenceIndex(ctx context.Context, runes []rune, spans []sentenceSpan) ([]events.Chunk, error) {
	windows := coarseWindows(string(runes), c.cfg.WindowSize, c.cfg.WindowOverlap)

	var allRanges []indexRange
	for _, w := range windows {
		first, last := sentencesInWindow(spans, w.Start, w.End)
		if first < 0 {
			continue
		}
		ranges, err := c.proposeSentenceRanges(ctx, runes, spans, first, last)
		if err != nil {
			logger.Warn("chunking: sentence-index proposal failed, window [%d,%d): %v", w.Start, w.End, err)
			continue
		}
		allRanges = append(allRanges, ranges...)
	}

	chunks, resolved := resolveSentenceRanges(runes, spans, allRanges)
	if resolved == 0 {
		return c.fallback(runes), nil
	}
	return chunks, nil
}

// sentencesInWindow returns the [first,last] indices (into spans) of
// sentences that start within [windowStart, windowEnd).
func sentencesInWindow(spans []sentenceSpan, windowStart, windowEnd int) (int, int) {
	first, last := -1, -1
	for i, s := range spans {
		if s.Start >= windowStart && s.Start < windowEnd {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

func (c *Chunker) proposeSentenceRanges(ctx context.Context, runes []rune, spans []sentenceSpan, first, last int) ([]indexRange, error) {
	messages := sentenceIndexPromptMessages(runes, spans, first, last)
	resp, err := c.llm.Complete(messages)
	if err != nil {
		return nil, fmt.Errorf("sentence-index proposal: %w", err)
	}

	var parsed sentenceIndexResponse
	if err := ParseLenient(resp.Content, &parsed); err != nil {
		repaired, repairErr := c.llm.Complete(repairSentenceIndexMessages(messages, resp.Content))
		if repairErr != nil {
			return nil, fmt.Errorf("sentence-index proposal: repair reprompt: %w", repairErr)
		}
		if err := ParseLenient(repaired.Content, &parsed); err != nil {
			return nil, fmt.Errorf("sentence-index proposal: unrecoverable after repair reprompt: %w", err)
		}
	}

	// The prompt numbers sentences from first, so the 0-/1-based check runs
	// on indices relative to the window and the offset is restored after.
	for i := range parsed.Chunks {
		parsed.Chunks[i].First -= first
		parsed.Chunks[i].Last -= first
	}
	normalizeIndexBase(parsed.Chunks)
	for i := range parsed.Chunks {
		parsed.Chunks[i].First += first
		parsed.Chunks[i].Last += first
	}
	return parsed.Chunks, nil
}

// normalizeIndexBase auto-detects 0- vs 1-based indices: if every index
// across every range is at least 1, the model used 1-based numbering and
// every index is decremented; any reported 0 means it was already 0-based.
func normalizeIndexBase(ranges []indexRange) {
	oneBased := len(ranges) > 0
	for _, r := range ranges {
		if r.First == 0 || r.Last == 0 {
			oneBased = false
			break
		}
	}
	if !oneBased {
		return
	}
	for i := range ranges {
		ranges[i].First--
		ranges[i].Last--
	}
}

// resolveSentenceRanges walks ranges in emission order with a monotonic
// cursor over sentence indices, the same left-to-right discipline used
// for the literal-text variant: a range whose First is before the cursor,
// or whose indices fall outside spans, is dropped.
func resolveSentenceRanges(runes []rune, spans []sentenceSpan, ranges []indexRange) ([]events.Chunk, int) {
	var chunks []events.Chunk
	cursorIdx := 0
	resolved := 0

	for _, r := range ranges {
		if r.First < cursorIdx || r.Last < r.First || r.Last >= len(spans) || r.First >= len(spans) {
			continue
		}
		charStart := spans[r.First].Start
		charEnd := spans[r.Last].End
		if charEnd <= charStart {
			continue
		}
		chunks = append(chunks, newChunk(runes, len(chunks), charStart, charEnd))
		cursorIdx = r.Last + 1
		resolved++
	}

	if cursorIdx < len(spans) {
		charStart := spans[cursorIdx].Start
		charEnd := len(runes)
		if remainder := strings.TrimSpace(string(runes[charStart:charEnd])); remainder != "" {
			chunks = append(chunks, newChunk(runes, len(chunks), charStart, charEnd))
		}
	}

	return chunks, resolved
}

func sentenceIndexPromptMessages(runes []rune, spans []sentenceSpan, first, last int) []llm.ChatMessage {
	var b strings.Builder
	for i := first; i <= last; i++ {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(". ")
		b.WriteString(string(runes[spans[i].Start:spans[i].End]))
		b.WriteString("\n")
	}

	system := `You group a numbered list of sentences into semantically complete chunks.

Respond with a single JSON object of the form {"chunks": [{"first_sentence_index": N, "last_sentence_index": M}, ...]}, covering the sentences in order with no gaps or overlaps. Use the sentence numbers exactly as given. Do not include any text outside the JSON object.`

	return []llm.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func repairSentenceIndexMessages(original []llm.ChatMessage, malformed string) []llm.ChatMessage {
	truncated := malformed
	const maxQuote = 500
	if len([]rune(truncated)) > maxQuote {
		truncated = string([]rune(truncated)[:maxQuote]) + "..."
	}
	repair := llm.ChatMessage{
		Role: "user",
		Content: fmt.Sprintf(
			"Your previous response could not be parsed as JSON. It began:\n\n%s\n\nRespond again with ONLY a single JSON object of the form {\"chunks\": [{\"first_sentence_index\": N, \"last_sentence_index\": M}]}. No markdown fences, no commentary.",
			truncated,
		),
	}
	return append(append([]llm.ChatMessage{}, original...), repair)
}
