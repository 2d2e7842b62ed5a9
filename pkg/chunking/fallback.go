package chunking

import "docindex/pkg/events"

// ruleBasedFallback groups sentences into chunks of groupSize sentences
// (clamped to [minGroup, maxGroup]), per the chunking algorithm's step 4.
// Used when the LLM yields zero usable boundary candidates, and as the
// last resort of the repair-reprompt recovery path.
func ruleBasedFallback(runes []rune, groupSize, minGroup, maxGroup int) []events.Chunk {
	if minGroup <= 0 {
		minGroup = 3
	}
	if maxGroup <= 0 || maxGroup < minGroup {
		maxGroup = 10
	}
	if groupSize < minGroup {
		groupSize = minGroup
	}
	if groupSize > maxGroup {
		groupSize = maxGroup
	}

	spans := splitSentences(runes)
	if len(spans) == 0 {
		return nil
	}

	var chunks []events.Chunk
	for i := 0; i < len(spans); i += groupSize {
		end := i + groupSize
		if end > len(spans) {
			end = len(spans)
		}
		charStart := spans[i].Start
		charEnd := spans[end-1].End
		chunks = append(chunks, newChunk(runes, len(chunks), charStart, charEnd))
	}
	return chunks
}

// newChunk builds an events.Chunk from a rune-offset span, filling in text
// and best-effort word offsets. Offsets are rune (character) indices, per
// the data model's char_start/char_end.
func newChunk(runes []rune, index, charStart, charEnd int) events.Chunk {
	wordStart, wordEnd := wordOffsets(runes, charStart, charEnd)
	return events.Chunk{
		ChunkIndex: index,
		CharStart:  charStart,
		CharEnd:    charEnd,
		WordStart:  wordStart,
		WordEnd:    wordEnd,
		Text:       string(runes[charStart:charEnd]),
	}
}

// wordOffsets computes inclusive, best-effort whitespace-split word offsets
// for the span [charStart, charEnd) of runes.
func wordOffsets(runes []rune, charStart, charEnd int) (int, int) {
	wordStart := countWords(runes[:charStart])
	wordsInSpan := countWords(runes[charStart:charEnd])
	wordEnd := wordStart + wordsInSpan - 1
	if wordEnd < wordStart {
		wordEnd = wordStart
	}
	return wordStart, wordEnd
}

func countWords(runes []rune) int {
	count := 0
	inWord := false
	for _, r := range runes {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
		if !isSpace && !inWord {
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return count
}
