package chunking

import (
	"context"
	"testing"

	"docindex/pkg/config"
	"docindex/pkg/llm"
)

// scriptedCompleter returns one canned response per call, in order.
type scriptedCompleter struct {
	responses []string
	calls     int
}

func (s *scriptedCompleter) Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error) {
	if s.calls >= len(s.responses) {
		s.calls++
		return &llm.CompletionResponse{Content: "{}"}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return &llm.CompletionResponse{Content: resp}, nil
}

func testChunkingConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		WindowSize:        1000,
		WindowOverlap:     200,
		FallbackGroupSize: 8,
		FallbackMinGroup:  3,
		FallbackMaxGroup:  10,
	}
}

func TestChunk_EmptyContentYieldsNoChunks(t *testing.T) {
	c := NewChunker(&scriptedCompleter{}, testChunkingConfig())
	chunks, err := c.Chunk(context.Background(), "   \n\t  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunk_NoSentenceBreakYieldsSingleChunk(t *testing.T) {
	c := NewChunker(&scriptedCompleter{}, testChunkingConfig())
	content := "just one fragment of text with no terminal punctuation"
	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}
	if chunks[0].Text != content {
		t.Fatalf("expected chunk text to span whole content, got %q", chunks[0].Text)
	}
}

func TestChunk_ResolvesLiteralBoundaryCandidates(t *testing.T) {
	content := "First sentence here. Second sentence follows. Third and final sentence."
	completer := &scriptedCompleter{
		responses: []string{`{"boundaries": ["First sentence here.", "Second sentence follows."]}`},
	}
	c := NewChunker(completer, testChunkingConfig())

	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks (2 resolved + remainder), got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "First sentence here." {
		t.Fatalf("unexpected first chunk text: %q", chunks[0].Text)
	}
	if chunks[1].Text != " Second sentence follows." && chunks[1].Text != "Second sentence follows." {
		t.Fatalf("unexpected second chunk text: %q", chunks[1].Text)
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Fatalf("chunk %d has ChunkIndex %d", i, ch.ChunkIndex)
		}
		if ch.CharEnd <= ch.CharStart {
			t.Fatalf("chunk %d has non-positive span [%d,%d)", i, ch.CharStart, ch.CharEnd)
		}
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart < chunks[i-1].CharEnd {
			t.Fatalf("chunk %d overlaps chunk %d", i, i-1)
		}
	}
}

func TestChunk_ZeroUsableCandidatesFallsBackToRuleBased(t *testing.T) {
	content := "One. Two. Three. Four. Five. Six. Seven. Eight. Nine. Ten. Eleven. Twelve."
	completer := &scriptedCompleter{
		responses: []string{`{"boundaries": ["this sentence does not occur in the content at all"]}`},
	}
	c := NewChunker(completer, testChunkingConfig())

	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected fallback chunking to produce chunks")
	}
	// 12 sentences, default group size 8 clamped within [3,10] -> groups of 8 then 4
	if len(chunks) != 2 {
		t.Fatalf("expected 2 fallback groups, got %d", len(chunks))
	}
}

func TestChunk_RepairsUnparseableResponseThenFallsBack(t *testing.T) {
	content := "One. Two. Three. Four. Five."
	completer := &scriptedCompleter{
		responses: []string{
			"I'm not able to help with that.",
			"Still not JSON, sorry.",
		},
	}
	c := NewChunker(completer, testChunkingConfig())

	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected rule-based fallback chunks after repair reprompt failure")
	}
	if completer.calls != 2 {
		t.Fatalf("expected exactly one repair reprompt (2 total calls), got %d", completer.calls)
	}
}

func TestChunk_DisjointInvariantHoldsAcrossFallback(t *testing.T) {
	content := "Alpha sentence one. Beta sentence two. Gamma sentence three. Delta sentence four."
	c := NewChunker(&scriptedCompleter{}, testChunkingConfig())
	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart < chunks[i-1].CharEnd {
			t.Fatalf("chunk %d starts before chunk %d ends", i, i-1)
		}
	}
	for _, ch := range chunks {
		runes := []rune(content)
		if string(runes[ch.CharStart:ch.CharEnd]) != ch.Text {
			t.Fatalf("chunk text %q does not match content[%d:%d]", ch.Text, ch.CharStart, ch.CharEnd)
		}
	}
}
