package postprocessor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"docindex/pkg/events"
	"docindex/pkg/llm"
)

// summarize builds the notification summary, per the spec's
// "Summarization" rule: create summarizes each chunk then combines those
// summaries into a 2-3 sentence file summary; update summarizes only the
// diff text.
func (s *Service) summarize(ctx context.Context, doc *events.ExtractedDocument, chunks []events.Chunk) (string, error) {
	if doc.EventType == events.Update && doc.DiffText != "" {
		return s.summarizeDiff(doc.DiffText)
	}

	if len(chunks) == 0 {
		return fmt.Sprintf("%s was %s with no content.", baseName(doc.RelativePath), verbFor(doc.EventType)), nil
	}

	chunkSummaries, err := s.summarizeChunks(chunks)
	if err != nil {
		return "", err
	}
	return s.combineSummaries(chunkSummaries)
}

// summarizeChunks summarizes every chunk independently, fanning out up to
// s.summarizeFanOut concurrent calls, per the concurrency model's "work
// fan-out" primitive (section 5, bullet 3).
func (s *Service) summarizeChunks(chunks []events.Chunk) ([]string, error) {
	summaries := make([]string, len(chunks))
	errs := make([]error, len(chunks))

	sem := make(chan struct{}, s.summarizeFanOut)
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			resp, err := s.completer.Complete(chunkSummaryMessages(text))
			if err != nil {
				errs[i] = err
				return
			}
			summaries[i] = strings.TrimSpace(resp.Content)
		}(i, c.Text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("chunk summarization: %w", err)
		}
	}
	return summaries, nil
}

// combineSummaries folds the per-chunk summaries into one 2-3 sentence
// file summary.
func (s *Service) combineSummaries(chunkSummaries []string) (string, error) {
	resp, err := s.completer.Complete(combineSummaryMessages(chunkSummaries))
	if err != nil {
		return "", fmt.Errorf("combine summaries: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// summarizeDiff summarizes an update's diff text in 1-2 sentences.
func (s *Service) summarizeDiff(diffText string) (string, error) {
	resp, err := s.completer.Complete(diffSummaryMessages(diffText))
	if err != nil {
		return "", fmt.Errorf("diff summarization: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func chunkSummaryMessages(chunkText string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: "Summarize the given passage in 1-2 plain sentences. Respond with only the summary."},
		{Role: "user", Content: chunkText},
	}
}

func combineSummaryMessages(chunkSummaries []string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: "You are given a list of summaries of consecutive parts of one document. Combine them into a single 2-3 sentence summary of the whole document. Respond with only the summary."},
		{Role: "user", Content: strings.Join(chunkSummaries, "\n")},
	}
}

func diffSummaryMessages(diffText string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: "Summarize the following unified diff of a document update in 1-2 plain sentences describing what changed. Respond with only the summary."},
		{Role: "user", Content: diffText},
	}
}
