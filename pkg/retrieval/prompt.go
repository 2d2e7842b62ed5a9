package retrieval

import (
	"encoding/json"
	"fmt"

	"docindex/pkg/chunking"
	"docindex/pkg/llm"
)

// decide issues the LLM_structured call from the iteration loop, parsing
// its {answer, need_more, next_query} response leniently and, on a first
// parse failure, issuing the single permitted repair reprompt (the same
// recovery path pkg/chunking uses for its boundary-proposal calls).
func (s *Service) decide(mode Mode, iteration int, isLast bool, userInput, context string) (*decision, error) {
	messages := buildPrompt(mode, iteration, isLast, userInput, context)

	resp, err := s.completer.Complete(messages)
	if err != nil {
		return nil, fmt.Errorf("retrieval: decision call: %w", err)
	}

	var dec decision
	if err := chunking.ParseLenient(resp.Content, &dec); err != nil {
		repaired, repairErr := s.completer.Complete(repairMessages(messages, resp.Content))
		if repairErr != nil {
			return nil, fmt.Errorf("retrieval: decision repair reprompt: %w", repairErr)
		}
		if err := chunking.ParseLenient(repaired.Content, &dec); err != nil {
			return nil, fmt.Errorf("retrieval: decision unrecoverable after repair reprompt: %w", err)
		}
	}

	if isLast {
		dec.NeedMore = false
		dec.NextQuery = ""
	}
	return &dec, nil
}

// buildPrompt constructs the messages for one iteration's structured
// decision call, per spec section 4.5's "Prompt contract" and "Grounding
// rule".
func buildPrompt(mode Mode, iteration int, isLast bool, userInput, context string) []llm.ChatMessage {
	system := `You are a retrieval-augmented question answering agent. Answer strictly from the retrieved context provided by the user. If the context is insufficient to answer confidently, say so explicitly rather than fabricating an answer.

Respond with a single JSON object of the form {"answer": "...", "need_more": true|false, "next_query": "..."}. "answer" is your best answer given the context so far. "need_more" is true only if another round of retrieval with a reformulated query would likely improve the answer. "next_query" is the reformulated query to search next, or an empty string if need_more is false. Do not include any text outside the JSON object.`

	if isLast {
		system += "\n\nThis is the final iteration: need_more MUST be false and next_query MUST be an empty string."
	}

	if mode == ModeDeeper {
		label := "synthesis"
		if iteration-1 >= 0 && iteration-1 < len(deeperStrategies) {
			label = deeperStrategies[iteration-1]
		}
		system += fmt.Sprintf("\n\nFor this iteration, focus your search and answer on: %s.", label)
	}

	user := fmt.Sprintf("Original question: %s\n\nRetrieved context so far:\n%s", userInput, context)

	return []llm.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// repairMessages builds the single permitted repair reprompt, quoting the
// malformed prior output and re-stating the schema.
func repairMessages(original []llm.ChatMessage, malformed string) []llm.ChatMessage {
	truncated := malformed
	const maxQuote = 500
	if len([]rune(truncated)) > maxQuote {
		truncated = string([]rune(truncated)[:maxQuote]) + "..."
	}

	repaired := append(append([]llm.ChatMessage{}, original...), llm.ChatMessage{
		Role: "user",
		Content: fmt.Sprintf(
			"Your previous response could not be parsed as JSON. It began:\n\n%s\n\nRespond again with ONLY a single JSON object of the form {\"answer\": \"...\", \"need_more\": true|false, \"next_query\": \"...\"}. No markdown fences, no commentary.",
			truncated,
		),
	})
	return repaired
}

func parseJSON(raw json.RawMessage, target any) error {
	return json.Unmarshal(raw, target)
}
