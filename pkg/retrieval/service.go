// Package retrieval implements the retrieval agent (spec section 4.5): it
// resolves a user's query to an answer by iteratively searching the vector
// index under the user's access-oracle allow-list, reranking and fetching
// chunk originals from the preprocessor, and consulting an LLM for a
// structured decision each round.
//
// Grounded on original_source/RAGside/agent.py's iterative search-rerank-LLM
// loop, generalized from that script's single hard-coded mode into the
// normal/deep/deeper modes named in the spec, and on pkg/chunking's
// ParseLenient + single-repair-reprompt recovery for the LLM's structured
// output.
package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"docindex/pkg/config"
	"docindex/pkg/database"
	"docindex/pkg/errkind"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
	"docindex/pkg/transport"
)

// Logger is the error-reporting surface this package depends on.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// Embedder is the subset of llm.Service this package depends on, decoupled
// so tests can supply a fake.
type Embedder interface {
	Embed(text string) (*llm.EmbeddingResponse, error)
}

// Reranker is the subset of llm.Service this package depends on.
type Reranker interface {
	Rerank(query string, documents []string, topN int) ([]llm.RerankResult, error)
}

// Completer is the subset of llm.Service this package depends on.
type Completer interface {
	Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error)
}

// Mode is one of the three iteration depths named in the spec.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDeep   Mode = "deep"
	ModeDeeper Mode = "deeper"
)

func (m Mode) valid() bool {
	switch m {
	case ModeNormal, ModeDeep, ModeDeeper:
		return true
	}
	return false
}

// maxIterations returns the iteration bound for a mode, per section 4.5.
func maxIterations(m Mode) int {
	switch m {
	case ModeDeep:
		return 3
	case ModeDeeper:
		return 5
	default:
		return 1
	}
}

// deeperStrategies labels each deeper-mode iteration, injected into the
// prompt so the model varies its search angle round over round.
var deeperStrategies = []string{
	"basic facts",
	"supporting details",
	"surrounding context",
	"multiple perspectives",
	"verification and synthesis",
}

// Service answers chat queries against the shared index, restricted by the
// access oracle and fetched/reranked through the preprocessor and an LLM
// reranker.
type Service struct {
	oracle       *transport.ReqSocket
	preprocessor *transport.ReqSocket
	http         *http.Server

	repo      *database.Repository
	embedder  Embedder
	reranker  Reranker
	completer Completer

	topN                 int
	maxContextChunks     int
	intraClusterDeadline time.Duration
	modelDeadline        time.Duration

	logger Logger
}

// Dial connects to the access oracle's and preprocessor's request/reply
// channels. Per the dependency order, both must already be running.
func Dial(oracleAddr, preprocessorAddr string, repo *database.Repository, llmSvc *llm.Service, cfg *config.Config) (*Service, error) {
	oracle, err := transport.DialReq(oracleAddr)
	if err != nil {
		return nil, fmt.Errorf("retrieval: dial oracle: %w", err)
	}
	preprocessor, err := transport.DialReq(preprocessorAddr)
	if err != nil {
		oracle.Close()
		return nil, fmt.Errorf("retrieval: dial preprocessor: %w", err)
	}

	ragCfg := cfg.GetRAGConfig()
	transportCfg := cfg.GetTransportConfig()

	return &Service{
		oracle:               oracle,
		preprocessor:         preprocessor,
		repo:                 repo,
		embedder:             llmSvc,
		reranker:             llmSvc,
		completer:            llmSvc,
		topN:                 maxInt(ragCfg.TopN, 1),
		maxContextChunks:     maxInt(ragCfg.MaxContextChunks, 1),
		intraClusterDeadline: time.Duration(transportCfg.IntraClusterDeadlineMS) * time.Millisecond,
		modelDeadline:        time.Duration(transportCfg.ModelDeadlineMS) * time.Millisecond,
	}, nil
}

// SetLogger installs a custom logger.
func (s *Service) SetLogger(l Logger) { s.logger = l }

func (s *Service) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
		return
	}
	logger.Error(format, args...)
}

// Close closes both upstream sockets and the HTTP listener, if bound.
func (s *Service) Close() error {
	s.oracle.Close()
	s.preprocessor.Close()
	if s.http != nil {
		return s.http.Close()
	}
	return nil
}

// hit is one vector-search result carried across an iteration.
type hit struct {
	RelativePath string
	CharStart    int
	CharEnd      int
	Similarity   float32
}

// decision is the LLM's structured per-iteration output, per the prompt
// contract's {answer, need_more, next_query} schema.
type decision struct {
	Answer    string `json:"answer"`
	NeedMore  bool   `json:"need_more"`
	NextQuery string `json:"next_query"`
}

// Answer resolves userID's query under mode, implementing the iteration
// loop from spec section 4.5 verbatim. AuthDenied is not returned as an
// error: the spec requires an explicit user-facing message instead.
func (s *Service) Answer(ctx context.Context, userID, query string, mode Mode) (string, error) {
	if !mode.valid() {
		return "", fmt.Errorf("retrieval: unknown mode %q", mode)
	}

	maxIter := maxIterations(mode)
	currentQuery := query
	accumulated := ""

	for i := 1; i <= maxIter; i++ {
		allow, err := s.authorized(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(allow) == 0 {
			return "no access", nil
		}

		hits, err := s.search(currentQuery, allow)
		if err != nil {
			return s.degradedAnswer(accumulated, err), nil
		}

		texts, err := s.fetchTexts(ctx, hits)
		if err != nil {
			return s.degradedAnswer(accumulated, err), nil
		}

		reranked, err := s.reranker.Rerank(currentQuery, texts, s.topN)
		if err != nil {
			return s.degradedAnswer(accumulated, err), nil
		}

		if len(reranked) > s.maxContextChunks {
			reranked = reranked[:s.maxContextChunks]
		}
		accumulated += formatContext(hits, texts, reranked)

		isLast := i == maxIter
		dec, err := s.decide(mode, i, isLast, query, accumulated)
		if err != nil {
			if isLast {
				return s.degradedAnswer(accumulated, err), nil
			}
			s.errorf("retrieval: decision unrecoverable at iteration %d, continuing with original query: %v", i, err)
			continue
		}

		if mode == ModeNormal || isLast || !dec.NeedMore {
			return dec.Answer, nil
		}
		if dec.NextQuery != "" {
			currentQuery = dec.NextQuery
		} else {
			currentQuery = query
		}
	}

	return "unexpected", nil
}

func (s *Service) authorized(ctx context.Context, userID string) ([]string, error) {
	req := map[string]string{"op": "authorized", "user_id": userID}
	raw, err := s.oracle.Call(ctx, req, s.intraClusterDeadline)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "authorized", err)
	}
	var resp struct {
		Status   string   `json:"status"`
		Error    string   `json:"error"`
		PathList []string `json:"pathlist"`
	}
	if err := parseJSON(raw, &resp); err != nil {
		return nil, errkind.New(errkind.SchemaErr, "authorized", err)
	}
	if resp.Status != "success" {
		return nil, errkind.New(errkind.Transport, "authorized", fmt.Errorf("%s", resp.Error))
	}
	return resp.PathList, nil
}

func (s *Service) search(query string, allow []string) ([]hit, error) {
	emb, err := s.embedder.Embed(query)
	if err != nil {
		return nil, errkind.New(errkind.ModelErr, "embed_query", err)
	}

	limit := 2 * s.topN
	results, err := s.repo.SearchSimilar(emb.Embedding, limit, allow)
	if err != nil {
		return nil, errkind.New(errkind.IndexErr, "search_similar", err)
	}

	hits := make([]hit, len(results))
	for i, r := range results {
		hits[i] = hit{
			RelativePath: r.RelativePath,
			CharStart:    r.CharStart,
			CharEnd:      r.CharEnd,
			Similarity:   r.Similarity,
		}
	}
	return hits, nil
}

// fetchTexts fetches each hit's chunk substring from the preprocessor, per
// the external interfaces table's "Retriever -> Preprocessor" channel.
func (s *Service) fetchTexts(ctx context.Context, hits []hit) ([]string, error) {
	texts := make([]string, len(hits))
	for i, h := range hits {
		req := fetchRequest{RelativePath: h.RelativePath, CharStart: h.CharStart, CharEnd: h.CharEnd}
		raw, err := s.preprocessor.Call(ctx, req, s.intraClusterDeadline)
		if err != nil {
			return nil, errkind.New(errkind.Transport, "fetch_substring", err)
		}
		var resp fetchResponse
		if err := parseJSON(raw, &resp); err != nil {
			return nil, errkind.New(errkind.SchemaErr, "fetch_substring", err)
		}
		if resp.Status != "ok" {
			texts[i] = ""
			continue
		}
		texts[i] = resp.Content
	}
	return texts, nil
}

type fetchRequest struct {
	RelativePath string `json:"relative_path"`
	CharStart    int    `json:"char_start,omitempty"`
	CharEnd      int    `json:"char_end,omitempty"`
}

type fetchResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Content string `json:"content,omitempty"`
}

// formatContext renders the reranked hits (best first, truncated to the
// configured max context chunks) as the text appended to the running
// context for the next LLM call.
func formatContext(hits []hit, texts []string, reranked []llm.RerankResult) string {
	var out string
	for _, r := range reranked {
		if r.Index < 0 || r.Index >= len(hits) {
			continue
		}
		out += fmt.Sprintf("\n--- %s (score %.3f) ---\n%s\n", hits[r.Index].RelativePath, r.Score, texts[r.Index])
	}
	return out
}

// degradedAnswer implements the final-iteration failure semantics: a
// recoverable error yields a degraded answer quoting a prefix of the
// accumulated context instead of propagating the error to the caller.
func (s *Service) degradedAnswer(accumulated string, cause error) string {
	s.errorf("retrieval: falling back to degraded answer: %v", cause)
	const maxQuote = 800
	snippet := accumulated
	if len([]rune(snippet)) > maxQuote {
		snippet = string([]rune(snippet)[:maxQuote]) + "..."
	}
	if snippet == "" {
		return "I could not retrieve enough information to answer this question."
	}
	return "I could not fully process this request, but here is what was found:\n" + snippet
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
