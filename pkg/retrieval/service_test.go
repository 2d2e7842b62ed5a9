package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docindex/pkg/database"
	"docindex/pkg/llm"
	"docindex/pkg/transport"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (e *fakeEmbedder) Embed(text string) (*llm.EmbeddingResponse, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &llm.EmbeddingResponse{Embedding: e.vector}, nil
}

// passthroughReranker returns documents in their original order.
type passthroughReranker struct{}

func (passthroughReranker) Rerank(query string, documents []string, topN int) ([]llm.RerankResult, error) {
	results := make([]llm.RerankResult, len(documents))
	for i := range documents {
		results[i] = llm.RerankResult{Index: i, Score: 1}
	}
	if topN > 0 && topN < len(results) {
		results = results[:topN]
	}
	return results, nil
}

// scriptedCompleter returns one canned response per call, in order,
// mirroring pkg/chunking/chunking_test.go's fake of the same name.
type scriptedCompleter struct {
	responses []string
	calls     int
}

func (c *scriptedCompleter) Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error) {
	if c.calls >= len(c.responses) {
		c.calls++
		return &llm.CompletionResponse{Content: `{"answer":"fallback","need_more":false,"next_query":""}`}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return &llm.CompletionResponse{Content: resp}, nil
}

func setupRetrievalTestDB(t *testing.T) *database.Repository {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "docindex-retrieval-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	dbPath := filepath.Join(tmpDir, "repo.sqlite")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&database.Document{}, &database.Chunk{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.NewRepositoryForDB(db)
}

func newTestService(repo *database.Repository, embedder Embedder, reranker Reranker, completer Completer) *Service {
	return &Service{
		repo:                 repo,
		embedder:             embedder,
		reranker:             reranker,
		completer:            completer,
		topN:                 3,
		maxContextChunks:     10,
		intraClusterDeadline: time.Second,
		modelDeadline:        time.Second,
	}
}

func seedDocument(t *testing.T, repo *database.Repository, relativePath, content string, embedding []float32) {
	t.Helper()
	chunks := []database.ChunkInput{
		{ChunkIndex: 0, CharStart: 0, CharEnd: len(content), Content: content, Embedding: embedding, EmbeddingModel: "test"},
	}
	if err := repo.UpsertDocumentWithChunks(relativePath, "u1", content, int64(len(content)), 1, chunks); err != nil {
		t.Fatalf("seed document %s: %v", relativePath, err)
	}
}

func TestAnswer_NoAuthorizedPathsReturnsNoAccessMessage(t *testing.T) {
	repo := setupRetrievalTestDB(t)

	oracleAddr := "127.0.0.1:19581"
	oracleRep, err := transport.NewRepSocket(oracleAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "success", "pathlist": []string{}}, nil
	})
	if err != nil {
		t.Fatalf("oracle rep: %v", err)
	}
	t.Cleanup(func() { oracleRep.Close() })

	preprocessorAddr := "127.0.0.1:19582"
	preprocessorRep, err := transport.NewRepSocket(preprocessorAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		t.Fatalf("preprocessor should not be called when there is no access")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("preprocessor rep: %v", err)
	}
	t.Cleanup(func() { preprocessorRep.Close() })

	oracle := waitDialReq(t, oracleAddr)
	t.Cleanup(func() { oracle.Close() })
	preprocessor := waitDialReq(t, preprocessorAddr)
	t.Cleanup(func() { preprocessor.Close() })

	svc := newTestService(repo, &fakeEmbedder{vector: []float32{1, 0}}, passthroughReranker{}, &scriptedCompleter{})
	svc.oracle = oracle
	svc.preprocessor = preprocessor

	answer, err := svc.Answer(context.Background(), "u1", "what is in the docs?", ModeNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "no access" {
		t.Fatalf("expected the no-access message, got %q", answer)
	}
}

func TestAnswer_NormalModeReturnsAfterOneIteration(t *testing.T) {
	repo := setupRetrievalTestDB(t)
	seedDocument(t, repo, "a.txt", "the quarterly report shows growth", []float32{1, 0})

	oracleAddr := "127.0.0.1:19583"
	oracleRep, err := transport.NewRepSocket(oracleAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "success", "pathlist": []string{"a.txt"}}, nil
	})
	if err != nil {
		t.Fatalf("oracle rep: %v", err)
	}
	t.Cleanup(func() { oracleRep.Close() })

	preprocessorAddr := "127.0.0.1:19584"
	preprocessorRep, err := transport.NewRepSocket(preprocessorAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "ok", "content": "the quarterly report shows growth"}, nil
	})
	if err != nil {
		t.Fatalf("preprocessor rep: %v", err)
	}
	t.Cleanup(func() { preprocessorRep.Close() })

	oracle := waitDialReq(t, oracleAddr)
	t.Cleanup(func() { oracle.Close() })
	preprocessor := waitDialReq(t, preprocessorAddr)
	t.Cleanup(func() { preprocessor.Close() })

	completer := &scriptedCompleter{responses: []string{
		`{"answer":"Growth was reported in the quarter.","need_more":true,"next_query":"more detail"}`,
	}}
	svc := newTestService(repo, &fakeEmbedder{vector: []float32{1, 0}}, passthroughReranker{}, completer)
	svc.oracle = oracle
	svc.preprocessor = preprocessor

	answer, err := svc.Answer(context.Background(), "u1", "how did the quarter go?", ModeNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Growth was reported in the quarter." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	// normal mode returns after the first iteration regardless of need_more.
	if completer.calls != 1 {
		t.Fatalf("expected exactly one decision call in normal mode, got %d", completer.calls)
	}
}

func TestAnswer_DeepModeContinuesUntilNeedMoreIsFalse(t *testing.T) {
	repo := setupRetrievalTestDB(t)
	seedDocument(t, repo, "a.txt", "first fact", []float32{1, 0})

	oracleAddr := "127.0.0.1:19585"
	oracleRep, err := transport.NewRepSocket(oracleAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "success", "pathlist": []string{"a.txt"}}, nil
	})
	if err != nil {
		t.Fatalf("oracle rep: %v", err)
	}
	t.Cleanup(func() { oracleRep.Close() })

	preprocessorAddr := "127.0.0.1:19586"
	preprocessorRep, err := transport.NewRepSocket(preprocessorAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "ok", "content": "first fact"}, nil
	})
	if err != nil {
		t.Fatalf("preprocessor rep: %v", err)
	}
	t.Cleanup(func() { preprocessorRep.Close() })

	oracle := waitDialReq(t, oracleAddr)
	t.Cleanup(func() { oracle.Close() })
	preprocessor := waitDialReq(t, preprocessorAddr)
	t.Cleanup(func() { preprocessor.Close() })

	completer := &scriptedCompleter{responses: []string{
		`{"answer":"partial","need_more":true,"next_query":"dig deeper"}`,
		`{"answer":"final answer","need_more":false,"next_query":""}`,
	}}
	svc := newTestService(repo, &fakeEmbedder{vector: []float32{1, 0}}, passthroughReranker{}, completer)
	svc.oracle = oracle
	svc.preprocessor = preprocessor

	answer, err := svc.Answer(context.Background(), "u1", "tell me everything", ModeDeep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "final answer" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if completer.calls != 2 {
		t.Fatalf("expected exactly two decision calls, got %d", completer.calls)
	}
}

func TestAnswer_FinalIterationForcesNeedMoreFalse(t *testing.T) {
	repo := setupRetrievalTestDB(t)
	seedDocument(t, repo, "a.txt", "fact one", []float32{1, 0})

	oracleAddr := "127.0.0.1:19587"
	oracleRep, err := transport.NewRepSocket(oracleAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "success", "pathlist": []string{"a.txt"}}, nil
	})
	if err != nil {
		t.Fatalf("oracle rep: %v", err)
	}
	t.Cleanup(func() { oracleRep.Close() })

	preprocessorAddr := "127.0.0.1:19588"
	preprocessorRep, err := transport.NewRepSocket(preprocessorAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]interface{}{"status": "ok", "content": "fact one"}, nil
	})
	if err != nil {
		t.Fatalf("preprocessor rep: %v", err)
	}
	t.Cleanup(func() { preprocessorRep.Close() })

	oracle := waitDialReq(t, oracleAddr)
	t.Cleanup(func() { oracle.Close() })
	preprocessor := waitDialReq(t, preprocessorAddr)
	t.Cleanup(func() { preprocessor.Close() })

	// Every response (wrongly) claims need_more=true; the agent must still
	// stop after max_iter and return the last answer.
	completer := &scriptedCompleter{responses: []string{
		`{"answer":"round one","need_more":true,"next_query":"q2"}`,
		`{"answer":"round two","need_more":true,"next_query":"q3"}`,
		`{"answer":"round three","need_more":true,"next_query":"q4"}`,
	}}
	svc := newTestService(repo, &fakeEmbedder{vector: []float32{1, 0}}, passthroughReranker{}, completer)
	svc.oracle = oracle
	svc.preprocessor = preprocessor

	answer, err := svc.Answer(context.Background(), "u1", "give me the full picture", ModeDeep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "round three" {
		t.Fatalf("expected the final iteration's answer despite need_more=true, got %q", answer)
	}
	if completer.calls != 3 {
		t.Fatalf("expected exactly max_iter decision calls, got %d", completer.calls)
	}
}

func TestDecide_RecoversViaRepairReprompt(t *testing.T) {
	repo := setupRetrievalTestDB(t)
	completer := &scriptedCompleter{responses: []string{
		"this is not json at all",
		`{"answer":"recovered","need_more":false,"next_query":""}`,
	}}
	svc := newTestService(repo, &fakeEmbedder{}, passthroughReranker{}, completer)

	dec, err := svc.decide(ModeNormal, 1, true, "query", "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Answer != "recovered" {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if completer.calls != 2 {
		t.Fatalf("expected a repair reprompt (2 calls), got %d", completer.calls)
	}
}

func TestDecide_FinalIterationClearsNeedMoreRegardlessOfModelOutput(t *testing.T) {
	repo := setupRetrievalTestDB(t)
	completer := &scriptedCompleter{responses: []string{
		`{"answer":"done","need_more":true,"next_query":"should be cleared"}`,
	}}
	svc := newTestService(repo, &fakeEmbedder{}, passthroughReranker{}, completer)

	dec, err := svc.decide(ModeDeeper, 5, true, "query", "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.NeedMore || dec.NextQuery != "" {
		t.Fatalf("expected need_more/next_query to be forced clear on the final iteration, got %+v", dec)
	}
}

func TestBuildPrompt_DeeperModeInjectsStrategyLabel(t *testing.T) {
	messages := buildPrompt(ModeDeeper, 2, false, "question", "context")
	if len(messages) == 0 {
		t.Fatalf("expected at least one message")
	}
	found := false
	for _, m := range messages {
		if m.Role == "system" && containsSubstring(m.Content, deeperStrategies[1]) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the system prompt to mention the iteration's strategy label %q", deeperStrategies[1])
	}
}

func TestBuildPrompt_FinalIterationStatesTheConstraintExplicitly(t *testing.T) {
	messages := buildPrompt(ModeDeep, 3, true, "question", "context")
	found := false
	for _, m := range messages {
		if m.Role == "system" && containsSubstring(m.Content, "final iteration") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the final-iteration constraint to be stated in the prompt")
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func waitDialReq(t *testing.T, addr string) *transport.ReqSocket {
	t.Helper()
	var dealer *transport.ReqSocket
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dealer, err = transport.DialReq(addr)
		if err == nil {
			return dealer
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial req %s: %v", addr, err)
	return nil
}
