package postprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docindex/pkg/database"
	"docindex/pkg/errkind"
	"docindex/pkg/events"
	"docindex/pkg/llm"
	"docindex/pkg/transport"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// scriptedEmbedder returns one vector per input text, or a fixed error.
type scriptedEmbedder struct {
	vectorFor func(text string) []float32
	err       error
	calls     int
}

func (e *scriptedEmbedder) EmbedBatch(texts []string) ([]*llm.EmbeddingResponse, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([]*llm.EmbeddingResponse, len(texts))
	for i, t := range texts {
		vec := []float32{0.1, 0.2}
		if e.vectorFor != nil {
			vec = e.vectorFor(t)
		}
		out[i] = &llm.EmbeddingResponse{Embedding: vec}
	}
	return out, nil
}

// shortEmbedder always returns one fewer vector than requested, to
// exercise the embedding-count-mismatch fatal path.
type shortEmbedder struct{}

func (shortEmbedder) EmbedBatch(texts []string) ([]*llm.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]*llm.EmbeddingResponse, len(texts)-1)
	for i := range out {
		out[i] = &llm.EmbeddingResponse{Embedding: []float32{0.1}}
	}
	return out, nil
}

// scriptedCompleter returns a canned summary for every call.
type scriptedCompleter struct {
	summary string
	err     error
	calls   int
}

func (c *scriptedCompleter) Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.summary}, nil
}

func setupPostprocessorTestDB(t *testing.T) *database.Repository {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "docindex-postprocessor-test-*")
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

func newTestService(repo *database.Repository, embedder Embedder, completer Completer) *Service {
	return &Service{
		repo:            repo,
		embedder:        embedder,
		completer:       completer,
		chunker:         nil,
		embeddingModel:  "test-model",
		summarizeFanOut: 4,
		modelDeadline:   time.Second,
		done:            make(chan struct{}),
	}
}

func TestProcess_DeleteRemovesDocumentAndNotifies(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	content := "hello world"
	if err := repo.UpsertDocumentWithChunks("a.txt", "u1", content, int64(len(content)), 1, nil); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	mailboxAddr := "127.0.0.1:19481"
	received := make(chan postRequest, 1)
	mailboxRep, err := transport.NewRepSocket(mailboxAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req postRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		received <- req
		return map[string]string{"status": "ok"}, nil
	})
	if err != nil {
		t.Fatalf("mailbox rep: %v", err)
	}
	t.Cleanup(func() { mailboxRep.Close() })

	mailbox := waitDialReq(t, mailboxAddr)
	t.Cleanup(func() { mailbox.Close() })

	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})
	svc.mailbox = mailbox

	doc := &events.ExtractedDocument{
		EventType:    events.Delete,
		RelativePath: "a.txt",
		UserID:       "u1",
		Status:       events.Deleted,
		LikedUsers:   []string{"u1", "alice"},
	}
	if err := svc.Process(context.Background(), doc); err != nil {
		t.Fatalf("process delete: %v", err)
	}

	if _, err := repo.GetDocumentByPath("a.txt"); err == nil {
		t.Fatalf("expected document to be deleted")
	}

	select {
	case req := <-received:
		if len(req.UserIDs) != 1 || req.UserIDs[0] != "alice" {
			t.Fatalf("expected delete notification to alice only, got %+v", req.UserIDs)
		}
		if req.Notification.EventType != events.Delete {
			t.Fatalf("expected delete event type, got %s", req.Notification.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delete notification")
	}
}

func TestProcess_ExtractionFailedIsANoOp(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})

	doc := &events.ExtractedDocument{
		EventType:    events.Update,
		RelativePath: "b.txt",
		UserID:       "u1",
		Status:       events.ExtractionFailed,
	}
	if err := svc.Process(context.Background(), doc); err != nil {
		t.Fatalf("expected no error for extraction_failed, got %v", err)
	}
	if _, err := repo.GetDocumentByPath("b.txt"); err == nil {
		t.Fatalf("expected no document to be indexed for a failed extraction")
	}
}

func TestEmbedChunks_MismatchedCountIsFatal(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	svc := newTestService(repo, shortEmbedder{}, &scriptedCompleter{})

	chunks := []events.Chunk{
		{ChunkIndex: 0, Text: "first chunk"},
		{ChunkIndex: 1, Text: "second chunk"},
	}
	_, err := svc.embedChunks(chunks)
	if err == nil {
		t.Fatalf("expected an error on embedding/chunk count mismatch")
	}
	if !errkind.Is(err, errkind.ModelErr) {
		t.Fatalf("expected a model_error kind, got %v", err)
	}
}

func TestEmbedChunks_EmptyChunksYieldsNoInputs(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})

	inputs, err := svc.embedChunks(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inputs) != 0 {
		t.Fatalf("expected no chunk inputs, got %d", len(inputs))
	}
}

func TestUpsertWithRetry_IndexesDocumentOnSuccess(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})

	// A healthy repo succeeds on the first attempt; the retry-once path is
	// exercised by the failing-repo test below.
	chunks := []database.ChunkInput{
		{ChunkIndex: 0, Content: "chunk", Embedding: []float32{0.1}, EmbeddingModel: "m"},
	}
	if err := svc.upsertWithRetry("c.txt", "u1", "chunk", 5, chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := repo.GetDocumentByPath("c.txt")
	if err != nil {
		t.Fatalf("expected document to be indexed: %v", err)
	}
	if doc.RelativePath != "c.txt" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestUpsertWithRetry_SurfacesIndexErrorAfterSecondFailure(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	// Closing the underlying sql.DB forces every subsequent call to fail,
	// so both the first attempt and the retry fail, exercising the
	// "retried once then surfaced" path.
	sqlDB, err := repo.DB().DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.Close()

	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})
	err = svc.upsertWithRetry("d.txt", "u1", "content", 7, nil)
	if err == nil {
		t.Fatalf("expected an index error after both attempts fail")
	}
	if !errkind.Is(err, errkind.IndexErr) {
		t.Fatalf("expected an index_error kind, got %v", err)
	}
}

func TestSummarize_CreateSummarizesChunksThenCombines(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	completer := &scriptedCompleter{summary: "a short summary"}
	svc := newTestService(repo, &scriptedEmbedder{}, completer)

	doc := &events.ExtractedDocument{EventType: events.Create, RelativePath: "e.txt"}
	chunks := []events.Chunk{
		{ChunkIndex: 0, Text: "first part"},
		{ChunkIndex: 1, Text: "second part"},
	}

	summary, err := svc.summarize(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "a short summary" {
		t.Fatalf("unexpected summary: %q", summary)
	}
	// One call per chunk plus one combining call.
	if completer.calls != len(chunks)+1 {
		t.Fatalf("expected %d completer calls, got %d", len(chunks)+1, completer.calls)
	}
}

func TestSummarize_CreateWithNoChunksSkipsLLM(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	completer := &scriptedCompleter{summary: "unused"}
	svc := newTestService(repo, &scriptedEmbedder{}, completer)

	doc := &events.ExtractedDocument{EventType: events.Create, RelativePath: "empty.txt"}
	summary, err := svc.summarize(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completer.calls != 0 {
		t.Fatalf("expected no LLM calls for an empty document, got %d", completer.calls)
	}
	if summary == "" {
		t.Fatalf("expected a fallback summary")
	}
}

func TestSummarize_UpdateSummarizesOnlyTheDiff(t *testing.T) {
	repo := setupPostprocessorTestDB(t)
	completer := &scriptedCompleter{summary: "the diff summary"}
	svc := newTestService(repo, &scriptedEmbedder{}, completer)

	doc := &events.ExtractedDocument{
		EventType:    events.Update,
		RelativePath: "f.txt",
		DiffKind:     events.DiffModification,
		DiffText:     "- old line\n+ new line",
	}
	chunks := []events.Chunk{{ChunkIndex: 0, Text: "whole new content"}}

	summary, err := svc.summarize(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "the diff summary" {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if completer.calls != 1 {
		t.Fatalf("expected exactly one diff-summarization call, got %d", completer.calls)
	}
}

func TestNotify_FiltersAuthoringUserAndSkipsEmptyRecipients(t *testing.T) {
	repo := setupPostprocessorTestDB(t)

	mailboxAddr := "127.0.0.1:19482"
	callCount := 0
	mailboxRep, err := transport.NewRepSocket(mailboxAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		callCount++
		return map[string]string{"status": "ok"}, nil
	})
	if err != nil {
		t.Fatalf("mailbox rep: %v", err)
	}
	t.Cleanup(func() { mailboxRep.Close() })

	mailbox := waitDialReq(t, mailboxAddr)
	t.Cleanup(func() { mailbox.Close() })

	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})
	svc.mailbox = mailbox

	// Only the authoring user liked the file: no call should be made.
	doc := &events.ExtractedDocument{RelativePath: "g.txt", UserID: "u1", LikedUsers: []string{"u1"}}
	svc.notify(context.Background(), doc, events.Notification{EventType: events.Create, RelativePath: "g.txt"})

	time.Sleep(50 * time.Millisecond)
	if callCount != 0 {
		t.Fatalf("expected no mailbox call when every liker is the author, got %d calls", callCount)
	}
}

func TestNotify_DeliveryFailureIsLoggedNotRetried(t *testing.T) {
	repo := setupPostprocessorTestDB(t)

	mailboxAddr := "127.0.0.1:19483"
	// A rep socket that never answers: the call will time out rather than
	// fail at dial time, exercising the same "logged, not retried" path.
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	mailboxRep, err := transport.NewRepSocket(mailboxAddr, func(ctx context.Context, raw json.RawMessage) (any, error) {
		<-block
		return nil, fmt.Errorf("never answered")
	})
	if err != nil {
		t.Fatalf("mailbox rep: %v", err)
	}
	t.Cleanup(func() { mailboxRep.Close() })

	mailbox := waitDialReq(t, mailboxAddr)
	t.Cleanup(func() { mailbox.Close() })

	var loggedErr string
	svc := newTestService(repo, &scriptedEmbedder{}, &scriptedCompleter{})
	svc.mailbox = mailbox
	svc.modelDeadline = 100 * time.Millisecond
	svc.SetLogger(capturingLogger{out: &loggedErr})

	doc := &events.ExtractedDocument{RelativePath: "h.txt", UserID: "u1", LikedUsers: []string{"alice"}}
	svc.notify(context.Background(), doc, events.Notification{EventType: events.Create, RelativePath: "h.txt"})

	if loggedErr == "" {
		t.Fatalf("expected the delivery failure to be logged")
	}
}

type capturingLogger struct{ out *string }

func (l capturingLogger) Errorf(format string, args ...interface{}) {
	*l.out = fmt.Sprintf(format, args...)
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
