// Package postprocessor implements the heart of the ingestion pipeline
// (spec section 4.3): it consumes extracted documents from the
// preprocessor, chunks and embeds their content, performs the
// delete-then-insert index update, summarizes the change, and dispatches
// a notification to the file's subscribers.
//
// Grounded on original_source/file_postprocessor.py's handle_create /
// handle_update / handle_delete dispatch and the watcher/preprocessor
// services' push/pull consumption loop.
package postprocessor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docindex/pkg/chunking"
	"docindex/pkg/config"
	"docindex/pkg/database"
	"docindex/pkg/errkind"
	"docindex/pkg/events"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
	"docindex/pkg/transport"
)

// Logger is the error-reporting surface this package depends on.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// Embedder is the subset of llm.Service this package depends on for
// batch embedding, decoupled so tests can supply a fake.
type Embedder interface {
	EmbedBatch(texts []string) ([]*llm.EmbeddingResponse, error)
}

// Completer is the subset of llm.Service this package depends on for
// summarization, decoupled so tests can supply a fake. Identical in
// shape to chunking.Completer, kept distinct so this package does not
// need to import that package's interface name.
type Completer interface {
	Complete(messages []llm.ChatMessage) (*llm.CompletionResponse, error)
}

// Service consumes the preprocessor's extracted-document stream and
// drives chunking, embedding, index updates, summarization, and
// notification dispatch.
type Service struct {
	pull    *transport.PullSocket
	mailbox *transport.ReqSocket

	repo      *database.Repository
	embedder  Embedder
	completer Completer
	chunker   *chunking.Chunker

	embeddingModel  string
	summarizeFanOut int
	modelDeadline   time.Duration

	logger      Logger
	traceWriter *logger.KafkaWriter
	done        chan struct{}
}

// Dial connects to the upstream preprocessor's push channel and the
// mailbox's request/reply channel. Per the dependency order, both must
// already be running.
func Dial(preprocessorPushAddr, mailboxAddr string, repo *database.Repository, llmSvc *llm.Service, cfg *config.Config) (*Service, error) {
	pull, err := transport.DialPull(preprocessorPushAddr)
	if err != nil {
		return nil, fmt.Errorf("postprocessor: dial preprocessor push: %w", err)
	}
	mailbox, err := transport.DialReq(mailboxAddr)
	if err != nil {
		pull.Close()
		return nil, fmt.Errorf("postprocessor: dial mailbox: %w", err)
	}

	chunkCfg := cfg.GetChunkingConfig()
	modelCfg := cfg.GetModelConfig()
	transportCfg := cfg.GetTransportConfig()

	return &Service{
		pull:            pull,
		mailbox:         mailbox,
		repo:            repo,
		embedder:        llmSvc,
		completer:       llmSvc,
		chunker:         chunking.NewChunker(llmSvc, chunkCfg),
		embeddingModel:  modelCfg.EmbeddingModel,
		summarizeFanOut: maxInt(chunkCfg.SummarizeFanOut, 1),
		modelDeadline:   time.Duration(transportCfg.ModelDeadlineMS) * time.Millisecond,
		done:            make(chan struct{}),
	}, nil
}

// SetLogger installs a custom logger.
func (s *Service) SetLogger(l Logger) { s.logger = l }

// SetTraceWriter installs a Kafka sink for notification-dispatch trace
// events, distinct from the notification delivery path itself (that goes
// over the mailbox request/reply socket regardless). A nil writer, or one
// for which Kafka is unconfigured, is a silent no-op.
func (s *Service) SetTraceWriter(w *logger.KafkaWriter) { s.traceWriter = w }

func (s *Service) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
		return
	}
	logger.Error(format, args...)
}

// Start begins consuming the preprocessor's extracted-document stream.
func (s *Service) Start() {
	go s.eventLoop()
}

// Stop signals the event loop to exit and closes every socket.
func (s *Service) Stop() error {
	close(s.done)
	s.pull.Close()
	s.mailbox.Close()
	return nil
}

// eventLoop consumes one extracted document at a time. A single
// document's failure never halts the stream, per the failure semantics.
func (s *Service) eventLoop() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		raw, err := s.pull.Recv(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.errorf("postprocessor: recv extracted document: %v", err)
			continue
		}

		doc, err := events.UnmarshalExtractedDocument(raw)
		if err != nil {
			s.errorf("postprocessor: malformed extracted document: %v", err)
			continue
		}

		if err := s.Process(ctx, doc); err != nil {
			s.errorf("postprocessor: process %s: %v", doc.RelativePath, err)
		}
	}
}

// Process dispatches one extracted document per its status, per
// file_postprocessor.py's handle_create/handle_update/handle_delete.
func (s *Service) Process(ctx context.Context, doc *events.ExtractedDocument) error {
	switch doc.Status {
	case events.Deleted:
		return s.processDelete(ctx, doc)
	case events.ExtractionFailed:
		// Recorded on the forwarded event already; the pipeline does not
		// halt, and there is nothing further to index or notify.
		return nil
	case events.Processed:
		return s.processUpsert(ctx, doc)
	default:
		return fmt.Errorf("unknown extracted document status %q", doc.Status)
	}
}

func (s *Service) processDelete(ctx context.Context, doc *events.ExtractedDocument) error {
	if err := s.repo.DeleteDocument(doc.RelativePath); err != nil {
		return errkind.New(errkind.IndexErr, "delete_document", err)
	}

	s.notify(ctx, doc, events.Notification{
		EventType:    events.Delete,
		RelativePath: doc.RelativePath,
		Summary:      fmt.Sprintf("%s was deleted.", baseName(doc.RelativePath)),
		Timestamp:    doc.Timestamp,
	})
	return nil
}

func (s *Service) processUpsert(ctx context.Context, doc *events.ExtractedDocument) error {
	content := ""
	if doc.Content != nil {
		content = *doc.Content
	}

	chunks, err := s.chunker.Chunk(ctx, content)
	if err != nil {
		return errkind.New(errkind.ModelErr, "chunk", err)
	}

	chunkInputs, err := s.embedChunks(chunks)
	if err != nil {
		return err
	}

	if err := s.upsertWithRetry(doc.RelativePath, doc.UserID, content, int64(len(content)), chunkInputs); err != nil {
		return err
	}

	summary, err := s.summarize(ctx, doc, chunks)
	if err != nil {
		s.errorf("postprocessor: summarize %s: %v", doc.RelativePath, err)
		summary = fmt.Sprintf("%s was %s.", baseName(doc.RelativePath), verbFor(doc.EventType))
	}

	s.notify(ctx, doc, events.Notification{
		EventType:    doc.EventType,
		RelativePath: doc.RelativePath,
		Summary:      summary,
		Timestamp:    doc.Timestamp,
	})
	return nil
}

// embedChunks issues a single batched embedding call for every chunk's
// text; the returned vector count must equal the chunk count, per the
// spec's "Embedding" rule (a mismatch is fatal for the file).
func (s *Service) embedChunks(chunks []events.Chunk) ([]database.ChunkInput, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	results, err := s.embedder.EmbedBatch(texts)
	if err != nil {
		return nil, errkind.New(errkind.ModelErr, "embed_batch", err)
	}
	if len(results) != len(chunks) {
		return nil, errkind.New(errkind.ModelErr, "embed_batch",
			fmt.Errorf("embedding count %d does not match chunk count %d", len(results), len(chunks)))
	}

	inputs := make([]database.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = database.ChunkInput{
			ChunkIndex:     c.ChunkIndex,
			CharStart:      c.CharStart,
			CharEnd:        c.CharEnd,
			WordStart:      c.WordStart,
			WordEnd:        c.WordEnd,
			Content:        c.Text,
			Embedding:      results[i].Embedding,
			EmbeddingModel: s.embeddingModel,
		}
	}
	return inputs, nil
}

// upsertWithRetry implements "index errors are retried once then
// surfaced": the delete-then-insert transaction is attempted a second
// time on failure before the error is returned to the caller, which logs
// it and leaves the previous generation visible.
func (s *Service) upsertWithRetry(relativePath, userID, content string, contentSize int64, chunks []database.ChunkInput) error {
	now := time.Now().Unix()
	err := s.repo.UpsertDocumentWithChunks(relativePath, userID, content, contentSize, now, chunks)
	if err == nil {
		return nil
	}
	err = s.repo.UpsertDocumentWithChunks(relativePath, userID, content, contentSize, now, chunks)
	if err != nil {
		return errkind.New(errkind.IndexErr, "upsert_document", err)
	}
	return nil
}

// notify delivers the notification to every liked_user of doc except its
// authoring user_id. Delivery errors are logged, not retried.
func (s *Service) notify(ctx context.Context, doc *events.ExtractedDocument, note events.Notification) {
	recipients := make([]string, 0, len(doc.LikedUsers))
	for _, u := range doc.LikedUsers {
		if u != doc.UserID {
			recipients = append(recipients, u)
		}
	}
	if len(recipients) == 0 {
		return
	}

	req := postRequest{UserIDs: recipients, Notification: note}
	if _, err := s.mailbox.Call(ctx, req, s.modelDeadline); err != nil {
		s.errorf("postprocessor: notify %s: %v", doc.RelativePath, err)
	}

	s.traceWriter.Write(logger.LogEntry{
		Time:    time.Now(),
		Level:   logger.INFO,
		Message: "notification dispatched",
		Fields: map[string]interface{}{
			"relative_path":  doc.RelativePath,
			"event_type":     string(note.EventType),
			"recipient_count": len(recipients),
		},
	})
}

type postRequest struct {
	UserIDs      []string            `json:"user_ids"`
	Notification events.Notification `json:"notification"`
}

func baseName(relativePath string) string {
	if idx := strings.LastIndexAny(relativePath, "/\\"); idx >= 0 {
		return relativePath[idx+1:]
	}
	return relativePath
}

func verbFor(t events.EventType) string {
	switch t {
	case events.Create:
		return "created"
	case events.Update:
		return "updated"
	default:
		return "changed"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
