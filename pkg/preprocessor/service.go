// Package preprocessor consumes the watcher's file events, drives
// format-specific text extraction, and forwards enriched events to the
// postprocessor. It also answers on-demand extracted-text fetches by
// bridging to the watcher's raw-file router channel.
//
// Grounded on original_source/file_preprocessor.py's extract-then-forward
// loop and the watcher service's push/pull + router/dealer wiring style.
package preprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docindex/pkg/errkind"
	"docindex/pkg/events"
	"docindex/pkg/extract"
	"docindex/pkg/files"
	"docindex/pkg/logger"
	"docindex/pkg/transport"
)

// Logger is the error-reporting surface this package depends on, so tests
// can supply a silent stand-in.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// Service bridges the watcher's event stream to the postprocessor, and the
// postprocessor's (or any peer's) on-demand extracted-text requests to the
// watcher's raw-file fetch.
type Service struct {
	watcherPull   *transport.PullSocket
	watcherDealer *transport.DealerSocket

	push *transport.PushSocket
	rep  *transport.RepSocket

	logger Logger
	done   chan struct{}

	fetchDeadline time.Duration
}

// Dial connects to the upstream watcher's push and router channels. Per
// the dependency order, the watcher must already be running.
func Dial(watcherPushAddr, watcherRouterAddr string) (*Service, error) {
	pull, err := transport.DialPull(watcherPushAddr)
	if err != nil {
		return nil, fmt.Errorf("preprocessor: dial watcher push: %w", err)
	}
	dealer, err := transport.DialDealer(watcherRouterAddr)
	if err != nil {
		pull.Close()
		return nil, fmt.Errorf("preprocessor: dial watcher router: %w", err)
	}
	return &Service{
		watcherPull:   pull,
		watcherDealer: dealer,
		done:          make(chan struct{}),
		fetchDeadline: 5 * time.Second,
	}, nil
}

// SetLogger installs a custom logger.
func (s *Service) SetLogger(l Logger) { s.logger = l }

// SetFetchDeadline bounds how long an on-demand fetch waits on the
// watcher's raw-file reply.
func (s *Service) SetFetchDeadline(d time.Duration) { s.fetchDeadline = d }

func (s *Service) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
		return
	}
	logger.Error(format, args...)
}

// Start binds the outbound push channel (for the postprocessor) and the
// extracted-text reply channel, then begins consuming watcher events.
func (s *Service) Start(pushAddr, repAddr string) error {
	push, err := transport.NewPushSocket(pushAddr)
	if err != nil {
		return fmt.Errorf("preprocessor: bind push: %w", err)
	}
	s.push = push

	rep, err := transport.NewRepSocket(repAddr, s.handleFetch)
	if err != nil {
		push.Close()
		return fmt.Errorf("preprocessor: bind rep: %w", err)
	}
	s.rep = rep

	go s.eventLoop()
	return nil
}

// Stop closes every socket and signals the event loop to exit.
func (s *Service) Stop() error {
	close(s.done)
	if s.push != nil {
		s.push.Close()
	}
	if s.rep != nil {
		s.rep.Close()
	}
	s.watcherPull.Close()
	s.watcherDealer.Close()
	return nil
}

// eventLoop consumes the watcher's push stream one event at a time. A
// single event failure never halts the stream, per the failure semantics.
func (s *Service) eventLoop() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		raw, err := s.watcherPull.Recv(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.errorf("preprocessor: recv watcher event: %v", err)
			continue
		}

		evt, err := events.UnmarshalFileEvent(raw)
		if err != nil {
			s.errorf("preprocessor: malformed file event: %v", err)
			continue
		}

		doc := s.process(evt)
		if err := s.push.Send(doc); err != nil {
			s.errorf("preprocessor: forward extracted document: %v", err)
		}
	}
}

// process implements the event-forwarding rules: delete passes through
// immediately with content=null; create/update attempt extraction, and a
// failure is forwarded as extraction_failed rather than dropped.
func (s *Service) process(evt *events.FileEvent) *events.ExtractedDocument {
	if evt.EventType == events.Delete {
		return &events.ExtractedDocument{
			EventType:    events.Delete,
			RelativePath: evt.RelativePath,
			UserID:       evt.UserID,
			Timestamp:    evt.Timestamp,
			Status:       events.Deleted,
			LikedUsers:   evt.LikedUsers,
		}
	}

	content, err := extract.Extract(evt.RelativePath, evt.FileContent)
	if err != nil {
		s.errorf("preprocessor: extract %s: %v", evt.RelativePath, err)
		return &events.ExtractedDocument{
			EventType:    evt.EventType,
			RelativePath: evt.RelativePath,
			UserID:       evt.UserID,
			Timestamp:    evt.Timestamp,
			Status:       events.ExtractionFailed,
			LikedUsers:   evt.LikedUsers,
		}
	}

	return &events.ExtractedDocument{
		EventType:     evt.EventType,
		RelativePath:  evt.RelativePath,
		UserID:        evt.UserID,
		Timestamp:     evt.Timestamp,
		Content:       &content,
		ContentLength: len(content),
		Status:        events.Processed,
		DiffKind:      evt.DiffKind,
		DiffText:      evt.DiffText,
		LikedUsers:    evt.LikedUsers,
	}
}

type fetchRequest struct {
	RelativePath string `json:"relative_path"`

	// CharStart/CharEnd, when CharEnd > CharStart, request only that
	// substring of the extracted text, per the retrieval agent's
	// fetch_substring contract (spec section 4.5's iteration loop).
	CharStart int `json:"char_start,omitempty"`
	CharEnd   int `json:"char_end,omitempty"`
}

type watcherFetchResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Bytes  []byte `json:"bytes"`
	Size   int64  `json:"size"`
	Name   string `json:"name"`
}

type fetchResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Content string `json:"content,omitempty"`
	Length  int    `json:"length,omitempty"`
	Name    string `json:"name,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// handleFetch implements the on-demand fetch contract: call the peer
// watcher for raw bytes, write them to a scratch location, extract text,
// and return {content, length, name, size}. The scratch file is removed
// on every return path.
func (s *Service) handleFetch(ctx context.Context, raw json.RawMessage) (any, error) {
	var req fetchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fetchResponse{Status: "error", Error: "malformed request"}, nil
	}

	replyRaw, err := s.watcherDealer.Call(ctx, map[string]string{"relative_path": req.RelativePath}, s.fetchDeadline)
	if err != nil {
		return fetchResponse{Status: "error", Error: err.Error()}, nil
	}

	var watcherResp watcherFetchResponse
	if err := json.Unmarshal(replyRaw, &watcherResp); err != nil {
		return fetchResponse{Status: "error", Error: "malformed watcher response"}, nil
	}
	if watcherResp.Status != "success" {
		return fetchResponse{Status: "error", Error: watcherResp.Error}, nil
	}

	scratchPath, err := files.WriteScratch("docindex-fetch-*"+filepath.Ext(req.RelativePath), watcherResp.Bytes)
	if err != nil {
		return fetchResponse{Status: "error", Error: "scratch write failed"}, nil
	}
	defer os.Remove(scratchPath)

	content, err := extract.Extract(req.RelativePath, watcherResp.Bytes)
	if err != nil {
		if errkind.Is(err, errkind.Unsupported) {
			return fetchResponse{Status: "error", Error: "unsupported"}, nil
		}
		return fetchResponse{Status: "error", Error: "extraction_failed"}, nil
	}

	if req.CharEnd > req.CharStart {
		content = substring(content, req.CharStart, req.CharEnd)
	}

	return fetchResponse{
		Status:  "ok",
		Content: content,
		Length:  len(content),
		Name:    watcherResp.Name,
		Size:    watcherResp.Size,
	}, nil
}

// substring returns content[start:end] by rune offset, clamped to
// content's bounds, so a chunk boundary computed against a prior
// extraction never panics against a since-changed file.
func substring(content string, start, end int) string {
	runes := []rune(content)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
