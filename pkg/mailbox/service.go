package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"docindex/pkg/events"
	"docindex/pkg/logger"
	"docindex/pkg/transport"
)

// postRequest is the postprocessor -> mailbox request/reply payload, per
// the external interfaces table's "Notification post" row.
type postRequest struct {
	UserIDs      []string            `json:"user_ids"`
	Notification events.Notification `json:"notification"`
}

type postResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Service binds the postprocessor-facing request/reply channel and the
// user-facing HTTP surface over one shared Store.
type Service struct {
	store *Store
	rep   *transport.RepSocket
	http  *http.Server
}

// NewService constructs a mailbox service over a fresh in-memory store.
func NewService() *Service {
	return &Service{store: NewStore()}
}

// Start binds the rep socket (repAddr) and the HTTP listener (httpAddr).
func (s *Service) Start(repAddr, httpAddr string) error {
	rep, err := transport.NewRepSocket(repAddr, s.handlePost)
	if err != nil {
		return fmt.Errorf("mailbox: bind rep: %w", err)
	}
	s.rep = rep

	mux := http.NewServeMux()
	mux.HandleFunc("/messages/", s.handleMessages)
	srv := &http.Server{Addr: httpAddr, Handler: mux}
	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		rep.Close()
		return fmt.Errorf("mailbox: bind http: %w", err)
	}
	s.http = srv
	go srv.Serve(ln)

	return nil
}

// Stop closes the rep socket first (per the fixed shutdown order: REP
// before PUSH/PULL, before REQ/ROUTER — there are no push/pull or
// req/router sockets here, so rep then http suffices) then the HTTP
// listener.
func (s *Service) Stop() error {
	if s.rep != nil {
		s.rep.Close()
	}
	if s.http != nil {
		return s.http.Close()
	}
	return nil
}

func (s *Service) handlePost(ctx context.Context, raw json.RawMessage) (any, error) {
	var req postRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return postResponse{Status: "error", Error: "malformed request"}, nil
	}
	s.store.Post(req.UserIDs, req.Notification)
	return postResponse{Status: "ok"}, nil
}

type messagesResponse struct {
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// handleMessages serves GET /messages/{user_id}.
func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/messages/")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	messages := s.store.Fetch(userID)
	resp := messagesResponse{
		UserID:       userID,
		MessageCount: len(messages),
		Messages:     messages,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("mailbox: encode messages response: %v", err)
	}
}
