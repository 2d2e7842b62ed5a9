// Package watcher implements the Watcher component: it observes a single
// watched root, turns filesystem mutations into an ordered stream of
// events.FileEvent messages on a push channel, maintains a textual version
// snapshot per file to compute update diffs, serves on-demand raw-file
// fetches over a router channel, and consults the Access Oracle to populate
// each event's liked_users set. Grounded on original_source/Watcher/watch.py
// for the detect-debounce-commit-emit flow and on the teacher's
// pkg/watcher/service.go for the debounce-timer + worker-semaphore +
// eventLoop/workerLoop architecture.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docindex/pkg/errkind"
	"docindex/pkg/events"
	"docindex/pkg/files"
	"docindex/pkg/logger"
	"docindex/pkg/oracle"
	"docindex/pkg/snapshot"
	"docindex/pkg/transport"
)

// Subscribers answers the "who is watching this folder" question the
// watcher needs to populate liked_users. *oracle.Service satisfies it when
// the oracle shares this process; a transport-backed client satisfies it
// when the oracle runs as its own binary.
type Subscribers interface {
	Subscribers(folder string) ([]string, error)
}

// StructureUpdater mutates the access oracle's folder->file index when a
// file appears or disappears, the oracle's update_structure contract
// operation (spec §4.4). *oracle.Service satisfies it when the oracle
// shares this process; *oracleclient.Client satisfies it when the oracle
// runs as its own binary.
type StructureUpdater interface {
	UpdateStructure(relativePath string, op oracle.StructureOp) error
}

// Service watches baseDir, pushing events.FileEvent messages and serving
// raw-file fetches.
type Service struct {
	baseDir   string
	userID    string
	fm        *files.Manager
	snap      *snapshot.Store
	subs      Subscribers
	structure StructureUpdater
	logger    Logger
	watcher   *fsnotify.Watcher
	push      *transport.PushSocket
	router    *transport.RouterSocket

	eventQueue chan fileEvent
	done       chan struct{}
	mu         sync.RWMutex

	pendingEvents map[string]*time.Timer
	pendingMu     sync.Mutex
	debounceDelay time.Duration

	workerSem chan struct{}
}

// fileEvent is the internal debounced-and-queued representation of one
// fsnotify mutation, distinct from the wire-level events.FileEvent it is
// translated into once processed.
type fileEvent struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// IndexProgress tracks a full rescan of the watched root.
type IndexProgress struct {
	Total     int
	Processed int
	Failed    int
	Current   string
	mu        sync.Mutex
	Done      chan struct{}
}

// Logger is the minimal error-reporting surface the watcher needs; tests may
// pass a stub.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// NewService constructs a watcher over baseDir. userID is the ingest
// principal recorded on every emitted event (config.Watch.IngestUserID).
// structure is consulted on every create/delete to keep the oracle's
// folder->file index current.
func NewService(baseDir string, fm *files.Manager, snap *snapshot.Store, subs Subscribers, structure StructureUpdater, userID string) (*Service, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %w", err)
	}

	return &Service{
		baseDir:       baseDir,
		userID:        userID,
		fm:            fm,
		snap:          snap,
		subs:          subs,
		structure:     structure,
		watcher:       w,
		eventQueue:    make(chan fileEvent, 100),
		done:          make(chan struct{}),
		pendingEvents: make(map[string]*time.Timer),
		debounceDelay: 500 * time.Millisecond,
		workerSem:     make(chan struct{}, 3),
	}, nil
}

// SetDebounceDelay overrides the default 500ms debounce window.
func (s *Service) SetDebounceDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounceDelay = d
}

// SetWorkerCount overrides the default worker concurrency of 3.
func (s *Service) SetWorkerCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerSem = make(chan struct{}, n)
}

// SetLogger installs a custom error logger.
func (s *Service) SetLogger(l Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

func (s *Service) errorf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l != nil {
		l.Errorf(format, args...)
	} else {
		logger.Error(format, args...)
	}
}

// Start begins watching baseDir and binds the push and router sockets named
// in the spec's transport topology: pushAddr carries FileEvents outbound,
// routerAddr answers raw-file fetches.
func (s *Service) Start(pushAddr, routerAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.watcher.Add(s.baseDir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", s.baseDir, err)
	}

	push, err := transport.NewPushSocket(pushAddr)
	if err != nil {
		return fmt.Errorf("watcher: push socket %s: %w", pushAddr, err)
	}
	s.push = push

	router, err := transport.NewRouterSocket(routerAddr, s.handleFetch)
	if err != nil {
		push.Close()
		return fmt.Errorf("watcher: router socket %s: %w", routerAddr, err)
	}
	s.router = router

	go s.eventLoop()
	go s.workerLoop()

	logger.Info("watcher observing %s (push %s, router %s)", s.baseDir, pushAddr, routerAddr)
	return nil
}

// Stop shuts the watcher down gracefully, draining any queued events.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.done)

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("watcher: close: %w", err)
		}
	}
	if s.push != nil {
		s.push.Close()
	}
	if s.router != nil {
		s.router.Close()
	}
	return nil
}

func (s *Service) eventLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.errorf("watcher error: %v", err)

		case <-s.done:
			return
		}
	}
}

func (s *Service) workerLoop() {
	for {
		select {
		case event := <-s.eventQueue:
			s.processFile(event.Path, event.Op)

		case <-s.done:
			for len(s.eventQueue) > 0 {
				event := <-s.eventQueue
				s.processFile(event.Path, event.Op)
			}
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if !s.fm.IsAllowedExtension(event.Name) {
		return
	}

	relPath, err := filepath.Rel(s.baseDir, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	if isTemporaryFile(relPath) || isInIgnoredDir(relPath) {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create && isDir(event.Name) {
		s.mu.RLock()
		if s.watcher != nil {
			_ = s.watcher.Add(event.Name)
		}
		s.mu.RUnlock()
		return
	}

	s.pendingMu.Lock()
	if timer, exists := s.pendingEvents[relPath]; exists {
		timer.Stop()
	}
	s.pendingEvents[relPath] = time.AfterFunc(s.debounceDelay, func() {
		s.eventQueue <- fileEvent{Path: relPath, Op: event.Op, Timestamp: time.Now()}
		s.pendingMu.Lock()
		delete(s.pendingEvents, relPath)
		s.pendingMu.Unlock()
	})
	s.pendingMu.Unlock()
}

func (s *Service) processFile(path string, op fsnotify.Op) {
	select {
	case s.workerSem <- struct{}{}:
		defer func() { <-s.workerSem }()
	case <-s.done:
		return
	}

	switch {
	case op&fsnotify.Remove == fsnotify.Remove:
		s.handleRemove(path)
	case op&fsnotify.Rename == fsnotify.Rename:
		s.handleRemove(path)
	case op&fsnotify.Create == fsnotify.Create, op&fsnotify.Write == fsnotify.Write:
		s.handleWrite(path)
	}
}

// handleWrite commits the new content to the snapshot store, resolves
// liked_users via the oracle, and emits a create/update FileEvent. A read
// failure, such as a file vanishing between detection and read, is logged
// and the event dropped: nothing is emitted downstream for it and it is not
// retried.
func (s *Service) handleWrite(path string) {
	raw, err := s.fm.ReadRawFile(path)
	if err != nil {
		s.errorf("watcher: read %s: %v", path, err)
		return
	}

	result, commitErr := s.snap.Commit(path, string(raw.Bytes))
	committed := commitErr == nil
	if commitErr != nil {
		s.errorf("watcher: snapshot commit %s: %v", path, commitErr)
	}

	eventType := events.Update
	if committed && result.Kind == snapshot.DiffNewFile {
		eventType = events.Create
	}

	if eventType == events.Create {
		if err := s.structure.UpdateStructure(path, oracle.StructureCreate); err != nil {
			s.errorf("watcher: update_structure create %s: %v", path, err)
		}
	}

	liked, err := s.subs.Subscribers(oracle.FolderOf(path))
	if err != nil {
		s.errorf("watcher: subscribers lookup for %s: %v", path, err)
		liked = nil
	}

	evt := events.FileEvent{
		EventType:    eventType,
		RelativePath: path,
		UserID:       s.userID,
		Timestamp:    time.Now(),
		FileContent:  raw.Bytes,
		FileSize:     raw.Size,
		Committed:    committed,
		LikedUsers:   liked,
	}
	if committed {
		evt.DiffKind = events.DiffKind(result.Kind)
		evt.DiffText = result.Text
	}

	if err := s.push.Send(&evt); err != nil {
		s.errorf("watcher: emit %s event for %s: %v", eventType, path, err)
	}
}

// handleRemove commits a removal to the snapshot store (forgetting the
// file's history) and emits a delete FileEvent.
func (s *Service) handleRemove(path string) {
	if err := s.snap.Forget(path); err != nil {
		s.errorf("watcher: snapshot forget %s: %v", path, err)
	}

	if err := s.structure.UpdateStructure(path, oracle.StructureDelete); err != nil {
		s.errorf("watcher: update_structure delete %s: %v", path, err)
	}

	liked, err := s.subs.Subscribers(oracle.FolderOf(path))
	if err != nil {
		s.errorf("watcher: subscribers lookup for %s: %v", path, err)
		liked = nil
	}

	evt := events.FileEvent{
		EventType:    events.Delete,
		RelativePath: path,
		UserID:       s.userID,
		Timestamp:    time.Now(),
		Committed:    true,
		LikedUsers:   liked,
	}
	if err := s.push.Send(&evt); err != nil {
		s.errorf("watcher: emit delete event for %s: %v", path, err)
	}
}

// fetchRequest is the wire shape accepted on the router channel, per the
// spec's raw-file fetch contract.
type fetchRequest struct {
	RelativePath string `json:"relative_path"`
}

type fetchResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Name   string `json:"name,omitempty"`
}

// handleFetch answers a raw-file fetch over the router socket: rejects
// paths that escape the watched root or fail the extension allow-list with
// out_of_root/unsupported/not_found, otherwise returns the base64-encoded
// bytes, size, and name.
func (s *Service) handleFetch(_ context.Context, raw json.RawMessage) (any, error) {
	var req fetchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fetchResponse{Status: "error", Error: "malformed request"}, nil
	}

	file, err := s.fm.ReadRawFile(req.RelativePath)
	if err != nil {
		kind := "not_found"
		switch {
		case errkind.Is(err, errkind.OutOfRoot):
			kind = "out_of_root"
		case errkind.Is(err, errkind.Unsupported):
			kind = "unsupported"
		}
		return fetchResponse{Status: "error", Error: kind}, nil
	}

	return fetchResponse{Status: "success", Bytes: file.Bytes, Size: file.Size, Name: file.Name}, nil
}

// IndexAll performs a full rescan of the watched root, committing every
// eligible file's current content and emitting the resulting events as if
// each had just been written. Used for cold-start catch-up.
func (s *Service) IndexAll(ctx context.Context, paths []string) *IndexProgress {
	progress := &IndexProgress{Total: len(paths), Done: make(chan struct{})}
	go s.runFullIndex(ctx, paths, progress)
	return progress
}

func (s *Service) runFullIndex(ctx context.Context, paths []string, progress *IndexProgress) {
	var wg sync.WaitGroup

	for _, path := range paths {
		select {
		case <-ctx.Done():
			goto done
		case <-s.done:
			goto done
		default:
		}

		select {
		case s.workerSem <- struct{}{}:
		case <-ctx.Done():
			goto done
		case <-s.done:
			goto done
		}

		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer func() { <-s.workerSem }()

			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
			}

			progress.mu.Lock()
			progress.Current = p
			progress.mu.Unlock()

			s.handleWrite(p)

			progress.mu.Lock()
			progress.Processed++
			progress.mu.Unlock()
		}(path)
	}

done:
	wg.Wait()
	progress.Done <- struct{}{}
}

// GetProgress reports a snapshot of a full-rescan's progress.
func (p *IndexProgress) GetProgress() (total, processed, failed int, current string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Total, p.Processed, p.Failed, p.Current
}

func isTemporaryFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && strings.HasSuffix(base, ".swp") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

func isInIgnoredDir(path string) bool {
	path = filepath.ToSlash(path)
	parts := strings.Split(path, "/")
	ignored := []string{".git", "node_modules", ".idea", "target", "dist", "build", ".docindex"}
	for _, part := range parts {
		for _, ig := range ignored {
			if part == ig {
				return true
			}
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := getFileStatRaw(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
