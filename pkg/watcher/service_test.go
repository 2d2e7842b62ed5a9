package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docindex/pkg/events"
	"docindex/pkg/files"
	"docindex/pkg/oracle"
	"docindex/pkg/snapshot"
	"docindex/pkg/transport"
)

type fakeSubscribers struct {
	byFolder map[string][]string
}

func (f *fakeSubscribers) Subscribers(folder string) ([]string, error) {
	return f.byFolder[folder], nil
}

type fakeStructureUpdater struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeStructureUpdater) UpdateStructure(relativePath string, op oracle.StructureOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, relativePath+":"+string(op))
	return nil
}

func newTestService(t *testing.T, pushAddr string) (*Service, string, *fakeStructureUpdater) {
	t.Helper()
	root := t.TempDir()
	dataDir := t.TempDir()

	fm := files.NewManager()
	if err := fm.SetBasePath(root); err != nil {
		t.Fatalf("set base path: %v", err)
	}
	fm.SetAllowedExtensions([]string{".txt"})

	snap, err := snapshot.Open(dataDir)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { snap.Close() })

	subs := &fakeSubscribers{byFolder: map[string][]string{"/": {"alice"}}}
	structure := &fakeStructureUpdater{}

	svc, err := NewService(root, fm, snap, subs, structure, "watcher")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.SetDebounceDelay(10 * time.Millisecond)

	push, err := transport.NewPushSocket(pushAddr)
	if err != nil {
		t.Fatalf("push socket: %v", err)
	}
	svc.push = push
	t.Cleanup(func() { push.Close() })

	return svc, root, structure
}

// drainEvents dials the watcher's push socket and decodes every FileEvent it
// emits onto a channel, retrying the dial briefly since NewPushSocket's
// listener goroutine may not have started accepting yet.
func drainEvents(t *testing.T, addr string) (<-chan *events.FileEvent, func()) {
	t.Helper()

	var pull *transport.PullSocket
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pull, err = transport.DialPull(addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial pull socket %s: %v", addr, err)
	}

	ch := make(chan *events.FileEvent, 8)
	go func() {
		for {
			raw, err := pull.Recv(context.Background())
			if err != nil {
				return
			}
			var evt events.FileEvent
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			ch <- &evt
		}
	}()

	return ch, func() { pull.Close() }
}

func TestHandleWrite_EmitsCreateThenUpdate(t *testing.T) {
	addr := "127.0.0.1:18181"
	svc, root, structure := newTestService(t, addr)
	events_, closeEvents := drainEvents(t, addr)
	defer closeEvents()

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	svc.handleWrite("a.txt")

	evt := waitForEvent(t, events_)
	if evt.EventType != events.Create {
		t.Fatalf("expected create event, got %s", evt.EventType)
	}
	if evt.DiffKind != events.DiffNewFile {
		t.Fatalf("expected new_file diff kind, got %s", evt.DiffKind)
	}
	if len(evt.LikedUsers) != 1 || evt.LikedUsers[0] != "alice" {
		t.Fatalf("expected liked_users [alice], got %v", evt.LikedUsers)
	}
	if evt.UserID != "watcher" {
		t.Fatalf("expected ingest principal watcher, got %s", evt.UserID)
	}
	if len(structure.calls) != 1 || structure.calls[0] != "a.txt:create" {
		t.Fatalf("expected update_structure create call for a.txt, got %v", structure.calls)
	}

	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	svc.handleWrite("a.txt")

	evt = waitForEvent(t, events_)
	if evt.EventType != events.Update {
		t.Fatalf("expected update event, got %s", evt.EventType)
	}
	if evt.DiffKind != events.DiffModification {
		t.Fatalf("expected modification diff kind, got %s", evt.DiffKind)
	}
	if len(structure.calls) != 1 {
		t.Fatalf("expected no additional update_structure call on update, got %v", structure.calls)
	}
}

func TestHandleRemove_EmitsDeleteAndForgetsHistory(t *testing.T) {
	addr := "127.0.0.1:18182"
	svc, root, structure := newTestService(t, addr)
	events_, closeEvents := drainEvents(t, addr)
	defer closeEvents()

	path := filepath.Join(root, "b.txt")
	os.WriteFile(path, []byte("content"), 0o644)
	svc.handleWrite("b.txt")
	waitForEvent(t, events_)

	svc.handleRemove("b.txt")
	evt := waitForEvent(t, events_)
	if evt.EventType != events.Delete {
		t.Fatalf("expected delete event, got %s", evt.EventType)
	}
	if !evt.Committed {
		t.Fatalf("expected committed=true for delete")
	}

	if _, err := svc.snap.Latest("b.txt"); err == nil {
		t.Fatalf("expected history to be forgotten after delete")
	}
	if len(structure.calls) != 2 || structure.calls[1] != "b.txt:delete" {
		t.Fatalf("expected update_structure create then delete calls, got %v", structure.calls)
	}
}

func TestHandleFetch_RejectsEscapeAndMissingFile(t *testing.T) {
	svc, root, _ := newTestService(t, "127.0.0.1:18183")

	path := filepath.Join(root, "c.txt")
	os.WriteFile(path, []byte("data"), 0o644)

	reply, err := svc.handleFetch(context.Background(), mustJSON(t, fetchRequest{RelativePath: "c.txt"}))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	resp := reply.(fetchResponse)
	if resp.Status != "success" || string(resp.Bytes) != "data" {
		t.Fatalf("unexpected fetch response: %+v", resp)
	}

	reply, _ = svc.handleFetch(context.Background(), mustJSON(t, fetchRequest{RelativePath: "../outside.txt"}))
	resp = reply.(fetchResponse)
	if resp.Status != "error" || resp.Error != "out_of_root" {
		t.Fatalf("expected out_of_root error, got %+v", resp)
	}

	reply, _ = svc.handleFetch(context.Background(), mustJSON(t, fetchRequest{RelativePath: "missing.txt"}))
	resp = reply.(fetchResponse)
	if resp.Status != "error" {
		t.Fatalf("expected error for missing file, got %+v", resp)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func waitForEvent(t *testing.T, ch <-chan *events.FileEvent) *events.FileEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
