package oracle

import (
	"sort"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docindex/pkg/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&database.AuthorizedPath{}, &database.FolderSubscriber{}, &database.FolderFile{}); err != nil {
		t.Fatal(err)
	}
	repo := database.NewRepositoryForDB(db)
	return New(repo)
}

func TestGrantAndAuthorized(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Grant("user1", "docs/a.txt"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := svc.Grant("user1", "docs/b.txt"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	paths, err := svc.Authorized("user1")
	if err != nil {
		t.Fatalf("authorized failed: %v", err)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "docs/a.txt" || paths[1] != "docs/b.txt" {
		t.Fatalf("unexpected authorized paths: %v", paths)
	}

	ok, err := svc.IsAuthorized("user2", "docs/a.txt")
	if err != nil {
		t.Fatalf("is_authorized failed: %v", err)
	}
	if ok {
		t.Fatalf("expected user2 unauthorized for docs/a.txt")
	}
}

func TestSubscribeAndSubscribers(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Subscribe("docs", "user1"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := svc.Subscribe("docs", "user2"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	users, err := svc.Subscribers("docs")
	if err != nil {
		t.Fatalf("subscribers failed: %v", err)
	}
	sort.Strings(users)
	if len(users) != 2 || users[0] != "user1" || users[1] != "user2" {
		t.Fatalf("unexpected subscribers: %v", users)
	}
}

func TestFolderOf(t *testing.T) {
	if got := FolderOf("docs/reports/a.txt"); got != "docs/reports" {
		t.Fatalf("expected docs/reports, got %s", got)
	}
	if got := FolderOf("a.txt"); got != "/" {
		t.Fatalf("expected root for top-level file, got %s", got)
	}
}

func TestUpdateStructureIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	if err := svc.UpdateStructure("docs/a.txt", StructureCreate); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Recording the same file again is a no-op, not an error.
	if err := svc.UpdateStructure("docs/a.txt", StructureCreate); err != nil {
		t.Fatalf("repeated create failed: %v", err)
	}

	files, err := svc.FilesIn("docs")
	if err != nil {
		t.Fatalf("files_in failed: %v", err)
	}
	if len(files) != 1 || files[0] != "docs/a.txt" {
		t.Fatalf("expected exactly one recorded file, got %v", files)
	}

	if err := svc.UpdateStructure("docs/a.txt", StructureDelete); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Removing an already-absent file is also a no-op, not an error.
	if err := svc.UpdateStructure("docs/a.txt", StructureDelete); err != nil {
		t.Fatalf("repeated delete failed: %v", err)
	}

	files, err = svc.FilesIn("docs")
	if err != nil {
		t.Fatalf("files_in failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no recorded files after delete, got %v", files)
	}
}

func TestUpdateStructureCreateThenDeleteRestoresIndex(t *testing.T) {
	svc := newTestService(t)

	if err := svc.UpdateStructure("docs/a.txt", StructureCreate); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.UpdateStructure("docs/a.txt", StructureDelete); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	files, err := svc.FilesIn("docs")
	if err != nil {
		t.Fatalf("files_in failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected the prior folder index restored exactly, got %v", files)
	}
}
