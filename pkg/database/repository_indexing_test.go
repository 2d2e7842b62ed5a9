package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepositoryTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "docindex-repo-test-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "repo.sqlite")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	if err := db.AutoMigrate(&Document{}, &Chunk{}); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	repo := &Repository{
		db:           db,
		vectorEngine: NewBruteForceVectorEngine(),
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

func TestDocumentNeedsIndexing_WhenNoChunksYet(t *testing.T) {
	repo, cleanup := setupRepositoryTestDB(t)
	defer cleanup()

	content := "hello world"
	if err := repo.UpsertDocumentWithChunks("a.txt", "u1", content, int64(len(content)), 1, nil); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	needs, err := repo.DocumentNeedsIndexing("a.txt", content)
	if err != nil {
		t.Fatalf("DocumentNeedsIndexing failed: %v", err)
	}
	if !needs {
		t.Fatalf("expected reindex needed when chunks/embeddings are missing")
	}
}

func TestDocumentNeedsIndexing_WhenContentChanged(t *testing.T) {
	repo, cleanup := setupRepositoryTestDB(t)
	defer cleanup()

	content := "old content"
	if err := repo.UpsertDocumentWithChunks("b.txt", "u1", content, int64(len(content)), 1, nil); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	needs, err := repo.DocumentNeedsIndexing("b.txt", "new content")
	if err != nil {
		t.Fatalf("DocumentNeedsIndexing failed: %v", err)
	}
	if !needs {
		t.Fatalf("expected reindex needed when content hash changes")
	}
}

func TestDocumentNeedsIndexing_WhenEmbeddingsComplete(t *testing.T) {
	repo, cleanup := setupRepositoryTestDB(t)
	defer cleanup()

	content := "chunk one. chunk two."
	chunks := []ChunkInput{
		{ChunkIndex: 0, Content: "chunk one.", Embedding: []float32{0.1, 0.2}, EmbeddingModel: "m1"},
		{ChunkIndex: 1, Content: "chunk two.", Embedding: []float32{0.3, 0.4}, EmbeddingModel: "m1"},
	}
	if err := repo.UpsertDocumentWithChunks("c.txt", "u1", content, int64(len(content)), 1, chunks); err != nil {
		t.Fatalf("upsert with chunks failed: %v", err)
	}

	needs, err := repo.DocumentNeedsIndexing("c.txt", content)
	if err != nil {
		t.Fatalf("DocumentNeedsIndexing failed: %v", err)
	}
	if needs {
		t.Fatalf("expected no reindex when content unchanged and embeddings complete")
	}
}

func TestUpsertDocumentWithChunks_ReplacesPriorChunks(t *testing.T) {
	repo, cleanup := setupRepositoryTestDB(t)
	defer cleanup()

	first := []ChunkInput{{ChunkIndex: 0, Content: "v1", Embedding: []float32{1, 0}}}
	if err := repo.UpsertDocumentWithChunks("d.txt", "u1", "v1", 2, 1, first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := []ChunkInput{{ChunkIndex: 0, Content: "v2a", Embedding: []float32{0, 1}}, {ChunkIndex: 1, Content: "v2b", Embedding: []float32{1, 1}}}
	if err := repo.UpsertDocumentWithChunks("d.txt", "u1", "v2a v2b", 7, 2, second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	doc, err := repo.GetDocumentByPath("d.txt")
	if err != nil {
		t.Fatalf("get document failed: %v", err)
	}
	chunks, err := repo.GetChunksByDocumentID(doc.ID)
	if err != nil {
		t.Fatalf("get chunks failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected old chunks replaced, got %d chunks", len(chunks))
	}
}
