package database

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupVectorEngineTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "docindex-vector-engine-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "vector.sqlite")
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

	repo := &Repository{db: db, vectorEngine: NewBruteForceVectorEngine()}
	cleanup := func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

func TestSearchSimilar_FiltersByAllowedPaths(t *testing.T) {
	repo, cleanup := setupVectorEngineTestDB(t)
	defer cleanup()

	docA := Document{RelativePath: "a.txt", UserID: "u1"}
	docB := Document{RelativePath: "b.txt", UserID: "u1"}
	repo.db.Create(&docA)
	repo.db.Create(&docB)

	for i := 0; i < 3; i++ {
		vec := []float32{float32(i) + 1, 0.5}
		repo.db.Create(&Chunk{
			DocumentID:    docA.ID,
			ChunkIndex:    i,
			Content:       fmt.Sprintf("a-chunk-%d", i),
			Embedding:     vec,
			EmbeddingBlob: floatsToBytes(vec),
		})
	}
	vecB := []float32{1, 0.5}
	repo.db.Create(&Chunk{
		DocumentID:    docB.ID,
		ChunkIndex:    0,
		Content:       "b-chunk-0",
		Embedding:     vecB,
		EmbeddingBlob: floatsToBytes(vecB),
	})

	results, err := repo.SearchSimilar([]float32{1, 0.5}, 10, []string{"a.txt"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected only a.txt's 3 chunks, got %d", len(results))
	}
	for _, r := range results {
		if r.RelativePath != "a.txt" {
			t.Fatalf("expected only a.txt results, got %s", r.RelativePath)
		}
	}
}

func TestSetVectorEngine_UnknownFallsBack(t *testing.T) {
	repo, cleanup := setupVectorEngineTestDB(t)
	defer cleanup()

	effective := repo.SetVectorEngine("unknown-engine")
	if effective != VectorEngineBruteForce {
		t.Fatalf("expected fallback to %s, got %s", VectorEngineBruteForce, effective)
	}
}
