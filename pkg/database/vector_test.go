package database

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(b *testing.B) (*Repository, func()) {
	tmpDir, err := os.MkdirTemp("", "docindex-bench-*")
	if err != nil {
		b.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "bench.sqlite")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		b.Fatal(err)
	}

	if err := db.AutoMigrate(&Document{}, &Chunk{}); err != nil {
		os.RemoveAll(tmpDir)
		b.Fatal(err)
	}

	repo := &Repository{db: db, vectorEngine: NewBruteForceVectorEngine()}

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func generateRandomEmbedding(dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = rand.Float32()
	}
	return vec
}

func benchmarkSearchSimilar(b *testing.B, totalChunks int) {
	repo, cleanup := setupTestDB(b)
	defer cleanup()

	dim := 1536
	batchSize := 100

	doc := Document{RelativePath: "bench.txt", UserID: "bench-user"}
	repo.db.Create(&doc)

	chunks := make([]Chunk, batchSize)
	for i := 0; i < totalChunks; i += batchSize {
		for j := 0; j < batchSize; j++ {
			chunks[j] = Chunk{
				DocumentID:    doc.ID,
				ChunkIndex:    i + j,
				Content:       fmt.Sprintf("chunk %d", i+j),
				Embedding:     generateRandomEmbedding(dim),
				EmbeddingBlob: floatsToBytes(generateRandomEmbedding(dim)),
			}
		}
		repo.db.Create(&chunks)
	}

	queryVec := generateRandomEmbedding(dim)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := repo.SearchSimilar(queryVec, 5, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchSimilar_1000Chunks(b *testing.B) { benchmarkSearchSimilar(b, 1000) }
func BenchmarkSearchSimilar_100Chunks(b *testing.B)  { benchmarkSearchSimilar(b, 100) }
