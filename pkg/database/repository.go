package database

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"gorm.io/gorm"
)

// Repository provides data access methods over the document/chunk index.
type Repository struct {
	db                *gorm.DB
	vectorCache       map[uint][]float32
	vectorCacheLoaded bool
	vectorCacheMu     sync.RWMutex
	vectorEngine      VectorSearchEngine
}

// NewRepositoryForDB wraps an already-open gorm handle, for callers (tests,
// and packages like the oracle that keep their tables in the same database)
// that construct their own connection instead of going through Manager.
func NewRepositoryForDB(db *gorm.DB) *Repository {
	return &Repository{db: db, vectorEngine: NewBruteForceVectorEngine()}
}

// DB exposes the underlying gorm handle for packages (the access oracle)
// that keep their own tables alongside the index's.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Repository returns the shared repository, constructing it on first use.
func (m *Manager) Repository() *Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repo == nil {
		m.repo = &Repository{db: m.db}
		m.repo.vectorEngine = NewBruteForceVectorEngine()
	}
	return m.repo
}

// ChunkInput is one chunk produced by the postprocessor's chunking stage,
// ready to be persisted alongside its embedding.
type ChunkInput struct {
	ChunkIndex     int
	CharStart      int
	CharEnd        int
	WordStart      int
	WordEnd        int
	Content        string
	Embedding      []float32
	EmbeddingModel string
}

func contentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// GetDocumentByPath retrieves a document by its relative path.
func (r *Repository) GetDocumentByPath(relativePath string) (*Document, error) {
	var doc Document
	if err := r.db.Where("relative_path = ?", relativePath).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document and its chunks (cascade), per the
// postprocessor's delete-event handling.
func (r *Repository) DeleteDocument(relativePath string) error {
	err := r.db.Where("relative_path = ?", relativePath).Delete(&Document{}).Error
	if err == nil {
		r.invalidateVectorCache()
	}
	return err
}

// DocumentNeedsIndexing reports whether content differs from what is
// recorded, or whether some chunk is missing its embedding.
func (r *Repository) DocumentNeedsIndexing(relativePath, content string) (bool, error) {
	hash := contentHash(content)

	var existing Document
	err := r.db.Where("relative_path = ?", relativePath).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return true, nil
		}
		return false, err
	}
	if existing.ContentHash != hash {
		return true, nil
	}

	var total int64
	if err := r.db.Model(&Chunk{}).Where("document_id = ?", existing.ID).Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return content != "", nil
	}

	var embedded int64
	if err := r.db.Model(&Chunk{}).
		Where("document_id = ?", existing.ID).
		Where("embedding_blob IS NOT NULL AND length(embedding_blob) > 0").
		Count(&embedded).Error; err != nil {
		return false, err
	}
	return embedded < total, nil
}

// UpsertDocumentWithChunks implements the delete-then-insert update
// protocol: the document row is upserted, its existing chunks are deleted,
// and the freshly chunked+embedded content is inserted, all inside one
// transaction so a reader never observes a half-updated document.
func (r *Repository) UpsertDocumentWithChunks(relativePath, userID, content string, contentSize int64, lastIndexed int64, chunks []ChunkInput) error {
	hash := contentHash(content)

	tx := r.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()

	doc := Document{
		RelativePath: relativePath,
		UserID:       userID,
		ContentHash:  hash,
		LastIndexed:  lastIndexed,
		ContentSize:  contentSize,
	}
	if err := tx.Where("relative_path = ?", relativePath).Assign(doc).FirstOrCreate(&doc).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Where("document_id = ?", doc.ID).Delete(&Chunk{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	now := r.db.NowFunc()
	for _, ci := range chunks {
		chunk := Chunk{
			DocumentID:     doc.ID,
			ChunkIndex:     ci.ChunkIndex,
			CharStart:      ci.CharStart,
			CharEnd:        ci.CharEnd,
			WordStart:      ci.WordStart,
			WordEnd:        ci.WordEnd,
			Content:        ci.Content,
			Embedding:      ci.Embedding,
			EmbeddingModel: ci.EmbeddingModel,
		}
		if len(ci.Embedding) > 0 {
			chunk.EmbeddingCreatedAt = &now
			chunk.EmbeddingBlob = floatsToBytes(ci.Embedding)
		}
		if err := tx.Create(&chunk).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}
	r.invalidateVectorCache()
	return nil
}

// GetChunksByDocumentID returns a document's chunks in chunk_index order.
func (r *Repository) GetChunksByDocumentID(documentID uint) ([]Chunk, error) {
	var chunks []Chunk
	err := r.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

// GetChunkByID retrieves a single chunk.
func (r *Repository) GetChunkByID(chunkID uint) (*Chunk, error) {
	var chunk Chunk
	if err := r.db.First(&chunk, chunkID).Error; err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetStats returns coarse counters used by the ambient health endpoints.
func (r *Repository) GetStats() (map[string]int64, error) {
	stats := make(map[string]int64)

	var docCount, chunkCount int64
	if err := r.db.Model(&Document{}).Count(&docCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&Chunk{}).Count(&chunkCount).Error; err != nil {
		return nil, err
	}
	stats["documents"] = docCount
	stats["chunks"] = chunkCount
	return stats, nil
}
