package database

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SaveEmbedding persists the embedding vector for one chunk.
func (r *Repository) SaveEmbedding(chunkID uint, vector []float32, modelName string) error {
	blob := floatsToBytes(vector)
	result := r.db.Model(&Chunk{}).
		Where("id = ?", chunkID).
		Updates(map[string]interface{}{
			"embedding":            vector,
			"embedding_blob":       blob,
			"embedding_model":      modelName,
			"embedding_created_at": r.db.NowFunc(),
		})
	if result.Error == nil {
		r.invalidateVectorCache()
	}
	return result.Error
}

// GetChunkEmbedding retrieves the embedding for a chunk.
func (r *Repository) GetChunkEmbedding(chunkID uint) ([]float32, error) {
	var chunk Chunk
	err := r.db.Select("embedding_blob").First(&chunk, chunkID).Error
	if err == nil && len(chunk.EmbeddingBlob) > 0 {
		return bytesToFloats(chunk.EmbeddingBlob), nil
	}
	err = r.db.Select("embedding").First(&chunk, chunkID).Error
	if err != nil {
		return nil, err
	}
	return chunk.Embedding, nil
}

// SearchSimilar runs the repository's configured vector engine, restricted
// to the caller-supplied document path allow-list when non-empty (the
// retrieval agent's authorized-paths filter from the access oracle).
func (r *Repository) SearchSimilar(queryVector []float32, limit int, allowedPaths []string) ([]SimilarChunk, error) {
	return r.vectorEngine.Search(r, queryVector, limit, allowedPaths)
}

// SearchSimilarBatch runs SearchSimilar for each query vector independently
// and returns one result list per query, in query order.
func (r *Repository) SearchSimilarBatch(queryVectors [][]float32, limit int, allowedPaths []string) ([][]SimilarChunk, error) {
	results := make([][]SimilarChunk, len(queryVectors))
	for i, qv := range queryVectors {
		res, err := r.SearchSimilar(qv, limit, allowedPaths)
		if err != nil {
			return nil, fmt.Errorf("search batch query %d: %w", i, err)
		}
		results[i] = res
	}
	return results, nil
}

// SimilarChunk is a chunk scored against a query embedding.
type SimilarChunk struct {
	ChunkID      uint     `json:"chunk_id"`
	DocumentID   uint     `json:"document_id"`
	RelativePath string   `json:"relative_path"`
	Content      string   `json:"content"`
	CharStart    int      `json:"char_start"`
	CharEnd      int      `json:"char_end"`
	Similarity   float32  `json:"similarity"`
	Document     *Document `json:"document,omitempty"`
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// SaveEmbeddingBatch persists embeddings for many chunks inside a single
// transaction, the batch-embedding step's write path.
func (r *Repository) SaveEmbeddingBatch(embeddings []ChunkEmbedding) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()

	for _, emb := range embeddings {
		blob := floatsToBytes(emb.Vector)
		err := tx.Model(&Chunk{}).
			Where("id = ?", emb.ChunkID).
			Updates(map[string]interface{}{
				"embedding":            emb.Vector,
				"embedding_blob":       blob,
				"embedding_model":      emb.ModelName,
				"embedding_created_at": r.db.NowFunc(),
			}).Error
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save embedding for chunk %d: %w", emb.ChunkID, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}
	r.invalidateVectorCache()
	return nil
}

// ChunkEmbedding pairs a chunk ID with its computed embedding.
type ChunkEmbedding struct {
	ChunkID   uint
	Vector    []float32
	ModelName string
}

// GetEmbeddingStats reports coarse embedding coverage.
func (r *Repository) GetEmbeddingStats() (*EmbeddingStats, error) {
	var stats EmbeddingStats
	r.db.Model(&Chunk{}).Count(&stats.TotalChunks)
	r.db.Model(&Chunk{}).Where("embedding_blob IS NOT NULL AND length(embedding_blob) > 0").Count(&stats.EmbeddedChunks)

	var models []string
	r.db.Model(&Chunk{}).
		Where("embedding_model IS NOT NULL AND embedding_model != ''").
		Distinct("embedding_model").
		Pluck("embedding_model", &models)
	stats.Models = models
	return &stats, nil
}

// EmbeddingStats summarizes embedding coverage across all chunks.
type EmbeddingStats struct {
	TotalChunks    int64    `json:"total_chunks"`
	EmbeddedChunks int64    `json:"embedded_chunks"`
	Models         []string `json:"models"`
}

func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(bytes[i*4:], math.Float32bits(f))
	}
	return bytes
}

func bytesToFloats(bytes []byte) []float32 {
	if len(bytes)%4 != 0 {
		return nil
	}
	floats := make([]float32, len(bytes)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(bytes[i*4:]))
	}
	return floats
}

type chunkVector struct {
	ID            uint   `gorm:"primarykey"`
	DocumentID    uint
	EmbeddingBlob []byte `gorm:"type:blob"`
}

func (r *Repository) invalidateVectorCache() {
	r.vectorCacheMu.Lock()
	r.vectorCache = nil
	r.vectorCacheLoaded = false
	r.vectorCacheMu.Unlock()
}

func (r *Repository) loadVectorCache() error {
	r.vectorCacheMu.Lock()
	defer r.vectorCacheMu.Unlock()
	if r.vectorCacheLoaded {
		return nil
	}

	var rows []chunkVector
	err := r.db.Model(&Chunk{}).
		Select("id, document_id, embedding_blob").
		Where("embedding_blob IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	cache := make(map[uint][]float32, len(rows))
	for _, row := range rows {
		vec := bytesToFloats(row.EmbeddingBlob)
		if vec == nil {
			continue
		}
		cache[row.ID] = vec
	}

	r.vectorCache = cache
	r.vectorCacheLoaded = true
	return nil
}

func (r *Repository) getVectorCache() (map[uint][]float32, error) {
	r.vectorCacheMu.RLock()
	if r.vectorCacheLoaded {
		cache := r.vectorCache
		r.vectorCacheMu.RUnlock()
		return cache, nil
	}
	r.vectorCacheMu.RUnlock()

	if err := r.loadVectorCache(); err != nil {
		return nil, err
	}

	r.vectorCacheMu.RLock()
	cache := r.vectorCache
	r.vectorCacheMu.RUnlock()
	return cache, nil
}
