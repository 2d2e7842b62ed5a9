package database

import "sort"

const (
	VectorEngineBruteForce = "brute-force"
	VectorEngineQdrant     = "qdrant"
)

// VectorSearchEngine is a pluggable vector retrieval backend. The default
// is brute-force cosine search over the in-process chunk cache; Qdrant is
// the alternate backend for deployments that outgrow a single sqlite file.
type VectorSearchEngine interface {
	Search(repo *Repository, queryVector []float32, limit int, allowedPaths []string) ([]SimilarChunk, error)
	Name() string
}

// BruteForceVectorEngine is the default in-process search implementation.
type BruteForceVectorEngine struct{}

func NewBruteForceVectorEngine() *BruteForceVectorEngine { return &BruteForceVectorEngine{} }

func (e *BruteForceVectorEngine) Name() string { return VectorEngineBruteForce }

// SetVectorEngine selects a vector search engine by name, falling back to
// brute-force for an unrecognized name.
func (r *Repository) SetVectorEngine(name string) string {
	switch name {
	case VectorEngineQdrant:
		engine, err := NewQdrantEngineFromEnv()
		if err != nil {
			r.vectorEngine = NewBruteForceVectorEngine()
			return r.vectorEngine.Name()
		}
		r.vectorEngine = engine
	default:
		r.vectorEngine = NewBruteForceVectorEngine()
	}
	return r.vectorEngine.Name()
}

// GetVectorEngine returns the active engine's name.
func (r *Repository) GetVectorEngine() string {
	if r.vectorEngine == nil {
		r.vectorEngine = NewBruteForceVectorEngine()
	}
	return r.vectorEngine.Name()
}

type scoredChunk struct {
	ID         uint
	Similarity float32
}

func (e *BruteForceVectorEngine) Search(repo *Repository, queryVector []float32, limit int, allowedPaths []string) ([]SimilarChunk, error) {
	cache, err := repo.getVectorCache()
	if err != nil {
		return nil, err
	}

	scores := make([]scoredChunk, 0, len(cache))
	for id, vec := range cache {
		if len(vec) != len(queryVector) {
			continue
		}
		scores = append(scores, scoredChunk{ID: id, Similarity: cosineSimilarity(queryVector, vec)})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Similarity > scores[j].Similarity })

	query := repo.db.Preload("Document")
	if len(allowedPaths) > 0 {
		query = query.Joins("JOIN documents ON documents.id = chunks.document_id").
			Where("documents.relative_path IN ?", allowedPaths)
	}

	// Over-fetch before filtering by allow-list so the final result still
	// has `limit` entries when some top-scored chunks get excluded.
	fetchN := limit
	if fetchN > 0 && len(allowedPaths) > 0 {
		fetchN = limit * 4
	}
	if fetchN > 0 && len(scores) > fetchN {
		scores = scores[:fetchN]
	}
	if len(scores) == 0 {
		return []SimilarChunk{}, nil
	}

	topIDs := make([]uint, len(scores))
	scoreMap := make(map[uint]float32, len(scores))
	for i, s := range scores {
		topIDs[i] = s.ID
		scoreMap[s.ID] = s.Similarity
	}

	var fullChunks []Chunk
	if err := query.Where("chunks.id IN ?", topIDs).Find(&fullChunks).Error; err != nil {
		return nil, err
	}

	results := make([]SimilarChunk, 0, len(fullChunks))
	for _, chunk := range fullChunks {
		relPath := ""
		if chunk.Document != nil {
			relPath = chunk.Document.RelativePath
		}
		results = append(results, SimilarChunk{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			RelativePath: relPath,
			Content:      chunk.Content,
			CharStart:    chunk.CharStart,
			CharEnd:      chunk.CharEnd,
			Similarity:   scoreMap[chunk.ID],
			Document:     chunk.Document,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
