package database

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const qdrantCollection = "docindex_chunks"

// QdrantEngine delegates vector search to a Qdrant collection instead of
// the in-process brute-force cache. Chunk rows remain the source of truth
// for text/offsets; Qdrant only stores point id -> vector plus a
// relative_path payload field used to apply the access oracle's path
// allow-list as a server-side filter instead of an over-fetch-then-filter
// pass.
type QdrantEngine struct {
	client *qdrant.Client
}

// NewQdrantEngine connects to a Qdrant instance at host:port and ensures
// the chunk collection exists with the given vector dimension.
func NewQdrantEngine(host string, port int, dim int) (*QdrantEngine, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	ctx := context.Background()
	exists, err := client.CollectionExists(ctx, qdrantCollection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qdrantCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: create collection: %w", err)
		}
	}

	return &QdrantEngine{client: client}, nil
}

// NewQdrantEngineFromEnv builds a QdrantEngine from DOCINDEX_QDRANT_HOST /
// DOCINDEX_QDRANT_PORT / DOCINDEX_QDRANT_DIM, the knobs set by deployments
// that opt into the Qdrant backend via config.
func NewQdrantEngineFromEnv() (*QdrantEngine, error) {
	host := os.Getenv("DOCINDEX_QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if v := os.Getenv("DOCINDEX_QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	dim := 1536
	if v := os.Getenv("DOCINDEX_QDRANT_DIM"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			dim = d
		}
	}
	return NewQdrantEngine(host, port, dim)
}

func (e *QdrantEngine) Name() string { return VectorEngineQdrant }

// UpsertChunk writes one chunk's vector into Qdrant, tagging the point with
// its relative_path so Search can filter server-side by the oracle's
// authorized-paths list.
func (e *QdrantEngine) UpsertChunk(ctx context.Context, chunkID uint, relativePath string, vector []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(chunkID)),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"relative_path": relativePath,
		}),
	}
	_, err := e.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qdrantCollection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert chunk %d: %w", chunkID, err)
	}
	return nil
}

// DeleteByPath tombstones every point belonging to relativePath, the
// delete-then-insert protocol's delete half for the Qdrant backend.
func (e *QdrantEngine) DeleteByPath(ctx context.Context, relativePath string) error {
	_, err := e.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qdrantCollection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("relative_path", relativePath),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete path %s: %w", relativePath, err)
	}
	return nil
}

// Search queries Qdrant for the nearest chunks, restricted server-side to
// allowedPaths when non-empty, then hydrates the result with the chunk
// rows still held in sqlite (text, offsets, document metadata).
func (e *QdrantEngine) Search(repo *Repository, queryVector []float32, limit int, allowedPaths []string) ([]SimilarChunk, error) {
	ctx := context.Background()

	req := &qdrant.QueryPoints{
		CollectionName: qdrantCollection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(allowedPaths) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(allowedPaths))
		for _, p := range allowedPaths {
			conditions = append(conditions, qdrant.NewMatch("relative_path", p))
		}
		req.Filter = &qdrant.Filter{Should: conditions}
	}

	points, err := e.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	ids := make([]uint, 0, len(points))
	scoreByID := make(map[uint]float32, len(points))
	for _, pt := range points {
		id := uint(pt.Id.GetNum())
		ids = append(ids, id)
		scoreByID[id] = pt.Score
	}
	if len(ids) == 0 {
		return []SimilarChunk{}, nil
	}

	var chunks []Chunk
	if err := repo.db.Preload("Document").Where("id IN ?", ids).Find(&chunks).Error; err != nil {
		return nil, err
	}

	results := make([]SimilarChunk, 0, len(chunks))
	for _, chunk := range chunks {
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
			Similarity:   scoreByID[chunk.ID],
			Document:     chunk.Document,
		})
	}
	return results, nil
}
