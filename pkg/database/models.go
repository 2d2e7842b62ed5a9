package database

import (
	"time"

	"gorm.io/gorm"
)

// Document represents one watched file's current indexed state, keyed by
// its relative path within the watched root, per the data model's
// "Document" (one row per relative_path currently known to the system).
type Document struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RelativePath string `gorm:"uniqueIndex;not null" json:"relative_path"`
	UserID       string `gorm:"index" json:"user_id"`
	ContentHash  string `gorm:"index;size:64" json:"content_hash"`
	LastIndexed  int64  `json:"last_indexed"` // unix timestamp
	ContentSize  int64  `json:"content_size"` // bytes of extracted text, pre-chunking

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
}

func (Document) TableName() string { return "documents" }

// Chunk is the logical unit of indexing produced by semantic chunking, per
// the data model's "Chunk": chunk_index, char/word offsets, text, and an
// embedding vector.
type Chunk struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	ChunkIndex int    `gorm:"index" json:"chunk_index"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	WordStart  int    `json:"word_start"`
	WordEnd    int    `json:"word_end"`
	Content    string `gorm:"type:text" json:"content"`

	Embedding          []float32  `gorm:"type:json;serializer:json" json:"embedding"`
	EmbeddingBlob      []byte     `gorm:"type:blob" json:"-"`
	EmbeddingModel     string     `gorm:"size:64" json:"embedding_model"`
	EmbeddingCreatedAt *time.Time `json:"embedding_created_at"`
}

func (Chunk) TableName() string { return "chunks" }

// GetEmbedding returns the embedding from whichever storage populated it,
// preferring the binary blob.
func (c *Chunk) GetEmbedding() []float32 {
	if len(c.EmbeddingBlob) > 0 {
		if vec := bytesToFloats(c.EmbeddingBlob); len(vec) > 0 {
			return vec
		}
	}
	if len(c.Embedding) > 0 {
		return c.Embedding
	}
	return nil
}

// AuthorizedPath records that a user may access a given relative path, the
// Access Oracle's user->paths table.
type AuthorizedPath struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID       string `gorm:"index:idx_user_path,unique" json:"user_id"`
	RelativePath string `gorm:"index:idx_user_path,unique" json:"relative_path"`
}

func (AuthorizedPath) TableName() string { return "authorized_paths" }

// FolderSubscriber records that a user subscribes to change notifications
// for a folder, the Access Oracle's folder->subscribers table.
type FolderSubscriber struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Folder string `gorm:"index:idx_folder_user,unique" json:"folder"`
	UserID string `gorm:"index:idx_folder_user,unique" json:"user_id"`
}

func (FolderSubscriber) TableName() string { return "folder_subscribers" }

// FolderFile records that relative_path currently exists within folder, the
// Access Oracle's folder->file index mutated by update_structure on
// create/delete.
type FolderFile struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Folder       string `gorm:"index:idx_folder_file,unique" json:"folder"`
	RelativePath string `gorm:"index:idx_folder_file,unique" json:"relative_path"`
}

func (FolderFile) TableName() string { return "folder_files" }
