// Package events defines the wire envelopes exchanged over the message
// bus: the watcher's FileEvent and the preprocessor's ExtractedDocument.
// Both are modeled as discriminated unions tagged by EventType/Status,
// rejecting unknown tags at the parser rather than leaving Go's zero value
// to silently stand in for an unrecognized kind.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a FileEvent's kind.
type EventType string

const (
	Create EventType = "create"
	Update EventType = "update"
	Delete EventType = "delete"
)

func (t EventType) valid() bool {
	switch t {
	case Create, Update, Delete:
		return true
	}
	return false
}

// DiffKind tags the kind of unified diff carried by an update.
type DiffKind string

const (
	DiffNewFile      DiffKind = "new_file"
	DiffModification DiffKind = "modification"
)

// FileEvent is emitted by the watcher on its push channel, per the data
// model's "File event": event_type, relative_path, user_id, timestamp,
// payload, committed flag, and liked_users.
type FileEvent struct {
	EventType    EventType `json:"event_type"`
	RelativePath string    `json:"relative_path"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`

	// Payload, only present for create/update.
	FileContent []byte   `json:"file_content"` // base64 via json on []byte; "" for an empty file, null for delete
	FileSize    int64    `json:"file_size,omitempty"`
	DiffKind    DiffKind `json:"diff_kind,omitempty"`
	DiffText    string   `json:"diff_text,omitempty"`

	Committed  bool     `json:"committed"`
	LikedUsers []string `json:"liked_users"`
}

// Validate rejects a FileEvent with an unrecognized or missing EventType,
// and a create/update event lacking FileContent (delete carries none).
func (e *FileEvent) Validate() error {
	if !e.EventType.valid() {
		return fmt.Errorf("file event: unknown event_type %q", e.EventType)
	}
	if e.RelativePath == "" {
		return fmt.Errorf("file event: missing relative_path")
	}
	if e.EventType != Delete && e.FileContent == nil {
		return fmt.Errorf("file event: %s requires file_content", e.EventType)
	}
	return nil
}

// MarshalFileEvent serializes e as the JSON wire form (base64-encoded bytes
// happen automatically via encoding/json's []byte handling).
func MarshalFileEvent(e *FileEvent) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalFileEvent parses and validates a FileEvent, rejecting payloads
// whose event_type tag is not one of the known variants.
func UnmarshalFileEvent(data []byte) (*FileEvent, error) {
	var e FileEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("file event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DocStatus tags an ExtractedDocument's kind.
type DocStatus string

const (
	Processed        DocStatus = "processed"
	Deleted           DocStatus = "deleted"
	ExtractionFailed  DocStatus = "extraction_failed"
)

func (s DocStatus) valid() bool {
	switch s {
	case Processed, Deleted, ExtractionFailed:
		return true
	}
	return false
}

// ExtractedDocument is produced by the preprocessor and pushed to the
// postprocessor, per the data model's "Extracted document".
type ExtractedDocument struct {
	EventType    EventType `json:"event_type"`
	RelativePath string    `json:"relative_path"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`

	Content       *string `json:"content"`
	ContentLength int     `json:"content_length,omitempty"`
	Status        DocStatus `json:"status"`

	DiffKind DiffKind `json:"diff_kind,omitempty"`
	DiffText string   `json:"diff_text,omitempty"`

	LikedUsers []string `json:"liked_users"`
}

// Validate rejects an ExtractedDocument with an unrecognized status tag or
// a processed document missing content.
func (d *ExtractedDocument) Validate() error {
	if !d.Status.valid() {
		return fmt.Errorf("extracted document: unknown status %q", d.Status)
	}
	if d.Status == Processed && d.Content == nil {
		return fmt.Errorf("extracted document: processed requires content")
	}
	return nil
}

// UnmarshalExtractedDocument parses and validates an ExtractedDocument.
func UnmarshalExtractedDocument(data []byte) (*ExtractedDocument, error) {
	var d ExtractedDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("extracted document: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Chunk is the logical unit of indexing, per the data model's "Chunk".
type Chunk struct {
	ChunkIndex int    `json:"chunk_index"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	WordStart  int    `json:"word_start"`
	WordEnd    int    `json:"word_end"`
	Text       string `json:"text"`
}

// Notification is the payload delivered to a folder's subscribers on a
// successful ingest, per section 4.3 "Notification".
type Notification struct {
	EventType    EventType `json:"event_type"`
	RelativePath string    `json:"relative_path"`
	Summary      string    `json:"summary"`
	Timestamp    time.Time `json:"timestamp"`
}
