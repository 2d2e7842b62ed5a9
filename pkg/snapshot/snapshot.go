// Package snapshot is the watcher's own version history store. The
// original implementation shelled out to a git repository for per-file
// version diffs; this module keeps one sqlite table of prior file content
// per relative path instead, and computes unified diffs with
// pmezard/go-difflib on demand. A table survives process restarts the same
// way a git repo would, without requiring a git binary on the host.
package snapshot

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pmezard/go-difflib/difflib"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Entry is one committed version of a relative path's content.
type Entry struct {
	ID           uint      `gorm:"primarykey"`
	RelativePath string    `gorm:"index;not null"`
	Content      string    `gorm:"type:text"`
	CommittedAt  time.Time `gorm:"index"`
}

func (Entry) TableName() string { return "snapshot_entries" }

// Store owns the snapshot database and computes diffs against the most
// recently committed version of a path.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the snapshot database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "snapshots.sqlite")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("snapshot: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DiffKind tags whether a Commit introduced the path for the first time or
// modified an existing one, mirroring events.DiffKind.
type DiffKind string

const (
	DiffNewFile      DiffKind = "new_file"
	DiffModification DiffKind = "modification"
)

// Result is what Commit reports back to the watcher for inclusion in the
// FileEvent it emits.
type Result struct {
	Kind DiffKind
	Text string
}

// Commit records content as the new version of relativePath and returns a
// unified diff against the previously committed version, if any. The first
// commit for a path reports DiffNewFile with the whole content as the diff
// body, matching the watcher's create-event contract.
func (s *Store) Commit(relativePath, content string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev Entry
	err := s.db.Where("relative_path = ?", relativePath).
		Order("committed_at DESC").
		First(&prev).Error

	entry := Entry{RelativePath: relativePath, Content: content, CommittedAt: time.Now()}
	if createErr := s.db.Create(&entry).Error; createErr != nil {
		return Result{}, fmt.Errorf("snapshot: commit %s: %w", relativePath, createErr)
	}

	if err == gorm.ErrRecordNotFound {
		return Result{Kind: DiffNewFile, Text: content}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: lookup prior version of %s: %w", relativePath, err)
	}

	diffText, diffErr := unifiedDiff(relativePath, prev.Content, content)
	if diffErr != nil {
		return Result{}, diffErr
	}
	return Result{Kind: DiffModification, Text: diffText}, nil
}

// Latest returns the most recently committed content for relativePath.
func (s *Store) Latest(relativePath string) (string, error) {
	var entry Entry
	err := s.db.Where("relative_path = ?", relativePath).
		Order("committed_at DESC").
		First(&entry).Error
	if err != nil {
		return "", err
	}
	return entry.Content, nil
}

// Forget removes all recorded versions of relativePath, called on delete
// events so a later recreate starts a fresh history.
func (s *Store) Forget(relativePath string) error {
	return s.db.Where("relative_path = ?", relativePath).Delete(&Entry{}).Error
}

func unifiedDiff(relativePath, before, after string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: relativePath,
		ToFile:   relativePath,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
