package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"docindex/pkg/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Manager owns the sqlite-backed gorm connection shared by the index
// repository and the access oracle's authorization tables; the snapshot
// store opens its own sqlite file. glebarez/sqlite is pure Go (no cgo), so
// one driver serves both databases without a build-tag split.
type Manager struct {
	db      *gorm.DB
	dbPath  string
	dataDir string
	repo    *Repository
	mu      sync.RWMutex
	initErr error
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process-wide database manager singleton.
func GetInstance() *Manager {
	once.Do(func() {
		instance = &Manager{}
	})
	return instance
}

// Init opens (or reopens) the sqlite database rooted at dataDir/data.
func (m *Manager) Init(dataDir string) error {
	timer := logger.StartTimer()
	logger.InfoWithFields(context.TODO(), map[string]interface{}{"data_dir": dataDir}, "initializing database")

	m.mu.Lock()
	sameDir := m.dataDir == dataDir && dataDir != ""
	if sameDir && m.db != nil && m.initErr == nil {
		m.mu.Unlock()
		return nil
	}
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	m.db = nil
	m.dbPath = ""
	m.dataDir = dataDir
	m.repo = nil
	m.initErr = nil
	m.mu.Unlock()

	storeDir := filepath.Join(dataDir, "data")
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		logger.ErrorWithFields(context.TODO(), map[string]interface{}{
			"store_dir": storeDir, "error": err.Error(),
		}, "failed to create data directory")
		m.mu.Lock()
		m.initErr = &DatabaseError{Op: "create_data_dir", Err: err}
		m.mu.Unlock()
		return m.initErr
	}

	dbPath := filepath.Join(storeDir, "docindex.sqlite")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.ErrorWithFields(context.TODO(), map[string]interface{}{
			"db_path": dbPath, "error": err.Error(),
		}, "failed to open database")
		m.mu.Lock()
		m.initErr = &DatabaseError{Op: "open_database", Err: err}
		m.mu.Unlock()
		return m.initErr
	}

	if err := applyPragmas(db); err != nil {
		logger.WarnWithFields(context.TODO(), map[string]interface{}{"error": err.Error()},
			"failed to apply one or more sqlite pragmas")
	}

	m.mu.Lock()
	m.db = db
	m.dbPath = dbPath
	m.dataDir = dataDir
	m.repo = nil
	m.initErr = nil
	m.mu.Unlock()

	if err := m.AutoMigrate(); err != nil {
		logger.ErrorWithFields(context.TODO(), map[string]interface{}{"error": err.Error()},
			"failed to run database migrations")
		if sqlDB, closeErr := db.DB(); closeErr == nil {
			_ = sqlDB.Close()
		}
		m.mu.Lock()
		m.db = nil
		m.initErr = &DatabaseError{Op: "migrate", Err: err}
		m.mu.Unlock()
		return m.initErr
	}

	logger.InfoWithDuration(context.TODO(), timer(), "database initialized: %s", dbPath)
	return nil
}

func applyPragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying sqlite connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB returns the gorm handle for internal package use.
func (m *Manager) GetDB() *gorm.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// GetDBPath returns the sqlite file path.
func (m *Manager) GetDBPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dbPath
}

// IsInitialized reports whether Init has succeeded.
func (m *Manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db != nil
}

// Reset clears the singleton; used by tests to get a fresh Manager.
func Reset() {
	once = sync.Once{}
	instance = nil
}
