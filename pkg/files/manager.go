package files

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docindex/pkg/errkind"
)

// Manager resolves relative paths against a single watched root, enforcing
// the path-containment and extension allow-list rules shared by the
// watcher's raw-file fetch and the preprocessor's on-demand extraction.
type Manager struct {
	basePath          string
	allowedExtensions map[string]bool
	mu                sync.RWMutex
}

// NewManager creates a file manager with no base path set.
func NewManager() *Manager {
	return &Manager{allowedExtensions: map[string]bool{}}
}

// SetBasePath sets the watched root. The path must exist and be a directory.
func (m *Manager) SetBasePath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return &FileSystemError{Op: "stat", Path: path, Err: err}
	}
	if !info.IsDir() {
		return &FileSystemError{Op: "validate", Path: path, Err: os.ErrInvalid}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return &FileSystemError{Op: "absolute", Path: path, Err: err}
	}

	m.basePath = absPath
	return nil
}

// GetBasePath returns the current watched root.
func (m *Manager) GetBasePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.basePath
}

// SetAllowedExtensions replaces the accepted-suffix allow-list (e.g. ".txt").
func (m *Manager) SetAllowedExtensions(exts []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedExtensions = make(map[string]bool, len(exts))
	for _, e := range exts {
		m.allowedExtensions[strings.ToLower(e)] = true
	}
}

// IsAllowedExtension reports whether path's extension is in the allow-list.
func (m *Manager) IsAllowedExtension(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.allowedExtensions) == 0 {
		return true
	}
	return m.allowedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Resolve normalizes relativePath against the watched root and rejects
// anything that would escape it, per the watcher's raw-file fetch contract
// ("rejects paths that escape the watched root (after normalization)").
func (m *Manager) Resolve(relativePath string) (string, error) {
	m.mu.RLock()
	basePath := m.basePath
	m.mu.RUnlock()

	if basePath == "" {
		return "", errkind.New(errkind.NotFound, "resolve", os.ErrNotExist)
	}

	fullPath := filepath.Join(basePath, filepath.FromSlash(relativePath))

	rel, err := filepath.Rel(basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errkind.New(errkind.OutOfRoot, "resolve", os.ErrPermission)
	}

	return fullPath, nil
}

// ReadRawFile reads the raw bytes of relativePath, enforcing containment
// and the extension allow-list.
func (m *Manager) ReadRawFile(relativePath string) (*RawFile, error) {
	if !m.IsAllowedExtension(relativePath) {
		return nil, errkind.New(errkind.Unsupported, "read", os.ErrInvalid)
	}

	fullPath, err := m.Resolve(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.NotFound, "read", err)
		}
		return nil, &FileSystemError{Op: "stat", Path: fullPath, Err: err}
	}
	if info.IsDir() {
		return nil, errkind.New(errkind.NotFound, "read", os.ErrInvalid)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, &FileSystemError{Op: "read", Path: fullPath, Err: err}
	}

	return &RawFile{
		RelativePath: filepath.ToSlash(relativePath),
		Bytes:        data,
		Size:         int64(len(data)),
		Name:         filepath.Base(fullPath),
	}, nil
}

// FileExists reports whether relativePath exists under the watched root.
func (m *Manager) FileExists(relativePath string) bool {
	fullPath, err := m.Resolve(relativePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// WriteScratch writes data to a per-request unique temp file and returns its
// path. Callers must remove it on every return path (spec: "scratch files
// are per-request unique and deleted by the creating handler").
func WriteScratch(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
