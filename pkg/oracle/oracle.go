// Package oracle implements the Access Oracle: the standalone service
// owning the user->paths authorization table, the folder->subscribers
// notification table, and the folder->files structure index mutated by
// update_structure. It is grounded on original_source/STORAGEside's
// DummyAuthDB (permissions keyed by user_id/path_id) and oracle.py's
// access-request REP loop, generalized from an in-memory dict into a
// sqlite-backed table so grants survive a restart.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"docindex/pkg/database"
	"docindex/pkg/errkind"
	"docindex/pkg/logger"
	"docindex/pkg/transport"
)

// Service answers authorization and subscriber queries against the shared
// database's AuthorizedPath/FolderSubscriber/FolderFile tables.
type Service struct {
	repo *database.Repository
	rep  *transport.RepSocket
}

// New constructs an oracle bound to repo.
func New(repo *database.Repository) *Service {
	return &Service{repo: repo}
}

// request is the wire shape accepted on the oracle's request/reply socket,
// mirroring retriever.py's {"user_id": user_id} request for authorized
// paths plus a "folder" variant for subscriber lookups and mutation ops.
type request struct {
	Op           string `json:"op"`
	UserID       string `json:"user_id,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
	Folder       string `json:"folder,omitempty"`
	StructureOp  string `json:"structure_op,omitempty"`
}

// StructureOp names the two mutations update_structure accepts, per the
// oracle's third contract operation (spec §4.4).
type StructureOp string

const (
	StructureCreate StructureOp = "create"
	StructureDelete StructureOp = "delete"
)

type response struct {
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	PathList []string `json:"pathlist,omitempty"`
	Users    []string `json:"users,omitempty"`
}

// Serve binds addr and answers requests until the returned RepSocket is
// closed. Matches oracle.py's "access 서버" role but over this module's
// request/reply transport instead of a ZeroMQ REP socket.
func (s *Service) Serve(addr string) error {
	rep, err := transport.NewRepSocket(addr, s.handle)
	if err != nil {
		return fmt.Errorf("oracle: serve %s: %w", addr, err)
	}
	s.rep = rep
	logger.Info("access oracle listening on %s", addr)
	return nil
}

// Close stops serving.
func (s *Service) Close() error {
	if s.rep != nil {
		return s.rep.Close()
	}
	return nil
}

func (s *Service) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return response{Status: "error", Error: "malformed request"}, nil
	}

	switch req.Op {
	case "authorized":
		if req.UserID == "" {
			return response{Status: "error", Error: "user_id is required"}, nil
		}
		paths, err := s.Authorized(req.UserID)
		if err != nil {
			return response{Status: "error", Error: err.Error()}, nil
		}
		return response{Status: "success", PathList: paths}, nil

	case "subscribers":
		if req.Folder == "" {
			return response{Status: "error", Error: "folder is required"}, nil
		}
		users, err := s.Subscribers(req.Folder)
		if err != nil {
			return response{Status: "error", Error: err.Error()}, nil
		}
		return response{Status: "success", Users: users}, nil

	case "grant":
		if err := s.Grant(req.UserID, req.RelativePath); err != nil {
			return response{Status: "error", Error: err.Error()}, nil
		}
		return response{Status: "success"}, nil

	case "subscribe":
		if err := s.Subscribe(req.Folder, req.UserID); err != nil {
			return response{Status: "error", Error: err.Error()}, nil
		}
		return response{Status: "success"}, nil

	case "update_structure":
		if req.RelativePath == "" {
			return response{Status: "error", Error: "relative_path is required"}, nil
		}
		if err := s.UpdateStructure(req.RelativePath, StructureOp(req.StructureOp)); err != nil {
			return response{Status: "error", Error: err.Error()}, nil
		}
		return response{Status: "success"}, nil

	default:
		return response{Status: "error", Error: fmt.Sprintf("unknown op %q", req.Op)}, nil
	}
}

// Authorized returns every relative path userID may access, the oracle's
// "access" function (original_source's DummyAuthDB.get_authorized_paths).
func (s *Service) Authorized(userID string) ([]string, error) {
	var rows []database.AuthorizedPath
	if err := s.repo.DB().Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Transport, "authorized", err)
	}
	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.RelativePath)
	}
	return paths, nil
}

// IsAuthorized reports whether userID may access relativePath, answered
// directly from this process's repository without a socket round trip.
func (s *Service) IsAuthorized(userID, relativePath string) (bool, error) {
	var count int64
	err := s.repo.DB().Model(&database.AuthorizedPath{}).
		Where("user_id = ? AND relative_path = ?", userID, relativePath).
		Count(&count).Error
	if err != nil {
		return false, errkind.New(errkind.Transport, "is_authorized", err)
	}
	return count > 0, nil
}

// Subscribers returns every user subscribed to folder's change notifications,
// the watcher's "liked_users" lookup (oracle.py's get_folder_liked_users).
func (s *Service) Subscribers(folder string) ([]string, error) {
	folder = normalizeFolder(folder)
	var rows []database.FolderSubscriber
	if err := s.repo.DB().Where("folder = ?", folder).Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Transport, "subscribers", err)
	}
	users := make([]string, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.UserID)
	}
	return users, nil
}

// Grant authorizes userID to access relativePath.
func (s *Service) Grant(userID, relativePath string) error {
	if userID == "" || relativePath == "" {
		return errkind.New(errkind.SchemaErr, "grant", fmt.Errorf("user_id and relative_path are required"))
	}
	row := database.AuthorizedPath{UserID: userID, RelativePath: relativePath}
	err := s.repo.DB().Where("user_id = ? AND relative_path = ?", userID, relativePath).
		FirstOrCreate(&row).Error
	if err != nil {
		return errkind.New(errkind.Transport, "grant", err)
	}
	return nil
}

// Revoke removes userID's access to relativePath.
func (s *Service) Revoke(userID, relativePath string) error {
	return s.repo.DB().Where("user_id = ? AND relative_path = ?", userID, relativePath).
		Delete(&database.AuthorizedPath{}).Error
}

// Subscribe registers userID for change notifications on folder.
func (s *Service) Subscribe(folder, userID string) error {
	folder = normalizeFolder(folder)
	if folder == "" || userID == "" {
		return errkind.New(errkind.SchemaErr, "subscribe", fmt.Errorf("folder and user_id are required"))
	}
	row := database.FolderSubscriber{Folder: folder, UserID: userID}
	err := s.repo.DB().Where("folder = ? AND user_id = ?", folder, userID).
		FirstOrCreate(&row).Error
	if err != nil {
		return errkind.New(errkind.Transport, "subscribe", err)
	}
	return nil
}

// Unsubscribe removes userID from folder's notification list.
func (s *Service) Unsubscribe(folder, userID string) error {
	folder = normalizeFolder(folder)
	return s.repo.DB().Where("folder = ? AND user_id = ?", folder, userID).
		Delete(&database.FolderSubscriber{}).Error
}

// UpdateStructure mutates the folder->file index when relativePath appears
// or disappears (oracle.py's scan-and-record bookkeeping, generalized into
// the shared sqlite-backed FolderFile table). Idempotent: recording a file
// already present, or removing one already absent, is a no-op that logs a
// diagnostic rather than erroring, per the spec's "idempotent with a
// diagnostic on no-op" rule.
func (s *Service) UpdateStructure(relativePath string, op StructureOp) error {
	if relativePath == "" {
		return errkind.New(errkind.SchemaErr, "update_structure", fmt.Errorf("relative_path is required"))
	}
	folder := FolderOf(relativePath)

	switch op {
	case StructureCreate:
		row := database.FolderFile{Folder: folder, RelativePath: relativePath}
		result := s.repo.DB().Where("folder = ? AND relative_path = ?", folder, relativePath).FirstOrCreate(&row)
		if result.Error != nil {
			return errkind.New(errkind.Transport, "update_structure", result.Error)
		}
		if result.RowsAffected == 0 {
			logger.Info("update_structure: %s already present under %s, no-op", relativePath, folder)
		}
		return nil

	case StructureDelete:
		result := s.repo.DB().Where("folder = ? AND relative_path = ?", folder, relativePath).Delete(&database.FolderFile{})
		if result.Error != nil {
			return errkind.New(errkind.Transport, "update_structure", result.Error)
		}
		if result.RowsAffected == 0 {
			logger.Info("update_structure: %s already absent from %s, no-op", relativePath, folder)
		}
		return nil

	default:
		return errkind.New(errkind.SchemaErr, "update_structure", fmt.Errorf("unknown structure op %q", op))
	}
}

// FilesIn returns every relative path currently recorded under folder, the
// query side of the folder->file index update_structure maintains.
func (s *Service) FilesIn(folder string) ([]string, error) {
	folder = normalizeFolder(folder)
	var rows []database.FolderFile
	if err := s.repo.DB().Where("folder = ?", folder).Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Transport, "files_in", err)
	}
	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.RelativePath)
	}
	return paths, nil
}

// FolderOf returns the immediate parent folder of relativePath, used by
// the watcher to resolve which subscriber list governs a changed file.
func FolderOf(relativePath string) string {
	return normalizeFolder(filepath.Dir(filepath.ToSlash(relativePath)))
}

func normalizeFolder(folder string) string {
	folder = filepath.ToSlash(strings.TrimSpace(folder))
	folder = strings.Trim(folder, "/")
	if folder == "" || folder == "." {
		return "/"
	}
	return folder
}
