package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
)

// StorageService stores uploaded files on local disk. Files are written to a
// temp name and renamed into place so a crash mid-write never leaves a
// half-written file under its final key.
type StorageService struct {
	cfg *config.Config
}

func NewStorageService(cfg *config.Config) *StorageService {
	// ensure local path exists
	_ = os.MkdirAll(cfg.UploadPath, 0o755)
	return &StorageService{cfg: cfg}
}

// BuildObjectKey creates a namespaced storage key for an uploaded file
func (s *StorageService) BuildObjectKey(kind string, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return fmt.Sprintf("%s/%s%s", kind, uuid.New().String(), ext)
}

// AbsPath resolves a storage key to an absolute path under the upload root
func (s *StorageService) AbsPath(key string) string {
	return filepath.Join(s.cfg.UploadPath, filepath.FromSlash(key))
}

// SaveStream saves an incoming stream to local storage and returns absolute path, size and checksum
func (s *StorageService) SaveStream(ctx context.Context, key string, r io.Reader) (string, int64, string, error) {
	absPath := s.AbsPath(key)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", 0, "", err
	}

	tmp := absPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	if err := f.Sync(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	return absPath, n, checksum, nil
}

// Remove deletes a stored file by key. Missing files are not an error so the
// caller can retry deletions idempotently.
func (s *StorageService) Remove(key string) error {
	err := os.Remove(s.AbsPath(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadFile loads a stored file fully into memory (bounded by the upload size cap).
func (s *StorageService) ReadFile(key string) ([]byte, error) {
	return os.ReadFile(s.AbsPath(key))
}

// ServeFile serves a stored file over HTTP with range support
func (s *StorageService) ServeFile(w http.ResponseWriter, req *http.Request, key, downloadName string) {
	if downloadName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", downloadName))
	}
	http.ServeFile(w, req, s.AbsPath(key))
}
