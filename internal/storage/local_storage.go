package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"orator-go/internal/config"
)

// FileInfo holds basic information and the access path of an uploaded file.
type FileInfo struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// FileStorage stores uploaded profile pictures.
type FileStorage interface {
	// UploadFile writes the reader's content to the storage backend and
	// returns its public URL.
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}

// LocalFileStorage implements FileStorage on the local filesystem.
type LocalFileStorage struct {
	basePath string
	baseURL  string
}

// NewLocalFileStorage creates a LocalFileStorage rooted at the configured
// path; baseURL is the prefix under which the files are served.
func NewLocalFileStorage(cfg config.StorageConfig, baseURL string) (FileStorage, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory %q: %w", cfg.LocalPath, err)
	}
	return &LocalFileStorage{basePath: cfg.LocalPath, baseURL: baseURL}, nil
}

// UploadFile saves the file under a fresh unique name, preserving the
// original extension when present.
func (s *LocalFileStorage) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		extensions, _ := mime.ExtensionsByType(mimeType)
		if len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	uniqueFileName := uuid.New().String() + ext
	dstPath := filepath.Join(s.basePath, uniqueFileName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %q: %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("file size mismatch: expected %d, wrote %d", fileSize, written)
	}

	fileURL := strings.TrimSuffix(s.baseURL, "/") + "/" + url.PathEscape(uniqueFileName)
	return &FileInfo{
		URL:      fileURL,
		Path:     dstPath,
		Size:     fileSize,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}
