package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileStorage implements FileStorage on the local filesystem.
type LocalFileStorage struct {
	basePath string
	baseURL  string
}

// NewLocalFileStorage creates the base directory if needed.
func NewLocalFileStorage(basePath, baseURL string) (*LocalFileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalFileStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// SaveFile writes the content to basePath/key.
func (s *LocalFileStorage) SaveFile(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create file directory: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file on disk: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to save file content: %w", err)
	}

	return s.baseURL + "/" + strings.TrimLeft(filepath.ToSlash(key), "/"), nil
}

// DeleteFile removes the file behind a URL returned by SaveFile. Missing files
// are not an error.
func (s *LocalFileStorage) DeleteFile(ctx context.Context, fileURL string) error {
	key := strings.TrimPrefix(fileURL, s.baseURL+"/")
	fullPath, err := s.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// pathFor maps a key below basePath and rejects keys escaping it.
func (s *LocalFileStorage) pathFor(key string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(key))
	if cleaned == string(filepath.Separator) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.basePath, cleaned), nil
}
