package storage

import (
	"context"
	"io"
)

// FileStorage stores uploaded files under caller chosen keys.
type FileStorage interface {
	// SaveFile stores the content under key and returns its public URL.
	SaveFile(ctx context.Context, key string, file io.Reader, contentType string) (string, error)
	// DeleteFile removes a file by the URL SaveFile returned.
	DeleteFile(ctx context.Context, fileURL string) error
}
