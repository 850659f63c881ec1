// Package storage provides temporary working files and published artifact
// storage. It defines the Storage interface (port) for hexagonal
// architecture and implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary and published file storage.
// Temporary files hold downloaded tracks and ffmpeg output while a job is
// being combined; Upload publishes the final artifact.
type Storage interface {
	// TempDir returns the directory holding temporary files.
	TempDir() string

	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload publishes data under key and returns the URL it is served from.
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
}
