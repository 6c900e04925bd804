// Package artifact moves job artifacts between local scratch files and the
// shared object store. Two backends exist: AWS S3 (or any S3-compatible
// endpoint through the AWS SDK) and MinIO.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned by Download when the key does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store transfers whole objects. Both operations overwrite their target.
type Store interface {
	// Download writes the object at key to localPath.
	Download(ctx context.Context, key, localPath string) error
	// Upload writes the file at localPath to key with the given content type.
	Upload(ctx context.Context, key, localPath, contentType string) error
}

// ContentTypeText is used for transcript and summary objects.
const ContentTypeText = "text/plain; charset=utf-8"

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=video-summary-worker"

// createLocal opens localPath for writing and returns a cleanup that removes
// the partial file when the transfer did not complete.
func createLocal(localPath string) (*os.File, func(failed bool), error) {
	f, err := os.Create(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create file: %w", err)
	}
	return f, func(failed bool) {
		f.Close()
		if failed {
			os.Remove(localPath)
		}
	}, nil
}
