package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioStore implements Store on a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to a MinIO endpoint with static credentials.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client %s: %w", endpoint, err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Download fetches bucket/key into localPath. It streams through GetObject
// rather than FGetObject so no ".part.minio" sibling is left behind on failure.
func (m *MinioStore) Download(ctx context.Context, key, localPath string) error {
	log.Debug().Str("bucket", m.bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from MinIO")

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return m.downloadErr(key, err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		return m.downloadErr(key, err)
	}

	f, done, err := createLocal(localPath)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, obj)
	done(err != nil)
	if err != nil {
		return m.downloadErr(key, err)
	}
	log.Debug().Str("key", key).Int64("bytes", n).Msg("MinIO download complete")
	return nil
}

func (m *MinioStore) downloadErr(key string, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, m.bucket, key)
	}
	return fmt.Errorf("minio GetObject %s: %w", key, err)
}

// Upload puts localPath at bucket/key, replacing any existing object.
func (m *MinioStore) Upload(ctx context.Context, key, localPath, contentType string) error {
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserTags:    map[string]string{"Project": "video-summary-worker"},
	})
	if err != nil {
		return fmt.Errorf("minio FPutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", m.bucket).Str("key", key).Int64("bytes", info.Size).Msg("Uploaded to MinIO")
	return nil
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
