// Package snapshot uploads store backups to S3-compatible object storage.
// When no bucket is configured the NoopUploader is used and backups stay
// local only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/nailguard/internal/config"
)

// ErrNotConfigured is returned when backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader uploads a backup file for the named database.
type Uploader interface {
	Upload(ctx context.Context, name string, filePath string) error
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper adapts *minio.Client to s3Client.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

// S3Uploader uploads backups to S3-compatible storage. Each upload writes
// the latest copy and a dated archive copy.
type S3Uploader struct {
	client s3Client
	bucket string
	prefix string
	now    func() time.Time
}

// Upload uploads the backup at filePath under name.
func (u *S3Uploader) Upload(ctx context.Context, name string, filePath string) error {
	for _, key := range []string{
		u.objectKey(name, "current.db"),
		u.objectKey(name, u.now().UTC().Format("2006-01-02")+".db"),
	} {
		if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
			return fmt.Errorf("upload backup %s: %w", key, err)
		}
	}
	return nil
}

// objectKey returns {prefix}/{name}/backup/{file}.
func (u *S3Uploader) objectKey(name, file string) string {
	return path.Join(u.prefix, name, "backup", file)
}

// NoopUploader is used when backup storage is not configured.
type NoopUploader struct{}

// Upload is a no-op.
func (u *NoopUploader) Upload(ctx context.Context, name string, filePath string) error {
	return nil
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrNotConfigured)
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}
