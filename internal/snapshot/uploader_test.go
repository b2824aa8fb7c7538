package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/nailguard/internal/config"
)

func TestNoopUploader_Upload_IsNoOp(t *testing.T) {
	u := &NoopUploader{}
	if err := u.Upload(context.Background(), "nailguard", "/some/path"); err != nil {
		t.Errorf("NoopUploader.Upload() should not error, got %v", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	u, err := NewUploader(config.BackupConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_MissingEndpoint(t *testing.T) {
	_, err := NewUploader(config.BackupConfig{Bucket: "b"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	useSSL := false
	u, err := NewUploader(config.BackupConfig{
		Bucket:    "test-bucket",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &useSSL,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Prefix:    "home",
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "test-bucket" || s3u.prefix != "home" {
		t.Errorf("uploader = %+v", s3u)
	}
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	keys      []string
	filePaths []string
	bucket    string
	err       error
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	m.bucket = bucket
	m.keys = append(m.keys, objectName)
	m.filePaths = append(m.filePaths, filePath)
	return m.err
}

func TestS3Uploader_Upload_WritesCurrentAndArchive(t *testing.T) {
	mock := &mockS3Client{}
	u := &S3Uploader{
		client: mock,
		bucket: "test-bucket",
		prefix: "home",
		now:    func() time.Time { return time.Date(2026, 2, 4, 23, 0, 0, 0, time.UTC) },
	}

	if err := u.Upload(context.Background(), "nailguard", "/data/snapshots/current.db"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	want := []string{
		"home/nailguard/backup/current.db",
		"home/nailguard/backup/2026-02-04.db",
	}
	if len(mock.keys) != len(want) {
		t.Fatalf("keys = %v, want %v", mock.keys, want)
	}
	for i := range want {
		if mock.keys[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, mock.keys[i], want[i])
		}
		if mock.filePaths[i] != "/data/snapshots/current.db" {
			t.Errorf("filePath[%d] = %q", i, mock.filePaths[i])
		}
	}
	if mock.bucket != "test-bucket" {
		t.Errorf("bucket = %q, want test-bucket", mock.bucket)
	}
}

func TestS3Uploader_Upload_Error(t *testing.T) {
	mock := &mockS3Client{err: errors.New("connection refused")}
	u := &S3Uploader{client: mock, bucket: "b", now: time.Now}

	err := u.Upload(context.Background(), "nailguard", "/x")
	if err == nil {
		t.Fatal("Upload() expected error")
	}
	if len(mock.keys) != 1 {
		t.Errorf("upload continued after failure: %v", mock.keys)
	}
}
