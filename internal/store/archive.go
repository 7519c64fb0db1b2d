package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// EvidenceArchive stores full evidence bundles in object storage so the
// database only carries the bounded summary plus an object key.
type EvidenceArchive interface {
	// PutEvidence uploads an evidence bundle and returns its object key.
	PutEvidence(ctx context.Context, investigationID string, payload []byte) (string, error)

	// FetchEvidence downloads a previously archived bundle by object key.
	FetchEvidence(ctx context.Context, key string) ([]byte, error)

	// HealthCheck verifies the object store is reachable.
	HealthCheck(ctx context.Context) error
}

// ArchiveConfig holds the object storage connection settings.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type minioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to the object store and ensures the evidence
// bucket exists.
func NewMinioArchive(cfg ArchiveConfig) (EvidenceArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		// Bucket might already exist, which is fine
		exists, errBucketExists := client.BucketExists(ctx, cfg.Bucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("create evidence bucket: %w", err)
		}
	}

	return &minioArchive{client: client, bucket: cfg.Bucket}, nil
}

func (m *minioArchive) PutEvidence(ctx context.Context, investigationID string, payload []byte) (string, error) {
	// Format: investigations/{year}/{month}/{day}/{id}.json.gz
	key := fmt.Sprintf("investigations/%s/%s.json.gz",
		time.Now().UTC().Format("2006/01/02"),
		investigationID,
	)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		_ = gz.Close()
		return "", fmt.Errorf("compress evidence: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("compress evidence: %w", err)
	}

	_, err := m.client.PutObject(ctx, m.bucket, key, &buf, int64(buf.Len()),
		minio.PutObjectOptions{
			ContentType:     "application/json",
			ContentEncoding: "gzip",
		})
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}

	return key, nil
}

func (m *minioArchive) FetchEvidence(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch evidence %q: %w", key, err)
	}
	defer obj.Close()

	gz, err := gzip.NewReader(obj)
	if err != nil {
		return nil, fmt.Errorf("decompress evidence %q: %w", key, err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (m *minioArchive) HealthCheck(ctx context.Context) error {
	_, err := m.client.ListBuckets(ctx)
	return err
}
