// SPDX-License-Identifier: MIT

// Package snapshot persists captured frames to object storage.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
)

// MinioStore saves frames as JPEG objects in a MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore creates a snapshot store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check snapshot bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create snapshot bucket: %w", err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		logger: log.WithComponent("snapshot"),
	}, nil
}

// Save stores one frame and returns its object reference.
func (s *MinioStore) Save(ctx context.Context, deviceID string, frame []byte, takenAt time.Time) (string, error) {
	objectPath := objectName(deviceID, takenAt)

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		objectPath,
		bytes.NewReader(frame),
		int64(len(frame)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}

	ref := fmt.Sprintf("s3://%s/%s", s.bucket, objectPath)
	s.logger.Debug().
		Str("event", "snapshot.saved").
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldImageRef, ref).
		Int("bytes", len(frame)).
		Msg("snapshot persisted")

	return ref, nil
}

// objectName keys snapshots by device and capture time so per-device
// listings come back in chronological order.
func objectName(deviceID string, takenAt time.Time) string {
	return fmt.Sprintf("%s/%s.jpg", deviceID, takenAt.UTC().Format("20060102T150405.000"))
}

// NoopStore discards frames. Used when no object storage is configured
// so event publishing still works, just without image references.
type NoopStore struct{}

// Save implements the store contract without persisting anything.
func (NoopStore) Save(context.Context, string, []byte, time.Time) (string, error) {
	return "", nil
}
