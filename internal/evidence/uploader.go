// Package evidence stores uploaded evidence files in S3-compatible object storage.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	defaultExtension = "bin"
	defaultRegion    = "us-east-1"
	maxExtensionLen  = 10
)

var (
	// ErrStorageUnavailable indicates that no object storage is configured.
	ErrStorageUnavailable = errors.New("evidence: storage unavailable")
	// ErrEmptyFile indicates an upload without content.
	ErrEmptyFile = errors.New("evidence: empty file")

	errMissingEndpoint = errors.New("evidence: endpoint required")
	errMissingBucket   = errors.New("evidence: bucket required")
)

// Uploader stores one evidence file for a store and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, storeID string, file File) (string, error)
}

// File is an evidence upload read from a multipart form.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Config describes the S3-compatible bucket receiving evidence.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// MinioUploader writes evidence through the minio client.
type MinioUploader struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	clock         func() time.Time
	logger        *zap.Logger
}

// NewMinioUploader builds the client. It does not contact the server.
func NewMinioUploader(cfg Config) (*MinioUploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errMissingEndpoint
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: create client: %w", err)
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = scheme + "://" + endpoint
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioUploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Upload stores the file under <storeID>/<unix-nanos>-<uuid>.<ext>.
func (u *MinioUploader) Upload(ctx context.Context, storeID string, file File) (string, error) {
	if u == nil {
		return "", ErrStorageUnavailable
	}
	if file.Body == nil || file.Size <= 0 {
		return "", ErrEmptyFile
	}
	key := ObjectKey(storeID, file.Name, u.clock())
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := u.client.PutObject(ctx, u.bucket, key, file.Body, file.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		u.logger.Error("evidence upload failed",
			zap.String("store_id", storeID),
			zap.String("object_key", key),
			zap.Error(err))
		return "", fmt.Errorf("evidence: upload %s: %w", key, err)
	}
	u.logger.Info("evidence uploaded",
		zap.String("store_id", storeID),
		zap.String("object_key", key),
		zap.Int64("size", info.Size))
	return u.publicBaseURL + "/" + u.bucket + "/" + key, nil
}

// ObjectKey names the stored object for an upload.
func ObjectKey(storeID, filename string, at time.Time) string {
	return fmt.Sprintf("%s/%d-%s.%s", strings.TrimSpace(storeID), at.UnixNano(), uuid.NewString(), extension(filename))
}

func extension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(filename)), "."))
	if ext == "" || len(ext) > maxExtensionLen {
		return defaultExtension
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExtension
		}
	}
	return ext
}
