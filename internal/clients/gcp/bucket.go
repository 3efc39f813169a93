package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/pkg/ctxutil"
)

var ErrObjectNotFound = errors.New("gcs: object not found")

// ObjectInfo mirrors the handful of attributes callers care about when
// deciding whether a blob already exists.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// BucketService stores opaque call artifacts (audio, transcripts) keyed
// by string. Keys carry no structure the service interprets.
type BucketService interface {
	Put(ctx context.Context, key string, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(os.Getenv("CALL_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var CALL_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucketName,
	}, nil
}

func (bs *bucketService) Put(ctx context.Context, key string, contentType string, body []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("gcs: key required")
	}
	ctx = ctxutil.Default(ctx)

	writer := bs.storageClient.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %q: %w", key, err)
	}

	bs.log.Debug("Stored object", "key", key, "bytes", len(body), "content_type", contentType)
	return nil
}

func (bs *bucketService) Get(ctx context.Context, key string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	reader, err := bs.storageClient.Bucket(bs.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return body, nil
}

func (bs *bucketService) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	reader, err := bs.storageClient.Bucket(bs.bucketName).Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object range %q: %w", key, err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object range %q: %w", key, err)
	}
	return body, nil
}

func (bs *bucketService) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	ctx = ctxutil.Default(ctx)
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object %q: %w", key, err)
	}
	return &ObjectInfo{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (bs *bucketService) Delete(ctx context.Context, key string) error {
	ctx = ctxutil.Default(ctx)
	err := bs.storageClient.Bucket(bs.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}
