package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/common"
)

// MinioClient wraps MinIO operations with tracing
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient initializes a new MinIO client and makes sure the bucket exists
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioClient, bool, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	created := false
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, false, fmt.Errorf("failed to create bucket: %w", err)
		}
		created = true
	}

	return &MinioClient{client: client, bucketName: bucketName}, created, nil
}

// PutObject uploads one object with tracing
func (mc *MinioClient) PutObject(ctx context.Context, key string, data []byte) error {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	_, err := mc.client.PutObject(ctx, mc.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// GetObject downloads one object with tracing
func (mc *MinioClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mc.readError(span, key, err)
	}
	defer object.Close()

	// GetObject is lazy; a missing key only shows up on the first read.
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, mc.readError(span, key, err)
	}

	span.SetAttributes(
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("download_success", true),
	)
	return data, nil
}

func (mc *MinioClient) readError(span trace.Span, key string, err error) error {
	if isNoSuchKey(err) {
		span.SetAttributes(attribute.Bool("found", false))
		return fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	span.RecordError(err)
	return fmt.Errorf("failed to read object data: %w", err)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}

// RemoveObject deletes one object. S3 semantics make a missing key a success.
func (mc *MinioClient) RemoveObject(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	if err := mc.client.RemoveObject(ctx, mc.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// RemovePrefix deletes every object under prefix
func (mc *MinioClient) RemovePrefix(ctx context.Context, prefix string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_prefix",
		trace.WithAttributes(
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := mc.client.ListObjects(listCtx, mc.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	// ListObjects reports listing failures inline; stop feeding deletes on the first one.
	var listErr error
	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for obj := range objects {
			if obj.Err != nil {
				listErr = obj.Err
				cancel()
				return
			}
			toRemove <- obj
		}
	}()

	var removeErr error
	for rerr := range mc.client.RemoveObjects(ctx, mc.bucketName, toRemove, minio.RemoveObjectsOptions{}) {
		if removeErr == nil {
			removeErr = fmt.Errorf("failed to delete object %s: %w", rerr.ObjectName, rerr.Err)
		}
	}

	if listErr != nil {
		span.RecordError(listErr)
		return fmt.Errorf("failed to list objects under %s: %w", prefix, listErr)
	}
	if removeErr != nil {
		span.RecordError(removeErr)
		return removeErr
	}
	return nil
}
