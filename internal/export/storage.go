package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"qanun/api/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignTTL = 15 * time.Minute

// ObjectStore keeps export artifacts in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Put uploads data and returns a short-lived download URL.
func (o *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func objectKey(documentID, filename string) string {
	return path.Join("exports", documentID, util.NewID("export"), filename)
}
