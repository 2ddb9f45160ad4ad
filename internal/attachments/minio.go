// Package attachments stores complaint attachment bytes in an S3-compatible
// object store. Metadata rows live in Postgres; this package only moves
// bytes and mints download links.
package attachments

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	uploadTimeout   = 2 * time.Minute
	presignLifetime = 15 * time.Minute
)

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("object store credentials not set")
	}
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("object store bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("object store make bucket: %w", err)
		}
		log.Printf("attachments: created bucket %s", bucket)
	}

	return &Service{client: client, bucket: bucket}, nil
}

// Upload streams an attachment's bytes under objectKey.
func (s *Service) Upload(ctx context.Context, objectKey, contentType string, size int64, body io.Reader) error {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := s.client.PutObject(uploadCtx, s.bucket, objectKey, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("object store upload %s: %w", objectKey, err)
	}
	return nil
}

// PresignedGetURL mints a short-lived download link that prompts a save
// under the attachment's original file name.
func (s *Service) PresignedGetURL(ctx context.Context, objectKey, fileName string) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	link, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, presignLifetime, params)
	if err != nil {
		return "", fmt.Errorf("object store presign %s: %w", objectKey, err)
	}
	return link.String(), nil
}
