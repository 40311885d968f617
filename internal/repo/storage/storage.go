package storage

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// Store keeps a copy of inbound media, since platform media urls expire.
type Store interface {
	// Mirror downloads the attachment from url and returns the object key.
	Mirror(ctx context.Context, att models.Attachment, url string) (string, error)
}

// ObjectKey lays objects out as "{type}/{unix_ts}_{uuid}.{ext}".
func ObjectKey(att models.Attachment, at time.Time, id string) string {
	key := fmt.Sprintf("%s/%d_%s", att.Type, at.Unix(), id)
	if att.Extension != "" {
		key += "." + att.Extension
	}
	return key
}

type minioStore struct {
	client *minio.Client
	bucket string
	http   *resty.Client
}

func NewMinioStore(ctx context.Context, conf config.StorageConfig, httpClient *resty.Client) (Store, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", conf.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", conf.Bucket, err)
		}
		log.Infow(ctx, "attachment bucket created", "bucket", conf.Bucket)
	}

	return &minioStore{
		client: client,
		bucket: conf.Bucket,
		http:   httpClient,
	}, nil
}

func (s *minioStore) Mirror(ctx context.Context, att models.Attachment, url string) (string, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to download attachment: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return "", fmt.Errorf("failed to download attachment: status %s", resp.Status())
	}

	key := ObjectKey(att, time.Now(), uuid.NewString())
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, body, resp.RawResponse.ContentLength, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"name": att.Name,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to store attachment %s: %w", key, err)
	}
	return key, nil
}

type noopStore struct{}

// NewNoopStore is used when object storage is not configured.
func NewNoopStore() Store {
	log.Infow(context.Background(), "object storage not configured, attachments are not mirrored")
	return noopStore{}
}

func (noopStore) Mirror(context.Context, models.Attachment, string) (string, error) {
	return "", nil
}
