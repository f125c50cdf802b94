package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// MinioStore implements ObjectStorage for MinIO and other S3-compatible services.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore builds a MinioStore. The endpoint may carry an http:// or
// https:// scheme, which then overrides UseSSL.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: minio endpoint must be provided", domain.ErrConfig)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: minio bucket must be provided", domain.ErrConfig)
	}

	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: defaultRegion(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: minio client: %v", domain.ErrConfig, err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/"), useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("%w: invalid endpoint %q: %v", domain.ErrConfig, endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

// Exists stats the object. A NoSuchKey response means absent; anything else
// is reported as the store being unavailable.
func (s *MinioStore) Exists(ctx context.Context, key domain.DestinationKey) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key.String(), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s/%s: %v", domain.ErrStoreUnavailable, s.bucket, key, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

// Put uploads the file with FPutObject, which switches to multipart for
// large files. The object only becomes visible once the upload completes.
func (s *MinioStore) Put(ctx context.Context, key domain.DestinationKey, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key.String(), localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(key.String()),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", domain.ErrUpload, s.bucket, key, err)
	}
	return nil
}

var _ ObjectStorage = (*MinioStore)(nil)

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".nc"):
		return "application/x-netcdf"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
