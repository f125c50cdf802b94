package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// ObjectStorage captures the minimal destination operations the exporter needs.
//
// Exists must only report true when the store confirmed the object; when the
// store cannot be reached it returns false together with an error wrapping
// domain.ErrStoreUnavailable. Put must never expose a partially written
// object under key.
type ObjectStorage interface {
	Exists(ctx context.Context, key domain.DestinationKey) (bool, error)
	Put(ctx context.Context, key domain.DestinationKey, localPath string) error
}

// Config selects and configures one ObjectStorage backend.
type Config struct {
	Driver       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Bucket       string
	UseSSL       bool
	LocalRoot    string
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "s3":
		return NewS3Store(ctx, cfg)
	case "minio":
		return NewMinioStore(cfg)
	case "local":
		return NewLocalStore(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", domain.ErrConfig, cfg.Driver)
	}
}

func defaultRegion(region string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		return "us-east-1"
	}
	return region
}
