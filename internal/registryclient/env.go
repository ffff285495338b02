package registryclient

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/onesdk/onesdk-go/internal/config"
	"github.com/onesdk/onesdk-go/internal/policyadapter"
)

// documentSourceKind selects the DocumentSource NewFromEnv wires up,
// mirroring the teacher's factory.go StoreType env-driven selection.
type documentSourceKind string

const (
	documentSourceHTTP documentSourceKind = "http"
	documentSourceS3   documentSourceKind = "s3"
)

// NewFromEnv builds a Client from cfg (SUPERFACE_API_URL, SUPERFACE_SDK_TOKEN)
// plus optional S3-mirror settings:
//
//   - SUPERFACE_REGISTRY_BACKEND: "http" (default) or "s3"
//   - SUPERFACE_REGISTRY_S3_BUCKET (required for s3)
//   - SUPERFACE_REGISTRY_S3_REGION (default AWS_REGION, else "us-east-1")
//   - SUPERFACE_REGISTRY_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - SUPERFACE_REGISTRY_S3_PREFIX (optional)
//   - SUPERFACE_REGISTRY_BIND_RATE, SUPERFACE_REGISTRY_BIND_BURST (optional bind rate limit)
func NewFromEnv(ctx context.Context, cfg *config.Config) (*Client, error) {
	opts := []Option{}

	if rl, err := bindLimiterFromEnv(); err != nil {
		return nil, err
	} else if rl != nil {
		opts = append(opts, WithBindRateLimiter(rl))
	}

	client := New(cfg.APIURL, cfg.SDKToken, opts...)

	switch documentSourceKind(os.Getenv("SUPERFACE_REGISTRY_BACKEND")) {
	case documentSourceS3:
		src, err := s3SourceFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		WithDocumentSource(src)(client)
	case documentSourceHTTP, "":
		// default HTTPSource already wired by New.
	default:
		return nil, fmt.Errorf("unsupported SUPERFACE_REGISTRY_BACKEND %q", os.Getenv("SUPERFACE_REGISTRY_BACKEND"))
	}

	return client, nil
}

func s3SourceFromEnv(ctx context.Context) (*S3Source, error) {
	bucket := os.Getenv("SUPERFACE_REGISTRY_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SUPERFACE_REGISTRY_S3_BUCKET is required when SUPERFACE_REGISTRY_BACKEND=s3")
	}

	region := os.Getenv("SUPERFACE_REGISTRY_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Source(ctx, S3SourceConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("SUPERFACE_REGISTRY_S3_ENDPOINT"),
		Prefix:   os.Getenv("SUPERFACE_REGISTRY_S3_PREFIX"),
	})
}

func bindLimiterFromEnv() (*rate.Limiter, error) {
	rateStr := os.Getenv("SUPERFACE_REGISTRY_BIND_RATE")
	if rateStr == "" {
		return nil, nil
	}
	var ratePerSecond float64
	if _, err := fmt.Sscanf(rateStr, "%f", &ratePerSecond); err != nil {
		return nil, fmt.Errorf("SUPERFACE_REGISTRY_BIND_RATE: %w", err)
	}
	burst := 1
	if burstStr := os.Getenv("SUPERFACE_REGISTRY_BIND_BURST"); burstStr != "" {
		if _, err := fmt.Sscanf(burstStr, "%d", &burst); err != nil {
			return nil, fmt.Errorf("SUPERFACE_REGISTRY_BIND_BURST: %w", err)
		}
	}
	return policyadapter.NewBindRateLimiter(ratePerSecond, burst), nil
}
