package registryclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// S3SourceConfig configures an S3Source. Grounded on the teacher's
// pkg/artifacts/s3_store.go's S3StoreConfig.
type S3SourceConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint, e.g. MinIO/LocalStack
	Prefix   string // optional key prefix
}

// S3Source is a DocumentSource backed by a mirror of the registry's
// profile/provider/map documents in S3, for deployments that front the
// registry with object storage rather than serving documents over HTTP
// directly.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Source creates an S3Source, loading AWS credentials the standard
// way (environment, shared config, instance role).
func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, sdkerrors.NewUnexpectedError("loading AWS config for registry document source: %s", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Source{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Fetch reads path (a profile grid path, "providers/<name>", or a map id)
// out of the bucket. accept is ignored: the key layout alone identifies
// the document kind, there is no content negotiation to do against S3.
func (s *S3Source) Fetch(ctx context.Context, path string, _ string) ([]byte, int, error) {
	key := s.prefix + strings.TrimPrefix(path, "/")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NoSuchKey
		if errors.As(err, &nf) {
			return nil, http.StatusNotFound, nil
		}
		return nil, 0, sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchReject, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	return body, http.StatusOK, nil
}
