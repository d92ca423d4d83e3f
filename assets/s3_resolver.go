// Package assets resolves flow-authored media references to deliverable
// URLs. Assets live in an S3-compatible bucket keyed by asset ID; resolution
// produces a presigned GET URL the messaging transport can hand to contacts.
package assets

import (
	"context"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/config"
	"github.com/kanalhq/kanal/pkg/kernel"
)

type S3MediaResolver struct {
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

var _ engine.MediaResolver = (*S3MediaResolver)(nil)

func NewS3MediaResolver(cfg config.AssetsConfig) *S3MediaResolver {
	awsCfg := aws.Config{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints cover MinIO and other S3-compatible stores.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3MediaResolver{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		expiry:    expiry,
	}
}

// Resolve presigns a GET for the asset's object. Asset IDs map directly to
// object keys.
func (r *S3MediaResolver) Resolve(ctx context.Context, assetID kernel.AssetID) (string, error) {
	if assetID.IsEmpty() {
		return "", errx.New("asset ID is empty", errx.TypeValidation)
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(assetID.String()),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", errx.Wrap(err, "failed to presign asset URL", errx.TypeInternal).
			WithDetail("asset_id", assetID.String()).
			WithDetail("bucket", r.bucket)
	}

	return req.URL, nil
}
