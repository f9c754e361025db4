package stack

import (
	"context"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hesxrd/internal/logging"
	"hesxrd/internal/models"
)

// S3Config selects the bucket and prefix holding a scan on AWS S3 or an
// S3 compatible store such as MinIO. Credentials come from the default
// AWS chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string // default us-east-1
	Endpoint  string // optional, e.g. a MinIO URL
	PathStyle bool
}

// S3Source reads frames from the objects under a bucket prefix.
type S3Source struct {
	client *s3.Client
	bucket string
	keys   []string
}

// OpenS3 connects to the bucket described by cfg and lists the image
// objects under cfg.Prefix.
func OpenS3(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("stack: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("stack: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return OpenS3WithClient(ctx, client, cfg.Bucket, cfg.Prefix)
}

// OpenS3WithClient lists the image objects under prefix using an already
// configured client.
func OpenS3WithClient(ctx context.Context, client *s3.Client, bucket, prefix string) (*S3Source, error) {
	var keys []string
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("stack: list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if key := aws.ToString(obj.Key); isImageName(key) {
				keys = append(keys, key)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w in s3://%s/%s", ErrEmpty, bucket, prefix)
	}
	sortByNumber(keys)
	logging.Logger().Info("image stack opened", "bucket", bucket, "prefix", prefix, "images", len(keys))
	return &S3Source{client: client, bucket: bucket, keys: keys}, nil
}

func (s *S3Source) Len() int { return len(s.keys) }

// Keys returns the object keys in frame order.
func (s *S3Source) Keys() []string { return append([]string(nil), s.keys...) }

func (s *S3Source) Frame(ctx context.Context, i int) (*models.Frame, error) {
	if err := checkIndex(i, len(s.keys)); err != nil {
		return nil, err
	}
	key := s.keys[i]
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("stack: get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return decodeFrame(out.Body, key, i)
}
