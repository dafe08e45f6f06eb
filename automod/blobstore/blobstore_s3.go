package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobStore reads skill files from an S3-compatible bucket. Storage references are object keys.
type S3BlobStore struct {
	api    *s3.Client
	Bucket string
	// files larger than this are refused with ErrTooLarge; zero means no limit
	MaxSize int64
}

type S3Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	ForcePathStyle bool
}

func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("S3 access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awscfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading S3 config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3BlobStore{
		api:     client,
		Bucket:  cfg.Bucket,
		MaxSize: 50 * 1024 * 1024,
	}, nil
}

func (s *S3BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching blob %s: %w", ref, err)
	}
	defer out.Body.Close()

	if s.MaxSize <= 0 {
		b, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("reading blob %s: %w", ref, err)
		}
		return b, nil
	}

	if out.ContentLength != nil && *out.ContentLength > s.MaxSize {
		return nil, fmt.Errorf("blob %s (%d bytes): %w", ref, *out.ContentLength, ErrTooLarge)
	}
	b, err := io.ReadAll(io.LimitReader(out.Body, s.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", ref, err)
	}
	if int64(len(b)) > s.MaxSize {
		return nil, fmt.Errorf("blob %s: %w", ref, ErrTooLarge)
	}
	return b, nil
}
