package repository

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zzzcdf/cube.js/internal/config"
)

// s3Client is the part of *s3.Client the repository calls.
type s3Client interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Store struct {
	client s3Client
	bucket string
}

// NewS3 creates a repository for the schema files under prefix in an
// S3-compatible bucket, using path-style addressing.
func NewS3(cfg *config.Config, bucket, prefix string) (Repository, error) {
	if !cfg.HasS3Config() {
		return nil, fmt.Errorf("S3 config is incomplete: KEY_ID, SECRET, ENDPOINT and REGION are required")
	}
	endpoint := *cfg.S3Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	client := s3.New(s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})
	return newS3Repository(client, bucket, prefix), nil
}

func newS3Repository(client s3Client, bucket, prefix string) *bucketRepository {
	return &bucketRepository{
		store:  &s3Store{client: client, bucket: bucket},
		scheme: "s3",
		bucket: bucket,
		prefix: prefixOf(prefix),
	}
}

func (s *s3Store) list(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *s3Store) read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close() //nolint:errcheck
	return io.ReadAll(out.Body)
}
