package repository

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/zzzcdf/cube.js/internal/config"
)

type gcsStore struct {
	bucket *storage.BucketHandle
}

// NewGCS creates a repository for the schema files under prefix in a Google
// Cloud Storage bucket. Without GCS_KEY_FILE the client uses application
// default credentials.
func NewGCS(ctx context.Context, cfg *config.Config, bucket, prefix string) (Repository, error) {
	var opts []option.ClientOption
	if cfg.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &bucketRepository{
		store:  &gcsStore{bucket: client.Bucket(bucket)},
		scheme: "gs",
		bucket: bucket,
		prefix: prefixOf(prefix),
	}, nil
}

func (s *gcsStore) list(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, attrs.Name)
	}
}

func (s *gcsStore) read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}
