package repository

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/zzzcdf/cube.js/internal/config"
)

type azureStore struct {
	client    *azblob.Client
	container string
}

// NewAzure creates a repository for the schema files under prefix in an
// Azure Blob Storage container, authenticated with the account shared key.
func NewAzure(cfg *config.Config, container, prefix string) (Repository, error) {
	if !cfg.HasAzureConfig() {
		return nil, fmt.Errorf("azure config is incomplete: AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create Azure shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &bucketRepository{
		store:  &azureStore{client: client, container: container},
		scheme: "az",
		bucket: container,
		prefix: prefixOf(prefix),
	}, nil
}

func (s *azureStore) list(ctx context.Context, prefix string) ([]string, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

func (s *azureStore) read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}
