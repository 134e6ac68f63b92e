package repository

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/zzzcdf/cube.js/internal/config"
)

// Location is a parsed schema source URI.
type Location struct {
	Scheme string // "s3", "gs", "az" or "file"
	Bucket string // bucket or container; empty for local paths
	Prefix string // key prefix, or the directory for local paths
}

// ParseLocation parses s3://bucket/prefix, gs://bucket/prefix,
// az://container/prefix, file:///dir or a plain local path.
func ParseLocation(uri string) (Location, error) {
	if uri == "" {
		return Location{}, fmt.Errorf("empty schema location")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Prefix: filepath.Clean(uri)}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse schema location %q: %w", uri, err)
	}
	switch u.Scheme {
	case "file":
		return Location{Scheme: "file", Prefix: filepath.Clean(filepath.FromSlash(u.Host + u.Path))}, nil
	case "s3", "gs", "az":
		if u.Host == "" {
			return Location{}, fmt.Errorf("missing bucket in schema location %q", uri)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("unsupported schema location scheme %q in %q", u.Scheme, uri)
	}
}

// Open returns the repository for uri, building object store clients from
// cfg.
func Open(ctx context.Context, uri string, cfg *config.Config) (Repository, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case "s3":
		return NewS3(cfg, loc.Bucket, loc.Prefix)
	case "gs":
		return NewGCS(ctx, cfg, loc.Bucket, loc.Prefix)
	case "az":
		return NewAzure(cfg, loc.Bucket, loc.Prefix)
	default:
		return NewDirectory(loc.Prefix), nil
	}
}
