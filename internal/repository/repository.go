// Package repository supplies schema files to the compiler from memory, a
// local directory or an object store bucket.
package repository

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Repository returns the schema files to compile, ordered by path.
type Repository interface {
	Files(ctx context.Context) ([]domain.SchemaFile, error)
}

// fetchWorkers bounds concurrent object downloads.
const fetchWorkers = 8

// IsSchemaFile reports whether name carries a schema file extension.
func IsSchemaFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

func sortFiles(files []domain.SchemaFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// Memory is an in-memory repository. The zero value is empty and ready.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ Repository = (*Memory)(nil)

// NewMemory creates a repository holding files, keyed by path.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{}
	for p, c := range files {
		m.Put(p, []byte(c))
	}
	return m
}

// Put adds or replaces the file at p.
func (m *Memory) Put(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[p] = append([]byte(nil), content...)
}

// Delete removes the file at p.
func (m *Memory) Delete(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
}

// Files returns copies of the stored files.
func (m *Memory) Files(context.Context) ([]domain.SchemaFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SchemaFile, 0, len(m.files))
	for p, c := range m.files {
		out = append(out, domain.SchemaFile{Path: p, Content: append([]byte(nil), c...)})
	}
	sortFiles(out)
	return out, nil
}

// objectStore is the listing and download surface shared by the bucket
// backends.
type objectStore interface {
	// list returns every object key under prefix.
	list(ctx context.Context, prefix string) ([]string, error)
	read(ctx context.Context, key string) ([]byte, error)
}

// bucketRepository reads the schema files stored under a key prefix.
type bucketRepository struct {
	store  objectStore
	scheme string
	bucket string
	prefix string
}

// Files lists the prefix and downloads every schema file in parallel. Paths
// are relative to the prefix.
func (r *bucketRepository) Files(ctx context.Context) ([]domain.SchemaFile, error) {
	keys, err := r.store.list(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r, err)
	}

	var wanted []string
	for _, k := range keys {
		if strings.HasSuffix(k, "/") || !IsSchemaFile(k) {
			continue
		}
		wanted = append(wanted, k)
	}

	files := make([]domain.SchemaFile, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for i, key := range wanted {
		g.Go(func() error {
			content, err := r.store.read(gctx, key)
			if err != nil {
				return fmt.Errorf("read %s://%s/%s: %w", r.scheme, r.bucket, key, err)
			}
			files[i] = domain.SchemaFile{Path: r.relative(key), Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortFiles(files)
	return files, nil
}

func (r *bucketRepository) relative(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, r.prefix), "/")
}

func (r *bucketRepository) String() string {
	return fmt.Sprintf("%s://%s/%s", r.scheme, r.bucket, r.prefix)
}

// prefixOf turns a URI path into a key prefix: no leading slash, and a
// trailing slash unless empty.
func prefixOf(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
