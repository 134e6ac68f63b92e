package repository

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Directory reads schema files from a local directory tree. Hidden
// directories are skipped.
type Directory struct {
	root string
}

var _ Repository = (*Directory)(nil)

// NewDirectory creates a repository rooted at root.
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

// Root returns the directory the repository reads.
func (d *Directory) Root() string { return d.root }

// Files walks the tree and returns every schema file with a slash-separated
// path relative to the root.
func (d *Directory) Files(ctx context.Context) ([]domain.SchemaFile, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory %s is not a directory", d.root)
	}

	var files []domain.SchemaFile
	err = filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if p != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSchemaFile(entry.Name()) {
			return nil
		}
		content, err := os.ReadFile(p) //nolint:gosec // path comes from walking the schema root
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		files = append(files, domain.SchemaFile{Path: filepath.ToSlash(rel), Content: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortFiles(files)
	return files, nil
}
