package templatestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is appended to template names to form file names.
const Extension = ".tmpl"

// FSStore reads templates from a directory tree. The template "Resource/Patient"
// is the file <root>/Resource/Patient.tmpl.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir. The directory must exist.
func NewFSStore(dir string) (*FSStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template directory %s: not a directory", dir)
	}
	return &FSStore{root: dir}, nil
}

// Root returns the directory the store reads from.
func (s *FSStore) Root() string {
	return s.root
}

// Get reads the named template file.
func (s *FSStore) Get(_ context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)+Extension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	return string(data), nil
}

// List walks the directory and returns all template names in sorted order.
func (s *FSStore) List(_ context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, Extension) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), Extension))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list templates in %s: %w", s.root, err)
	}
	sort.Strings(names)
	return names, nil
}
