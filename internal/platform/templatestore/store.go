// Package templatestore provides conversion template storage. It defines the
// Store interface, an in-memory implementation for tests and embedding, a
// file-system store for template directories and a PostgreSQL store.
package templatestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidName      = errors.New("invalid template name")
)

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the contract for template storage backends.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// Lister is implemented by stores that can enumerate their templates.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ValidateName checks that name is a slash-separated relative path without
// parent references, e.g. "ADT_A01" or "Resource/Patient".
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if clean := path.Clean(name); clean != name || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe, in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMemoryStore returns a MemoryStore holding a copy of templates.
func NewMemoryStore(templates map[string]string) *MemoryStore {
	s := &MemoryStore{templates: make(map[string]string, len(templates))}
	for name, content := range templates {
		s.templates[name] = content
	}
	return s
}

// Get returns the content of the named template.
func (s *MemoryStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	content, ok := s.templates[name]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return content, nil
}

// Put stores or replaces a template.
func (s *MemoryStore) Put(_ context.Context, name, content string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.templates[name] = content
	s.mu.Unlock()
	return nil
}

// List returns the template names in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
