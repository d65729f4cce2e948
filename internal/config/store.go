package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store serves application lookups and startup entries to the launch manager
// and persists startup changes back to the configuration file.
type Store struct {
	mu   sync.RWMutex
	doc  *File
	path string
	base string

	onPersistError func(error)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithPersistErrorHandler registers fn to observe failures writing the
// configuration file. The in-memory change is kept either way.
func WithPersistErrorHandler(fn func(error)) StoreOption {
	return func(s *Store) {
		s.onPersistError = fn
	}
}

// NewStore wraps doc. When path is non-empty, startup and application changes
// are written back to it and relative application paths resolve against its
// directory.
func NewStore(doc *File, path string, opts ...StoreOption) *Store {
	if doc == nil {
		doc = Default()
	}
	s := &Store{doc: doc}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		s.path = path
		s.base = filepath.Dir(path)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the configuration at path and returns a file-backed store.
func Open(path string, opts ...StoreOption) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(doc, path, opts...), nil
}

// Path returns the backing file, or "" for a memory-only store.
func (s *Store) Path() string {
	return s.path
}

// Resolve maps (product, app) to an executable path and shutdown level. When
// the product itself does not define app, its aliases are consulted in order.
// Environment references in the path are expanded.
func (s *Store) Resolve(product, app string) (string, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := append([]string{product}, s.doc.Aliases[product]...)
	for _, name := range candidates {
		p := s.doc.Products[name]
		if p == nil {
			continue
		}
		a := p.Apps[app]
		if a == nil {
			continue
		}
		return resolvePath(s.base, a.Path), a.Level, true
	}
	return "", 0, false
}

// ProductExists reports whether product is defined directly or as an alias.
func (s *Store) ProductExists(product string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.doc.Products[product]; ok {
		return true
	}
	_, ok := s.doc.Aliases[product]
	return ok
}

// AddStartupEntry records entry and reports false when an entry for the same
// product and app already exists.
func (s *Store) AddStartupEntry(entry StartupEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(entry.Product, entry.App) >= 0 {
		return false
	}
	s.doc.Startup = append(s.doc.Startup, entry)
	s.persistLocked()
	return true
}

// RemoveStartupEntry deletes the entry for product and app, reporting false
// when there was none.
func (s *Store) RemoveStartupEntry(product, app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(product, app)
	if idx < 0 {
		return false
	}
	s.doc.Startup = append(s.doc.Startup[:idx], s.doc.Startup[idx+1:]...)
	s.persistLocked()
	return true
}

// StartupEntries lists the startup entries for product in configuration
// order. An empty product lists every entry.
func (s *Store) StartupEntries(product string) []StartupEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StartupEntry, 0, len(s.doc.Startup))
	for _, entry := range s.doc.Startup {
		if product != "" && entry.Product != product {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// RegisterApp defines or replaces an application under product.
func (s *Store) RegisterApp(product, app, path string, level int) error {
	if product == "" || app == "" {
		return fmt.Errorf("product and app are required")
	}
	if path == "" {
		return fmt.Errorf("%s: path must not be empty", appField(product, app))
	}
	if level < 0 {
		return fmt.Errorf("%s: level must be >= 0", appField(product, app))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.doc.Products[product]
	if p == nil {
		p = &Product{}
		s.doc.Products[product] = p
	}
	if p.Apps == nil {
		p.Apps = map[string]*App{}
	}
	p.Apps[app] = &App{Path: path, Level: level}
	s.persistLocked()
	return nil
}

// RemoveApp deletes an application definition and reports whether it existed.
// A product left without applications is removed as well.
func (s *Store) RemoveApp(product, app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.doc.Products[product]
	if p == nil {
		return false
	}
	if _, ok := p.Apps[app]; !ok {
		return false
	}
	delete(p.Apps, app)
	if len(p.Apps) == 0 {
		delete(s.doc.Products, product)
	}
	s.persistLocked()
	return true
}

func (s *Store) indexLocked(product, app string) int {
	for idx, entry := range s.doc.Startup {
		if entry.Product == product && entry.App == app {
			return idx
		}
	}
	return -1
}

func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	if err := writeFileAtomic(s.path, s.doc); err != nil && s.onPersistError != nil {
		s.onPersistError(err)
	}
}

func writeFileAtomic(path string, doc *File) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
