// Package cache stores downloaded archives keyed by their sha256 checksum.
//
// Files are named <checksum><ext>. After a store the directory is pruned so
// at most one file per extension survives, bounding disk usage to one
// artifact per archive kind. Stores are idempotent: concurrent writers with
// the same checksum write identical bytes.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
)

// Kind distinguishes the packed archive from the unpacked bundle.
type Kind string

const (
	KindArchive  Kind = "archive"
	KindUnpacked Kind = "unpacked"
)

// Entry is a cached artifact.
type Entry struct {
	Checksum string
	Path     string
	Kind     Kind
}

// Store is a content-addressable cache rooted at a directory.
type Store struct {
	dir    string
	logger logging.Logger
}

// New returns a Store rooted at dir. The directory is created lazily.
func New(dir string, logger logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrNop(logger)}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the cache path for checksum with extension ext
// (including the leading dot).
func (s *Store) PathFor(checksum, ext string) string {
	return filepath.Join(s.dir, strings.ToLower(checksum)+ext)
}

// Put copies src into the cache as <checksum><ext> and prunes every other
// file with the same extension.
func (s *Store) Put(checksum, ext, src string, kind Kind) (*Entry, error) {
	if checksum == "" {
		return nil, fmt.Errorf("cache: empty checksum")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dst := s.PathFor(checksum, ext)
	if err := fsutil.CopyFile(src, dst); err != nil {
		return nil, fmt.Errorf("store %s: %w", filepath.Base(dst), err)
	}
	if err := s.Prune(dst, SuffixMatcher(ext)); err != nil {
		s.logger.Warn("cache prune failed", "dir", s.dir, "error", err)
	}

	s.logger.Debug("cached artifact", "path", dst, "kind", kind)
	return &Entry{Checksum: strings.ToLower(checksum), Path: dst, Kind: kind}, nil
}

// Matcher selects cache files by name.
type Matcher func(name string) bool

// SuffixMatcher matches files ending in ext.
func SuffixMatcher(ext string) Matcher {
	return func(name string) bool { return strings.HasSuffix(name, ext) }
}

// Prune deletes every regular file in the cache directory that matches
// except keep.
func (s *Store) Prune(keep string, match Matcher) error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}

	keepName := filepath.Base(keep)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || e.Name() == keepName || !match(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("pruned cache entry", "name", e.Name())
	}
	return errors.Join(errs...)
}

// Read returns the bytes of path. A missing file yields (nil, nil). When
// checksum is non-empty and the content does not match, the file is
// deleted and treated as a miss.
func (s *Store) Read(path, checksum string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if checksum != "" && !strings.EqualFold(download.SHA256Bytes(data), checksum) {
		s.logger.Warn("cache entry corrupt, removing", "path", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove corrupt cache file: %w", err)
		}
		return nil, nil
	}
	return data, nil
}

// Lookup returns the cached entry for checksum and ext when its content
// still hashes correctly.
func (s *Store) Lookup(checksum, ext string, kind Kind) (*Entry, bool) {
	if checksum == "" {
		return nil, false
	}
	path := s.PathFor(checksum, ext)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	sum, err := download.SHA256File(path)
	if err != nil {
		return nil, false
	}
	if !strings.EqualFold(sum, checksum) {
		s.logger.Warn("cache entry corrupt, removing", "path", path)
		os.Remove(path)
		return nil, false
	}
	return &Entry{Checksum: strings.ToLower(checksum), Path: path, Kind: kind}, true
}

// Clear removes the whole cache directory.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
