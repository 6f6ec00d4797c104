// Package discovery scans a storage directory for index files and reopens
// a storage.Storage over them, so a process can resume operating on a data
// directory without the caller enumerating index names up front.
package discovery

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nesdb/nesdb/pkg/matcher"
	"github.com/nesdb/nesdb/storage"
)

const indexSuffix = ".index"

// Found describes one index file discovered under a storage directory.
type Found struct {
	Name     string
	Path     string
	Metadata []byte
}

// Scan walks dir (non-recursively, matching storage.Open's flat layout) and
// returns every "*.index" file found, along with the stored metadata blob
// read from its header. It does not open the files for writing.
func Scan(dir string) ([]Found, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discovery: read dir: %w", err)
	}

	var found []Found
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), indexSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), indexSuffix)
		path := filepath.Join(dir, e.Name())
		meta, err := peekMetadata(path)
		if err != nil {
			return nil, fmt.Errorf("discovery: read header of %s: %w", e.Name(), err)
		}
		found = append(found, Found{Name: name, Path: path, Metadata: meta})
	}
	return found, nil
}

// Reopen opens (or creates) the partition under dir, then ensures every
// index Scan found, attaching matchers from resolveMatcher (looked up by
// index name; nil or a missing entry falls back to matcher.All). This lets
// a caller restart without re-declaring the full set of indexes in code, at
// the cost of losing whatever matcher semantics a missing lookup implies —
// callers that need exact matcher fidelity should still pass a real
// resolveMatcher.
func Reopen(dir string, opts storage.Options, resolveMatcher func(name string) matcher.Matcher) (*storage.Storage, error) {
	found, err := Scan(dir)
	if err != nil {
		return nil, err
	}

	s, err := storage.Open(dir, opts)
	if err != nil {
		return nil, err
	}

	for _, f := range found {
		var m matcher.Matcher
		if resolveMatcher != nil {
			m = resolveMatcher(f.Name)
		}
		if _, err := s.EnsureIndex(f.Name, m, f.Metadata); err != nil {
			s.Close()
			return nil, fmt.Errorf("discovery: reopen index %q: %w", f.Name, err)
		}
	}
	return s, nil
}

// peekMetadata reads just enough of an index file's header to recover its
// stored metadata blob, without going through index.Open (which would
// require the caller to already know the blob to pass the reopen check).
func peekMetadata(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	const magicLen = 8
	hdr := make([]byte, magicLen+4)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, err
	}
	metaLen := int(uint32(hdr[magicLen])<<24 | uint32(hdr[magicLen+1])<<16 | uint32(hdr[magicLen+2])<<8 | uint32(hdr[magicLen+3]))
	if metaLen < 0 {
		return nil, fmt.Errorf("negative metadata length")
	}
	meta := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := io.ReadFull(f, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}
