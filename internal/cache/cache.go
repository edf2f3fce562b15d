// Package cache stores optimizer output on disk, keyed by the input text and
// the pass pipeline that produced it.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"unlua/internal/opt"
	"unlua/internal/version"
)

// Current schema version - increment when Payload format changes
const schemaVersion uint16 = 2

// Digest is a SHA-256 cache key.
type Digest [32]byte

// String returns the hex form of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Fingerprint is everything besides the input that shapes a cached result.
type Fingerprint struct {
	Tool      string // optimizer build, so an upgrade never serves stale output
	MaxRounds int
	Validate  bool
	Passes    []string
}

// FingerprintOf describes p as run by this build of the optimizer.
func FingerprintOf(p *opt.Pipeline) Fingerprint {
	return Fingerprint{
		Tool:      version.Version + "+" + version.GitCommit,
		MaxRounds: p.MaxRounds,
		Validate:  p.Validate,
		Passes:    p.PassNames(),
	}
}

// Key hashes input together with the pipeline fingerprint. Every part is
// length-prefixed so that shifting bytes between parts changes the key.
func Key(input []byte, fp Fingerprint) Digest {
	h := sha256.New()
	write := func(b []byte) {
		_, _ = h.Write([]byte(strconv.Itoa(len(b)) + ":"))
		_, _ = h.Write(b)
	}
	write(input)
	write([]byte(fp.Tool))
	write([]byte(strconv.Itoa(fp.MaxRounds)))
	write([]byte(strconv.FormatBool(fp.Validate)))
	for _, p := range fp.Passes {
		write([]byte(p))
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Payload is one cached optimizer run.
type Payload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16 `msgpack:"schema"`

	Source   string     `msgpack:"source"` // input file as given on the command line
	Passes   []string   `msgpack:"passes"`
	Output   string     `msgpack:"output"` // printed IR after optimization
	Stats    opt.Result `msgpack:"stats"`
	StoredAt time.Time  `msgpack:"stored_at"`
}

// DiskCache keeps payloads under one directory. It is safe for concurrent
// use within a process; writes are atomic renames, so concurrent processes
// see either the old or the new entry.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// Open returns the cache rooted at dir, creating it when needed. An empty
// dir selects $XDG_CACHE_HOME/<app>, falling back to ~/.cache/<app>.
func Open(dir, app string) (*DiskCache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("cache: %w", err)
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, app)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *DiskCache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *DiskCache) pathFor(key Digest) string {
	hexKey := key.String()
	// fan out by the first byte to keep directories small
	return filepath.Join(c.dir, hexKey[:2], hexKey+".mp")
}

// Put serializes and writes a payload under key.
func (c *DiskCache) Put(key Digest, payload *Payload) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	stored := *payload
	stored.Schema = schemaVersion
	if err := msgpack.NewEncoder(f).Encode(&stored); err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Atomic replace
	if err := os.Rename(f.Name(), p); err != nil {
		return err
	}
	committed = true
	return nil
}

// Get reads the payload stored under key. A missing entry or one written
// with another schema is a miss, not an error.
func (c *DiskCache) Get(key Digest) (*Payload, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var out Payload
	if err := msgpack.NewDecoder(f).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	if out.Schema != schemaVersion {
		return nil, false, nil
	}
	return &out, true, nil
}

// DropAll removes every entry.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// rename first so a concurrent reader never sees a half-deleted tree
	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
