// Package cache implements the content-addressed result cache (C5): a
// bbolt-backed store keyed by task fingerprint, with strict invalidation
// semantics (signal-interrupted results are never written).
package cache

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

var bucketResults = []byte("results")

// Entry is the persisted value for one fingerprint: the result plus the
// artifact paths produced alongside it. Immutable once written.
type Entry struct {
	Result        *types.TaskResult
	ArtifactPaths []string
}

// Stats reports the cache's current size.
type Stats struct {
	Size int
}

// Cache is the C5 result cache.
type Cache struct {
	db *bolt.DB
}

// DefaultDir returns the stable per-user cache directory,
// {home}/.batch-tamarin/cache.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".batch-tamarin", "cache"), nil
}

// Open opens (creating if necessary) a bbolt-backed cache rooted at dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "cache.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating results bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the stored result for task's fingerprint, or (nil, false)
// if absent.
func (c *Cache) Lookup(task *types.ExecutableTask) (*types.TaskResult, bool, error) {
	key, err := Fingerprint(task)
	if err != nil {
		return nil, false, err
	}

	var entry Entry
	found := false
	err = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return entry.Result, true, nil
}

// Store persists result for task's fingerprint. It refuses (no-op, no
// error) to store SIGNAL_INTERRUPTED results: those represent
// user-initiated cancellation, not reproducible task output.
func (c *Cache) Store(task *types.ExecutableTask, result *types.TaskResult, artifactPaths []string) error {
	if result.Status == types.TaskStatusSignalInterrupted {
		return nil
	}

	key, err := Fingerprint(task)
	if err != nil {
		return err
	}

	entry := Entry{Result: result, ArtifactPaths: artifactPaths}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(key), data)
	})
}

// Clear removes all entries.
func (c *Cache) Clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketResults); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketResults)
		return err
	})
}

// StatsReport returns the current entry count.
func (c *Cache) StatsReport() (Stats, error) {
	var size int
	err := c.db.View(func(tx *bolt.Tx) error {
		size = tx.Bucket(bucketResults).Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return Stats{Size: size}, nil
}

// Fingerprint computes the SHA-256 fingerprint of a task's cacheable
// inputs: prover variant reference, theory file contents, lemma name,
// ordered prover options and preprocess flags, and resource caps. Any
// change to any of those fields produces a different fingerprint.
func Fingerprint(task *types.ExecutableTask) (string, error) {
	theoryHash, err := hashFile(task.TheoryFile)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	variantRef := task.ExecutablePath
	if task.IsContainer() {
		variantRef = task.ContainerImage
	}

	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(variantRef)
	write(theoryHash)
	write(task.Lemma)
	write(strings.Join(task.ProverOptions, "\x1f"))
	write(strings.Join(task.PreprocessFlags, "\x1f"))
	write(strconv.Itoa(task.MaxCores))
	write(strconv.Itoa(task.MaxMemoryGiB))
	write(strconv.Itoa(task.TimeoutSecond))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashFile reads theoryFile in chunks and returns the hex SHA-256 of its
// contents. A missing file surfaces as an error rather than being silently
// treated as an empty input.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("theory file not found for fingerprinting: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	r := bufio.NewReaderSize(f, 64*1024)
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
