package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/pevans/bdmscrape/article"
)

// FileStore keeps one JSON document per article in a directory. Queries load
// every document and filter in memory, which suits small archives and
// inspection with ordinary tools.
type FileStore struct {
	articleDir string
	runDir     string

	// mu makes the exists-then-write sequence of Upsert atomic.
	mu sync.RWMutex
}

// ReadError describes a failure to read a single stored file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// ListResult contains every readable record plus any per-file errors.
type ListResult struct {
	Records []article.Record
	Errors  []ReadError
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a directory")
	}

	fs := &FileStore{
		articleDir: filepath.Join(dir, "articles"),
		runDir:     filepath.Join(dir, "runs"),
	}
	// 0700: owner-only access
	for _, d := range []string{fs.articleDir, fs.runDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return fs, nil
}

// Close is a no-op; the store holds no open handles.
func (fs *FileStore) Close() error {
	return nil
}

// articlePath names the file for url by its SHA-1, since URLs contain
// characters that are not valid in file names.
func (fs *FileStore) articlePath(url string) string {
	sum := sha1.Sum([]byte(url))
	return filepath.Join(fs.articleDir, hex.EncodeToString(sum[:])+".json")
}

// Exists reports whether an article with url is stored.
func (fs *FileStore) Exists(ctx context.Context, url string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(fs.articlePath(url))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat article: %w", err)
}

// Upsert writes r, replacing any stored record with the same URL.
func (fs *FileStore) Upsert(ctx context.Context, r *article.Record) (UpsertResult, error) {
	if err := validateRecord(r); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.Normalize()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal article: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.articlePath(r.URL)
	result := Inserted
	if _, err := os.Stat(path); err == nil {
		result = Updated
	}

	if err := writeFileAtomic(path, data); err != nil {
		return 0, fmt.Errorf("failed to write article: %w", err)
	}
	return result, nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path, so readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// 0600: owner-only read/write
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get retrieves the article stored under url.
func (fs *FileStore) Get(ctx context.Context, url string) (*article.Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.articlePath(url))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read article: %w", err)
	}

	var r article.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal article: %w", err)
	}
	r.Normalize()
	return &r, nil
}

// List returns every stored article. Corrupted or invalid files are
// collected in the result's Errors slice rather than failing the whole
// operation.
func (fs *FileStore) List(ctx context.Context) (*ListResult, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.articleDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	result := &ListResult{Records: []article.Record{}}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(fs.articleDir, entry.Name()))
		if err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: entry.Name(), Err: err})
			continue
		}

		var r article.Record
		if err := json.Unmarshal(data, &r); err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: entry.Name(), Err: err})
			continue
		}
		r.Normalize()
		result.Records = append(result.Records, r)
	}
	return result, nil
}

func (fs *FileStore) matching(ctx context.Context, f Filter) ([]article.Record, error) {
	all, err := fs.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := []article.Record{}
	for i := range all.Records {
		if f.Match(&all.Records[i]) {
			matched = append(matched, all.Records[i])
		}
	}
	return matched, nil
}

// CountAll returns the number of stored articles.
func (fs *FileStore) CountAll(ctx context.Context) (int64, error) {
	return fs.Count(ctx, Filter{})
}

// Count returns the number of articles matching f.
func (fs *FileStore) Count(ctx context.Context, f Filter) (int64, error) {
	records, err := fs.matching(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Find lists articles matching f.
func (fs *FileStore) Find(ctx context.Context, f Filter, opts FindOptions) ([]article.Record, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	records, err := fs.matching(ctx, f)
	if err != nil {
		return nil, err
	}
	sortRecords(records, opts)
	return paginate(records, opts.Offset, opts.Limit), nil
}

// AggregateDistinctCounts counts the distinct values of field.
func (fs *FileStore) AggregateDistinctCounts(ctx context.Context, field Field, limit int) ([]FacetCount, error) {
	if _, err := ParseField(string(field)); err != nil {
		return nil, err
	}
	records, err := fs.matching(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for i := range records {
		for _, v := range facetValues(&records[i], field) {
			counts[v]++
		}
	}
	return rankFacets(counts, limit), nil
}

// PublicationDateRange returns the oldest and newest publication dates.
func (fs *FileStore) PublicationDateRange(ctx context.Context) (*string, *string, error) {
	records, err := fs.matching(ctx, Filter{})
	if err != nil {
		return nil, nil, err
	}

	var oldest, newest *string
	for _, r := range records {
		d := r.PublicationDate
		if d == nil {
			continue
		}
		if oldest == nil || *d < *oldest {
			oldest = d
		}
		if newest == nil || *d > *newest {
			newest = d
		}
	}
	return oldest, newest, nil
}

// RecordRun stores a run summary.
func (fs *FileStore) RecordRun(ctx context.Context, run Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	path := filepath.Join(fs.runDir, run.RunID.String()+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of 0 returns all.
func (fs *FileStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	entries, err := os.ReadDir(fs.runDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	runs := []Run{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.runDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run %s: %w", entry.Name(), err)
		}
		runs = append(runs, run)
	}

	slices.SortFunc(runs, func(a, b Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return paginate(runs, 0, limit), nil
}
