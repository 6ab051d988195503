// Package store persists article records keyed by URL and answers the read
// queries used by the CLI and the browse API.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/bdmscrape/article"
)

var (
	ErrNotFound       = errors.New("article not found")
	ErrUnknownBackend = errors.New("storage type must be sqlite, mongo, or file")
	ErrInvalidField   = errors.New("invalid field")
)

// UpsertResult tells whether an upsert created a new record or replaced an
// existing one.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Filter selects records. Zero-valued fields do not constrain the result.
type Filter struct {
	// Category and Tag are exact matches.
	Category string
	Tag      string
	// CategoryLike matches case-insensitively anywhere in category or favtag.
	CategoryLike string
	// DateFrom and DateTo bound publication_date (YYYY-MM-DD, inclusive).
	// Records without a publication date never match a bounded range.
	DateFrom string
	DateTo   string
	// Query matches case-insensitively anywhere in title, summary, content,
	// or any tag.
	Query string
}

// Sort fields accepted by FindOptions.
const (
	SortPublicationDate = "publication_date"
	SortScrapedAt       = "scraped_at"
	SortTitle           = "title"
)

// FindOptions controls ordering and paging of Find. An empty Sort orders by
// publication date, newest first. Records with a null sort key come last in
// either direction. Limit 0 means no limit.
type FindOptions struct {
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

// DefaultFindOptions returns newest-first ordering without paging.
func DefaultFindOptions() FindOptions {
	return FindOptions{Sort: SortPublicationDate, Desc: true}
}

func (o FindOptions) validate() (FindOptions, error) {
	if o.Sort == "" {
		o.Sort = SortPublicationDate
		o.Desc = true
	}
	switch o.Sort {
	case SortPublicationDate, SortScrapedAt, SortTitle:
	default:
		return o, fmt.Errorf("%w: sort field %q", ErrInvalidField, o.Sort)
	}
	if o.Limit < 0 || o.Offset < 0 {
		return o, fmt.Errorf("limit and offset must not be negative")
	}
	return o, nil
}

// Field names a record field that can be aggregated.
type Field string

const (
	FieldCategory Field = "category"
	FieldFavtag   Field = "favtag"
	FieldTags     Field = "tags"
	FieldAuthor   Field = "author"
)

// ParseField validates a field name from user input.
func ParseField(name string) (Field, error) {
	switch f := Field(name); f {
	case FieldCategory, FieldFavtag, FieldTags, FieldAuthor:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q (must be category, favtag, tags, or author)", ErrInvalidField, name)
}

// FacetCount is one distinct value of a field and the number of records
// holding it.
type FacetCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Run summarizes one crawl run.
type Run struct {
	RunID       uuid.UUID `json:"run_id" bson:"run_id"`
	StartedAt   time.Time `json:"started_at" bson:"started_at"`
	FinishedAt  time.Time `json:"finished_at" bson:"finished_at"`
	Categories  []string  `json:"categories" bson:"categories"`
	CountBefore int64     `json:"count_before" bson:"count_before"`
	CountAfter  int64     `json:"count_after" bson:"count_after"`
	TotalNew    int       `json:"total_new" bson:"total_new"`
	Failed      int       `json:"failed" bson:"failed"`
	Interrupted bool      `json:"interrupted" bson:"interrupted"`
}

// Gateway is the persistence boundary. Implementations must be safe for
// concurrent use; concurrent upserts of the same URL resolve as last write
// wins.
type Gateway interface {
	Exists(ctx context.Context, url string) (bool, error)
	Upsert(ctx context.Context, r *article.Record) (UpsertResult, error)
	Get(ctx context.Context, url string) (*article.Record, error)
	CountAll(ctx context.Context) (int64, error)
	Count(ctx context.Context, f Filter) (int64, error)
	Find(ctx context.Context, f Filter, opts FindOptions) ([]article.Record, error)
	// AggregateDistinctCounts returns the distinct values of field ordered by
	// count descending, then value ascending. Null values are not counted.
	// A limit of 0 returns every value.
	AggregateDistinctCounts(ctx context.Context, field Field, limit int) ([]FacetCount, error)
	// PublicationDateRange returns the oldest and newest publication dates,
	// or nils when no record has one.
	PublicationDateRange(ctx context.Context) (oldest, newest *string, err error)
	RecordRun(ctx context.Context, run Run) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendFile   = "file"
)

// Options selects and configures a backend.
type Options struct {
	Type string
	// DSN is a database path for sqlite, a connection URI for mongo, and a
	// directory for file.
	DSN string
	// Database is the mongo database name.
	Database string
}

// Open connects to the backend named by opts.Type.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	switch opts.Type {
	case BackendSQLite, "":
		return NewSQLiteStore(opts.DSN)
	case BackendMongo:
		return NewMongoStore(ctx, opts.DSN, opts.Database)
	case BackendFile:
		return NewFileStore(opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Type)
	}
}

func validateRecord(r *article.Record) error {
	if r == nil || r.URL == "" {
		return errors.New("record must have a url")
	}
	return nil
}
