package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pevans/bdmscrape/article"
)

// sqliteDriver is go-sqlite3 with a Unicode-aware lower() registered on every
// connection. SQLite's builtin lower() only folds ASCII, which misses the
// accented capitals common in French titles.
const sqliteDriver = "sqlite3_bdm"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("bdm_lower", strings.ToLower, true)
		},
	})
}

// storedTimeLayout is fixed-width so that stored timestamps sort
// chronologically as text.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

const articleColumns = `url, title, thumbnail, category, favtag, tags, summary,
	publication_date, author, images, content, scraped_at`

// SQLiteStore keeps articles and runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite storage requires a database path")
	}

	db, err := sql.Open(sqliteDriver, sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; go-sqlite3 is safe to share across
	// goroutines behind it.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// initSchema creates the tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		url TEXT PRIMARY KEY,
		title TEXT,
		thumbnail TEXT,
		category TEXT,
		favtag TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		summary TEXT,
		publication_date TEXT,
		author TEXT,
		images TEXT NOT NULL DEFAULT '[]',
		content TEXT,
		scraped_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
	CREATE INDEX IF NOT EXISTS idx_articles_publication_date ON articles(publication_date);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		categories TEXT NOT NULL,
		count_before INTEGER NOT NULL,
		count_after INTEGER NOT NULL,
		total_new INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		interrupted INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Exists reports whether an article with url is stored.
func (s *SQLiteStore) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM articles WHERE url = ?", url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query article: %w", err)
	}
	return true, nil
}

// Upsert inserts r or replaces the stored record with the same URL. The
// existence check and the write share one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, r *article.Record) (UpsertResult, error) {
	if err := validateRecord(r); err != nil {
		return 0, err
	}
	r.Normalize()

	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tags: %w", err)
	}
	images, err := json.Marshal(r.Images)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal images: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := Inserted
	var one int
	switch err := tx.QueryRowContext(ctx, "SELECT 1 FROM articles WHERE url = ?", r.URL).Scan(&one); {
	case err == nil:
		result = Updated
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("failed to query article: %w", err)
	}

	query := `
		INSERT INTO articles (` + articleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			thumbnail = excluded.thumbnail,
			category = excluded.category,
			favtag = excluded.favtag,
			tags = excluded.tags,
			summary = excluded.summary,
			publication_date = excluded.publication_date,
			author = excluded.author,
			images = excluded.images,
			content = excluded.content,
			scraped_at = excluded.scraped_at
	`
	_, err = tx.ExecContext(ctx, query,
		r.URL, r.Title, r.Thumbnail, r.Category, r.Favtag, string(tags),
		r.Summary, r.PublicationDate, r.Author, string(images), r.Content,
		formatTime(r.ScrapedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert article: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit article: %w", err)
	}
	return result, nil
}

// Get retrieves the article stored under url.
func (s *SQLiteStore) Get(ctx context.Context, url string) (*article.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+articleColumns+" FROM articles WHERE url = ?", url)
	r, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CountAll returns the number of stored articles.
func (s *SQLiteStore) CountAll(ctx context.Context) (int64, error) {
	return s.Count(ctx, Filter{})
}

// Count returns the number of articles matching f.
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := whereClause(f)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

// Find lists articles matching f.
func (s *SQLiteStore) Find(ctx context.Context, f Filter, opts FindOptions) ([]article.Record, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	where, args := whereClause(f)
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}
	// opts.Sort was validated against a fixed set of column names.
	query := fmt.Sprintf("SELECT %s FROM articles%s ORDER BY (%s IS NULL), %s %s, url ASC",
		articleColumns, where, opts.Sort, opts.Sort, direction)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	records := []article.Record{}
	for rows.Next() {
		r, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return records, nil
}

// whereClause builds the WHERE clause for f. Case-insensitive matches compare
// against a lowered needle.
func whereClause(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(articles.tags) WHERE value = ?)")
		args = append(args, f.Tag)
	}
	if f.CategoryLike != "" {
		needle := strings.ToLower(f.CategoryLike)
		clauses = append(clauses, "("+containsLower("category")+" OR "+containsLower("favtag")+")")
		args = append(args, needle, needle)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "publication_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "publication_date <= ?")
		args = append(args, f.DateTo)
	}
	if f.Query != "" {
		needle := strings.ToLower(f.Query)
		clauses = append(clauses, "("+
			containsLower("title")+" OR "+
			containsLower("summary")+" OR "+
			containsLower("content")+" OR "+
			"EXISTS (SELECT 1 FROM json_each(articles.tags) WHERE instr(bdm_lower(value), ?) > 0))")
		args = append(args, needle, needle, needle, needle)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func containsLower(column string) string {
	return fmt.Sprintf("instr(bdm_lower(COALESCE(%s, '')), ?) > 0", column)
}

// AggregateDistinctCounts counts the distinct values of field.
func (s *SQLiteStore) AggregateDistinctCounts(ctx context.Context, field Field, limit int) ([]FacetCount, error) {
	if _, err := ParseField(string(field)); err != nil {
		return nil, err
	}

	var query string
	if field == FieldTags {
		query = `
			SELECT j.value, COUNT(*) AS n
			FROM articles, json_each(articles.tags) AS j
			GROUP BY j.value
			ORDER BY n DESC, j.value ASC`
	} else {
		query = fmt.Sprintf(`
			SELECT %[1]s, COUNT(*) AS n
			FROM articles
			WHERE %[1]s IS NOT NULL
			GROUP BY %[1]s
			ORDER BY n DESC, %[1]s ASC`, field)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", field, err)
	}
	defer rows.Close()

	facets := []FacetCount{}
	for rows.Next() {
		var fc FacetCount
		if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", field, err)
		}
		facets = append(facets, fc)
	}
	return facets, rows.Err()
}

// PublicationDateRange returns the oldest and newest publication dates.
func (s *SQLiteStore) PublicationDateRange(ctx context.Context) (*string, *string, error) {
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(publication_date), MAX(publication_date) FROM articles",
	).Scan(&oldest, &newest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query date range: %w", err)
	}
	return nullToPtr(oldest), nullToPtr(newest), nil
}

// RecordRun stores a run summary.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	categories, err := json.Marshal(run.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query := `
		INSERT INTO runs (
			run_id, started_at, finished_at, categories, count_before,
			count_after, total_new, failed, interrupted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.RunID.String(),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		string(categories),
		run.CountBefore,
		run.CountAfter,
		run.TotalNew,
		run.Failed,
		run.Interrupted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, started_at, finished_at, categories, count_before,
		       count_after, total_new, failed, interrupted
		FROM runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var runID, startedAt, finishedAt, categories string
		err := rows.Scan(
			&runID, &startedAt, &finishedAt, &categories,
			&run.CountBefore, &run.CountAfter, &run.TotalNew,
			&run.Failed, &run.Interrupted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if run.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("failed to parse run ID: %w", err)
		}
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTime(finishedAt)
		if err := json.Unmarshal([]byte(categories), &run.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanArticle parses one row selected with articleColumns.
func scanArticle(row rowScanner) (*article.Record, error) {
	var r article.Record
	var title, thumbnail, category, favtag, summary, pubDate, author, content sql.NullString
	var tags, images, scrapedAt string

	err := row.Scan(
		&r.URL, &title, &thumbnail, &category, &favtag, &tags,
		&summary, &pubDate, &author, &images, &content, &scrapedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}

	r.Title = nullToPtr(title)
	r.Thumbnail = nullToPtr(thumbnail)
	r.Category = nullToPtr(category)
	r.Favtag = nullToPtr(favtag)
	r.Summary = nullToPtr(summary)
	r.PublicationDate = nullToPtr(pubDate)
	r.Author = nullToPtr(author)
	r.Content = nullToPtr(content)
	r.ScrapedAt = parseTime(scrapedAt)

	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &r.Images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	r.Normalize()
	return &r, nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}
