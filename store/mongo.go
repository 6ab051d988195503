package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/bdmscrape/article"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "bdm"

// MongoStore keeps articles in a MongoDB collection with a unique index on
// url.
type MongoStore struct {
	client   *mongo.Client
	articles *mongo.Collection
	runs     *mongo.Collection
}

// mongoRun is the stored form of Run; the run ID is kept as its string form.
type mongoRun struct {
	RunID       string    `bson:"run_id"`
	StartedAt   time.Time `bson:"started_at"`
	FinishedAt  time.Time `bson:"finished_at"`
	Categories  []string  `bson:"categories"`
	CountBefore int64     `bson:"count_before"`
	CountAfter  int64     `bson:"count_after"`
	TotalNew    int       `bson:"total_new"`
	Failed      int       `bson:"failed"`
	Interrupted bool      `bson:"interrupted"`
}

// NewMongoStore connects to uri and prepares the collections of database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo storage requires a connection URI")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		articles: db.Collection("articles"),
		runs:     db.Collection("runs"),
	}

	_, err = s.articles.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "publication_date", Value: -1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Exists reports whether an article with url is stored.
func (s *MongoStore) Exists(ctx context.Context, url string) (bool, error) {
	n, err := s.articles.CountDocuments(ctx, bson.M{"url": url}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to query article: %w", err)
	}
	return n > 0, nil
}

// Upsert sets every field of r on the document keyed by its URL.
func (s *MongoStore) Upsert(ctx context.Context, r *article.Record) (UpsertResult, error) {
	if err := validateRecord(r); err != nil {
		return 0, err
	}
	r.Normalize()

	res, err := s.articles.UpdateOne(ctx,
		bson.M{"url": r.URL},
		bson.M{"$set": r},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert article: %w", err)
	}
	if res.UpsertedCount > 0 {
		return Inserted, nil
	}
	return Updated, nil
}

// Get retrieves the article stored under url.
func (s *MongoStore) Get(ctx context.Context, url string) (*article.Record, error) {
	var r article.Record
	err := s.articles.FindOne(ctx, bson.M{"url": url}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}
	r.Normalize()
	return &r, nil
}

// CountAll returns the number of stored articles.
func (s *MongoStore) CountAll(ctx context.Context) (int64, error) {
	return s.Count(ctx, Filter{})
}

// Count returns the number of articles matching f.
func (s *MongoStore) Count(ctx context.Context, f Filter) (int64, error) {
	n, err := s.articles.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

// Find lists articles matching f.
func (s *MongoStore) Find(ctx context.Context, f Filter, opts FindOptions) ([]article.Record, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	cur, err := s.articles.Aggregate(ctx, findPipeline(f, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer cur.Close(ctx)

	records := []article.Record{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	for i := range records {
		records[i].Normalize()
	}
	return records, nil
}

// mongoFilter translates f into a query document. Substring matches use a
// case-insensitive regex over the quoted input.
func mongoFilter(f Filter) bson.M {
	var conds []bson.M

	if f.Category != "" {
		conds = append(conds, bson.M{"category": f.Category})
	}
	if f.Tag != "" {
		conds = append(conds, bson.M{"tags": f.Tag})
	}
	if f.CategoryLike != "" {
		re := containsRegex(f.CategoryLike)
		conds = append(conds, bson.M{"$or": bson.A{
			bson.M{"category": re},
			bson.M{"favtag": re},
		}})
	}
	if f.DateFrom != "" || f.DateTo != "" {
		dates := bson.M{}
		if f.DateFrom != "" {
			dates["$gte"] = f.DateFrom
		}
		if f.DateTo != "" {
			dates["$lte"] = f.DateTo
		}
		conds = append(conds, bson.M{"publication_date": dates})
	}
	if f.Query != "" {
		re := containsRegex(f.Query)
		conds = append(conds, bson.M{"$or": bson.A{
			bson.M{"title": re},
			bson.M{"summary": re},
			bson.M{"content": re},
			bson.M{"tags": re},
		}})
	}

	switch len(conds) {
	case 0:
		return bson.M{}
	case 1:
		return conds[0]
	default:
		all := make(bson.A, len(conds))
		for i, c := range conds {
			all[i] = c
		}
		return bson.M{"$and": all}
	}
}

func containsRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// findPipeline sorts records with a null key after the others in either
// direction, which a plain find sort cannot express.
func findPipeline(f Filter, opts FindOptions) mongo.Pipeline {
	direction := 1
	if opts.Desc {
		direction = -1
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: mongoFilter(f)}},
		{{Key: "$addFields", Value: bson.M{
			"_missing": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$" + opts.Sort, nil}}, nil}},
				1, 0,
			}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "_missing", Value: 1},
			{Key: opts.Sort, Value: direction},
			{Key: "url", Value: 1},
		}}},
	}
	if opts.Offset > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(opts.Offset)}})
	}
	if opts.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(opts.Limit)}})
	}
	return append(pipeline, bson.D{{Key: "$project", Value: bson.M{"_missing": 0, "_id": 0}}})
}

// facetPipeline groups by field, unwinding arrays first.
func facetPipeline(field Field, limit int) mongo.Pipeline {
	path := "$" + string(field)
	pipeline := mongo.Pipeline{}
	if field == FieldTags {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: path}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$match", Value: bson.M{string(field): bson.M{"$ne": nil}}}},
		bson.D{{Key: "$group", Value: bson.M{"_id": path, "count": bson.M{"$sum": 1}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	)
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(limit)}})
	}
	return pipeline
}

// AggregateDistinctCounts counts the distinct values of field.
func (s *MongoStore) AggregateDistinctCounts(ctx context.Context, field Field, limit int) ([]FacetCount, error) {
	if _, err := ParseField(string(field)); err != nil {
		return nil, err
	}

	cur, err := s.articles.Aggregate(ctx, facetPipeline(field, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", field, err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Value string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s counts: %w", field, err)
	}

	facets := make([]FacetCount, len(rows))
	for i, row := range rows {
		facets[i] = FacetCount{Value: row.Value, Count: row.Count}
	}
	return facets, nil
}

// PublicationDateRange returns the oldest and newest publication dates.
func (s *MongoStore) PublicationDateRange(ctx context.Context) (*string, *string, error) {
	cur, err := s.articles.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"publication_date": bson.M{"$ne": nil}}}},
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"oldest": bson.M{"$min": "$publication_date"},
			"newest": bson.M{"$max": "$publication_date"},
		}}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query date range: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Oldest *string `bson:"oldest"`
		Newest *string `bson:"newest"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, nil, fmt.Errorf("failed to decode date range: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0].Oldest, rows[0].Newest, nil
}

// RecordRun stores a run summary.
func (s *MongoStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.runs.InsertOne(ctx, mongoRun{
		RunID:       run.RunID.String(),
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Categories:  run.Categories,
		CountBefore: run.CountBefore,
		CountAfter:  run.CountAfter,
		TotalNew:    run.TotalNew,
		Failed:      run.Failed,
		Interrupted: run.Interrupted,
	})
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of 0 returns all.
func (s *MongoStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer cur.Close(ctx)

	var stored []mongoRun
	if err := cur.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	runs := make([]Run, 0, len(stored))
	for _, m := range stored {
		id, err := uuid.Parse(m.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run ID: %w", err)
		}
		runs = append(runs, Run{
			RunID:       id,
			StartedAt:   m.StartedAt.UTC(),
			FinishedAt:  m.FinishedAt.UTC(),
			Categories:  m.Categories,
			CountBefore: m.CountBefore,
			CountAfter:  m.CountAfter,
			TotalNew:    m.TotalNew,
			Failed:      m.Failed,
			Interrupted: m.Interrupted,
		})
	}
	return runs, nil
}
