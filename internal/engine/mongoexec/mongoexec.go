// Package mongoexec runs structured find queries against MongoDB. A client is
// dialed per call and disconnected before the call returns, matching how
// connection strings arrive with each request.
package mongoexec

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rifaque/querycraft-backend/internal/engine"
)

type Executor struct {
	selectionTimeout time.Duration

	// find is swapped by tests to exercise Run without a reachable server.
	find func(ctx context.Context, target engine.ConnTarget, database string, spec engine.MongoSpec, limit int64) ([]bson.D, error)
}

func New(selectionTimeout time.Duration) *Executor {
	if selectionTimeout <= 0 {
		selectionTimeout = 5 * time.Second
	}
	e := &Executor{selectionTimeout: selectionTimeout}
	e.find = e.findDocuments
	return e
}

func (e *Executor) Run(ctx context.Context, target engine.ConnTarget, spec engine.MongoSpec, maxRows int) (engine.Result, error) {
	database := databaseName(target)
	limit := int64(maxRows)
	if spec.Limit > 0 && spec.Limit < limit {
		limit = spec.Limit
	}

	docs, err := e.find(ctx, target, database, spec, limit)
	if err != nil {
		return engine.Result{}, err
	}

	rows := make([]map[string]any, 0, len(docs))
	var columns []string
	for _, doc := range docs {
		if columns == nil {
			columns = columnsFromDocument(doc)
		}
		rows = append(rows, normalizeDocument(doc))
	}
	if columns == nil {
		columns = []string{}
	}

	return engine.Result{
		Source:   engine.BackendMongo,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

// findDocuments dials, runs the find with the effective limit, and drains the
// cursor before disconnecting.
func (e *Executor) findDocuments(ctx context.Context, target engine.ConnTarget, database string, spec engine.MongoSpec, limit int64) ([]bson.D, error) {
	opts := options.Client().
		ApplyURI(target.URL).
		SetServerSelectionTimeout(e.selectionTimeout)
	if target.User != "" {
		opts.SetAuth(options.Credential{Username: target.User, Password: target.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, engine.Wrap(engine.KindConnectivity, engine.BackendMongo, err)
	}
	defer func() {
		_ = client.Disconnect(context.WithoutCancel(ctx))
	}()

	findOpts := options.Find().SetLimit(limit)
	if len(spec.Projection) > 0 {
		findOpts.SetProjection(spec.Projection)
	}
	filter := spec.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	cursor, err := client.Database(database).Collection(spec.Collection).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, engine.Wrap(engine.KindBackendExecution, engine.BackendMongo, fmt.Errorf("find on %s.%s: %w", database, spec.Collection, err))
	}
	defer func() { _ = cursor.Close(ctx) }()

	docs := make([]bson.D, 0)
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, engine.Wrap(engine.KindBackendExecution, engine.BackendMongo, fmt.Errorf("decode document: %w", err))
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, engine.Wrap(engine.KindBackendExecution, engine.BackendMongo, err)
	}
	return docs, nil
}

// databaseName picks the database override, then the URI path, then "test",
// mirroring the shell's default.
func databaseName(target engine.ConnTarget) string {
	if target.Database != "" {
		return target.Database
	}
	if parsed, err := url.Parse(target.URL); err == nil {
		if name := strings.Trim(parsed.Path, "/"); name != "" {
			return name
		}
	}
	return "test"
}

// columnsFromDocument preserves the key order of the first document, which
// bson.D retains and plain maps would not.
func columnsFromDocument(doc bson.D) []string {
	columns := make([]string, 0, len(doc))
	for _, elem := range doc {
		columns = append(columns, elem.Key)
	}
	return columns
}

func normalizeDocument(doc bson.D) map[string]any {
	row := make(map[string]any, len(doc))
	for _, elem := range doc {
		row[elem.Key] = normalizeValue(elem.Value)
	}
	return row
}

// normalizeValue rewrites driver-specific types into JSON-friendly values,
// recursing through nested documents and arrays.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case primitive.ObjectID:
		return typed.Hex()
	case primitive.DateTime:
		return typed.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return typed.String()
	case primitive.Binary:
		return fmt.Sprintf("binary(%d bytes)", len(typed.Data))
	case bson.D:
		return normalizeDocument(typed)
	case bson.M:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = normalizeValue(nested)
		}
		return out
	case bson.A:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeValue(nested)
		}
		return out
	default:
		return typed
	}
}
