// Package engine executes queries against heterogeneous data sources and
// normalizes the results into one tabular shape. The dispatcher inspects a
// request, resolves which backend it targets, and hands off to that backend's
// executor; executors own their connections for exactly one call.
package engine

import (
	"context"
	"time"

	"github.com/Rifaque/querycraft-backend/internal/registry"
)

type SourceType string

const (
	SourceFile       SourceType = "file"
	SourceConnection SourceType = "connection"
)

// Backend tags identify which executor produced a result.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendMongo    = "mongodb"
	BackendNeo4j    = "neo4j"
)

// Request is one query-execution call. Exactly one of Query/Mongo must fit
// the backend the request resolves to; the dispatcher validates that before
// any connection is opened.
type Request struct {
	SourceType       SourceType `json:"source_type,omitempty"`
	FileID           string     `json:"file_id,omitempty"`
	ConnectionString string     `json:"connection_string,omitempty"`
	User             string     `json:"user,omitempty"`
	Password         string     `json:"password,omitempty"`
	Database         string     `json:"database,omitempty"`
	Query            string     `json:"query,omitempty"`
	Mongo            *MongoSpec `json:"mongo,omitempty"`
	MaxRows          int        `json:"max_rows,omitempty"`
}

// MongoSpec is the structured query shape for document sources. Filter and
// Projection are passed to the driver as-is.
type MongoSpec struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
}

// Result is the uniform tabular shape every executor returns. RowCount always
// equals len(Rows) and never exceeds the row cap the dispatcher applied.
type Result struct {
	Source   string           `json:"source"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Duration time.Duration    `json:"-"`
}

// ConnTarget carries a connection string plus the per-request credential and
// database overrides that may replace what the URL encodes.
type ConnTarget struct {
	URL      string
	User     string
	Password string
	Database string
}

// RelationalExecutor runs SQL text against a file path or connection URL.
type RelationalExecutor interface {
	Run(ctx context.Context, target ConnTarget, query string, maxRows int) (Result, error)
}

// DocumentExecutor runs a structured find against a document store.
type DocumentExecutor interface {
	Run(ctx context.Context, target ConnTarget, spec MongoSpec, maxRows int) (Result, error)
}

// GraphExecutor runs Cypher text against a graph store, falling back between
// transports as needed.
type GraphExecutor interface {
	Run(ctx context.Context, target ConnTarget, query string, maxRows int) (Result, error)
}

// FileImporter materializes a non-relational file into an ephemeral store and
// runs the query there.
type FileImporter interface {
	Run(ctx context.Context, path string, kind registry.Kind, query string, maxRows int) (Result, error)
}

// FileLookup is the slice of the registry the dispatcher needs.
type FileLookup interface {
	Lookup(ctx context.Context, id string) (registry.FileMetadata, error)
}
