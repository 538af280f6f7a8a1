package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Rifaque/querycraft-backend/internal/observability"
	"github.com/Rifaque/querycraft-backend/internal/registry"
	"github.com/Rifaque/querycraft-backend/internal/storage"
)

const DefaultMaxRows = 1000

// Dispatcher validates a request, resolves its backend, and routes it to the
// matching executor. It owns no connections itself; the only resource it
// manages is the temp file a stored object is spooled into for file-mode
// calls, released before Execute returns.
type Dispatcher struct {
	Files          FileLookup
	Objects        storage.ObjectStore
	SQLite         RelationalExecutor
	Postgres       RelationalExecutor
	MySQL          RelationalExecutor
	Mongo          DocumentExecutor
	Graph          GraphExecutor
	Importer       FileImporter
	DefaultMaxRows int
	Logger         *slog.Logger
}

func (d *Dispatcher) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := d.execute(ctx, req)
	elapsed := time.Since(start)

	backend := result.Source
	if backend == "" {
		backend = BackendOf(err)
	}
	if backend == "" {
		backend = "unresolved"
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ObserveQuery(backend, status, elapsed)
	if d.Logger != nil {
		d.Logger.DebugContext(ctx, "query executed",
			slog.String("backend", backend),
			slog.String("status", status),
			slog.Int("rows", result.RowCount),
			slog.String("duration", elapsed.String()),
		)
	}
	if err != nil {
		return Result{}, err
	}
	result.Duration = elapsed
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request) (Result, error) {
	maxRows := d.clampMaxRows(req.MaxRows)

	hasQuery := strings.TrimSpace(req.Query) != ""
	hasMongo := req.Mongo != nil && strings.TrimSpace(req.Mongo.Collection) != ""
	if !hasQuery && !hasMongo {
		return Result{}, Errf(KindInvalidPayload, "", "either query text or mongo.collection is required")
	}

	sourceType := req.SourceType
	if sourceType == "" {
		switch {
		case strings.TrimSpace(req.FileID) != "":
			sourceType = SourceFile
		case strings.TrimSpace(req.ConnectionString) != "":
			sourceType = SourceConnection
		default:
			return Result{}, Errf(KindInvalidPayload, "", "source_type is required when neither file_id nor connection_string is set")
		}
	}

	switch sourceType {
	case SourceFile:
		return d.executeFile(ctx, req, maxRows)
	case SourceConnection:
		return d.executeConnection(ctx, req, maxRows, hasQuery, hasMongo)
	default:
		return Result{}, Errf(KindInvalidPayload, "", "unknown source_type %q", sourceType)
	}
}

func (d *Dispatcher) executeFile(ctx context.Context, req Request, maxRows int) (Result, error) {
	if strings.TrimSpace(req.FileID) == "" {
		return Result{}, Errf(KindInvalidPayload, "", "file_id is required for file sources")
	}
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, Errf(KindEmptyQueryForFile, "", "query text is required for file sources")
	}

	meta, err := d.Files.Lookup(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return Result{}, Errf(KindFileNotFound, "", "file %q is not registered", req.FileID)
		}
		return Result{}, Wrap(KindBackendExecution, "", err)
	}

	localPath, cleanup, err := d.spool(ctx, meta)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	if meta.Kind == registry.KindSQLite {
		return d.SQLite.Run(ctx, ConnTarget{URL: localPath}, req.Query, maxRows)
	}
	return d.Importer.Run(ctx, localPath, meta.Kind, req.Query, maxRows)
}

func (d *Dispatcher) executeConnection(ctx context.Context, req Request, maxRows int, hasQuery, hasMongo bool) (Result, error) {
	raw := strings.TrimSpace(req.ConnectionString)
	if raw == "" {
		return Result{}, Errf(KindInvalidPayload, "", "connection_string is required for connection sources")
	}

	target := ConnTarget{
		URL:      raw,
		User:     req.User,
		Password: req.Password,
		Database: req.Database,
	}

	switch backend, err := classifyScheme(raw); {
	case err != nil:
		return Result{}, err
	case backend == BackendMongo:
		if !hasMongo {
			return Result{}, Errf(KindMongoQueryRequired, "", "mongo.collection is required for mongodb connections")
		}
		return d.Mongo.Run(ctx, target, *req.Mongo, maxRows)
	case backend == BackendPostgres:
		if !hasQuery {
			return Result{}, Errf(KindSQLQueryRequired, "", "query text is required for postgres connections")
		}
		return d.Postgres.Run(ctx, target, req.Query, maxRows)
	case backend == BackendMySQL:
		if !hasQuery {
			return Result{}, Errf(KindSQLQueryRequired, "", "query text is required for mysql connections")
		}
		return d.MySQL.Run(ctx, target, req.Query, maxRows)
	case backend == BackendNeo4j:
		if !hasQuery {
			return Result{}, Errf(KindCypherQueryRequired, "", "query text is required for graph connections")
		}
		return d.Graph.Run(ctx, target, req.Query, maxRows)
	default:
		return Result{}, Errf(KindUnsupportedConnection, "", "unsupported backend %q", backend)
	}
}

// spool copies a stored object into a private temp file so file-based
// executors can open it by path. The returned cleanup always removes the
// temp directory.
func (d *Dispatcher) spool(ctx context.Context, meta registry.FileMetadata) (string, func(), error) {
	reader, err := d.Objects.Get(ctx, meta.StoredPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", nil, Errf(KindFileNotFound, "", "stored object %q is missing", meta.StoredPath)
		}
		return "", nil, Wrap(KindBackendExecution, "", err)
	}
	defer func() { _ = reader.Close() }()

	dir, err := os.MkdirTemp("", "querycraft-source-")
	if err != nil {
		return "", nil, Wrap(KindBackendExecution, "", fmt.Errorf("create spool dir: %w", err))
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	localPath := dir + string(os.PathSeparator) + "source"
	file, err := os.Create(localPath)
	if err != nil {
		cleanup()
		return "", nil, Wrap(KindBackendExecution, "", fmt.Errorf("create spool file: %w", err))
	}
	_, err = io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, Wrap(KindBackendExecution, "", fmt.Errorf("spool object %q: %w", meta.StoredPath, err))
	}
	return localPath, cleanup, nil
}

func (d *Dispatcher) clampMaxRows(requested int) int {
	fallback := d.DefaultMaxRows
	if fallback <= 0 {
		fallback = DefaultMaxRows
	}
	if requested <= 0 {
		return fallback
	}
	return requested
}

// classifyScheme maps a connection string's URI scheme to a backend tag.
func classifyScheme(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return "", Errf(KindUnsupportedConnection, "", "connection string has no recognizable scheme")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "mongodb", "mongodb+srv":
		return BackendMongo, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "mysql", "mariadb":
		return BackendMySQL, nil
	case "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc", "http", "https":
		return BackendNeo4j, nil
	default:
		return "", Errf(KindUnsupportedConnection, "", "unsupported connection scheme %q", parsed.Scheme)
	}
}
