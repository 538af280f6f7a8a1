// Package graphexec runs Cypher against Neo4j. Bolt is the primary transport;
// when bolt cannot reach the server the executor retries once over the HTTP
// transactional endpoint, which some managed deployments expose while the
// bolt port is firewalled.
package graphexec

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/Rifaque/querycraft-backend/internal/engine"
	"github.com/Rifaque/querycraft-backend/internal/observability"
)

type credentials struct {
	user     string
	password string
}

type Executor struct {
	defaultDatabase string
	httpTimeout     time.Duration

	// runBolt and originFor are swapped by tests to drive the fallback path
	// without a reachable server.
	runBolt   func(ctx context.Context, target engine.ConnTarget, creds credentials, database, query string, maxRows int) (engine.Result, error)
	originFor func(parsed *url.URL) string
}

func New(defaultDatabase string, httpTimeout time.Duration) *Executor {
	if defaultDatabase == "" {
		defaultDatabase = "neo4j"
	}
	if httpTimeout <= 0 {
		httpTimeout = 15 * time.Second
	}
	e := &Executor{
		defaultDatabase: defaultDatabase,
		httpTimeout:     httpTimeout,
	}
	e.runBolt = e.boltQuery
	e.originFor = httpOrigin
	return e
}

func (e *Executor) Run(ctx context.Context, target engine.ConnTarget, query string, maxRows int) (engine.Result, error) {
	parsed, err := url.Parse(strings.TrimSpace(target.URL))
	if err != nil || parsed.Scheme == "" {
		return engine.Result{}, engine.Errf(engine.KindInvalidPayload, engine.BackendNeo4j, "graph connection string is not a valid uri")
	}

	scheme := strings.ToLower(parsed.Scheme)

	// Graph-protocol schemes need credentials before any dial; plain http(s)
	// endpoints may be anonymous, and basic auth is attached only when
	// credentials exist.
	creds, ok := resolveCredentials(target, parsed)
	if !ok && scheme != "http" && scheme != "https" {
		return engine.Result{}, engine.Errf(engine.KindAuthRequired, engine.BackendNeo4j, "graph connections require a user and password")
	}

	database := target.Database
	if database == "" {
		database = e.defaultDatabase
	}

	if scheme == "http" || scheme == "https" {
		result, err := e.httpQuery(ctx, parsed, creds, database, query, maxRows)
		if err != nil {
			return engine.Result{}, engine.Wrap(classify(err), engine.BackendNeo4j, err)
		}
		return result, nil
	}

	result, boltErr := e.runBolt(ctx, target, creds, database, query, maxRows)
	if boltErr == nil {
		return result, nil
	}
	if !isConnectivityError(boltErr) {
		return engine.Result{}, engine.Wrap(engine.KindBackendExecution, engine.BackendNeo4j, boltErr)
	}

	observability.ObserveGraphFallback()
	result, httpErr := e.httpQuery(ctx, parsed, creds, database, query, maxRows)
	if httpErr == nil {
		return result, nil
	}
	return engine.Result{}, engine.Wrap(classify(httpErr), engine.BackendNeo4j,
		fmt.Errorf("bolt failed (%v); http fallback failed: %w", boltErr, httpErr))
}

// resolveCredentials prefers explicit request fields over the URI user-info.
func resolveCredentials(target engine.ConnTarget, parsed *url.URL) (credentials, bool) {
	if target.User != "" && target.Password != "" {
		return credentials{user: target.User, password: target.Password}, true
	}
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		if parsed.User.Username() != "" && password != "" {
			return credentials{user: parsed.User.Username(), password: password}, true
		}
	}
	return credentials{}, false
}

func (e *Executor) boltQuery(ctx context.Context, target engine.ConnTarget, creds credentials, database, query string, maxRows int) (engine.Result, error) {
	driver, err := neo4j.NewDriverWithContext(target.URL, neo4j.BasicAuth(creds.user, creds.password, ""))
	if err != nil {
		return engine.Result{}, fmt.Errorf("create bolt driver: %w", err)
	}
	defer func() { _ = driver.Close(ctx) }()

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: database,
	})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return engine.Result{}, err
	}
	columns, err := result.Keys()
	if err != nil {
		return engine.Result{}, err
	}

	rows := make([]map[string]any, 0)
	for len(rows) < maxRows && result.Next(ctx) {
		record := result.Record()
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeGraphValue(record.Values[i])
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return engine.Result{}, err
	}
	if columns == nil {
		columns = []string{}
	}

	return engine.Result{
		Source:   engine.BackendNeo4j,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

// normalizeGraphValue flattens driver graph entities into plain maps so
// results serialize the same way as every other backend.
func normalizeGraphValue(value any) any {
	switch typed := value.(type) {
	case dbtype.Node:
		out := map[string]any{
			"element_id": typed.ElementId,
			"labels":     typed.Labels,
		}
		for key, prop := range typed.Props {
			out[key] = normalizeGraphValue(prop)
		}
		return out
	case dbtype.Relationship:
		out := map[string]any{
			"element_id": typed.ElementId,
			"type":       typed.Type,
			"start":      typed.StartElementId,
			"end":        typed.EndElementId,
		}
		for key, prop := range typed.Props {
			out[key] = normalizeGraphValue(prop)
		}
		return out
	case dbtype.Path:
		return fmt.Sprintf("path(%d nodes)", len(typed.Nodes))
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeGraphValue(nested)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = normalizeGraphValue(nested)
		}
		return out
	default:
		return typed
	}
}

// classify splits transport failures from query failures for error reporting.
func classify(err error) engine.Kind {
	if isConnectivityError(err) {
		return engine.KindConnectivity
	}
	return engine.KindBackendExecution
}

// isConnectivityError decides whether the HTTP fallback is worth a try. The
// driver tags dial and routing failures; the substring checks catch wrapped
// net errors the driver does not classify.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsConnectivityError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"no such host",
		"i/o timeout",
		"connection reset",
		"unable to retrieve routing table",
		"dial tcp",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
