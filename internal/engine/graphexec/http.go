package graphexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Rifaque/querycraft-backend/internal/engine"
)

type txRequest struct {
	Statements []txStatement `json:"statements"`
}

type txStatement struct {
	Statement string `json:"statement"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// httpQuery drives the transactional HTTP endpoint. A bolt-scheme URI keeps
// its host but drops the bolt port, since the HTTP endpoint listens elsewhere.
func (e *Executor) httpQuery(ctx context.Context, parsed *url.URL, creds credentials, database, query string, maxRows int) (engine.Result, error) {
	origin := e.originFor(parsed)
	if name := databaseFromPath(parsed); name != "" {
		database = name
	}
	endpoint := fmt.Sprintf("%s/db/%s/tx/commit", origin, url.PathEscape(database))

	body, err := json.Marshal(txRequest{Statements: []txStatement{{Statement: query}}})
	if err != nil {
		return engine.Result{}, fmt.Errorf("encode statement: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if creds.user != "" {
		req.SetBasicAuth(creds.user, creds.password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return engine.Result{}, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return engine.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return engine.Result{}, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}

	var decoded txResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return engine.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		first := decoded.Errors[0]
		return engine.Result{}, fmt.Errorf("cypher error %s: %s", first.Code, first.Message)
	}
	if len(decoded.Results) == 0 {
		return engine.Result{Source: engine.BackendNeo4j, Columns: []string{}, Rows: []map[string]any{}}, nil
	}

	first := decoded.Results[0]
	rows := make([]map[string]any, 0, len(first.Data))
	for _, datum := range first.Data {
		if len(rows) >= maxRows {
			break
		}
		row := make(map[string]any, len(first.Columns))
		for i, column := range first.Columns {
			if i < len(datum.Row) {
				row[column] = datum.Row[i]
			}
		}
		rows = append(rows, row)
	}
	columns := first.Columns
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

// databaseFromPath extracts a database named in the connection URI path. A
// path already addressed the HTTP way (`/db/<name>`) or a bare trailing
// segment (`/movies`) names the database and wins over the request parameter.
func databaseFromPath(parsed *url.URL) string {
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	if segments[0] == "db" {
		if len(segments) > 1 {
			return segments[1]
		}
		return ""
	}
	return segments[len(segments)-1]
}

func httpOrigin(parsed *url.URL) string {
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "http" || scheme == "https" {
		return scheme + "://" + parsed.Host
	}
	return "https://" + parsed.Hostname()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
