// Package tabular materializes uploaded flat files into an ephemeral SQLite
// store so plain SQL can run over them. Each call builds its store in a fresh
// temp directory and removes it before returning.
package tabular

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/parquet-go/parquet-go"

	"github.com/Rifaque/querycraft-backend/internal/engine"
	"github.com/Rifaque/querycraft-backend/internal/observability"
	"github.com/Rifaque/querycraft-backend/internal/registry"
)

const (
	tableCSV     = "imported_csv"
	tableJSON    = "imported_json"
	tableParquet = "imported_parquet"

	defaultBatchSize = 500
)

// Importer loads one file into a throwaway SQLite database and delegates the
// query itself to a read-only relational executor over that database.
type Importer struct {
	batchSize int
	query     engine.RelationalExecutor
}

func New(batchSize int, query engine.RelationalExecutor) *Importer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Importer{batchSize: batchSize, query: query}
}

func (imp *Importer) Run(ctx context.Context, path string, kind registry.Kind, query string, maxRows int) (engine.Result, error) {
	dir, err := os.MkdirTemp("", "querycraft-import-")
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindImportFailure, engine.BackendSQLite, fmt.Errorf("create import dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(dir) }()

	dbPath := filepath.Join(dir, "store.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindImportFailure, engine.BackendSQLite, fmt.Errorf("open import store: %w", err))
	}

	imported, err := imp.load(ctx, db, path, kind)
	closeErr := db.Close()
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindImportFailure, engine.BackendSQLite, err)
	}
	if closeErr != nil {
		return engine.Result{}, engine.Wrap(engine.KindImportFailure, engine.BackendSQLite, fmt.Errorf("close import store: %w", closeErr))
	}
	observability.ObserveImportedRows(imported)

	return imp.query.Run(ctx, engine.ConnTarget{URL: dbPath}, query, maxRows)
}

func (imp *Importer) load(ctx context.Context, db *sql.DB, path string, kind registry.Kind) (int, error) {
	if kind == registry.KindUnknown || kind == "" {
		sniffed, err := sniffKind(path)
		if err != nil {
			return 0, err
		}
		kind = sniffed
	}

	switch kind {
	case registry.KindCSV:
		return imp.loadCSV(ctx, db, path)
	case registry.KindJSON:
		return imp.loadJSON(ctx, db, path)
	case registry.KindSQL:
		return imp.loadScript(ctx, db, path)
	case registry.KindParquet:
		return imp.loadParquet(ctx, db, path)
	default:
		return 0, fmt.Errorf("file kind %q cannot be imported", kind)
	}
}

// sniffKind decides between JSON and CSV for files whose extension told us
// nothing. A leading brace or bracket means JSON; everything else is treated
// as delimited text.
func sniffKind(path string) (registry.Kind, error) {
	file, err := os.Open(path)
	if err != nil {
		return registry.KindUnknown, fmt.Errorf("open for sniff: %w", err)
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, 64)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return registry.KindUnknown, fmt.Errorf("sniff head: %w", err)
	}
	trimmed := strings.TrimLeft(string(head[:n]), " \t\r\n\ufeff")
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return registry.KindJSON, nil
	}
	return registry.KindCSV, nil
}

func (imp *Importer) loadCSV(ctx context.Context, db *sql.DB, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err == io.EOF {
		return 0, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = name
	}

	if err := createTextTable(ctx, db, tableCSV, columns); err != nil {
		return 0, err
	}

	total := 0
	batch := make([][]any, 0, imp.batchSize)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv row %d: %w", total+1, err)
		}
		row := make([]any, len(columns))
		for i := range columns {
			row[i] = record[i]
		}
		batch = append(batch, row)
		if len(batch) >= imp.batchSize {
			if err := insertBatch(ctx, db, tableCSV, columns, batch); err != nil {
				return 0, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := insertBatch(ctx, db, tableCSV, columns, batch); err != nil {
			return 0, err
		}
		total += len(batch)
	}
	return total, nil
}

func (imp *Importer) loadJSON(ctx context.Context, db *sql.DB, path string) (int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read json: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parse json: %w", err)
	}

	var docs []map[string]any
	switch typed := parsed.(type) {
	case map[string]any:
		docs = []map[string]any{typed}
	case []any:
		for i, item := range typed {
			doc, ok := item.(map[string]any)
			if !ok {
				return 0, fmt.Errorf("json element %d is not an object", i)
			}
			docs = append(docs, doc)
		}
	default:
		return 0, fmt.Errorf("json root must be an object or an array of objects")
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("json file holds no objects")
	}

	columns := unionKeys(docs)
	if err := createTextTable(ctx, db, tableJSON, columns); err != nil {
		return 0, err
	}

	total := 0
	batch := make([][]any, 0, imp.batchSize)
	for _, doc := range docs {
		row := make([]any, len(columns))
		for i, column := range columns {
			value, ok := doc[column]
			if !ok || value == nil {
				row[i] = nil
				continue
			}
			row[i] = stringifyJSONValue(value)
		}
		batch = append(batch, row)
		if len(batch) >= imp.batchSize {
			if err := insertBatch(ctx, db, tableJSON, columns, batch); err != nil {
				return 0, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := insertBatch(ctx, db, tableJSON, columns, batch); err != nil {
			return 0, err
		}
		total += len(batch)
	}
	return total, nil
}

// loadScript executes an uploaded SQL script verbatim. The script defines its
// own tables; the follow-up query sees whatever it created.
func (imp *Importer) loadScript(ctx context.Context, db *sql.DB, path string) (int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read sql script: %w", err)
	}
	script := strings.TrimSpace(string(body))
	if script == "" {
		return 0, fmt.Errorf("sql script is empty")
	}
	if _, err := db.ExecContext(ctx, script); err != nil {
		return 0, fmt.Errorf("execute sql script: %w", err)
	}
	return 0, nil
}

func (imp *Importer) loadParquet(ctx context.Context, db *sql.DB, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open parquet: %w", err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat parquet: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return 0, fmt.Errorf("parse parquet: %w", err)
	}
	fields := pf.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
	}
	if err := createTextTable(ctx, db, tableParquet, columns); err != nil {
		return 0, err
	}

	reader := parquet.NewGenericReader[map[string]any](file, pf.Schema())
	defer func() { _ = reader.Close() }()

	total := 0
	buffer := make([]map[string]any, imp.batchSize)
	for {
		n, readErr := reader.Read(buffer)
		if n > 0 {
			batch := make([][]any, 0, n)
			for _, doc := range buffer[:n] {
				row := make([]any, len(columns))
				for i, column := range columns {
					value, ok := doc[column]
					if !ok || value == nil {
						row[i] = nil
						continue
					}
					row[i] = fmt.Sprintf("%v", value)
				}
				batch = append(batch, row)
			}
			if err := insertBatch(ctx, db, tableParquet, columns, batch); err != nil {
				return 0, err
			}
			total += n
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("read parquet rows: %w", readErr)
		}
	}
	return total, nil
}

// unionKeys collects column names across documents, preserving the order keys
// are first seen in.
func unionKeys(docs []map[string]any) []string {
	seen := make(map[string]struct{})
	var columns []string
	for _, doc := range docs {
		for key := range doc {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}
	return columns
}

func stringifyJSONValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case bool:
		if typed {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}

func createTextTable(ctx context.Context, db *sql.DB, table string, columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("no columns to import")
	}
	defs := make([]string, len(columns))
	for i, column := range columns {
		defs[i] = quoteIdent(column) + " TEXT"
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func insertBatch(ctx context.Context, db *sql.DB, table string, columns []string, batch [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import batch: %w", err)
	}
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
		placeholders[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare import insert: %w", err)
	}
	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert import row: %w", err)
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close import statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import batch: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
