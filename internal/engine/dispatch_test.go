package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/Rifaque/querycraft-backend/internal/registry"
	"github.com/Rifaque/querycraft-backend/internal/storage"
)

type fakeLookup struct {
	files map[string]registry.FileMetadata
}

func (f *fakeLookup) Lookup(_ context.Context, id string) (registry.FileMetadata, error) {
	meta, ok := f.files[id]
	if !ok {
		return registry.FileMetadata{}, registry.ErrNotFound
	}
	return meta, nil
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) Put(context.Context, string, io.Reader, int64, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeObjects) Delete(context.Context, string) error { return nil }

type fakeRelational struct {
	source  string
	calls   int
	target  ConnTarget
	query   string
	maxRows int
	err     error
}

func (f *fakeRelational) Run(_ context.Context, target ConnTarget, query string, maxRows int) (Result, error) {
	f.calls++
	f.target = target
	f.query = query
	f.maxRows = maxRows
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Source: f.source, Columns: []string{"x"}, Rows: []map[string]any{{"x": 1}}, RowCount: 1}, nil
}

type fakeDocument struct {
	calls   int
	spec    MongoSpec
	maxRows int
}

func (f *fakeDocument) Run(_ context.Context, _ ConnTarget, spec MongoSpec, maxRows int) (Result, error) {
	f.calls++
	f.spec = spec
	f.maxRows = maxRows
	return Result{Source: BackendMongo, Columns: []string{}, Rows: []map[string]any{}, RowCount: 0}, nil
}

type fakeImporter struct {
	calls int
	path  string
	kind  registry.Kind
	query string
}

func (f *fakeImporter) Run(_ context.Context, path string, kind registry.Kind, query string, _ int) (Result, error) {
	f.calls++
	f.path = path
	f.kind = kind
	f.query = query
	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	return Result{Source: "sqlite", Columns: []string{"raw"}, Rows: []map[string]any{{"raw": string(body)}}, RowCount: 1}, nil
}

func newDispatcher() (*Dispatcher, *fakeRelational, *fakeRelational, *fakeRelational, *fakeDocument, *fakeRelational, *fakeImporter) {
	sqlite := &fakeRelational{source: BackendSQLite}
	pg := &fakeRelational{source: BackendPostgres}
	my := &fakeRelational{source: BackendMySQL}
	mongo := &fakeDocument{}
	graph := &fakeRelational{source: BackendNeo4j}
	importer := &fakeImporter{}
	d := &Dispatcher{
		Files: &fakeLookup{files: map[string]registry.FileMetadata{
			"f-csv":    {ID: "f-csv", StoredPath: "k/csv", Kind: registry.KindCSV},
			"f-sqlite": {ID: "f-sqlite", StoredPath: "k/sqlite", Kind: registry.KindSQLite},
		}},
		Objects: &fakeObjects{objects: map[string][]byte{
			"k/csv":    []byte("id,name\n1,a\n"),
			"k/sqlite": []byte("SQLite format 3\x00"),
		}},
		SQLite:   sqlite,
		Postgres: pg,
		MySQL:    my,
		Mongo:    mongo,
		Graph:    graph,
		Importer: importer,
	}
	return d, sqlite, pg, my, mongo, graph, importer
}

func TestExecuteRejectsEmptyRequest(t *testing.T) {
	d, _, _, _, _, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{})
	if KindOf(err) != KindInvalidPayload {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindInvalidPayload)
	}
}

func TestExecuteFileRequiresQuery(t *testing.T) {
	d, _, _, _, _, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		SourceType: SourceFile,
		FileID:     "f-csv",
		Mongo:      &MongoSpec{Collection: "users"},
	})
	if KindOf(err) != KindEmptyQueryForFile {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindEmptyQueryForFile)
	}
}

func TestExecuteFileUnknownID(t *testing.T) {
	d, _, _, _, _, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		FileID: "missing",
		Query:  "SELECT 1",
	})
	if KindOf(err) != KindFileNotFound {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindFileNotFound)
	}
}

func TestExecuteSQLiteFileRoutesToSQLiteExecutor(t *testing.T) {
	d, sqlite, _, _, _, _, importer := newDispatcher()
	res, err := d.Execute(context.Background(), Request{
		FileID: "f-sqlite",
		Query:  "SELECT * FROM t",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if sqlite.calls != 1 || importer.calls != 0 {
		t.Fatalf("sqlite calls = %d, importer calls = %d", sqlite.calls, importer.calls)
	}
	if sqlite.target.URL == "" {
		t.Fatal("expected a spooled local path")
	}
	if _, statErr := os.Stat(sqlite.target.URL); !os.IsNotExist(statErr) {
		t.Fatalf("spool file should be removed after Execute, stat err = %v", statErr)
	}
	if sqlite.maxRows != DefaultMaxRows {
		t.Fatalf("maxRows = %d, want default %d", sqlite.maxRows, DefaultMaxRows)
	}
	if res.RowCount != 1 {
		t.Fatalf("RowCount = %d", res.RowCount)
	}
}

func TestExecuteTabularFileRoutesToImporter(t *testing.T) {
	d, sqlite, _, _, _, _, importer := newDispatcher()
	res, err := d.Execute(context.Background(), Request{
		FileID: "f-csv",
		Query:  "SELECT * FROM imported_csv",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if importer.calls != 1 || sqlite.calls != 0 {
		t.Fatalf("importer calls = %d, sqlite calls = %d", importer.calls, sqlite.calls)
	}
	if importer.kind != registry.KindCSV {
		t.Fatalf("kind = %q", importer.kind)
	}
	raw, _ := res.Rows[0]["raw"].(string)
	if !strings.Contains(raw, "id,name") {
		t.Fatalf("importer did not see spooled content: %q", raw)
	}
}

func TestExecuteConnectionRouting(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		pick func(d *Dispatcher, pg, my, graph *fakeRelational, mongo *fakeDocument) int
	}{
		{"postgres", "postgres://u:p@db:5432/app", func(_ *Dispatcher, pg, _, _ *fakeRelational, _ *fakeDocument) int { return pg.calls }},
		{"postgresql", "postgresql://db/app", func(_ *Dispatcher, pg, _, _ *fakeRelational, _ *fakeDocument) int { return pg.calls }},
		{"mysql", "mysql://db:3306/app", func(_ *Dispatcher, _, my, _ *fakeRelational, _ *fakeDocument) int { return my.calls }},
		{"mariadb", "mariadb://db/app", func(_ *Dispatcher, _, my, _ *fakeRelational, _ *fakeDocument) int { return my.calls }},
		{"neo4j", "neo4j://graph:7687", func(_ *Dispatcher, _, _, graph *fakeRelational, _ *fakeDocument) int { return graph.calls }},
		{"bolt", "bolt+s://graph:7687", func(_ *Dispatcher, _, _, graph *fakeRelational, _ *fakeDocument) int { return graph.calls }},
		{"https", "https://graph:7474", func(_ *Dispatcher, _, _, graph *fakeRelational, _ *fakeDocument) int { return graph.calls }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, pg, my, mongo, graph, _ := newDispatcher()
			_, err := d.Execute(context.Background(), Request{
				ConnectionString: tt.uri,
				Query:            "SELECT 1",
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := tt.pick(d, pg, my, graph, mongo); got != 1 {
				t.Fatalf("expected exactly one call to the %s executor, got %d", tt.name, got)
			}
		})
	}
}

func TestExecuteMongoRequiresCollectionBeforeDialing(t *testing.T) {
	d, _, _, _, mongo, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		ConnectionString: "mongodb://db:27017/app",
		Query:            "SELECT 1",
	})
	if KindOf(err) != KindMongoQueryRequired {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindMongoQueryRequired)
	}
	if mongo.calls != 0 {
		t.Fatal("document executor must not be reached without mongo.collection")
	}
}

func TestExecuteMongoSpecRouted(t *testing.T) {
	d, _, _, _, mongo, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		ConnectionString: "mongodb+srv://cluster/app",
		Mongo:            &MongoSpec{Collection: "users", Limit: 5},
		MaxRows:          50,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if mongo.calls != 1 || mongo.spec.Collection != "users" {
		t.Fatalf("mongo calls = %d, collection = %q", mongo.calls, mongo.spec.Collection)
	}
	if mongo.maxRows != 50 {
		t.Fatalf("maxRows = %d, want 50", mongo.maxRows)
	}
}

func TestExecuteSQLConnectionRequiresQuery(t *testing.T) {
	d, _, pg, _, _, _, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		ConnectionString: "postgres://db/app",
		Mongo:            &MongoSpec{Collection: "users"},
	})
	if KindOf(err) != KindSQLQueryRequired {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindSQLQueryRequired)
	}
	if pg.calls != 0 {
		t.Fatal("relational executor must not be reached without query text")
	}
}

func TestExecuteGraphConnectionRequiresQuery(t *testing.T) {
	d, _, _, _, _, graph, _ := newDispatcher()
	_, err := d.Execute(context.Background(), Request{
		ConnectionString: "neo4j://graph:7687",
		Mongo:            &MongoSpec{Collection: "users"},
	})
	if KindOf(err) != KindCypherQueryRequired {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindCypherQueryRequired)
	}
	if graph.calls != 0 {
		t.Fatal("graph executor must not be reached without query text")
	}
}

func TestExecuteUnsupportedScheme(t *testing.T) {
	d, _, _, _, _, _, _ := newDispatcher()
	for _, uri := range []string{"redis://cache:6379", "db:5432", ""} {
		req := Request{ConnectionString: uri, Query: "SELECT 1"}
		if uri == "" {
			req.SourceType = SourceConnection
		}
		_, err := d.Execute(context.Background(), req)
		want := KindUnsupportedConnection
		if uri == "" {
			want = KindInvalidPayload
		}
		if KindOf(err) != want {
			t.Fatalf("uri %q: kind = %q, want %q", uri, KindOf(err), want)
		}
	}
}

func TestClampMaxRows(t *testing.T) {
	d := &Dispatcher{DefaultMaxRows: 200}
	if got := d.clampMaxRows(0); got != 200 {
		t.Fatalf("clampMaxRows(0) = %d", got)
	}
	if got := d.clampMaxRows(-5); got != 200 {
		t.Fatalf("clampMaxRows(-5) = %d", got)
	}
	if got := d.clampMaxRows(7); got != 7 {
		t.Fatalf("clampMaxRows(7) = %d", got)
	}
	unset := &Dispatcher{}
	if got := unset.clampMaxRows(0); got != DefaultMaxRows {
		t.Fatalf("clampMaxRows(0) with unset default = %d", got)
	}
}
