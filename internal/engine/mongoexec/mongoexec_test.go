package mongoexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Rifaque/querycraft-backend/internal/engine"
)

func TestRunCapsLimitAtMaxRows(t *testing.T) {
	tests := []struct {
		name      string
		specLimit int64
		maxRows   int
		want      int64
	}{
		{"no limit uses cap", 0, 100, 100},
		{"limit above cap clamps", 500, 100, 100},
		{"limit equal to cap", 100, 100, 100},
		{"limit below cap wins", 7, 100, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int64
			var gotDatabase string
			e := New(time.Second)
			e.find = func(_ context.Context, _ engine.ConnTarget, database string, _ engine.MongoSpec, limit int64) ([]bson.D, error) {
				gotLimit = limit
				gotDatabase = database
				return nil, nil
			}

			target := engine.ConnTarget{URL: "mongodb://h:27017/app"}
			spec := engine.MongoSpec{Collection: "users", Limit: tt.specLimit}
			if _, err := e.Run(context.Background(), target, spec, tt.maxRows); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if gotLimit != tt.want {
				t.Fatalf("limit = %d, want %d", gotLimit, tt.want)
			}
			if gotDatabase != "app" {
				t.Fatalf("database = %q, want %q", gotDatabase, "app")
			}
		})
	}
}

func TestRunNormalizesDocuments(t *testing.T) {
	oid := primitive.NewObjectID()
	e := New(time.Second)
	e.find = func(context.Context, engine.ConnTarget, string, engine.MongoSpec, int64) ([]bson.D, error) {
		return []bson.D{
			{{Key: "_id", Value: oid}, {Key: "name", Value: "ada"}},
			{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "name", Value: "grace"}},
		}, nil
	}

	res, err := e.Run(context.Background(), engine.ConnTarget{URL: "mongodb://h:27017"}, engine.MongoSpec{Collection: "users"}, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Source != engine.BackendMongo {
		t.Fatalf("Source = %q", res.Source)
	}
	if res.RowCount != 2 || len(res.Rows) != 2 {
		t.Fatalf("RowCount = %d, rows = %v", res.RowCount, res.Rows)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "_id" || res.Columns[1] != "name" {
		t.Fatalf("Columns = %v", res.Columns)
	}
	if res.Rows[0]["_id"] != oid.Hex() || res.Rows[0]["name"] != "ada" {
		t.Fatalf("Rows[0] = %v", res.Rows[0])
	}
}

func TestRunEmptyResultKeepsEmptyShapes(t *testing.T) {
	e := New(time.Second)
	e.find = func(context.Context, engine.ConnTarget, string, engine.MongoSpec, int64) ([]bson.D, error) {
		return nil, nil
	}

	res, err := e.Run(context.Background(), engine.ConnTarget{URL: "mongodb://h:27017"}, engine.MongoSpec{Collection: "users"}, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Columns == nil || len(res.Columns) != 0 {
		t.Fatalf("Columns = %v", res.Columns)
	}
	if res.Rows == nil || res.RowCount != 0 {
		t.Fatalf("Rows = %v, RowCount = %d", res.Rows, res.RowCount)
	}
}

func TestRunPropagatesFindError(t *testing.T) {
	e := New(time.Second)
	e.find = func(context.Context, engine.ConnTarget, string, engine.MongoSpec, int64) ([]bson.D, error) {
		return nil, engine.Wrap(engine.KindConnectivity, engine.BackendMongo, errors.New("server selection timeout"))
	}

	_, err := e.Run(context.Background(), engine.ConnTarget{URL: "mongodb://h:27017"}, engine.MongoSpec{Collection: "users"}, 10)
	if engine.KindOf(err) != engine.KindConnectivity {
		t.Fatalf("kind = %q, want %q", engine.KindOf(err), engine.KindConnectivity)
	}
}

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		name   string
		target engine.ConnTarget
		want   string
	}{
		{"override wins", engine.ConnTarget{URL: "mongodb://h/app", Database: "other"}, "other"},
		{"uri path", engine.ConnTarget{URL: "mongodb://h:27017/app?retryWrites=true"}, "app"},
		{"srv uri path", engine.ConnTarget{URL: "mongodb+srv://cluster.example.com/sales"}, "sales"},
		{"no path falls back", engine.ConnTarget{URL: "mongodb://h:27017"}, "test"},
		{"slash only falls back", engine.ConnTarget{URL: "mongodb://h:27017/"}, "test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := databaseName(tt.target); got != tt.want {
				t.Fatalf("databaseName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestColumnsFromDocumentKeepOrder(t *testing.T) {
	doc := bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "ada"}, {Key: "age", Value: 36}}
	got := columnsFromDocument(doc)
	want := []string{"_id", "name", "age"}
	if len(got) != len(want) {
		t.Fatalf("columns = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("columns[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeValue(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2025, 3, 9, 12, 30, 0, 0, time.UTC)

	if got := normalizeValue(oid); got != oid.Hex() {
		t.Fatalf("ObjectID = %v", got)
	}
	if got := normalizeValue(primitive.NewDateTimeFromTime(when)); got != "2025-03-09T12:30:00Z" {
		t.Fatalf("DateTime = %v", got)
	}

	nested := normalizeValue(bson.D{
		{Key: "id", Value: oid},
		{Key: "tags", Value: bson.A{primitive.NewDateTimeFromTime(when), "plain"}},
	})
	row, ok := nested.(map[string]any)
	if !ok {
		t.Fatalf("nested document type = %T", nested)
	}
	if row["id"] != oid.Hex() {
		t.Fatalf("nested id = %v", row["id"])
	}
	tags, ok := row["tags"].([]any)
	if !ok || tags[0] != "2025-03-09T12:30:00Z" || tags[1] != "plain" {
		t.Fatalf("nested tags = %v", row["tags"])
	}

	if got := normalizeValue("untouched"); got != "untouched" {
		t.Fatalf("plain value = %v", got)
	}
}

func TestNormalizeDocument(t *testing.T) {
	doc := bson.D{
		{Key: "n", Value: int64(3)},
		{Key: "inner", Value: bson.M{"k": primitive.NewDateTimeFromTime(time.Unix(0, 0).UTC())}},
	}
	row := normalizeDocument(doc)
	if row["n"] != int64(3) {
		t.Fatalf("n = %v", row["n"])
	}
	inner, ok := row["inner"].(map[string]any)
	if !ok || inner["k"] != "1970-01-01T00:00:00Z" {
		t.Fatalf("inner = %v", row["inner"])
	}
}
