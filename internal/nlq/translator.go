// Package nlq turns natural language prompts into backend-specific queries.
package nlq

import "context"

// TableContext describes one table or collection the model may reference.
type TableContext struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

type Request struct {
	// Backend selects the query dialect: sqlite, postgres, mysql, mongodb,
	// or neo4j.
	Backend         string         `json:"backend"`
	NaturalLanguage string         `json:"natural_language"`
	Tables          []TableContext `json:"tables,omitempty"`
}

type Result struct {
	Query    string `json:"query"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
