package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/memory"
)

// --- MemorySearchTool ---

// MemorySearchTool runs a vector-similarity lookup against Archival
// Memory, either within one category or across all of them.
type MemorySearchTool struct {
	store    *memory.Store
	embedder memory.Embedder
}

func NewMemorySearchTool(store *memory.Store, embedder memory.Embedder) *MemorySearchTool {
	return &MemorySearchTool{store: store, embedder: embedder}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search archival memory for facts relevant to a query. Pass a category to narrow the search, or omit it to search every category."
}

func (t *MemorySearchTool) Destructive() bool { return false }
func (t *MemorySearchTool) Intrusive() bool   { return false }
func (t *MemorySearchTool) OwnerOnly() bool   { return false }

func (t *MemorySearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to search for.",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Optional category to restrict the search to. Omit to search all categories.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results to return (default 5).",
			},
		},
		"required": []string{"query"},
	}
}

type memorySearchArgs struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

func (t *MemorySearchTool) Execute(ctx context.Context, raw json.RawMessage) *Result {
	if t.store == nil {
		return ErrorResult("archival memory is not available")
	}

	var a memorySearchArgs
	_ = json.Unmarshal(raw, &a)
	if strings.TrimSpace(a.Query) == "" {
		return ErrorResult("query is required")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 5
	}

	var queryVector []float32
	if t.embedder != nil {
		v, err := t.embedder.Embed(ctx, a.Query)
		if err != nil {
			return ErrorResult(fmt.Sprintf("embedding failed: %v", err))
		}
		queryVector = v
	}
	if len(queryVector) == 0 {
		return ErrorResult("no embedder configured, cannot search memory")
	}

	var matches []memory.Scored
	var err error
	if strings.TrimSpace(a.Category) == "" {
		matches, err = t.store.SearchAllCategories(ctx, queryVector, limit)
	} else {
		matches, err = t.store.Search(ctx, a.Category, queryVector, limit)
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	if len(matches) == 0 {
		return NewResult("No matching memories found.")
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- [%s] %s (score %.2f)\n", m.Record.Category, m.Record.Content, m.Score)
	}
	return NewResult(b.String())
}

// --- MemoryGetTool ---

// MemoryGetTool lists the most recent records in a category without
// ranking against a query, for browsing what has been stored.
type MemoryGetTool struct {
	store *memory.Store
}

func NewMemoryGetTool(store *memory.Store) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string { return "memory_get" }

func (t *MemoryGetTool) Description() string {
	return "List the most recent facts stored in archival memory for a given category."
}

func (t *MemoryGetTool) Destructive() bool { return false }
func (t *MemoryGetTool) Intrusive() bool   { return false }
func (t *MemoryGetTool) OwnerOnly() bool   { return false }

func (t *MemoryGetTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Category to list.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of records to return (default 10).",
			},
		},
		"required": []string{"category"},
	}
}

type memoryGetArgs struct {
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

func (t *MemoryGetTool) Execute(ctx context.Context, raw json.RawMessage) *Result {
	if t.store == nil {
		return ErrorResult("archival memory is not available")
	}

	var a memoryGetArgs
	_ = json.Unmarshal(raw, &a)
	if strings.TrimSpace(a.Category) == "" {
		return ErrorResult("category is required")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 10
	}

	records, err := t.store.List(ctx, a.Category, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory list failed: %v", err))
	}
	if len(records) == 0 {
		return NewResult(fmt.Sprintf("No records stored in category %q.", memory.NormalizeCategory(a.Category)))
	}

	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- [%s] %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Content)
	}
	return NewResult(b.String())
}
