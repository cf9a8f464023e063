package memory

import (
	"context"
	"fmt"
	"strings"
)

const autoRAGBlockHeader = "[SYSTEM AUTO-CONTEXT RETRIEVED]"

// AutoRAG runs the Tier 1 pre-flight retrieval: embed the user
// message, search Archival Memory across all categories, and render
// matches as a block to prepend to the message. Failures are
// non-fatal — callers get an empty string and fall through with no
// retrieved context, so a flaky embedder never blocks a turn.
type AutoRAG struct {
	archival *Store
	embedder Embedder
	topK     int
}

// NewAutoRAG wires Auto-RAG retrieval on top of an existing archival store.
func NewAutoRAG(archival *Store, embedder Embedder, topK int) *AutoRAG {
	if topK <= 0 {
		topK = 3
	}
	return &AutoRAG{archival: archival, embedder: embedder, topK: topK}
}

// isTrivial reports whether a message is too short/empty to bother retrieving for.
func isTrivial(message string) bool {
	return strings.TrimSpace(message) == ""
}

// Retrieve returns the `[SYSTEM AUTO-CONTEXT RETRIEVED]` block for
// message, or "" if the message is trivial or nothing matched.
func (a *AutoRAG) Retrieve(ctx context.Context, message string) string {
	if a == nil || a.archival == nil || isTrivial(message) {
		return ""
	}

	var queryVector []float32
	if a.embedder != nil {
		v, err := a.embedder.Embed(ctx, message)
		if err != nil {
			return ""
		}
		queryVector = v
	}
	if len(queryVector) == 0 {
		return ""
	}

	matches, err := a.archival.SearchAllCategories(ctx, queryVector, a.topK)
	if err != nil || len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(autoRAGBlockHeader + "\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Record.Category, m.Record.Content)
	}
	return b.String()
}
