package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one archival memory entry (MemoryRecord in spec terms).
type Record struct {
	ID         string
	Category   string
	Content    string
	ContentHash string
	CreatedAt  time.Time
	Vector     []float32
}

// Embedder produces a vector embedding for text. The concrete backend
// (OpenAI, local model, etc.) is out of scope — this is a contract only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the Tier 2 Archival Memory: a category-partitioned vector
// store with content-hash deduplication, backed by a pure-Go sqlite
// database (no cgo), one table per category.
type Store struct {
	db       *sql.DB
	embedder Embedder

	catMu sync.Map // category string -> *sync.Mutex, serializes writes per category
}

// OpenStore opens (creating if needed) the archival sqlite database at path.
func OpenStore(path string, embedder Embedder) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open archival db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer avoids SQLITE_BUSY
	return &Store{db: db, embedder: embedder}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var categorySanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeCategory lowercases, replaces non-alphanumerics with `_`,
// and falls back to "general" for an empty result.
func NormalizeCategory(raw string) string {
	c := categorySanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_")
	c = strings.Trim(c, "_")
	if c == "" {
		return "general"
	}
	return c
}

func tableName(category string) string {
	return "mem_" + category
}

func (s *Store) ensureTable(ctx context.Context, category string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding TEXT,
		created_at INTEGER NOT NULL
	)`, tableName(category)))
	return err
}

func (s *Store) categoryLock(category string) *sync.Mutex {
	v, _ := s.catMu.LoadOrStore(category, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// MemorizeResult reports whether an insert happened or a duplicate was found.
type MemorizeResult struct {
	Stored    bool
	Duplicate bool
	Record    Record
}

// Memorize embeds content, normalizes rawCategory, and inserts unless
// an identical contentHash already exists in that category, in which
// case it reports {stored:false, duplicate:true} without appending.
// Writes to the same category are serialized; reads proceed concurrently.
func (s *Store) Memorize(ctx context.Context, rawCategory, content string) (MemorizeResult, error) {
	category := NormalizeCategory(rawCategory)
	lock := s.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureTable(ctx, category); err != nil {
		return MemorizeResult{}, err
	}

	hash := contentHash(content)
	var existingID string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE content_hash = ? LIMIT 1`, tableName(category)),
		hash).Scan(&existingID)
	if err == nil {
		return MemorizeResult{Stored: false, Duplicate: true}, nil
	}
	if err != sql.ErrNoRows {
		return MemorizeResult{}, fmt.Errorf("memory: dedup lookup: %w", err)
	}

	var vector []float32
	if s.embedder != nil {
		v, embErr := s.embedder.Embed(ctx, content)
		if embErr == nil {
			vector = v
		}
	}

	rec := Record{
		ID:          uuid.NewString(),
		Category:    category,
		Content:     content,
		ContentHash: hash,
		CreatedAt:   time.Now(),
		Vector:      vector,
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, content, content_hash, embedding, created_at) VALUES (?, ?, ?, ?, ?)`, tableName(category)),
		rec.ID, rec.Content, rec.ContentHash, serializeVector(rec.Vector), rec.CreatedAt.Unix())
	if err != nil {
		return MemorizeResult{}, fmt.Errorf("memory: insert record: %w", err)
	}

	return MemorizeResult{Stored: true, Record: rec}, nil
}

// Scored pairs a Record with its similarity to a query.
type Scored struct {
	Record Record
	Score  float32
}

// Search runs a cosine-similarity nearest-neighbor lookup within one
// category. An absent category table returns an empty result, not an error.
func (s *Store) Search(ctx context.Context, rawCategory string, queryVector []float32, k int) ([]Scored, error) {
	category := NormalizeCategory(rawCategory)

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, tableName(category)).Scan(&exists)
	if err != nil || exists == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, content_hash, embedding, created_at FROM %s`, tableName(category)))
	if err != nil {
		return nil, fmt.Errorf("memory: search query: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var r Record
		var embText string
		var createdUnix int64
		if err := rows.Scan(&r.ID, &r.Content, &r.ContentHash, &embText, &createdUnix); err != nil {
			continue
		}
		r.Category = category
		r.CreatedAt = time.Unix(createdUnix, 0)
		r.Vector = deserializeVector(embText)
		results = append(results, Scored{Record: r, Score: cosineSimilarity(queryVector, r.Vector)})
	}

	for i := range results {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchAllCategories runs Search across every known category table
// and merges the top-k results by score — the Auto-RAG entry point.
func (s *Store) SearchAllCategories(ctx context.Context, queryVector []float32, k int) ([]Scored, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'mem_%'`)
	if err != nil {
		return nil, fmt.Errorf("memory: list categories: %w", err)
	}
	var categories []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			categories = append(categories, strings.TrimPrefix(name, "mem_"))
		}
	}
	rows.Close()

	var all []Scored
	for _, cat := range categories {
		scored, err := s.Search(ctx, cat, queryVector, k)
		if err != nil {
			continue
		}
		all = append(all, scored...)
	}

	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if all[j].Score > all[i].Score {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// List returns the most recent records in a category, newest first, with
// no query vector involved. Used by callers that want to browse a
// category rather than rank it against a query (e.g. the memory_get
// tool). An absent category table returns an empty result, not an error.
func (s *Store) List(ctx context.Context, rawCategory string, limit int) ([]Record, error) {
	category := NormalizeCategory(rawCategory)

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, tableName(category)).Scan(&exists)
	if err != nil || exists == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, content_hash, embedding, created_at FROM %s ORDER BY created_at DESC LIMIT ?`, tableName(category)),
		limit)
	if err != nil {
		return nil, fmt.Errorf("memory: list query: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		var embText string
		var createdUnix int64
		if err := rows.Scan(&r.ID, &r.Content, &r.ContentHash, &embText, &createdUnix); err != nil {
			continue
		}
		r.Category = category
		r.CreatedAt = time.Unix(createdUnix, 0)
		r.Vector = deserializeVector(embText)
		results = append(results, r)
	}
	return results, nil
}

// sameContent reports whether two vectors represent "the same content"
// per spec: cosine distance < 0.15, i.e. similarity > 0.85.
func sameContent(a, b []float32) bool {
	return cosineSimilarity(a, b) > 0.85
}

func serializeVector(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func deserializeVector(s string) []float32 {
	if s == "" {
		return nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float32
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err == nil {
			v = append(v, f)
		}
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
