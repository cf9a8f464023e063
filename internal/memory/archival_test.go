package memory

import (
	"context"
	"path/filepath"
	"testing"
)

// fakeEmbedder returns a deterministic vector derived from text length so
// tests can exercise Search/SearchAllCategories ranking without a real
// embedding backend.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "archival.db"), &fakeEmbedder{vectors: map[string][]float32{}})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Memorize_StoresNewContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result, err := s.Memorize(ctx, "notes", "remember the milk")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	if !result.Stored || result.Duplicate {
		t.Fatalf("expected a fresh record to be stored, got %+v", result)
	}
	if result.Record.Content != "remember the milk" {
		t.Fatalf("expected record content to round-trip, got %q", result.Record.Content)
	}
}

func TestStore_Memorize_DedupesWithinCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Memorize(ctx, "notes", "remember the milk")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	second, err := s.Memorize(ctx, "notes", "remember the milk")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}

	if !first.Stored || first.Duplicate {
		t.Fatalf("expected the first memorize to store, got %+v", first)
	}
	if second.Stored || !second.Duplicate {
		t.Fatalf("expected the second identical memorize to report a duplicate, got %+v", second)
	}
}

func TestStore_Memorize_SameContentDifferentCategoriesBothStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Memorize(ctx, "notes", "remember the milk")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	b, err := s.Memorize(ctx, "todos", "remember the milk")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}

	if !a.Stored || !b.Stored {
		t.Fatalf("expected both categories to store independently, got a=%+v b=%+v", a, b)
	}
}

func TestStore_Memorize_NormalizesCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Memorize(ctx, " Notes! ", "first"); err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	// A differently-cased/punctuated spelling of the same category must
	// normalize to the same underlying table and so dedupe together.
	second, err := s.Memorize(ctx, "notes", "first")
	if err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected normalized category match to dedupe, got %+v", second)
	}
}

func TestStore_Search_AbsentCategoryReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search(context.Background(), "never-written", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("expected no error for an absent category, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for an absent category, got %d", len(results))
	}
}

func TestStore_Search_RanksBySimilarityAndLimitsK(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"close match":  {1, 0, 0},
		"far match":    {0, 1, 0},
		"exact match":  {1, 0, 0},
	}}
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "archival.db"), embedder)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, content := range []string{"close match", "far match", "exact match"} {
		if _, err := s.Memorize(ctx, "notes", content); err != nil {
			t.Fatalf("Memorize(%q): %v", content, err)
		}
	}

	results, err := s.Search(ctx, "notes", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k=2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Record.Content == "far match" {
			t.Fatalf("expected the orthogonal vector to rank below the top 2, got %+v", results)
		}
	}
}

func TestStore_List_AbsentCategoryReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	records, err := s.List(context.Background(), "never-written", 10)
	if err != nil {
		t.Fatalf("expected no error for an absent category, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestStore_List_RespectsLimitAndRecencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		if _, err := s.Memorize(ctx, "notes", content); err != nil {
			t.Fatalf("Memorize(%q): %v", content, err)
		}
	}

	records, err := s.List(ctx, "notes", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(records))
	}
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"Notes":       "notes",
		" To Do's! ":  "to_do_s",
		"":            "general",
		"___":         "general",
		"already_ok":  "already_ok",
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSameContent(t *testing.T) {
	identical := []float32{1, 0, 0}
	if !sameContent(identical, identical) {
		t.Fatal("expected identical vectors to count as the same content")
	}
	orthogonal := []float32{0, 1, 0}
	if sameContent(identical, orthogonal) {
		t.Fatal("expected orthogonal vectors not to count as the same content")
	}
}

func TestSerializeDeserializeVector_RoundTrips(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	s := serializeVector(v)
	got := deserializeVector(s)

	if len(got) != len(v) {
		t.Fatalf("expected %d components, got %d", len(v), len(got))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("component %d: expected %v, got %v", i, v[i], got[i])
		}
	}
}

func TestDeserializeVector_Empty(t *testing.T) {
	if v := deserializeVector(""); v != nil {
		t.Fatalf("expected nil for an empty string, got %v", v)
	}
}
