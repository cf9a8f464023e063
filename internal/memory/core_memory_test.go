package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	if c.Text() != "" {
		t.Fatalf("expected empty text for a missing file, got %q", c.Text())
	}
}

func TestOpenCore_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	if c.Text() != "hello world" {
		t.Fatalf("expected seeded text, got %q", c.Text())
	}
}

func TestCore_Replace_PersistsAndReplacesText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	if err := c.Replace("the user prefers dark mode"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if c.Text() != "the user prefers dark mode" {
		t.Fatalf("unexpected text after Replace: %q", c.Text())
	}

	reopened, err := OpenCore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Text() != "the user prefers dark mode" {
		t.Fatalf("expected Replace to persist to disk, got %q", reopened.Text())
	}
}

func TestCore_Replace_TruncatesOverLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	huge := strings.Repeat("a", coreMemoryLimit+500)
	if err := c.Replace(huge); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	text := c.Text()
	if !strings.HasSuffix(text, "\n…[core memory truncated]") {
		t.Fatalf("expected truncation marker at the end, got suffix %q", text[max(0, len(text)-40):])
	}
	if len(text) >= len(huge) {
		t.Fatalf("expected text to actually shrink, got length %d", len(text))
	}
}

func TestCore_Append_JoinsWithNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	if _, err := c.Append("fact one"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Append("fact two"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if c.Text() != "fact one\nfact two" {
		t.Fatalf("expected newline-joined facts, got %q", c.Text())
	}
}

func TestCore_Append_FirstCallOnEmptyCoreHasNoLeadingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	if _, err := c.Append("only fact"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if c.Text() != "only fact" {
		t.Fatalf("expected no leading newline on first append, got %q", c.Text())
	}
}

func TestCore_Append_SignalsCompressionPastLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	c, err := OpenCore(path)
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	needsCompression, err := c.Append(strings.Repeat("b", 100))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if needsCompression {
		t.Fatal("did not expect compression signal for a short fact")
	}

	needsCompression, err = c.Append(strings.Repeat("c", coreMemoryLimit))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !needsCompression {
		t.Fatal("expected compression signal once combined text exceeds the limit")
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
