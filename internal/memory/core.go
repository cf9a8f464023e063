// Package memory implements the Three-Tier Memory: Core Working
// Memory (always-in-prompt), Auto-RAG (pre-flight retrieval), and
// Archival Memory (categorized vector store with dedup).
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const coreMemoryLimit = 4000

// Core is a single mutex-guarded markdown working-memory buffer,
// read-through on every engine call and prepended to the system
// prompt. Persisted with the same atomic temp-file-then-rename
// pattern sessions.Manager uses for session snapshots.
type Core struct {
	mu   sync.RWMutex
	path string
	text string
}

// OpenCore loads (or initializes empty) the core memory file at path.
func OpenCore(path string) (*Core, error) {
	c := &Core{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("memory: read core memory: %w", err)
		}
		return c, nil
	}
	c.text = string(b)
	return c, nil
}

// Text returns the current core memory contents.
func (c *Core) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text
}

// Replace atomically swaps the contents, hard-truncating with a
// marker past coreMemoryLimit characters.
func (c *Core) Replace(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(text) > coreMemoryLimit {
		text = text[:coreMemoryLimit] + "\n…[core memory truncated]"
	}
	c.text = text
	return c.saveLocked()
}

// Append concatenates fact onto core memory and reports whether the
// result now exceeds the compression threshold, so the caller can
// enqueue a distill_memory heavy task.
func (c *Core) Append(fact string) (needsCompression bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.text != "" {
		c.text = strings.TrimRight(c.text, "\n") + "\n" + fact
	} else {
		c.text = fact
	}

	if len(c.text) > coreMemoryLimit {
		return true, c.saveLocked()
	}
	return false, c.saveLocked()
}

func (c *Core) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("memory: create core dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(c.text), 0o600); err != nil {
		return fmt.Errorf("memory: write core memory: %w", err)
	}
	return os.Rename(tmp, c.path)
}
