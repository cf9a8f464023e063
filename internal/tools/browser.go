package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserTool is a Playwright-style browser automation adapter: it
// drives a headless Chromium instance via go-rod/rod to load a page
// and return its visible text, for content the exec/web_fetch tools
// can't reach (JS-rendered pages, login-walled content the user has
// already authenticated in the browser's profile, etc.).
type BrowserTool struct {
	mu      sync.Mutex
	browser *rod.Browser
	timeout time.Duration
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{timeout: 30 * time.Second}
}

func (t *BrowserTool) Name() string { return "browse" }

func (t *BrowserTool) Description() string {
	return "Load a URL in a headless browser and return its visible page text. Use for JS-rendered pages that web_fetch can't read."
}

func (t *BrowserTool) Destructive() bool { return false }
func (t *BrowserTool) Intrusive() bool   { return false }
func (t *BrowserTool) OwnerOnly() bool   { return false }

func (t *BrowserTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The URL to load.",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "Optional CSS selector to extract text from instead of the whole page body.",
			},
		},
		"required": []string{"url"},
	}
}

type browserArgs struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

func (t *BrowserTool) Execute(ctx context.Context, raw json.RawMessage) *Result {
	var a browserArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(a.URL) == "" {
		return ErrorResult("url is required")
	}

	b, err := t.ensureBrowser()
	if err != nil {
		return ErrorResult(fmt.Sprintf("browser launch failed: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return ErrorResult(fmt.Sprintf("page open failed: %v", err))
	}
	defer page.Close()

	if err := page.Navigate(a.URL); err != nil {
		return ErrorResult(fmt.Sprintf("navigate failed: %v", err))
	}
	if err := page.WaitLoad(); err != nil {
		return ErrorResult(fmt.Sprintf("page load failed: %v", err))
	}

	selector := a.Selector
	if selector == "" {
		selector = "body"
	}
	el, err := page.Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("selector %q not found: %v", selector, err))
	}
	text, err := el.Text()
	if err != nil {
		return ErrorResult(fmt.Sprintf("text extraction failed: %v", err))
	}

	return NewResult(strings.TrimSpace(text))
}

func (t *BrowserTool) ensureBrowser() (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browser != nil {
		return t.browser, nil
	}
	b := rod.New()
	if err := b.Connect(); err != nil {
		return nil, err
	}
	t.browser = b
	return b, nil
}

// Close releases the underlying browser process, if one was launched.
func (t *BrowserTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	return err
}
