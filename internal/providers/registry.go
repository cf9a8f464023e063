package providers

import "fmt"

// Registry holds the named Provider instances constructed at startup
// (the Cognitive Router's "live"/"worker"/"cloud" engines) and resolves
// a provider by name or falls back to the configured default.
type Registry struct {
	providers map[string]Provider
	defaultID string
}

// NewRegistry creates an empty Registry. Register providers with Add.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Add registers a provider under name. The first provider added
// becomes the default unless SetDefault is called explicitly.
func (r *Registry) Add(name string, p Provider) {
	r.providers[name] = p
	if r.defaultID == "" {
		r.defaultID = name
	}
}

// SetDefault designates which registered provider Default() returns.
func (r *Registry) SetDefault(name string) {
	r.defaultID = name
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// MustGet resolves a provider by name, returning an error instead of
// a bool for call sites that want to propagate failure directly.
func (r *Registry) MustGet(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// Default returns the registry's default provider.
func (r *Registry) Default() (Provider, bool) {
	if r.defaultID == "" {
		return nil, false
	}
	return r.Get(r.defaultID)
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ThinkingCapable is implemented by providers that support extended
// thinking/reasoning mode, so callers can opt in per-request.
type ThinkingCapable interface {
	SupportsThinking() bool
}

// RetryHook is invoked between retry attempts so callers can observe
// or adjust behavior (e.g. logging, jittered backoff) without the
// provider itself knowing about retry policy.
type RetryHook func(attempt int, err error)

// retryHookKey is a private type to avoid context key collisions.
type retryHookKey struct{}

// RetryHookOptionKey is the ChatRequest.Options key under which
// WithRetryHook stores a RetryHook. None of the built-in providers
// reads this key: RetryDo retries without invoking the hook.
const RetryHookOptionKey = "retryHook"

// WithRetryHook attaches hook to req.Options under RetryHookOptionKey.
func WithRetryHook(req ChatRequest, hook RetryHook) ChatRequest {
	if req.Options == nil {
		req.Options = make(map[string]interface{})
	}
	req.Options[RetryHookOptionKey] = hook
	return req
}
