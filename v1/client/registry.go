package client

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/mirkobrombin/warp-weather/v1/config"
	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

// Registry holds at most one Client per API key.
type Registry struct {
	mu      sync.Mutex
	opts    []Option
	clients map[string]*Client
}

// NewRegistry returns an empty registry. opts are applied to every client it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for apiKey, creating it with mode and cfg if none
// exists. An existing client is returned as is; mode and cfg only apply to
// the first call for a key. Concurrent calls for the same key construct a
// single client. Metrics of each client carry a "client" label derived from
// a hash of the key.
func (r *Registry) Get(apiKey string, mode config.Mode, cfg config.Config) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, warperrors.Config("client.Registry.Get", "api key must not be blank")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[apiKey]; ok {
		return c, nil
	}
	cfg.APIKey = apiKey
	cfg.Mode = mode
	opts := append(append([]Option(nil), r.opts...), withMetricsLabel(MetricsLabel(apiKey)))
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.clients[apiKey] = c
	return c, nil
}

// Delete closes and forgets the client for apiKey. It reports whether one
// existed.
func (r *Registry) Delete(apiKey string) bool {
	r.mu.Lock()
	c, ok := r.clients[apiKey]
	delete(r.clients, apiKey)
	r.mu.Unlock()
	if ok {
		_ = c.Close()
	}
	return ok
}

// Keys returns the registered API keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.clients))
	for k := range r.clients {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Clients returns a snapshot of the registered clients.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Close closes every client and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
	return nil
}

// MetricsLabel returns the "client" label value used for apiKey. The key
// itself never appears in metrics.
func MetricsLabel(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:6])
}
