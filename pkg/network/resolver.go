package network

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

// Resolver resolves a network from lookup criteria
type Resolver interface {
	LookupNetwork(ctx context.Context, criteria LookupCriteria) (*Network, error)
}

// ContextFile is a persistent cache of lookup results keyed by LookupCriteria.Key
type ContextFile struct {
	mu       sync.RWMutex
	networks map[string]*Network
	dirty    bool
}

type contextFileData struct {
	Networks map[string]*Network `json:"networks"`
}

// NewContextFile creates an empty context file
func NewContextFile() *ContextFile {
	return &ContextFile{networks: make(map[string]*Network)}
}

// LoadContextFile reads a context file from disk. A missing file yields an
// empty context.
func LoadContextFile(path string) (*ContextFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewContextFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read context file %s: %w", path, err)
	}
	return ParseContextFile(data)
}

// ParseContextFile decodes a YAML or JSON context document
func ParseContextFile(data []byte) (*ContextFile, error) {
	var parsed contextFileData
	if err := yaml.UnmarshalStrict(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	cf := NewContextFile()
	for k, v := range parsed.Networks {
		cf.networks[k] = v
	}
	return cf, nil
}

// Get returns the cached network for a key
func (c *ContextFile) Get(key string) (*Network, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, found := c.networks[key]
	return n, found
}

// Set stores a network under a key
func (c *ContextFile) Set(key string, n *Network) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.networks[key] = n
	c.dirty = true
}

// Keys returns the cached keys in sorted order
func (c *ContextFile) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.networks))
	for k := range c.networks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dirty reports whether the context changed since it was loaded
func (c *ContextFile) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.dirty
}

// Marshal encodes the context as YAML
func (c *ContextFile) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return yaml.Marshal(contextFileData{Networks: c.networks})
}

// Save writes the context to disk
func (c *ContextFile) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode context file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write context file %s: %w", path, err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// LookupNetwork serves lookups from the cache only, so it never blocks
func (c *ContextFile) LookupNetwork(_ context.Context, criteria LookupCriteria) (*Network, error) {
	key := criteria.Key()
	if err := criteria.Validate(); err != nil {
		return nil, &LookupError{Key: key, Reason: err.Error()}
	}

	n, found := c.Get(key)
	if !found {
		return nil, &LookupError{Key: key, Reason: "no cached network matches; run the lookup command to populate the context file"}
	}
	return n, nil
}

// CachingResolver consults the context file first and falls back to an
// upstream resolver, recording what it finds
type CachingResolver struct {
	Cache    *ContextFile
	Upstream Resolver
}

// LookupNetwork implements Resolver
func (r *CachingResolver) LookupNetwork(ctx context.Context, criteria LookupCriteria) (*Network, error) {
	key := criteria.Key()
	if n, found := r.Cache.Get(key); found {
		return n, nil
	}
	if r.Upstream == nil {
		return r.Cache.LookupNetwork(ctx, criteria)
	}

	log.FromContext(ctx).Info("Network not in context, querying provider", "key", key)
	n, err := r.Upstream.LookupNetwork(ctx, criteria)
	if err != nil {
		return nil, err
	}
	r.Cache.Set(key, n)
	return n, nil
}
