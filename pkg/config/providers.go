package config

import (
	"fmt"
	"sync"
	"time"
)

// BrainTransport selects how the gateway reaches a brain provider.
type BrainTransport string

// Supported transports. Subprocess providers are spawned per invocation and
// force-killed on timeout; HTTP providers get a per-request deadline.
const (
	TransportStdio BrainTransport = "stdio"
	TransportHTTP  BrainTransport = "http"
)

// IsValid checks if the transport is known.
func (t BrainTransport) IsValid() bool {
	return t == TransportStdio || t == TransportHTTP
}

// BrainProviderConfig defines one external brain provider.
type BrainProviderConfig struct {
	// Transport is how the gateway speaks to the provider (required).
	Transport BrainTransport `yaml:"transport"`

	// Model name passed through to the provider (required).
	Model string `yaml:"model"`

	// Command and Args run the subprocess for stdio transport.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// URL is the endpoint for http transport. EmbedURL, when set, enables
	// the embedding operation used by knowledge retrieval.
	URL      string `yaml:"url,omitempty"`
	EmbedURL string `yaml:"embed_url,omitempty"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Timeout is the per-invocation budget. Defaults to 300s.
	Timeout time.Duration `yaml:"timeout"`

	// Token rates in sub-cents per 1000 tokens; cost accounting multiplies
	// measured tokens by these and rounds half-up.
	InputRateSubCentsPer1K  int64 `yaml:"input_rate_sub_cents_per_1k"`
	OutputRateSubCentsPer1K int64 `yaml:"output_rate_sub_cents_per_1k"`
}

// BrainProviderRegistry stores provider configurations with thread-safe access.
type BrainProviderRegistry struct {
	providers map[string]*BrainProviderConfig
	mu        sync.RWMutex
}

// NewBrainProviderRegistry creates a registry from the given map.
func NewBrainProviderRegistry(providers map[string]*BrainProviderConfig) *BrainProviderRegistry {
	copied := make(map[string]*BrainProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &BrainProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *BrainProviderRegistry) Get(name string) (*BrainProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Names returns all registered provider names.
func (r *BrainProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for k := range r.providers {
		names = append(names, k)
	}
	return names
}

// Len returns the number of registered providers.
func (r *BrainProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
