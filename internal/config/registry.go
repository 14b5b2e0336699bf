package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parlano/parlano/pkg/provider/textgen"
	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	textgen    map[string]func(ProviderEntry) (textgen.Client, error)
	transcribe map[string]func(ProviderEntry) (transcribe.Client, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		textgen:    make(map[string]func(ProviderEntry) (textgen.Client, error)),
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Client, error)),
	}
}

// RegisterTextGen registers a text-generation client factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTextGen(name string, factory func(ProviderEntry) (textgen.Client, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textgen[name] = factory
}

// RegisterTranscribe registers a transcription client factory under name.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Client, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// CreateTextGen instantiates a text-generation client using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTextGen(entry ProviderEntry) (textgen.Client, error) {
	r.mu.RLock()
	factory, ok := r.textgen[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: textgen/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscribe instantiates a transcription client using the factory
// registered under entry.Name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Client, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
