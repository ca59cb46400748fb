// Package hooks lets deployments run their own code after a successful
// authentication. Hooks are registered by name at startup and selected
// through configuration; an unknown name is a configuration error, surfaced
// before the first request rather than on it.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/mslink/internal/users"
)

// ErrHookNotFound indicates configuration named a hook nobody registered.
var ErrHookNotFound = errors.New("hooks: hook not registered")

// AuthenticateHook runs synchronously after a successful authentication with
// the resolved user and the raw token of the attempt (the OAuth token set for
// Microsoft logins, the Xbox token for Xbox logins). Hooks are trusted code;
// errors propagate to the caller uncaught.
type AuthenticateHook func(ctx context.Context, user *users.User, token any) error

// CallbackHook lets deployments reshape the callback response payload before
// it is written.
type CallbackHook func(ctx context.Context, payload map[string]any) map[string]any

// Registry holds named hooks. The zero value is not usable; construct with
// NewRegistry.
type Registry struct {
	mu           sync.RWMutex
	authenticate map[string]AuthenticateHook
	callback     map[string]CallbackHook
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		authenticate: make(map[string]AuthenticateHook),
		callback:     make(map[string]CallbackHook),
	}
}

// RegisterAuthenticate adds a named post-authentication hook.
func (r *Registry) RegisterAuthenticate(name string, hook AuthenticateHook) error {
	name = strings.TrimSpace(name)
	if name == "" || hook == nil {
		return fmt.Errorf("hooks: name and hook required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticate[name] = hook
	return nil
}

// RegisterCallback adds a named callback-response hook.
func (r *Registry) RegisterCallback(name string, hook CallbackHook) error {
	name = strings.TrimSpace(name)
	if name == "" || hook == nil {
		return fmt.Errorf("hooks: name and hook required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback[name] = hook
	return nil
}

// ResolveAuthenticate returns the named hook. An empty name resolves to nil,
// meaning no hook is configured.
func (r *Registry) ResolveAuthenticate(name string) (AuthenticateHook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.authenticate[name]
	if !ok {
		return nil, fmt.Errorf("%w: authenticate hook %q", ErrHookNotFound, name)
	}
	return hook, nil
}

// ResolveCallback returns the named hook. An empty name resolves to nil.
func (r *Registry) ResolveCallback(name string) (CallbackHook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.callback[name]
	if !ok {
		return nil, fmt.Errorf("%w: callback hook %q", ErrHookNotFound, name)
	}
	return hook, nil
}
