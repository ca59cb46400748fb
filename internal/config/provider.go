package config

import (
	"sync"

	"github.com/spf13/viper"
)

// Overlay is an optional dynamic settings source consulted before static
// configuration. Implementations typically front an admin-managed settings
// store. Values are raw strings and are set on top of the viper layer, so the
// usual type coercion rules apply.
type Overlay interface {
	// Lookup returns the overlay value for a dotted config key, reporting
	// whether the overlay holds that key at all.
	Lookup(key string) (string, bool)
}

// overlayKeys enumerates every key an overlay may override.
var overlayKeys = []string{
	"login.enabled",
	"login.type",
	"azure.tenant_id",
	"azure.client_id",
	"azure.client_secret",
	"azure.extra_scopes",
	"accounts.auto_create",
	"accounts.auto_replace",
	"accounts.max_username_length",
	"xbox.sync_username",
	"hooks.authenticate",
	"hooks.callback",
}

// Store resolves configuration through layered sources: dynamic overlay, then
// viper (flags, env, file), then built-in defaults. The resolved snapshot is
// immutable; Reload re-resolves after the host signals a configuration change.
type Store struct {
	mu      sync.RWMutex
	viper   *viper.Viper
	overlay Overlay
	current AppConfig
}

// NewStore resolves an initial configuration snapshot. The overlay may be nil.
func NewStore(configViper *viper.Viper, overlay Overlay) (*Store, error) {
	store := &Store{
		viper:   configViper,
		overlay: overlay,
	}
	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Config returns the current configuration snapshot.
func (s *Store) Config() AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-resolves configuration from all layers. Callers invoke this from
// their configuration-change notification; concurrent readers keep seeing the
// previous snapshot until the new one is in place.
func (s *Store) Reload() error {
	resolved := viper.New()
	ApplyDefaults(resolved)
	for _, key := range s.viper.AllKeys() {
		resolved.Set(key, s.viper.Get(key))
	}
	if s.overlay != nil {
		for _, key := range overlayKeys {
			if value, ok := s.overlay.Lookup(key); ok {
				resolved.Set(key, value)
			}
		}
	}

	cfg, err := Load(resolved)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}
