package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDiscoveryBaseURL = "https://login.microsoftonline.com"
	// Provider keys rotate rarely; a bounded TTL still protects against
	// rotation during long-lived processes.
	defaultDiscoveryCacheTTL = 24 * time.Hour
)

var (
	// ErrProviderUnreachable indicates the discovery or JWKS document could
	// not be retrieved or parsed.
	ErrProviderUnreachable = errors.New("auth: identity provider unreachable")
	// ErrKeyNotFound indicates no published signing key matched the token's
	// key identifier.
	ErrKeyNotFound = errors.New("auth: signing key not found in JWKS")
)

// ProviderConfig holds the endpoints discovered for one tenant.
type ProviderConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// DiscoveryConfig bundles configuration for the discovery cache.
type DiscoveryConfig struct {
	// BaseURL is the provider root; tenant discovery documents live under
	// {BaseURL}/{tenant}/v2.0/.well-known/openid-configuration.
	BaseURL    string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Discovery lazily fetches and caches per-tenant provider configuration and
// signing keys. Entries expire after the configured TTL; a miss on a key id
// forces one refresh before failing.
type Discovery struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	logger     *zap.Logger
	clock      func() time.Time

	mu      sync.RWMutex
	tenants map[string]*tenantEntry
}

type tenantEntry struct {
	config    ProviderConfig
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewDiscovery constructs a discovery cache with sane defaults.
func NewDiscovery(cfg DiscoveryConfig) *Discovery {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultDiscoveryBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultDiscoveryCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Discovery{
		baseURL:    baseURL,
		httpClient: httpClient,
		ttl:        ttl,
		logger:     logger,
		clock:      clock,
		tenants:    make(map[string]*tenantEntry),
	}
}

// ProviderConfig returns the cached endpoints for a tenant, fetching the
// discovery document on first use or after expiry.
func (d *Discovery) ProviderConfig(ctx context.Context, tenant string) (ProviderConfig, error) {
	entry, err := d.tenant(ctx, tenant)
	if err != nil {
		return ProviderConfig{}, err
	}
	return entry.config, nil
}

// SigningKey returns the RSA public key matching the key id for a tenant. The
// JWKS document is fetched lazily on the first key lookup; an unknown key id
// triggers one refresh before reporting ErrKeyNotFound.
func (d *Discovery) SigningKey(ctx context.Context, tenant, keyID string) (*rsa.PublicKey, error) {
	entry, err := d.tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	key := entry.keys[keyID]
	loaded := entry.keys != nil
	d.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	// Either the key set has not been fetched yet, or the kid is unknown
	// (possibly rotated since the last fetch). Refresh once.
	if err := d.refreshKeys(ctx, tenant, entry); err != nil {
		if loaded {
			return nil, fmt.Errorf("%w: refresh after unknown key id failed: %v", ErrKeyNotFound, err)
		}
		return nil, err
	}

	d.mu.RLock()
	key = entry.keys[keyID]
	d.mu.RUnlock()
	if key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// KeySource binds a tenant so callers can look up keys without carrying the
// tenant identifier around.
func (d *Discovery) KeySource(tenant string) KeySource {
	return tenantKeySource{discovery: d, tenant: tenant}
}

type tenantKeySource struct {
	discovery *Discovery
	tenant    string
}

func (s tenantKeySource) SigningKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	return s.discovery.SigningKey(ctx, s.tenant, keyID)
}

func (d *Discovery) tenant(ctx context.Context, tenant string) (*tenantEntry, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, fmt.Errorf("%w: tenant identifier required", ErrProviderUnreachable)
	}

	now := d.clock()
	d.mu.RLock()
	entry, ok := d.tenants[tenant]
	d.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry, nil
	}

	discovered, err := d.fetchDiscoveryDocument(ctx, tenant)
	if err != nil {
		// Serve a stale entry rather than failing outright when the
		// provider is briefly unreachable.
		if ok {
			d.logger.Warn("discovery refresh failed, serving stale config",
				zap.String("tenant", tenant), zap.Error(err))
			return entry, nil
		}
		return nil, err
	}

	fresh := &tenantEntry{
		config:    discovered,
		expiresAt: now.Add(d.ttl),
	}
	d.mu.Lock()
	d.tenants[tenant] = fresh
	d.mu.Unlock()

	d.logger.Debug("provider configuration cached",
		zap.String("tenant", tenant),
		zap.String("token_endpoint", discovered.TokenEndpoint))
	return fresh, nil
}

func (d *Discovery) fetchDiscoveryDocument(ctx context.Context, tenant string) (ProviderConfig, error) {
	url := fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration", d.baseURL, tenant)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	response, err := d.httpClient.Do(req)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return ProviderConfig{}, fmt.Errorf("%w: discovery request returned status %d", ErrProviderUnreachable, response.StatusCode)
	}

	var document ProviderConfig
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	if document.TokenEndpoint == "" || document.JWKSURI == "" {
		return ProviderConfig{}, fmt.Errorf("%w: discovery document missing endpoints", ErrProviderUnreachable)
	}
	return document, nil
}

func (d *Discovery) refreshKeys(ctx context.Context, tenant string, entry *tenantEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.config.JWKSURI, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	response, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: jwks request returned status %d", ErrProviderUnreachable, response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	keyMap := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		publicKey, err := key.toRSAPublicKey()
		if err != nil {
			d.logger.Debug("skipping jwk", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		keyMap[key.KeyID] = publicKey
	}

	if len(keyMap) == 0 {
		return fmt.Errorf("%w: jwks document contained no usable keys", ErrProviderUnreachable)
	}

	d.mu.Lock()
	entry.keys = keyMap
	d.mu.Unlock()
	return nil
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	KeyType string `json:"kty"`
	Alg     string `json:"alg"`
	KeyID   string `json:"kid"`
	Use     string `json:"use"`
	Modulus string `json:"n"`
	Exp     string `json:"e"`
}

func (k jwk) toRSAPublicKey() (*rsa.PublicKey, error) {
	modulusBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exp)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	if len(exponentBytes) == 0 {
		return nil, errors.New("missing exponent bytes")
	}

	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulusBytes),
		E: exponent,
	}, nil
}
