package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultHTTPTimeout = 15 * time.Second

var (
	// ErrTokenExchange indicates the authorization-code grant failed or the
	// provider returned no access token.
	ErrTokenExchange = errors.New("auth: token exchange failed")

	errMissingClientID     = errors.New("client id required")
	errMissingClientSecret = errors.New("client secret required")
	errMissingDiscovery    = errors.New("discovery cache required")
	ErrInvalidClientConfig = errors.New("auth: invalid token client config")
)

// TokenSet is the short-lived result of one authorization-code exchange.
// Never persisted; its lifetime is a single authentication attempt.
type TokenSet struct {
	AccessToken string
	IDToken     string
	Scopes      []string
}

// TokenClientConfig bundles configuration for the OAuth2 token client.
type TokenClientConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	Discovery    *Discovery
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// TokenClient performs the OAuth2 authorization-code grant against the
// tenant's discovered token endpoint.
type TokenClient struct {
	clientID     string
	clientSecret string
	tenant       string
	discovery    *Discovery
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewTokenClient constructs a token client with validated configuration.
func NewTokenClient(cfg TokenClientConfig) (*TokenClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingClientID)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingClientSecret)
	}
	if cfg.Discovery == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingDiscovery)
	}
	tenant := strings.TrimSpace(cfg.Tenant)
	if tenant == "" {
		tenant = defaultTenantID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tenant:       tenant,
		discovery:    cfg.Discovery,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

const defaultTenantID = "common"

// AuthorizationURL builds the consent URL for the given state, redirect and
// scope set.
func (c *TokenClient) AuthorizationURL(ctx context.Context, state, redirectURI string, scopes []string) (string, error) {
	provider, err := c.discovery.ProviderConfig(ctx, c.tenant)
	if err != nil {
		return "", err
	}
	conf := c.oauthConfig(provider, redirectURI, scopes)
	return conf.AuthCodeURL(state), nil
}

// ExchangeCode redeems an authorization code for a TokenSet. A grant without
// an access token is a hard failure.
func (c *TokenClient) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenSet, error) {
	provider, err := c.discovery.ProviderConfig(ctx, c.tenant)
	if err != nil {
		return TokenSet{}, err
	}

	conf := c.oauthConfig(provider, redirectURI, nil)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if token.AccessToken == "" {
		return TokenSet{}, fmt.Errorf("%w: response missing access token", ErrTokenExchange)
	}

	tokenSet := TokenSet{AccessToken: token.AccessToken}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokenSet.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokenSet.Scopes = strings.Fields(scope)
	}

	c.logger.Debug("authorization code exchanged",
		zap.String("tenant", c.tenant),
		zap.Strings("granted_scopes", tokenSet.Scopes))
	return tokenSet, nil
}

func (c *TokenClient) oauthConfig(provider ProviderConfig, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.AuthorizationEndpoint,
			TokenURL: provider.TokenEndpoint,
		},
	}
}

// NewHTTPClient builds the outbound HTTP client shared by the token and Xbox
// clients, honoring per-scheme proxy configuration.
func NewHTTPClient(proxies map[string]string) (*http.Client, error) {
	client := &http.Client{Timeout: defaultHTTPTimeout}
	if len(proxies) == 0 {
		return client, nil
	}

	parsed := make(map[string]*url.URL, len(proxies))
	for scheme, raw := range proxies {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid proxy url for scheme %q: %w", scheme, err)
		}
		parsed[strings.ToLower(scheme)] = proxyURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		if proxyURL, ok := parsed[strings.ToLower(req.URL.Scheme)]; ok {
			return proxyURL, nil
		}
		return nil, nil
	}
	client.Transport = transport
	return client, nil
}
