// Package login runs the authentication pipeline: code exchange, scope
// validation, identity verification and account resolution. One attempt is
// strictly sequential; concurrent attempts share only the read-mostly
// discovery cache underneath the token client.
package login

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/mslink/internal/accounts"
	"github.com/MarcoPoloResearchLab/mslink/internal/auth"
	"github.com/MarcoPoloResearchLab/mslink/internal/hooks"
	"github.com/MarcoPoloResearchLab/mslink/internal/users"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientScope aborts an attempt whose grant is missing required
	// scopes, before any account lookup happens.
	ErrInsufficientScope = errors.New("login: granted scopes missing required entries")
	// ErrMissingIDToken aborts a Microsoft attempt whose grant carried no ID
	// token to verify.
	ErrMissingIDToken = errors.New("login: token response missing id token")
	// ErrXboxUnavailable rejects an Xbox attempt after either Xbox leg
	// declined the request.
	ErrXboxUnavailable = errors.New("login: xbox live declined the token request")
)

// TokenExchanger redeems authorization codes.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (auth.TokenSet, error)
	AuthorizationURL(ctx context.Context, state, redirectURI string, scopes []string) (string, error)
}

// IDTokenVerifier verifies Microsoft ID tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Claims, error)
}

// XboxChain performs the two-leg Xbox Live token exchange.
type XboxChain interface {
	FetchUserToken(ctx context.Context, accessToken string) (auth.XboxToken, error)
	FetchProfile(ctx context.Context, token auth.XboxToken) (auth.XboxProfile, error)
}

// AccountResolver maps verified identities to local users.
type AccountResolver interface {
	ResolveMicrosoft(ctx context.Context, identity auth.MicrosoftIdentity, policies accounts.Policies) (*users.User, error)
	ResolveXbox(ctx context.Context, identity auth.XboxIdentity, policies accounts.Policies) (*users.User, error)
}

// AuthenticatorConfig bundles the pipeline dependencies and policies.
type AuthenticatorConfig struct {
	LoginType   string
	ExtraScopes []string
	Policies    accounts.Policies

	Exchanger  TokenExchanger
	Verifier   IDTokenVerifier
	Xbox       XboxChain
	Resolver   AccountResolver
	Dispatcher *hooks.Dispatcher
	Logger     *zap.Logger
}

// Result is the terminal state of a successful attempt.
type Result struct {
	User      *users.User
	LoginType string
	// Token is the raw token handed to the post-auth hook: the OAuth token
	// set for Microsoft logins, the Xbox token for Xbox logins.
	Token any
}

// Authenticator drives one authentication attempt end to end.
type Authenticator struct {
	loginType   string
	extraScopes []string
	policies    accounts.Policies

	exchanger  TokenExchanger
	verifier   IDTokenVerifier
	xbox       XboxChain
	resolver   AccountResolver
	dispatcher *hooks.Dispatcher
	logger     *zap.Logger
}

// NewAuthenticator constructs the pipeline with validated dependencies.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.LoginType != auth.LoginTypeMicrosoft && cfg.LoginType != auth.LoginTypeXbox {
		return nil, fmt.Errorf("login: unsupported login type %q", cfg.LoginType)
	}
	if cfg.Exchanger == nil {
		return nil, fmt.Errorf("login: token exchanger required")
	}
	if cfg.LoginType == auth.LoginTypeMicrosoft && cfg.Verifier == nil {
		return nil, fmt.Errorf("login: id token verifier required for microsoft logins")
	}
	if cfg.LoginType == auth.LoginTypeXbox && cfg.Xbox == nil {
		return nil, fmt.Errorf("login: xbox chain required for xbox logins")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("login: account resolver required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		loginType:   cfg.LoginType,
		extraScopes: cfg.ExtraScopes,
		policies:    cfg.Policies,
		exchanger:   cfg.Exchanger,
		verifier:    cfg.Verifier,
		xbox:        cfg.Xbox,
		resolver:    cfg.Resolver,
		dispatcher:  cfg.Dispatcher,
		logger:      logger,
	}, nil
}

// AuthorizationURL builds the consent URL for the configured login type.
func (a *Authenticator) AuthorizationURL(ctx context.Context, state, redirectURI string) (string, error) {
	return a.exchanger.AuthorizationURL(ctx, state, redirectURI, auth.RequiredScopes(a.loginType, a.extraScopes))
}

// Authenticate runs the full pipeline for an authorization code whose state
// parameter the caller has already validated.
func (a *Authenticator) Authenticate(ctx context.Context, code, redirectURI string) (Result, error) {
	tokenSet, err := a.exchanger.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return Result{}, err
	}

	required := auth.RequiredScopes(a.loginType, a.extraScopes)
	if !auth.HasRequiredScopes(tokenSet.Scopes, required) {
		a.logger.Warn("grant missing required scopes",
			zap.Strings("granted", tokenSet.Scopes),
			zap.Strings("required", required))
		return Result{}, ErrInsufficientScope
	}

	var result Result
	switch a.loginType {
	case auth.LoginTypeXbox:
		result, err = a.authenticateXbox(ctx, tokenSet)
	default:
		result, err = a.authenticateMicrosoft(ctx, tokenSet)
	}
	if err != nil {
		return Result{}, err
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Dispatch(ctx, result.User, result.Token); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (a *Authenticator) authenticateMicrosoft(ctx context.Context, tokenSet auth.TokenSet) (Result, error) {
	if tokenSet.IDToken == "" {
		return Result{}, ErrMissingIDToken
	}

	claims, err := a.verifier.Verify(ctx, tokenSet.IDToken)
	if err != nil {
		return Result{}, err
	}

	user, err := a.resolver.ResolveMicrosoft(ctx, claims.Identity(), a.policies)
	if err != nil {
		return Result{}, err
	}

	return Result{User: user, LoginType: auth.LoginTypeMicrosoft, Token: tokenSet}, nil
}

func (a *Authenticator) authenticateXbox(ctx context.Context, tokenSet auth.TokenSet) (Result, error) {
	xboxToken, err := a.xbox.FetchUserToken(ctx, tokenSet.AccessToken)
	if err != nil {
		return Result{}, err
	}
	if xboxToken.IsZero() {
		return Result{}, ErrXboxUnavailable
	}

	profile, err := a.xbox.FetchProfile(ctx, xboxToken)
	if err != nil {
		return Result{}, err
	}
	if profile.IsZero() {
		return Result{}, ErrXboxUnavailable
	}

	user, err := a.resolver.ResolveXbox(ctx, auth.XboxIdentity{
		XboxID:   profile.XboxID,
		Gamertag: profile.Gamertag,
	}, a.policies)
	if err != nil {
		return Result{}, err
	}

	return Result{User: user, LoginType: auth.LoginTypeXbox, Token: xboxToken}, nil
}
