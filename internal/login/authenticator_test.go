package login

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/mslink/internal/accounts"
	"github.com/MarcoPoloResearchLab/mslink/internal/auth"
	"github.com/MarcoPoloResearchLab/mslink/internal/hooks"
	"github.com/MarcoPoloResearchLab/mslink/internal/users"
)

type stubExchanger struct {
	tokenSet auth.TokenSet
	err      error
	lastCode string
}

func (s *stubExchanger) ExchangeCode(_ context.Context, code, _ string) (auth.TokenSet, error) {
	s.lastCode = code
	return s.tokenSet, s.err
}

func (s *stubExchanger) AuthorizationURL(context.Context, string, string, []string) (string, error) {
	return "https://login.example/authorize", nil
}

type stubVerifier struct {
	claims auth.Claims
	err    error
}

func (s *stubVerifier) Verify(context.Context, string) (auth.Claims, error) {
	return s.claims, s.err
}

type stubXboxChain struct {
	token   auth.XboxToken
	profile auth.XboxProfile
}

func (s *stubXboxChain) FetchUserToken(context.Context, string) (auth.XboxToken, error) {
	return s.token, nil
}

func (s *stubXboxChain) FetchProfile(context.Context, auth.XboxToken) (auth.XboxProfile, error) {
	return s.profile, nil
}

type stubResolver struct {
	user          *users.User
	err           error
	microsoftSeen *auth.MicrosoftIdentity
	xboxSeen      *auth.XboxIdentity
}

func (s *stubResolver) ResolveMicrosoft(_ context.Context, identity auth.MicrosoftIdentity, _ accounts.Policies) (*users.User, error) {
	s.microsoftSeen = &identity
	return s.user, s.err
}

func (s *stubResolver) ResolveXbox(_ context.Context, identity auth.XboxIdentity, _ accounts.Policies) (*users.User, error) {
	s.xboxSeen = &identity
	return s.user, s.err
}

func microsoftTokenSet() auth.TokenSet {
	return auth.TokenSet{
		AccessToken: "access-1",
		IDToken:     "id-token-1",
		Scopes:      []string{"openid", "email"},
	}
}

func TestAuthenticateMicrosoftResolvesVerifiedIdentity(t *testing.T) {
	resolver := &stubResolver{user: &users.User{ID: "user-1", Username: "ann"}}
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeMicrosoft,
		Exchanger: &stubExchanger{tokenSet: microsoftTokenSet()},
		Verifier: &stubVerifier{claims: auth.Claims{
			Subject:           "abc123",
			Email:             "a@x.com",
			GivenName:         "Ann",
			FamilyName:        "Lee",
			PreferredUsername: "a@x.com",
		}},
		Resolver: resolver,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	result, err := authenticator.Authenticate(context.Background(), "code-1", "https://app/callback")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if result.User.ID != "user-1" {
		t.Fatalf("unexpected user %+v", result.User)
	}
	if result.LoginType != auth.LoginTypeMicrosoft {
		t.Fatalf("unexpected login type %q", result.LoginType)
	}
	tokenSet, ok := result.Token.(auth.TokenSet)
	if !ok || tokenSet.AccessToken != "access-1" {
		t.Fatalf("result must carry the token set, got %v", result.Token)
	}
	if resolver.microsoftSeen == nil || resolver.microsoftSeen.SubjectID != "abc123" {
		t.Fatalf("resolver did not receive verified identity: %+v", resolver.microsoftSeen)
	}
}

func TestAuthenticateRejectsMissingScopes(t *testing.T) {
	tokenSet := microsoftTokenSet()
	tokenSet.Scopes = []string{"openid"}
	resolver := &stubResolver{user: &users.User{ID: "user-1"}}

	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeMicrosoft,
		Exchanger: &stubExchanger{tokenSet: tokenSet},
		Verifier:  &stubVerifier{},
		Resolver:  resolver,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	_, err = authenticator.Authenticate(context.Background(), "code-1", "")
	if !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}
	if resolver.microsoftSeen != nil {
		t.Fatalf("scope rejection must happen before account resolution")
	}
}

func TestAuthenticateRequiresExtraScopes(t *testing.T) {
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType:   auth.LoginTypeMicrosoft,
		ExtraScopes: []string{"profile"},
		Exchanger:   &stubExchanger{tokenSet: microsoftTokenSet()},
		Verifier:    &stubVerifier{},
		Resolver:    &stubResolver{user: &users.User{ID: "user-1"}},
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope for missing extra scope, got %v", err)
	}
}

func TestAuthenticateRejectsMissingIDToken(t *testing.T) {
	tokenSet := microsoftTokenSet()
	tokenSet.IDToken = ""

	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeMicrosoft,
		Exchanger: &stubExchanger{tokenSet: tokenSet},
		Verifier:  &stubVerifier{},
		Resolver:  &stubResolver{user: &users.User{ID: "user-1"}},
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, ErrMissingIDToken) {
		t.Fatalf("expected ErrMissingIDToken, got %v", err)
	}
}

func TestAuthenticateSurfacesVerifierError(t *testing.T) {
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeMicrosoft,
		Exchanger: &stubExchanger{tokenSet: microsoftTokenSet()},
		Verifier:  &stubVerifier{err: auth.ErrSignatureInvalid},
		Resolver:  &stubResolver{user: &users.User{ID: "user-1"}},
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, auth.ErrSignatureInvalid) {
		t.Fatalf("expected verification error to propagate, got %v", err)
	}
}

func xboxTokenSet() auth.TokenSet {
	return auth.TokenSet{
		AccessToken: "access-1",
		Scopes:      []string{"XboxLive.signin", "XboxLive.offline_access"},
	}
}

func TestAuthenticateXboxResolvesProfile(t *testing.T) {
	resolver := &stubResolver{user: &users.User{ID: "user-1", Username: "Gamertag"}}
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeXbox,
		Exchanger: &stubExchanger{tokenSet: xboxTokenSet()},
		Xbox: &stubXboxChain{
			token:   auth.XboxToken{Value: "xbox-token", UserHash: "hash-1"},
			profile: auth.XboxProfile{XboxID: "x1", Gamertag: "Gamertag"},
		},
		Resolver: resolver,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	result, err := authenticator.Authenticate(context.Background(), "code-1", "")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if result.LoginType != auth.LoginTypeXbox {
		t.Fatalf("unexpected login type %q", result.LoginType)
	}
	xboxToken, ok := result.Token.(auth.XboxToken)
	if !ok || xboxToken.Value != "xbox-token" {
		t.Fatalf("result must carry the xbox token, got %v", result.Token)
	}
	if resolver.xboxSeen == nil || resolver.xboxSeen.XboxID != "x1" || resolver.xboxSeen.Gamertag != "Gamertag" {
		t.Fatalf("resolver did not receive the profile: %+v", resolver.xboxSeen)
	}
}

func TestAuthenticateXboxRejectsDeclinedUserToken(t *testing.T) {
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeXbox,
		Exchanger: &stubExchanger{tokenSet: xboxTokenSet()},
		Xbox:      &stubXboxChain{},
		Resolver:  &stubResolver{user: &users.User{ID: "user-1"}},
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, ErrXboxUnavailable) {
		t.Fatalf("expected ErrXboxUnavailable, got %v", err)
	}
}

func TestAuthenticateXboxRejectsDeclinedProfile(t *testing.T) {
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeXbox,
		Exchanger: &stubExchanger{tokenSet: xboxTokenSet()},
		Xbox:      &stubXboxChain{token: auth.XboxToken{Value: "xbox-token"}},
		Resolver:  &stubResolver{user: &users.User{ID: "user-1"}},
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, ErrXboxUnavailable) {
		t.Fatalf("expected ErrXboxUnavailable, got %v", err)
	}
}

func TestAuthenticateRunsPostAuthHook(t *testing.T) {
	registry := hooks.NewRegistry()
	var hookUser *users.User
	if err := registry.RegisterAuthenticate("capture", func(_ context.Context, user *users.User, _ any) error {
		hookUser = user
		return nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	dispatcher, err := hooks.NewDispatcher(hooks.DispatcherConfig{
		Registry:             registry,
		AuthenticateHookName: "capture",
	})
	if err != nil {
		t.Fatalf("dispatcher construction failed: %v", err)
	}

	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType:  auth.LoginTypeMicrosoft,
		Exchanger:  &stubExchanger{tokenSet: microsoftTokenSet()},
		Verifier:   &stubVerifier{claims: auth.Claims{Subject: "abc123"}},
		Resolver:   &stubResolver{user: &users.User{ID: "user-1"}},
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if hookUser == nil || hookUser.ID != "user-1" {
		t.Fatalf("hook did not run with the resolved user: %+v", hookUser)
	}
}

func TestAuthenticateFailsWhenHookFails(t *testing.T) {
	registry := hooks.NewRegistry()
	hookErr := errors.New("hook exploded")
	if err := registry.RegisterAuthenticate("failing", func(context.Context, *users.User, any) error {
		return hookErr
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	dispatcher, err := hooks.NewDispatcher(hooks.DispatcherConfig{
		Registry:             registry,
		AuthenticateHookName: "failing",
	})
	if err != nil {
		t.Fatalf("dispatcher construction failed: %v", err)
	}

	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		LoginType:  auth.LoginTypeMicrosoft,
		Exchanger:  &stubExchanger{tokenSet: microsoftTokenSet()},
		Verifier:   &stubVerifier{claims: auth.Claims{Subject: "abc123"}},
		Resolver:   &stubResolver{user: &users.User{ID: "user-1"}},
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := authenticator.Authenticate(context.Background(), "code-1", ""); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error to fail the attempt, got %v", err)
	}
}

func TestNewAuthenticatorValidatesDependencies(t *testing.T) {
	if _, err := NewAuthenticator(AuthenticatorConfig{LoginType: "google"}); err == nil {
		t.Fatalf("expected unsupported login type to be rejected")
	}
	if _, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeMicrosoft,
		Exchanger: &stubExchanger{},
		Resolver:  &stubResolver{},
	}); err == nil {
		t.Fatalf("expected missing verifier to be rejected for microsoft logins")
	}
	if _, err := NewAuthenticator(AuthenticatorConfig{
		LoginType: auth.LoginTypeXbox,
		Exchanger: &stubExchanger{},
		Resolver:  &stubResolver{},
	}); err == nil {
		t.Fatalf("expected missing xbox chain to be rejected for xbox logins")
	}
}
