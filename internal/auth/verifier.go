package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrSignatureInvalid indicates the ID token failed verification: no
	// matching signing key, bad signature, or audience mismatch. Claims from
	// such tokens are never used.
	ErrSignatureInvalid = errors.New("auth: id token verification failed")

	errMissingIDToken        = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errMissingSubjectClaim   = errors.New("token missing subject claim")
	ErrInvalidVerifierConfig = errors.New("auth: invalid id token verifier config")
)

// KeySource resolves a token's key identifier to the provider's published
// RSA public key.
type KeySource interface {
	SigningKey(ctx context.Context, keyID string) (*rsa.PublicKey, error)
}

// Claims exposes the verified ID token payload consumed by the resolver.
type Claims struct {
	Subject           string
	Email             string
	Name              string
	GivenName         string
	FamilyName        string
	PreferredUsername string
	Issuer            string
	Expiry            time.Time
	IssuedAt          time.Time
}

// Identity maps the claim set onto the resolver's Microsoft identity shape.
func (c Claims) Identity() MicrosoftIdentity {
	givenName := c.GivenName
	familyName := c.FamilyName
	if givenName == "" && familyName == "" && c.Name != "" {
		parts := strings.SplitN(c.Name, " ", 2)
		givenName = parts[0]
		if len(parts) == 2 {
			familyName = parts[1]
		}
	}
	return MicrosoftIdentity{
		SubjectID:         c.Subject,
		Email:             c.Email,
		GivenName:         givenName,
		FamilyName:        familyName,
		PreferredUsername: c.PreferredUsername,
	}
}

type idTokenClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// IDTokenVerifierConfig bundles configuration for the ID token verifier.
type IDTokenVerifierConfig struct {
	// Audience is the expected aud claim, normally the OAuth client id.
	Audience string
	Keys     KeySource
	Logger   *zap.Logger
	Clock    func() time.Time
}

// IDTokenVerifier verifies RS256 ID tokens against provider-published keys.
type IDTokenVerifier struct {
	audience string
	keys     KeySource
	logger   *zap.Logger
	clock    func() time.Time
}

// NewIDTokenVerifier constructs a verifier with validated configuration.
func NewIDTokenVerifier(cfg IDTokenVerifierConfig) (*IDTokenVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: audience required", ErrInvalidVerifierConfig)
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("%w: key source required", ErrInvalidVerifierConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IDTokenVerifier{
		audience: audience,
		keys:     cfg.Keys,
		logger:   logger,
		clock:    clock,
	}, nil
}

// Verify validates the provided ID token and returns the decoded claim set.
// Any failure is wrapped in ErrSignatureInvalid; unverified claims are never
// returned.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, errMissingIDToken)
	}

	claims := &idTokenClaims{}
	token, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.keys.SigningKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		v.logger.Debug("id token rejected", zap.Error(err))
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !token.Valid {
		return Claims{}, ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, errMissingSubjectClaim)
	}

	verified := Claims{
		Subject:           claims.Subject,
		Email:             claims.Email,
		Name:              claims.Name,
		GivenName:         claims.GivenName,
		FamilyName:        claims.FamilyName,
		PreferredUsername: claims.PreferredUsername,
		Issuer:            claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		verified.Expiry = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	return verified, nil
}
