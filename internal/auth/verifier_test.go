package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// staticKeySource serves a fixed key map, counting lookups.
type staticKeySource struct {
	keys    map[string]*rsa.PublicKey
	lookups int
}

func (s *staticKeySource) SigningKey(_ context.Context, keyID string) (*rsa.PublicKey, error) {
	s.lookups++
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func signTestIDToken(t *testing.T, privateKey *rsa.PrivateKey, keyID string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerifyReturnsDecodedClaims(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	now := time.Now().UTC()
	signed := signTestIDToken(t, privateKey, "k1", jwt.MapClaims{
		"aud":                "client-123",
		"iss":                "https://login.microsoftonline.com/common/v2.0",
		"sub":                "abc123",
		"email":              "a@x.com",
		"name":               "Ann Lee",
		"preferred_username": "a@x.com",
		"exp":                now.Add(5 * time.Minute).Unix(),
		"iat":                now.Unix(),
	})

	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "client-123",
		Keys:     &staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &privateKey.PublicKey}},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.Subject != "abc123" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Email != "a@x.com" {
		t.Fatalf("unexpected email %q", claims.Email)
	}
	if claims.PreferredUsername != "a@x.com" {
		t.Fatalf("unexpected preferred username %q", claims.PreferredUsername)
	}

	identity := claims.Identity()
	if identity.GivenName != "Ann" || identity.FamilyName != "Lee" {
		t.Fatalf("unexpected name split: %q %q", identity.GivenName, identity.FamilyName)
	}
}

func TestVerifyFailsWhenKeyIDUnknown(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	now := time.Now().UTC()
	signed := signTestIDToken(t, privateKey, "k2", jwt.MapClaims{
		"aud": "client-123",
		"sub": "abc123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	source := &staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &privateKey.PublicKey}}
	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "client-123",
		Keys:     source,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signed)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for unknown key id, got %v", err)
	}
}

func TestVerifyFailsOnAudienceMismatch(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	now := time.Now().UTC()
	signed := signTestIDToken(t, privateKey, "k1", jwt.MapClaims{
		"aud": "some-other-client",
		"sub": "abc123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "client-123",
		Keys:     &staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &privateKey.PublicKey}},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signed)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for audience mismatch, got %v", err)
	}
}

func TestVerifyFailsOnTamperedSignature(t *testing.T) {
	signerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate signer key: %v", err)
	}
	publishedKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate published key: %v", err)
	}

	now := time.Now().UTC()
	signed := signTestIDToken(t, signerKey, "k1", jwt.MapClaims{
		"aud": "client-123",
		"sub": "abc123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "client-123",
		Keys:     &staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &publishedKey.PublicKey}},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signed)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for bad signature, got %v", err)
	}
}

func TestNewIDTokenVerifierValidatesConfig(t *testing.T) {
	_, err := NewIDTokenVerifier(IDTokenVerifierConfig{Audience: ""})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected ErrInvalidVerifierConfig, got %v", err)
	}

	_, err = NewIDTokenVerifier(IDTokenVerifierConfig{Audience: "client"})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected ErrInvalidVerifierConfig for missing key source, got %v", err)
	}
}

func TestIdentityPrefersExplicitNameClaims(t *testing.T) {
	claims := Claims{
		Subject:    "abc123",
		GivenName:  "Ann",
		FamilyName: "van der Berg",
		Name:       "Ignored Name",
	}
	identity := claims.Identity()
	if identity.GivenName != "Ann" || identity.FamilyName != "van der Berg" {
		t.Fatalf("unexpected identity names: %q %q", identity.GivenName, identity.FamilyName)
	}
}

func TestIdentitySplitsDisplayNameOnFirstSpace(t *testing.T) {
	claims := Claims{Subject: "abc123", Name: "Ann Lee van der Berg"}
	identity := claims.Identity()
	if identity.GivenName != "Ann" {
		t.Fatalf("unexpected given name %q", identity.GivenName)
	}
	if identity.FamilyName != "Lee van der Berg" {
		t.Fatalf("unexpected family name %q", identity.FamilyName)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	issued := time.Unix(1000, 0)
	signed := signTestIDToken(t, privateKey, "k1", jwt.MapClaims{
		"aud": "client-123",
		"sub": "abc123",
		"exp": issued.Add(5 * time.Minute).Unix(),
		"iat": issued.Unix(),
	})

	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "client-123",
		Keys:     &staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &privateKey.PublicKey}},
		Clock:    func() time.Time { return issued.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signed)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for expired token, got %v", err)
	}
}
