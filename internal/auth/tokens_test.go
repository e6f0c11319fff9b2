package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testTokens(t *testing.T, clock func() time.Time) *Tokens {
	t.Helper()
	tokens, err := NewTokens(TokensConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "boardsync",
		Audience:      "boardsync-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return tokens
}

func TestTokensIssueCarriesRegisteredClaims(t *testing.T) {
	tokens := testTokens(t, nil)

	signed, expiresIn, err := tokens.Issue("user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "boardsync" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "boardsync-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokensValidateRoundTrip(t *testing.T) {
	tokens := testTokens(t, nil)

	signed, _, err := tokens.Issue("user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := tokens.Validate(signed)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "user-321" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := tokens.Validate("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestTokensValidateRejectsExpired(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := testTokens(t, func() time.Time { return current })

	signed, _, err := tokens.Issue("user-9")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	current = current.Add(31 * time.Minute)
	if _, err := tokens.Validate(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokensValidateRejectsForeignIssuer(t *testing.T) {
	tokens := testTokens(t, nil)

	other, err := NewTokens(TokensConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "someone-else",
		Audience:      "boardsync-api",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	signed, _, err := other.Issue("user-5")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := tokens.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestNewTokensRequiresSecretAndIssuer(t *testing.T) {
	if _, err := NewTokens(TokensConfig{Issuer: "boardsync"}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
	if _, err := NewTokens(TokensConfig{SigningSecret: []byte("secret"), Issuer: "  "}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected ErrMissingIssuer, got %v", err)
	}
}

func TestTokensIssueRequiresSubject(t *testing.T) {
	tokens := testTokens(t, nil)
	if _, _, err := tokens.Issue("  "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}
