package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shaiso/Sutra/internal/domain"
)

const (
	testIssuer   = "https://broker.example.com"
	testAudience = "https://sutra.example.com/pubsub"
)

func newTestValidator(t *testing.T) (*PushValidator, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})

	v, err := NewPushValidator(string(pemBytes), testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewPushValidator() error = %v", err)
	}
	return v, key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func TestValidateToken(t *testing.T) {
	v, key := newTestValidator(t)

	if err := v.ValidateToken(signToken(t, key, validClaims())); err != nil {
		t.Errorf("ValidateToken() error = %v, want nil", err)
	}
}

func TestValidateTokenRejections(t *testing.T) {
	v, key := newTestValidator(t)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong issuer", signToken(t, key, jwt.MapClaims{
			"iss": "https://evil.example.com",
			"aud": testAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"wrong audience", signToken(t, key, jwt.MapClaims{
			"iss": testIssuer,
			"aud": "https://other.example.com",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, key, jwt.MapClaims{
			"iss": testIssuer,
			"aud": testAudience,
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing expiration", signToken(t, key, jwt.MapClaims{
			"iss": testIssuer,
			"aud": testAudience,
		})},
		{"wrong key", signToken(t, otherKey, validClaims())},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateToken(tt.token)
			if !errors.Is(err, domain.ErrAuth) {
				t.Errorf("ValidateToken() error = %v, want ErrAuth", err)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	v, key := newTestValidator(t)

	req := httptest.NewRequest("POST", "/pubsub/journal-indexing", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims()))
	if err := v.ValidateRequest(req); err != nil {
		t.Errorf("ValidateRequest() error = %v, want nil", err)
	}

	req = httptest.NewRequest("POST", "/pubsub/journal-indexing", nil)
	if err := v.ValidateRequest(req); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("missing header: error = %v, want ErrAuth", err)
	}

	req = httptest.NewRequest("POST", "/pubsub/journal-indexing", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if err := v.ValidateRequest(req); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("non-bearer header: error = %v, want ErrAuth", err)
	}
}
