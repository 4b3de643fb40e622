// Package auth — проверка подписи push-доставки брокера.
//
// Push receiver вызывается брокером с OIDC bearer-токеном. Мы проверяем
// подпись (RSA), issuer и audience; сами токены выпускает брокер —
// конфигурация потребляется как данность.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shaiso/Sutra/internal/domain"
)

// PushValidator проверяет bearer-токены push-доставки.
type PushValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewPushValidator создаёт валидатор из PEM публичного ключа.
func NewPushValidator(publicKeyPEM, issuer, audience string) (*PushValidator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		// Пробуем PKIX
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}

		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &PushValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// ValidateRequest проверяет Authorization header push-запроса.
// Любая проблема с токеном — domain.ErrAuth.
func (v *PushValidator) ValidateRequest(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("%w: missing authorization header", domain.ErrAuth)
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("%w: authorization header is not a bearer token", domain.ErrAuth)
	}

	return v.ValidateToken(tokenString)
}

// ValidateToken проверяет подпись и claims токена.
func (v *PushValidator) ValidateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.publicKey, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", domain.ErrAuth)
	}
	return nil
}
