package middleware

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the API relies on. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func parsePublicKey(pemKey string) (any, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// keyFuncFor picks the verification key from the token's algorithm. A PEM
// public key only verifies RSA and ECDSA tokens; anything else is an HMAC secret.
func keyFuncFor(keyMaterial string) jwt.Keyfunc {
	isPEM := strings.HasPrefix(strings.TrimSpace(keyMaterial), "-----BEGIN")
	return func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if !isPEM {
				return []byte(keyMaterial), nil
			}
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			if isPEM {
				return parsePublicKey(keyMaterial)
			}
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

// ValidateJWT verifies the token signature and expiry and returns its claims.
func ValidateJWT(tokenString, keyMaterial string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, keyFuncFor(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
