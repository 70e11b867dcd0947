package middleware

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKSToPEM converts the first ES256 key of a JWKS document into a PEM public
// key usable as JWT_SECRET.
func JWKSToPEM(doc []byte) (string, error) {
	var jwks JWKS
	if err := json.Unmarshal(doc, &jwks); err != nil {
		return "", fmt.Errorf("parse JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return "", errors.New("no keys found in JWKS")
	}

	key := jwks.Keys[0]
	if key.Kty != "EC" || key.Alg != "ES256" {
		return "", fmt.Errorf("expected EC/ES256 key, got %s/%s", key.Kty, key.Alg)
	}
	x, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return "", fmt.Errorf("decode x coordinate: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return "", fmt.Errorf("decode y coordinate: %w", err)
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return "", errors.New("key is not on the P-256 curve")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
