package middleware

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksFor(t *testing.T, key *ecdsa.PrivateKey, alg string) []byte {
	t.Helper()
	coord := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
	x := key.PublicKey.X.FillBytes(make([]byte, 32))
	y := key.PublicKey.Y.FillBytes(make([]byte, 32))
	doc, err := json.Marshal(JWKS{Keys: []JWK{{Kty: "EC", Crv: "P-256", Alg: alg, Use: "sig", X: coord(x), Y: coord(y)}}})
	require.NoError(t, err)
	return doc
}

func TestJWKSToPEMVerifiesTokens(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pemKey, err := JWKSToPEM(jwksFor(t, key, "ES256"))
	require.NoError(t, err)
	assert.Contains(t, pemKey, "-----BEGIN PUBLIC KEY-----")

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u3",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(key)
	require.NoError(t, err)

	claims, err := ValidateJWT(signed, pemKey)
	require.NoError(t, err)
	assert.Equal(t, "u3", claims.Subject)
}

func TestJWKSToPEMRejects(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	cases := map[string][]byte{
		"not json":  []byte("nope"),
		"no keys":   []byte(`{"keys":[]}`),
		"wrong alg": jwksFor(t, key, "RS256"),
		"bad x":     []byte(`{"keys":[{"kty":"EC","alg":"ES256","x":"***","y":"AA"}]}`),
		"off curve": []byte(`{"keys":[{"kty":"EC","alg":"ES256","x":"AQ","y":"AQ"}]}`),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := JWKSToPEM(doc)
			assert.Error(t, err)
		})
	}
}
