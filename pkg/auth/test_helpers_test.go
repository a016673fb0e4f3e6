package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

const testKeyID = "test-key-id"

func generateRSAKeyPair(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return privateKey
}

func createJWKS(t testing.TB, publicKey *rsa.PublicKey) jwk.Set {
	t.Helper()

	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		t.Fatalf("failed to build jwk: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set alg: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(key); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}
	return keyset
}

func signTestJWT(t testing.TB, privateKey *rsa.PrivateKey, issuer, audience string, claims map[string]interface{}) string {
	t.Helper()

	token := jwt.New()
	mustSet := func(k string, v interface{}) {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("failed to set claim %s: %v", k, err)
		}
	}
	mustSet(jwt.IssuerKey, issuer)
	mustSet(jwt.AudienceKey, audience)
	mustSet(jwt.IssuedAtKey, time.Now())
	mustSet(jwt.ExpirationKey, time.Now().Add(time.Hour))
	for k, v := range claims {
		mustSet(k, v)
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to build signing key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

// setupJWTAuthorizer serves a JWKS from an httptest server and returns
// a ready authorizer plus the signing key and expected issuer/audience.
func setupJWTAuthorizer(t testing.TB) (*JWTAuthorizer, *rsa.PrivateKey, string, string) {
	t.Helper()

	privateKey := generateRSAKeyPair(t)
	keyset := createJWKS(t, &privateKey.PublicKey)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	issuer := "https://test-issuer.example.com"
	audience := "test-client-id"

	authorizer, err := NewJWTAuthorizer(config.JWTAuth{
		JWKSURL:     server.URL + "/.well-known/jwks.json",
		Issuer:      issuer,
		Audience:    audience,
		JWKSRefresh: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create authorizer: %v", err)
	}

	return authorizer, privateKey, issuer, audience
}
