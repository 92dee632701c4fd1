package botframework

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID      = "app-123"
	testTenant     = "tenant-1"
	testServiceURL = "https://smba.trafficmanager.net/emea/"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type keyServer struct {
	srv     *httptest.Server
	key     *rsa.PrivateKey
	kid     string
	fetches atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ks := &keyServer{key: key, kid: "k1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": ks.srv.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		pub := key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": ks.kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	})
	ks.srv = httptest.NewServer(mux)
	t.Cleanup(ks.srv.Close)
	return ks
}

func (ks *keyServer) authenticator() *JWTAuthenticator {
	return NewJWTAuthenticator(JWTAuthenticatorConfig{
		AppID:        testAppID,
		TenantID:     testTenant,
		MetadataURLs: []string{ks.srv.URL + "/metadata"},
		Logger:       quietLogger(),
	})
}

func (ks *keyServer) sign(t *testing.T, claims jwt.MapClaims, kid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(ks.key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":        botFrameworkIssuer,
		"aud":        testAppID,
		"exp":        time.Now().Add(time.Hour).Unix(),
		"nbf":        time.Now().Add(-time.Minute).Unix(),
		"serviceurl": testServiceURL,
	}
}

func activity() *Activity {
	return &Activity{Type: ActivityTypeMessage, ServiceURL: testServiceURL}
}

func TestJWTAuthenticator_Valid(t *testing.T) {
	ks := newKeyServer(t)
	auth := ks.authenticator()

	token := ks.sign(t, validClaims(), ks.kid)
	require.NoError(t, auth.Authenticate(context.Background(), "Bearer "+token, activity()))

	// Second call is served from the cache.
	require.NoError(t, auth.Authenticate(context.Background(), "Bearer "+token, activity()))
	assert.EqualValues(t, 1, ks.fetches.Load())
}

func TestJWTAuthenticator_TenantIssuers(t *testing.T) {
	ks := newKeyServer(t)
	auth := ks.authenticator()

	for _, iss := range []string{
		"https://sts.windows.net/" + testTenant + "/",
		"https://login.microsoftonline.com/" + testTenant + "/v2.0",
	} {
		claims := validClaims()
		claims["iss"] = iss
		assert.NoError(t, auth.Authenticate(context.Background(), "Bearer "+ks.sign(t, claims, ks.kid), activity()), iss)
	}
}

func TestJWTAuthenticator_Unauthorized(t *testing.T) {
	ks := newKeyServer(t)
	auth := ks.authenticator()

	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic abc", "Bearer not-a-jwt"} {
		err := auth.Authenticate(context.Background(), header, activity())
		assert.ErrorIs(t, err, ErrUnauthorized, "header %q", header)
	}
}

func TestJWTAuthenticator_Forbidden(t *testing.T) {
	ks := newKeyServer(t)

	cases := map[string]func(jwt.MapClaims){
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "someone-else" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
		"other tenant":   func(c jwt.MapClaims) { c["iss"] = "https://sts.windows.net/other/" },
		"expired":        func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"no expiry":      func(c jwt.MapClaims) { delete(c, "exp") },
		"serviceurl":     func(c jwt.MapClaims) { c["serviceurl"] = "https://elsewhere.example.com/" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			claims := validClaims()
			mutate(claims)
			err := ks.authenticator().Authenticate(context.Background(), "Bearer "+ks.sign(t, claims, ks.kid), activity())
			assert.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestJWTAuthenticator_UnknownKid(t *testing.T) {
	ks := newKeyServer(t)
	auth := ks.authenticator()

	err := auth.Authenticate(context.Background(), "Bearer "+ks.sign(t, validClaims(), "other"), activity())
	assert.ErrorIs(t, err, ErrForbidden)

	// The refresh backoff keeps a burst of bad kids from hammering the key endpoint.
	_ = auth.Authenticate(context.Background(), "Bearer "+ks.sign(t, validClaims(), "other"), activity())
	assert.EqualValues(t, 1, ks.fetches.Load())
}

func TestJWTAuthenticator_WrongSigningKey(t *testing.T) {
	ks := newKeyServer(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	tok.Header["kid"] = ks.kid
	signed, err := tok.SignedString(other)
	require.NoError(t, err)

	err = ks.authenticator().Authenticate(context.Background(), "Bearer "+signed, activity())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJWTAuthenticator_RejectsHMAC(t *testing.T) {
	ks := newKeyServer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	tok.Header["kid"] = ks.kid
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	err = ks.authenticator().Authenticate(context.Background(), "Bearer "+signed, activity())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestNoAuth(t *testing.T) {
	assert.NoError(t, NoAuth{}.Authenticate(context.Background(), "", nil))
}
