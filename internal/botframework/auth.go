package botframework

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// BotFrameworkOpenIDMetadata lists the signing keys of tokens issued by the
	// Bot Framework channel service.
	BotFrameworkOpenIDMetadata = "https://login.botframework.com/v1/.well-known/openidconfiguration"

	botFrameworkIssuer = "https://api.botframework.com"

	keyCacheTTL       = 24 * time.Hour
	keyRefreshBackoff = 5 * time.Minute
	clockSkew         = 5 * time.Minute
)

var (
	// ErrUnauthorized means no usable bearer token was presented (HTTP 401).
	ErrUnauthorized = errors.New("botframework: missing or malformed authorization")
	// ErrForbidden means the token was presented but rejected (HTTP 403).
	ErrForbidden = errors.New("botframework: token rejected")
)

// Authenticator validates the Authorization header of an inbound activity.
type Authenticator interface {
	Authenticate(ctx context.Context, authHeader string, activity *Activity) error
}

// NoAuth accepts every request. It is used when no app id is configured,
// e.g. against the Bot Framework Emulator.
type NoAuth struct{}

func (NoAuth) Authenticate(context.Context, string, *Activity) error { return nil }

// JWTAuthenticatorConfig configures inbound token validation.
type JWTAuthenticatorConfig struct {
	AppID    string
	TenantID string
	// MetadataURLs are OpenID configuration documents whose jwks_uri keys are
	// trusted. Defaults to the Bot Framework metadata plus the tenant's
	// Entra ID v2.0 metadata.
	MetadataURLs []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// JWTAuthenticator checks RS256 bearer tokens against the published signing
// keys, the app id audience, the allowed issuers and the serviceurl claim.
type JWTAuthenticator struct {
	appID   string
	issuers map[string]bool
	keys    *keySet
	logger  *slog.Logger
}

func NewJWTAuthenticator(cfg JWTAuthenticatorConfig) *JWTAuthenticator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.MetadataURLs) == 0 {
		cfg.MetadataURLs = []string{BotFrameworkOpenIDMetadata}
		if cfg.TenantID != "" {
			cfg.MetadataURLs = append(cfg.MetadataURLs,
				"https://login.microsoftonline.com/"+cfg.TenantID+"/v2.0/.well-known/openid-configuration")
		}
	}

	issuers := map[string]bool{botFrameworkIssuer: true}
	if cfg.TenantID != "" {
		issuers["https://sts.windows.net/"+cfg.TenantID+"/"] = true
		issuers["https://login.microsoftonline.com/"+cfg.TenantID+"/v2.0"] = true
	}

	return &JWTAuthenticator{
		appID:   cfg.AppID,
		issuers: issuers,
		keys: &keySet{
			metadataURLs: cfg.MetadataURLs,
			client:       cfg.HTTPClient,
			logger:       cfg.Logger,
			keys:         make(map[string]*rsa.PublicKey),
		},
		logger: cfg.Logger,
	}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, authHeader string, activity *Activity) error {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return ErrUnauthorized
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid")
		}
		return a.keys.get(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(a.appID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrForbidden)
	}

	iss, _ := claims.GetIssuer()
	if !a.issuers[iss] {
		return fmt.Errorf("%w: untrusted issuer %q", ErrForbidden, iss)
	}

	if claimed, ok := claims["serviceurl"].(string); ok && activity != nil {
		if !sameServiceURL(claimed, activity.ServiceURL) {
			return fmt.Errorf("%w: serviceurl claim %q does not match activity %q", ErrForbidden, claimed, activity.ServiceURL)
		}
	}
	return nil
}

func sameServiceURL(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}

// keySet caches RSA signing keys by kid. An unknown kid triggers a refresh,
// limited to one per keyRefreshBackoff.
type keySet struct {
	metadataURLs []string
	client       *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := time.Since(s.fetchedAt) > keyCacheTTL
	if key, ok := s.keys[kid]; ok && !stale {
		return key, nil
	}
	if !stale && time.Since(s.lastAttempt) < keyRefreshBackoff {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}

	s.lastAttempt = time.Now()
	keys, err := s.fetch(ctx)
	if err != nil {
		if key, ok := s.keys[kid]; ok {
			s.logger.Warn("signing key refresh failed, using cached keys", "error", err)
			return key, nil
		}
		return nil, fmt.Errorf("fetch signing keys: %w", err)
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	s.logger.Debug("signing keys refreshed", "count", len(keys))

	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (s *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey)
	var errs []error
	for _, metadataURL := range s.metadataURLs {
		var meta struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := s.getJSON(ctx, metadataURL, &meta); err != nil {
			errs = append(errs, err)
			continue
		}
		if meta.JWKSURI == "" {
			errs = append(errs, fmt.Errorf("%s: no jwks_uri", metadataURL))
			continue
		}

		var set jwks
		if err := s.getJSON(ctx, meta.JWKSURI, &set); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range set.Keys {
			pub, err := k.rsaPublicKey()
			if err != nil {
				s.logger.Debug("skipping signing key", "kid", k.Kid, "error", err)
				continue
			}
			keys[k.Kid] = pub
		}
	}
	if len(keys) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, errors.New("no RSA signing keys published")
	}
	return keys, nil
}

func (s *keySet) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	return nil
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
