// Package authn validates bearer tokens against a remote JWKS and derives
// the authenticated tenant context for the HTTP server's protected routes.
// Modeled on the JWT-parsing and claim-validation shape of
// r3e-network-service_layer's ServiceAuthMiddleware (infrastructure/middleware
// /serviceauth.go) — jwt.ParseWithClaims with an explicit signing-method
// check, issuer/subject validation, no teacher equivalent since the
// bouncer has no auth layer beyond database credentials.
package authn

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when no Authorization: Bearer header is present.
var ErrMissingToken = errors.New("authn: missing bearer token")

// ErrInvalidToken wraps any JWT parse/verify/claim failure.
var ErrInvalidToken = errors.New("authn: invalid token")

// ErrCrossTenantAccess is returned by CheckAccess when a TenantContext may
// not reach the target tenant, per §4.7's access rule. Handlers map this to
// HTTP 403.
var ErrCrossTenantAccess = errors.New("authn: cross-tenant access denied")

// ClockSkew is the tolerance applied to exp/iat checks, per §6.
const ClockSkew = 60 * time.Second

// roleAdmin is the role name that, like IsSystem, exempts a context from
// the tenant-match requirement in TenantContext.CanAccess.
const roleAdmin = "admin"

// Claims is the expected JWT claim set.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	IsSystem bool     `json:"is_system"`
}

// TenantContext is the authenticated identity derived from a validated
// bearer token: the tenant it's scoped to, optionally which user, its
// granted roles, and whether it holds system-wide access. Distinct from a
// bare tenant ID string — this is what the §4.7 access rule is checked
// against.
type TenantContext struct {
	TenantID string
	UserID   string
	Roles    []string
	IsSystem bool
}

// HasRole reports whether tc was granted role.
func (tc TenantContext) HasRole(role string) bool {
	for _, r := range tc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanAccess implements the §4.7 access rule: a context may reach
// targetTenantID when it is system, holds the admin role, or is scoped to
// that same tenant. Every other combination is a cross-tenant attempt.
func (tc TenantContext) CanAccess(targetTenantID string) bool {
	return tc.IsSystem || tc.HasRole(roleAdmin) || tc.TenantID == targetTenantID
}

// CheckAccess enforces CanAccess, returning ErrCrossTenantAccess when tc may
// not reach targetTenantID. Handlers must call this before binding
// targetTenantID as a query parameter.
func CheckAccess(tc TenantContext, targetTenantID string) error {
	if !tc.CanAccess(targetTenantID) {
		return ErrCrossTenantAccess
	}
	return nil
}

// tenantContextKey is an unexported type to avoid context key collisions.
type tenantContextKey struct{}

// WithTenantContext returns a context carrying the authenticated
// TenantContext.
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantContextFrom extracts the TenantContext set by a successful
// Middleware pass.
func TenantContextFrom(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return tc, ok
}

// TenantID extracts the bare tenant ID from the context's TenantContext,
// for callers that only need the isolation key and not the full identity.
func TenantID(ctx context.Context) (string, bool) {
	tc, ok := TenantContextFrom(ctx)
	if !ok {
		return "", false
	}
	return tc.TenantID, true
}

// Config holds the validator's expected claims and JWKS source.
type Config struct {
	Issuer   string // OAUTH2_ISSUER_URI
	Audience string // OAUTH2_AUDIENCE
	JWKSURI  string // OAUTH2_JWK_SET_URI
	// DevBypassToken, if non-empty, is accepted verbatim without JWKS
	// validation — intended only for local development. Fails closed: if
	// unset, no bypass path exists at all.
	DevBypassToken string
	DevBypassTenant string
}

// Validator verifies bearer tokens against a cached, periodically-refreshed
// JSON Web Key Set.
type Validator struct {
	cfg Config

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	fetch func(ctx context.Context, uri string) ([]byte, error)
}

// New builds a Validator. fetchJWKS defaults to an http.Get-based fetcher
// when nil; tests supply a stub instead.
func New(cfg Config, fetchJWKS func(ctx context.Context, uri string) ([]byte, error)) *Validator {
	if fetchJWKS == nil {
		fetchJWKS = httpFetch
	}
	return &Validator{cfg: cfg, keys: make(map[string]*rsa.PublicKey), fetch: fetchJWKS}
}

func httpFetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authn: JWKS fetch: unexpected status %d", resp.StatusCode)
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// jwks mirrors RFC 7517's minimal JSON shape for RSA keys.
type jwks struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// Refresh fetches and parses the JWKS document, replacing the cached key set.
func (v *Validator) Refresh(ctx context.Context) error {
	body, err := v.fetch(ctx, v.cfg.JWKSURI)
	if err != nil {
		return fmt.Errorf("authn: refreshing JWKS: %w", err)
	}

	var doc jwks
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("authn: parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	return nil
}

func rsaPublicKeyFromJWK(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}

	eBuf := make([]byte, 8)
	copy(eBuf[8-len(eBytes):], eBytes)
	e := int(binary.BigEndian.Uint64(eBuf))

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func (v *Validator) keyByKid(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	k, ok := v.keys[kid]
	return k, ok
}

// ExtractBearer pulls the raw token from an Authorization: Bearer header.
func ExtractBearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// Validate parses and verifies tokenString, checking signature, iss, aud,
// and exp/iat within ClockSkew, returning the derived TenantContext on
// success.
func (v *Validator) Validate(ctx context.Context, tokenString string) (TenantContext, error) {
	if v.cfg.DevBypassToken != "" && tokenString == v.cfg.DevBypassToken {
		return TenantContext{TenantID: v.cfg.DevBypassTenant}, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keyByKid(kid)
		if !ok {
			return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
		}
		return key, nil
	}, jwt.WithLeeway(ClockSkew), jwt.WithIssuedAt(), jwt.WithExpirationRequired())
	if err != nil {
		return TenantContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return TenantContext{}, ErrInvalidToken
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return TenantContext{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if v.cfg.Audience != "" && !containsAudience(claims.Audience, v.cfg.Audience) {
		return TenantContext{}, fmt.Errorf("%w: missing expected audience %q", ErrInvalidToken, v.cfg.Audience)
	}
	if claims.TenantID == "" {
		return TenantContext{}, fmt.Errorf("%w: missing tenant_id claim", ErrInvalidToken)
	}

	return TenantContext{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Roles:    claims.Roles,
		IsSystem: claims.IsSystem,
	}, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// Middleware wraps next, rejecting requests without a valid bearer token
// and otherwise injecting the tenant ID into the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearer(r)
		if err != nil {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		tc, err := v.Validate(r.Context(), token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantContext(r.Context(), tc)))
	})
}
