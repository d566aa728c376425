/**
 * @description
 * This file contains the authentication middleware for the wallet API. Bearer tokens
 * are RS256 JWTs issued by the external identity provider and verified against its
 * JWKS endpoint. The verified subject and email become the caller's identity.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Token parsing and signature verification.
 * - github.com/google/uuid: Account identifiers.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type identityContextKey string

const callerIdentityKey identityContextKey = "callerIdentity"

// Identity is the authenticated caller of a wallet endpoint.
type Identity struct {
	AccountID uuid.UUID
	Email     string
}

// KeySource resolves the public key for a token's kid.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// JWKSKeySource fetches signing keys from a JWKS endpoint and caches them. An unknown
// kid triggers a refresh so rotated keys are picked up without a restart.
type JWKSKeySource struct {
	url       string
	client    *http.Client
	ttl       time.Duration
	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewJWKSKeySource(jwksURL string) *JWKSKeySource {
	return &JWKSKeySource{
		url:    jwksURL,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    15 * time.Minute,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (s *JWKSKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[kid]; ok && time.Since(s.fetchedAt) < s.ttl {
		return key, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (s *JWKSKeySource) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("kid %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses an RSA public key from its base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

// AuthMiddleware verifies the caller's bearer token. Browsers cannot set headers on a
// WebSocket handshake, so the token is also accepted from the access_token query
// parameter.
func AuthMiddleware(keys KeySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				return keys.PublicKey(r.Context(), kid)
			}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}
			sub, _ := claims["sub"].(string)
			accountID, err := uuid.Parse(sub)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}
			email, _ := claims["email"].(string)

			ctx := context.WithValue(r.Context(), callerIdentityKey, Identity{AccountID: accountID, Email: strings.TrimSpace(email)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return "", false
		}
		return token, true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// CallerIdentity retrieves the authenticated caller from the request context.
func CallerIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(callerIdentityKey).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying id. Used by tests and internal tools.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, callerIdentityKey, id)
}
