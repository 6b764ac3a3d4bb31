/**
 * @description
 * This file contains custom middleware for the HTTP router: caller authentication,
 * role gating for controller and admin endpoints, and per-device rate limiting of
 * QR scans.
 *
 * Authentication has two modes. With a JWKS URL configured, requests must carry an
 * RS256 bearer token whose subject is the numeric user id. Without one, the service
 * sits behind the API gateway and trusts the `X-User-Id` / `X-User-Role` headers the
 * gateway injects.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and signature checks.
 * - internal/app: Scan rate limiter contract.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urbantransit/ticket-service/internal/app"
)

// Roles recognized by the role gate.
const (
	RolePassenger  = "PASSENGER"
	RoleController = "CONTROLLER"
	RoleAdmin      = "ADMIN"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"
	deviceIDHeader = "X-Device-Id"
	jwksCacheTTL   = 10 * time.Minute
)

// CallerContextKey is a custom type for the context key to avoid collisions.
type CallerContextKey string

const callerKey CallerContextKey = "caller"

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID int64
	Role   string
}

// HasRole reports whether the caller holds one of roles. ADMIN passes every gate.
func (c Caller) HasRole(roles ...string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// GetCaller retrieves the authenticated caller from the request context.
func GetCaller(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

// WithCaller stores a caller in ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// AuthConfig selects how callers are authenticated.
type AuthConfig struct {
	JWKSURL  string
	Audience string
	Issuer   string
}

func normalizeRole(raw string) string {
	role := strings.ToUpper(strings.TrimSpace(raw))
	role = strings.TrimPrefix(role, "ROLE_")
	if role == "" {
		return RolePassenger
	}
	return role
}

func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// GatewayAuthMiddleware authenticates the caller and stores it in the request context.
func GatewayAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return headerAuth
	}
	keys := newJWKSCache(cfg.JWKSURL, jwksCacheTTL)
	return func(next http.Handler) http.Handler {
		return jwtAuth(cfg, keys, next)
	}
}

func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseUserID(r.Header.Get(userIDHeader))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing or invalid X-User-Id header")
			return
		}
		caller := Caller{UserID: userID, Role: normalizeRole(r.Header.Get(userRoleHeader))}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func jwtAuth(cfg AuthConfig, keys *jwksCache, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
			return
		}

		var parserOpts []jwt.ParserOption
		if cfg.Audience != "" {
			parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
		}
		if cfg.Issuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			kid, ok := token.Header["kid"].(string)
			if !ok {
				return nil, fmt.Errorf("kid not found in token header")
			}
			return keys.key(r.Context(), kid)
		}, parserOpts...)
		if err != nil || !token.Valid {
			log.Printf("level=warn component=api msg=\"jwt rejected\" err=%v", err)
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}
		subject, _ := claims.GetSubject()
		if subject == "" {
			if raw, ok := claims["userId"]; ok {
				subject = fmt.Sprint(raw)
			}
		}
		userID, ok := parseUserID(subject)
		if !ok {
			writeError(w, http.StatusUnauthorized, "User ID not found in token")
			return
		}
		role, _ := claims["role"].(string)

		caller := Caller{UserID: userID, Role: normalizeRole(role)}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireRole rejects callers that hold none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetCaller(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !caller.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ScanRateLimitMiddleware caps scans per device per minute. Limiter errors let the
// scan through.
func ScanRateLimitMiddleware(limiter app.ScanRateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := scanSubject(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), "qr_scan", subject, perMinute, time.Minute)
			if err != nil {
				log.Printf("level=warn component=api msg=\"scan rate limiter unavailable; allowing\" subject=%s err=%v", subject, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > perMinute {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many scans. Please slow down.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scanSubject(r *http.Request) string {
	if device := strings.TrimSpace(r.Header.Get(deviceIDHeader)); device != "" {
		return "device:" + device
	}
	if caller, ok := GetCaller(r.Context()); ok {
		return "user:" + strconv.FormatInt(caller.UserID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// jwksCache holds the signing keys published at a JWKS URL and refreshes them
// when they go stale or an unknown kid shows up.
type jwksCache struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		url:        strings.TrimSpace(url),
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
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
		if k.Kty != "" && k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Printf("level=warn component=api msg=\"skipping unreadable jwks key\" kid=%s err=%v", k.Kid, err)
			continue
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses an RSA public key from base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("invalid modulus or exponent length")
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
