package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	adapter "github.com/gwatts/gin-adapter"
)

// UserIDKey is where authentication middlewares store the rider ID.
const UserIDKey = "user_id"

// Auth validates RS256 bearer tokens issued by domain for audience and makes
// the token subject available through GetUserID. The wrapped handler runs the
// rest of the chain itself, with the validated claims on the request context.
func Auth(domain, audience string) (gin.HandlerFunc, error) {
	issuer, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("parse issuer: %w", err)
	}
	provider := jwks.NewCachingProvider(issuer, 5*time.Minute)

	v, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuer.String(),
		[]string{audience},
		validator.WithAllowedClockSkew(time.Minute),
		validator.WithCustomClaims(func() validator.CustomClaims { return &Claims{} }),
	)
	if err != nil {
		return nil, fmt.Errorf("jwt validator: %w", err)
	}

	mw := jwtmiddleware.New(v.ValidateToken, jwtmiddleware.WithErrorHandler(unauthorized))
	return adapter.Wrap(mw.CheckJWT), nil
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	slog.DebugContext(r.Context(), "rejected token", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"code": "UNAUTHORIZED", "message": "Authentication required"})
}

// AdminPermission is the token permission that grants the fleet operations.
const AdminPermission = "admin"

// Claims are the token claims read beyond the registered ones.
type Claims struct {
	Permissions []string `json:"permissions"`
}

func (c *Claims) Validate(ctx context.Context) error { return nil }

func permitted(ctx context.Context, perm string) bool {
	claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok {
		return false
	}
	custom, ok := claims.CustomClaims.(*Claims)
	return ok && slices.Contains(custom.Permissions, perm)
}

func subject(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok || claims.RegisteredClaims.Subject == "" {
		return "", false
	}
	return claims.RegisteredClaims.Subject, true
}

// TrustedHeader takes the rider ID from a request header set by an upstream
// that has already authenticated the caller.
func TrustedHeader(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(name); id != "" {
			c.Set(UserIDKey, id)
		}
		c.Next()
	}
}

// GetUserID returns the authenticated rider.
func GetUserID(c *gin.Context) (string, bool) {
	if id := c.GetString(UserIDKey); id != "" {
		return id, true
	}
	return subject(c.Request.Context())
}

// RequireUser rejects requests that reach it without an authenticated rider.
// The rider is pinned under UserIDKey so that outer middleware still sees it
// once the request context has been unwound.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}

// RequireAdmin lets through riders listed in ids and tokens carrying
// AdminPermission. Everyone else gets 403. It must run after RequireUser.
func RequireAdmin(ids ...string) gin.HandlerFunc {
	admins := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		admins[id] = struct{}{}
	}
	return func(c *gin.Context) {
		id, _ := GetUserID(c)
		if _, ok := admins[id]; ok || permitted(c.Request.Context(), AdminPermission) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "Admin access required"})
	}
}
