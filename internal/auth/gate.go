// Package auth resolves API keys to tenant identities.
package auth

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/zeebo/blake3"
)

// tenantHashKey is the echo context key holding the resolved tenant hash.
const tenantHashKey = "tenant_hash"

// TenantHash derives the one-way ownership digest for a raw API key. The
// plaintext key is never persisted or logged; every ownership check in the
// store compares this digest.
func TenantHash(rawKey string) string {
	sum := blake3.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Middleware authenticates requests via X-API-Key or Authorization: Bearer
// and stashes the tenant hash on the context. Requests without a key get 401.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := extractKey(c.Request())
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing API key",
					"code":  "UNAUTHORIZED",
				})
			}
			c.Set(tenantHashKey, TenantHash(key))
			return next(c)
		}
	}
}

// FromContext returns the tenant hash set by Middleware.
func FromContext(c echo.Context) string {
	hash, _ := c.Get(tenantHashKey).(string)
	return hash
}

// SetTenantHash stashes a tenant hash on the context, for tests.
func SetTenantHash(c echo.Context, hash string) {
	c.Set(tenantHashKey, hash)
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
