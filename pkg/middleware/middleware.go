// Package middleware provides the gin middleware used by the exthub
// server: request logging, CORS/preflight handling, and the two auth
// gates.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/auth"
)

// RequestLogger returns a gin middleware that logs each request with a
// generated request id. The id is echoed back in the X-Request-ID
// header so clients can correlate.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		c.Next()

		logger.Info("Request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Preflight injects permissive CORS headers on every response and
// answers OPTIONS with an empty 204 before any auth gate runs.
// Preflight requests carry no credentials and must not be rejected;
// the unconditional headers also cover non-browser clients that omit
// an Origin header. Runs before the cors middleware, which refines the
// headers for Origin-bearing requests.
func Preflight() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SessionAuth returns a middleware enforcing the Basic-auth session
// gate for general-surface routes. Failures get a 401 with a realm
// challenge.
func SessionAuth(store *auth.Store, realm string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !RequireSession(c, store, realm, logger) {
			return
		}
		c.Next()
	}
}

// RequireSession runs the session gate against the current request,
// writing the 401 challenge itself on failure. It reports whether the
// request may proceed.
func RequireSession(c *gin.Context, store *auth.Store, realm string, logger *zap.Logger) bool {
	if !store.CheckSession(c.Request) {
		logger.Debug("Session auth rejected",
			zap.String("path", c.Request.URL.Path))
		c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}
	return true
}

// TokenAuth returns a middleware enforcing the bearer-token gate for
// /api routes. The 401 message deliberately does not distinguish a
// wrong token from a missing one.
func TokenAuth(store *auth.Store, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !RequireToken(c, store, logger) {
			return
		}
		c.Next()
	}
}

// RequireToken runs the token gate against the current request,
// writing the failure response itself. It reports whether the request
// may proceed. The dispatcher uses it directly for dynamically mounted
// routes, where the gate decision depends on the matched mount.
func RequireToken(c *gin.Context, store *auth.Store, logger *zap.Logger) bool {
	switch store.CheckToken(c.Request) {
	case auth.TokenAllowed:
		return true
	case auth.TokenReadOnly:
		logger.Debug("Read-only token used with write method",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token is read-only"})
		return false
	default:
		logger.Debug("Token auth rejected",
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing token"})
		return false
	}
}
