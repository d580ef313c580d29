package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/api"
	"github.com/exthublabs/exthub/pkg/middleware"
)

// buildEngine assembles the gin engine: recovery, request logging,
// preflight/CORS, the fixed built-in routes, and the NoRoute fallback
// that dispatches to dynamically mounted extension handlers.
func (s *Server) buildEngine() *gin.Engine {
	if s.cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// /api and /api/ are both served directly; everything else falls
	// through to dispatch, which resolves trailing slashes itself
	engine.RedirectTrailingSlash = false

	engine.Use(gin.CustomRecovery(s.handlerFailure))
	engine.Use(middleware.RequestLogger(s.logger))
	engine.Use(middleware.Preflight())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowedOrigins,
		AllowMethods: s.cfg.CORS.AllowedMethods,
		AllowHeaders: s.cfg.CORS.AllowedHeaders,
		MaxAge:       time.Duration(s.cfg.CORS.MaxAge) * time.Second,
	}))

	sessionGate := middleware.SessionAuth(s.auth, s.cfg.Auth.Realm, s.logger)
	tokenGate := middleware.TokenAuth(s.auth, s.logger)

	engine.GET("/", sessionGate, s.handlers.Dashboard)
	engine.GET("/_api/mounts", sessionGate, s.handlers.Mounts)
	engine.GET("/health", sessionGate, s.handlers.Health)
	engine.GET(api.APINamespace, tokenGate, s.handlers.APIIndex)
	engine.GET(api.APINamespace+"/", tokenGate, s.handlers.APIIndex)

	engine.NoRoute(s.dispatch)

	return engine
}

// dispatch resolves a request that matched no fixed route: classify
// the namespace, apply the applicable auth gate, then hand off to the
// longest-prefix mount or emit the 404.
func (s *Server) dispatch(c *gin.Context) {
	path := c.Request.URL.Path

	if isAPIPath(path) {
		if m, subPath, ok := s.registry.Match(path); ok {
			if !m.SkipAuth && !middleware.RequireToken(c, s.auth, s.logger) {
				return
			}
			m.Handler.ServeMount(c, subPath)
			return
		}
		// Unmatched API paths stay gated so that probing for mount
		// existence requires a valid token
		if !middleware.RequireToken(c, s.auth, s.logger) {
			return
		}
		api.NotFound(c)
		return
	}

	if !middleware.RequireSession(c, s.auth, s.cfg.Auth.Realm, s.logger) {
		return
	}
	if m, subPath, ok := s.registry.Match(path); ok {
		m.Handler.ServeMount(c, subPath)
		return
	}
	api.NotFound(c)
}

func isAPIPath(path string) bool {
	return path == api.APINamespace || strings.HasPrefix(path, api.APINamespace+"/")
}

// handlerFailure converts a panicking mount handler into a 500, but
// only if no response bytes have been sent yet; a partially written
// response is left as-is.
func (s *Server) handlerFailure(c *gin.Context, recovered any) {
	s.logger.Error("Handler failure",
		zap.Any("error", recovered),
		zap.String("path", c.Request.URL.Path))
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%v", recovered)})
}
