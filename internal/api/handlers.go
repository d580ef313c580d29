// Package api implements the built-in HTTP handlers of the exthub
// server: the dashboard, the mount introspection endpoint, the /api
// namespace index, and the health endpoint.
package api

import (
	_ "embed"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/auth"
	"github.com/exthublabs/exthub/internal/mount"
)

//go:embed dashboard.html
var defaultDashboard string

// APINamespace is the reserved path subtree gated by token auth
const APINamespace = "/api"

// IndexResponse is the /api namespace index payload
type IndexResponse struct {
	Mounts        []mount.Info `json:"mounts"`
	TokenAuth     bool         `json:"tokenAuth"`
	ReadTokenAuth bool         `json:"readTokenAuth"`
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Mounts  int    `json:"mounts"`
}

// Handlers aggregates the built-in HTTP handlers
type Handlers struct {
	registry  *mount.Registry
	auth      *auth.Store
	logger    *zap.Logger
	dashboard atomic.Value // string
}

// NewHandlers creates a new Handlers instance serving the default
// embedded dashboard until SetDashboard replaces it
func NewHandlers(registry *mount.Registry, store *auth.Store, logger *zap.Logger) *Handlers {
	h := &Handlers{
		registry: registry,
		auth:     store,
		logger:   logger.Named("handlers"),
	}
	h.dashboard.Store(defaultDashboard)
	return h
}

// SetDashboard replaces the dashboard document. The content is opaque
// to the server; collaborators supply their own page.
func (h *Handlers) SetDashboard(html string) {
	h.dashboard.Store(html)
}

// Dashboard serves the dashboard document at the site root
func (h *Handlers) Dashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.dashboard.Load().(string)))
}

// Mounts serves the full mount metadata list at the introspection path
func (h *Handlers) Mounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// APIIndex serves the /api namespace index: the mounts living under
// the namespace plus which token tiers are enabled
func (h *Handlers) APIIndex(c *gin.Context) {
	mounts := make([]mount.Info, 0)
	for _, info := range h.registry.List() {
		if info.Prefix == APINamespace || strings.HasPrefix(info.Prefix, APINamespace+"/") {
			mounts = append(mounts, info)
		}
	}
	c.JSON(http.StatusOK, IndexResponse{
		Mounts:        mounts,
		TokenAuth:     h.auth.TokenEnabled(),
		ReadTokenAuth: h.auth.ReadTokenEnabled(),
	})
}

// Health serves the /health endpoint
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "exthub",
		Mounts:  h.registry.Len(),
	})
}

// NotFound writes the uniform 404 body
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}
