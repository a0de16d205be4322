package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/supervisor"
)

// Router exposes the daemon's HTTP surface.
// Endpoints:
//
//	GET  {basePath}/status            all services; ?name= selects one
//	POST {basePath}/reset             zero all service states; ?name= one
//	GET  {basePath}/history           recent restart events; ?service=&limit=
//	GET  {basePath}/healthz           daemon liveness
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	hist     history.Sink // may be nil
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, hist history.Sink, basePath string) *Router {
	return &Router{sup: sup, hist: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/reset", r.handleReset)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, hist history.Sink) *http.Server {
	r := NewRouter(sup, hist, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.sup.Snapshot()
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusOK, snap)
		return
	}
	for _, svc := range snap.Services {
		if svc.Name == name {
			c.JSON(http.StatusOK, svc)
			return
		}
	}
	c.JSON(http.StatusNotFound, errorResp{Error: "unknown service: " + name})
}

func (r *Router) handleReset(c *gin.Context) {
	name := c.Query("name")
	if !r.sup.ResetService(name) {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "history sink not configured"})
		return
	}
	limit := 50
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), c.Query("service"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
