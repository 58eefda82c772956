package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/store"
	"github.com/appfort/warden/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the supervisor API.
// Endpoints under basePath:
//   POST   {basePath}/processes            body: {"id":..., "entry_file":...}
//   GET    {basePath}/processes            all records
//   GET    {basePath}/processes/:id        one record
//   POST   {basePath}/processes/:id/start  -> {"ok":true,"changed":bool}
//   POST   {basePath}/processes/:id/stop   -> {"ok":true,"changed":bool}
//   DELETE {basePath}/processes/:id
//   GET    {basePath}/processes/:id/logs   query: limit=N (0 = all retained)
//   DELETE {basePath}/processes/:id/logs
//   GET    {basePath}/status               counts per status plus live handles
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup         *supervisor.Supervisor
	basePath    string
	metricsPath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath "/api" results in /api/processes, /api/status.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// ServeMetrics additionally mounts the prometheus handler at path, outside
// basePath.
func (r *Router) ServeMetrics(path string) {
	r.metricsPath = sanitizeBase(path)
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	api := g.Group(r.basePath)
	api.GET("/status", r.handleStatus)
	api.POST("/processes", r.handleCreate)
	api.GET("/processes", r.handleList)
	api.GET("/processes/:id", r.handleGet)
	api.POST("/processes/:id/start", r.handleStart)
	api.POST("/processes/:id/stop", r.handleStop)
	api.DELETE("/processes/:id", r.handleDelete)
	api.GET("/processes/:id/logs", r.handleLogs)
	api.DELETE("/processes/:id/logs", r.handleClearLogs)
	if r.metricsPath != "" {
		g.GET(r.metricsPath, gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts an HTTP server on addr using this router. With a non-nil
// tlsConf the server speaks HTTPS. The caller owns shutdown via the returned
// http.Server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, tlsConf *tls.Config) *http.Server {
	r := NewRouter(sup, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsConf != nil {
			_ = srv.ListenAndServeTLS("", "")
		} else {
			_ = srv.ListenAndServe()
		}
	}()
	return srv
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type actionResp struct {
	OK bool `json:"ok"`
	// Changed reports whether the call did anything: start of an already
	// running process and stop of an already stopped one are fine but false.
	Changed bool `json:"changed"`
}

type statusResp struct {
	Total    int            `json:"total"`
	Live     int            `json:"live"`
	Statuses map[string]int `json:"statuses"`
}

type createReq struct {
	ID        string `json:"id"`
	EntryFile string `json:"entry_file"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeEntryPath(req.EntryFile) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid entry_file: must be a relative path inside the process directory"})
		return
	}
	rec, err := r.sup.Create(c.Request.Context(), req.ID, req.EntryFile)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleList(c *gin.Context) {
	recs, err := r.sup.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleGet(c *gin.Context) {
	rec, err := r.sup.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleStart(c *gin.Context) {
	started, err := r.sup.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{OK: true, Changed: started})
}

func (r *Router) handleStop(c *gin.Context) {
	stopped, err := r.sup.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{OK: true, Changed: stopped})
}

func (r *Router) handleDelete(c *gin.Context) {
	if _, err := r.sup.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := r.sup.Logs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleClearLogs(c *gin.Context) {
	if err := r.sup.ClearLogs(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	recs, err := r.sup.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	counts := make(map[string]int)
	for _, rec := range recs {
		counts[string(rec.Status)]++
	}
	writeJSON(c, http.StatusOK, statusResp{
		Total:    len(recs),
		Live:     r.sup.LiveCount(),
		Statuses: counts,
	})
}

// writeError maps supervisor errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, supervisor.ErrShuttingDown):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}
