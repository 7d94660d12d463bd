package volume_server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
)

type ServerOption func(*HTTPServer)

func WithJournal(j *binlog.Journal) ServerOption {
	return func(h *HTTPServer) {
		h.handler.journal = j
	}
}

func WithIndex(i IndexLister) ServerOption {
	return func(h *HTTPServer) {
		h.handler.index = i
	}
}

func WithLedger(l LedgerLister) ServerOption {
	return func(h *HTTPServer) {
		h.handler.ledger = l
	}
}

// WithMetrics records per-request metrics and serves /metrics from the
// default gatherer.
func WithMetrics(m RequestRecorder) ServerOption {
	return func(h *HTTPServer) {
		h.handler.metrics = m
	}
}

type HTTPServer struct {
	volumeHTTPaddr string
	engine         *gin.Engine
	handler        *VolumeHandler
	srv            *http.Server
}

func NewHTTPServer(v string, s StorageEngine, opts ...ServerOption) (*HTTPServer, error) {
	engine := gin.New()

	h := &HTTPServer{
		volumeHTTPaddr: v,
		engine:         engine,
		handler:        NewVolumeHandler(s),
	}
	for _, opt := range opts {
		opt(h)
	}

	engine.Use(RequestLogger(h.handler.metrics), gin.Recovery())
	h.registerRoutes()

	return h, nil
}

func (h *HTTPServer) registerRoutes() {
	v1 := h.engine.Group("/v1")

	volume := v1.Group("/volume")

	volume.POST("/write", h.handler.Write)
	volume.GET("/read/*reference", h.handler.Read)
	volume.DELETE("/delete/*reference", h.handler.Delete)
	volume.HEAD("/stat/*reference", h.handler.Stat)
	volume.GET("/stats", h.handler.Stats)
	volume.GET("/journal", h.handler.Journal)
	volume.GET("/ledger", h.handler.Ledger)
	volume.GET("/index", h.handler.Index)

	// Single-endpoint form kept for clients of the older API.
	h.engine.POST("/file", h.handler.Write)
	h.engine.GET("/file", h.handler.ReadByName)

	if h.handler.metrics != nil {
		h.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.engine
}

func (h *HTTPServer) Run() error {
	h.srv = &http.Server{
		Addr:    h.volumeHTTPaddr,
		Handler: h.engine,
	}
	return h.srv.ListenAndServe()
}

func (h *HTTPServer) Shutdown(ctx context.Context) error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}

// RequestLogger logs each request through zerolog and, when m is set,
// records it as a metric labelled by route.
func RequestLogger(m RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.RecordRequest(route, strconv.Itoa(status), latency.Seconds())
		}

		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client", c.ClientIP()).
			Msg("http request")
	}
}
