package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// LogFeed upgrades a request into a live log subscription
type LogFeed interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Router wires the handlers to their routes
type Router struct {
	handler *Handler
	feed    LogFeed
	static  http.Handler
	cfg     config.ServerConfig
	logger  *logger.Logger
}

// NewRouter creates the router. feed and the static directory are optional.
func NewRouter(handler *Handler, feed LogFeed, cfg config.ServerConfig, log *logger.Logger) *Router {
	r := &Router{
		handler: handler,
		feed:    feed,
		cfg:     cfg,
		logger:  log.Named("router"),
	}
	if cfg.StaticFilesDir != "" {
		r.static = NewStaticFileHandler(cfg.StaticFilesDir, log)
	}
	return r
}

// Routes builds the chi mux
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rt.requestLogger)
	r.Use(rt.cors)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", rt.handler.Analyze)
		r.Get("/system-status", rt.handler.GetSystemStatus)
		r.Post("/calculate-manual", rt.handler.CalculateManual)
		r.Get("/kiosk/peek/{icao}", rt.handler.KioskPeek)
		r.Get("/health", rt.handler.GetHealth)
		if rt.feed != nil {
			r.Get("/ws/logs", rt.feed.HandleConnection)
			r.Get("/ws/status", rt.feedStatus)
		}
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not Found"})
		})
	})

	if rt.static != nil {
		r.Handle("/*", rt.static)
	}
	return r
}

// feedStatus handles GET /api/ws/status
func (rt *Router) feedStatus(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"subscribers": rt.feed.ClientCount()})
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			return
		}
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (rt *Router) cors(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(rt.cfg.CORSAllowedOrigins))
	for _, o := range rt.cfg.CORSAllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Client-ID, X-Kiosk-Key")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
