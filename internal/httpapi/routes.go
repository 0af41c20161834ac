package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/hub"
	"github.com/d-j7code/GOOGLY/internal/ws"
)

type Options struct {
	// AllowedOrigins are host patterns such as "localhost:*" or "*".
	AllowedOrigins []string
	PingInterval   time.Duration
	Logger         *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(opts.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	r.Use(c.Handler)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h, opts.Logger))
	r.Get("/rooms/{code}", GetRoom(h, opts.Logger))
	r.Get("/ws", ws.Handler(h, ws.Options{
		OriginPatterns: opts.AllowedOrigins,
		PingInterval:   opts.PingInterval,
		Logger:         opts.Logger,
	}))
	return r
}

// corsOrigins turns websocket host patterns into origins for CORS.
func corsOrigins(patterns []string) []string {
	var origins []string
	for _, p := range patterns {
		if p == "*" || strings.Contains(p, "://") {
			origins = append(origins, p)
			continue
		}
		origins = append(origins, "http://"+p, "https://"+p)
	}
	return origins
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
