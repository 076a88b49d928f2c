package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xjhc/alignment/internal/archive"
	"github.com/xjhc/alignment/internal/hub"
	"github.com/xjhc/alignment/internal/ws"
)

type Deps struct {
	Hub     *hub.Hub
	Archive archive.Archiver
	WS      ws.Options
	Logger  *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Archive == nil {
		d.Archive = archive.Nop{}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/health", Health)
	r.Get("/ws", ws.Handler(d.Hub, d.WS))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", GetStats(d.Hub))
		r.Route("/games", func(r chi.Router) {
			r.Post("/", CreateGame(d.Hub))
			r.Get("/", ListGames(d.Hub))
			r.Get("/history", GameHistory(d.Archive))
			r.Post("/{gameId}/join", JoinGame(d.Hub))
		})
	})
	return r
}

// requestLogger logs one line per request once it has been served.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
