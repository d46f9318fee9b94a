package api

import (
	"context"
	"net/http"
	"time"

	"zerobin/cfg"
	"zerobin/svc/db"
	"zerobin/svc/lim"
	"zerobin/svc/svc"
	"zerobin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	r.Use(mw.CORS)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		s := &Server{db: sqlDB, rdb: rdb, cfg: c, paste: p}
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", util.RedactURL(req.URL.String())).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(middleware.CleanPath)
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.AnomalyDetection)
		hdl := &Hdl{paste: p, cfg: c}
		r.With(mw.RateLimit("create")).Post("/", hdl.Post)
		r.With(mw.RateLimit("delete")).Get("/delete/{id}/{token}", hdl.DeletePaste)
		r.With(mw.RateLimit("read")).Get("/{id}", hdl.GetPaste)
	})
	s := &Server{
		router: r,
		paste:  p,
		lim:    l,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
