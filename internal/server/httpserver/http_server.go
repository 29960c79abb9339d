// Package httpserver wires the prefsd HTTP API onto a chi router and manages the listener.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/prefsd/internal/config"
	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	derrors "git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/server/handlers"
	smw "git.home.luguber.info/inful/prefsd/internal/server/middleware"
)

// Services are the runtime components exposed over HTTP. Restore, StorageMode, Erase and
// History may be nil; their routes are then not mounted.
type Services struct {
	Preferences handlers.PreferenceService
	Current     handlers.CurrentValues
	Restore     handlers.RestoreService
	StorageMode handlers.StorageModeService
	Erase       handlers.EraseService
	History     handlers.HistoryReader
	Health      handlers.HealthReporter
	Bus         *events.Bus
	// Metrics serves the Prometheus exposition; nil disables the endpoint.
	Metrics     http.Handler
	MetricsPath string
}

// Server manages the API listener.
type Server struct {
	cfg          config.ServiceConfig
	router       chi.Router
	httpServer   *http.Server
	listener     net.Listener
	errorAdapter *derrors.HTTPErrorAdapter
}

// New constructs the router for svc.
func New(cfg config.ServiceConfig, svc Services) *Server {
	s := &Server{
		cfg:          cfg,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
	s.router = s.routes(svc)
	return s
}

func (s *Server) routes(svc Services) chi.Router {
	r := chi.NewRouter()
	r.Use(smw.CapturePeer)
	r.Use(chimw.RealIP)
	r.Use(smw.Chain(slog.Default(), s.errorAdapter))

	if svc.Health != nil {
		r.Get("/healthz", handlers.NewMonitoringHandlers(svc.Health).HandleHealth)
	}
	if svc.Metrics != nil {
		path := svc.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, svc.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		prefsH := handlers.NewPreferenceHandlers(svc.Preferences, s.errorAdapter)
		r.Post("/preferences", prefsH.HandleSet)
		r.Get("/preferences", prefsH.HandleGetMany)
		r.Get("/preferences/{key}", prefsH.HandleGet)

		if svc.Restore != nil {
			restoreH := handlers.NewRestoreHandlers(svc.Restore, s.errorAdapter)
			r.Post("/restore/{key}", restoreH.HandleRestore)
			r.Get("/consistency", restoreH.HandleConsistency)
			r.Post("/consistency/sweep", restoreH.HandleSweep)
		}
		if svc.StorageMode != nil {
			modeH := handlers.NewStorageModeHandlers(svc.StorageMode, s.errorAdapter)
			r.Get("/storage-mode", modeH.HandleStatus)
			r.Post("/storage-mode/events/{kind}", modeH.HandleEvent)
		}
		if svc.Erase != nil {
			r.Post("/erase/{type}", handlers.NewEraseHandlers(svc.Erase, s.errorAdapter).HandleErase)
		}
		if svc.History != nil {
			historyH := handlers.NewHistoryHandlers(svc.History, s.errorAdapter)
			r.Get("/history", historyH.HandleRange)
			r.Get("/history/{subject}", historyH.HandleSubject)
		}
		if svc.Bus != nil {
			r.Get("/subscribe", handlers.NewSubscribeHandler(svc.Bus, svc.Current).HandleSubscribe)
		}
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, req,
			derrors.ValidationError("no such endpoint").WithContext("path", req.URL.Path).Build())
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Binding happens before
// Start returns so an address conflict fails startup.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryRuntime, "http startup failed").
			WithContext("listen", s.cfg.Listen).Build()
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", logfields.Error(err))
		}
	}()
	slog.Info("HTTP server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
