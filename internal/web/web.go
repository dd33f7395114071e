package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"epd7in5bc/internal/config"
	"epd7in5bc/internal/epd"
	appLog "epd7in5bc/internal/log"
	"epd7in5bc/internal/panel"
)

// Panel is the subset of panel.Controller the HTTP API drives.
type Panel interface {
	Clear(ctx context.Context) error
	ShowPattern(ctx context.Context) error
	Refresh(ctx context.Context) error
	Sleep(ctx context.Context) error
	Status() panel.Status
}

// Server provides the HTTP control API for the panel.
type Server struct {
	cfg   *config.Config
	panel Panel
	mux   *http.ServeMux

	// actionTimeout bounds a single panel action started over HTTP. A full
	// refresh takes tens of seconds on the tri-color panel.
	actionTimeout time.Duration
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p Panel) *Server {
	s := &Server{
		cfg:           cfg,
		panel:         p,
		mux:           http.NewServeMux(),
		actionTimeout: 2 * time.Minute,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epd7in5bc", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then shuts
// down gracefully. It returns nil after a clean shutdown.
func StartServer(ctx context.Context, cfg *config.Config, p Panel) error {
	s := NewServer(cfg, p)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/clear", s.action("clear", s.panel.Clear))
	s.mux.HandleFunc("POST /api/pattern", s.action("pattern", s.panel.ShowPattern))
	s.mux.HandleFunc("POST /api/refresh", s.action("refresh", s.panel.Refresh))
	s.mux.HandleFunc("POST /api/sleep", s.action("sleep", s.panel.Sleep))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Status())
}

// action wraps a blocking panel call. The call runs under the request
// context plus actionTimeout, so a client that disconnects cancels a busy-wait.
func (s *Server) action(name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.actionTimeout)
		defer cancel()

		start := time.Now()
		appLog.Info("api action", "action", name, "remote", r.RemoteAddr)
		if err := fn(ctx); err != nil {
			appLog.Error("api action failed", err, "action", name)
			writeError(w, statusFor(err), err.Error())
			return
		}
		appLog.Debug("api action done", "action", name, "elapsed", time.Since(start))
		writeJSON(w, http.StatusOK, s.panel.Status())
	}
}

// statusFor maps driver errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, epd.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, epd.ErrBusyTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
