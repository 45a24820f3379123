package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"el133/internal/battery"
	"el133/internal/config"
	"el133/internal/convert"
	"el133/internal/frame"
	appLog "el133/internal/log"
	"el133/internal/panel"
	"el133/internal/syncutil"
)

// maxUploadBytes bounds POST /api/display bodies.
const maxUploadBytes = 32 << 20

// SourceLoader produces a frame from the configured source for
// POST /api/refresh.
type SourceLoader func(ctx context.Context) (*frame.Buffer, string, error)

// Server exposes the panel over HTTP. Every request that touches the
// hardware goes through panel.Panel, which serializes them; a second display
// request waits for the refresh in progress.
type Server struct {
	cfg   *config.Config
	panel *panel.Panel
	load  SourceLoader
	mux   *http.ServeMux

	battery      battery.Reader
	batteryMu    syncutil.RWMutex
	batteryCache *batteryCache
}

// NewServer constructs a new Server. load may be nil, in which case
// /api/refresh answers 404; bat may be nil, which disables /api/battery.
func NewServer(cfg *config.Config, p *panel.Panel, load SourceLoader, bat battery.Reader) *Server {
	s := &Server{
		cfg:     cfg,
		panel:   p,
		load:    load,
		mux:     http.NewServeMux(),
		battery: bat,
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
			w.Header().Set("WWW-Authenticate", `Basic realm="el133", charset="UTF-8"`)
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

// NewHTTPServer returns an http.Server for s bound to cfg.Listen. There is
// no write timeout: a display request lasts as long as the panel refresh.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/display", s.handleDisplay)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Status())
}

// handleDisplay accepts any image body imaging can decode. Images that are
// not 1600x1200 need ?fit=1. Sizes are checked from the image header before
// the pixels are decoded.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	fit := parseBool(r.URL.Query().Get("fit"))

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	f, err := convert.DecodeFrame(body, fit)
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig), errors.Is(err, convert.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, convert.ErrWrongSize):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	appLog.Info("api display request", "fit", fit, "remote", r.RemoteAddr)
	s.commit(w, func() error { return s.panel.Display(f, "upload") })
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	appLog.Info("api clear request", "remote", r.RemoteAddr)
	s.commit(w, s.panel.Clear)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.load == nil {
		writeError(w, http.StatusNotFound, "no frame source configured")
		return
	}
	f, label, err := s.load(r.Context())
	if err != nil {
		if errors.Is(err, panel.ErrNoSource) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		appLog.Error("api refresh: load source failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.commit(w, func() error { return s.panel.Display(f, label) })
}

// commit runs show and answers with the resulting status. The refresh runs
// to completion even if the client goes away.
func (s *Server) commit(w http.ResponseWriter, show func() error) {
	if err := show(); err != nil {
		if errors.Is(err, panel.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Error:  err.Error(),
			Status: s.panel.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: s.panel.Status()})
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	png := s.panel.Preview()
	if png == nil {
		writeError(w, http.StatusNotFound, "nothing displayed yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// batteryCacheTTL keeps the I2C bus quiet when the status page polls.
const batteryCacheTTL = 30 * time.Second

type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusNotFound, "battery reader not configured")
		return
	}

	now := time.Now()
	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

type statusResponse struct {
	Error  string       `json:"error,omitempty"`
	Status panel.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to encode JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
