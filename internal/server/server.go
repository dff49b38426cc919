// Package server provides the HTTP API for the aiond supervisor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/config"
	"github.com/invisible-tech/aion/internal/kernel"
	"github.com/invisible-tech/aion/internal/persist"
	"github.com/invisible-tech/aion/internal/version"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"

	pulseBuffer     = 64
	pulseWriteWait  = 5 * time.Second
	maxCommandBytes = 64 << 10
)

// Kernel is the part of the scheduler the API needs.
type Kernel interface {
	Snapshot() *kernel.Snapshot
	Submit(ctx context.Context, req kernel.Request) (kernel.Response, error)
	Subscribe(buffer int) (<-chan bus.Pulse, func())
}

// Server is the HTTP server for the supervisor API.
type Server struct {
	cfg        config.ServerConfig
	kernel     Kernel
	log        *logrus.Logger
	httpServer *http.Server
	limiter    *limiter.TokenBucket
	cborMode   cbor.EncMode
	upgrader   websocket.Upgrader
}

// New creates a new HTTP server backed by k.
func New(cfg config.ServerConfig, k Kernel, log *logrus.Logger) (*Server, error) {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		kernel:   k,
		log:      log,
		cborMode: em,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if cfg.CommandRate > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		burst := cfg.CommandBurst
		if burst < cfg.CommandRate {
			burst = cfg.CommandRate
		}
		tb, err := limiter.NewTokenBucket(
			limiter.Config{
				Rate:     int64(cfg.CommandRate),
				Duration: window,
				Burst:    int64(burst),
			},
			store.NewMemoryStore(time.Minute),
		)
		if err != nil {
			return nil, err
		}
		s.limiter = tb
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/commands", s.handleCommands)
	mux.HandleFunc("/api/v1/pulses", s.handlePulses)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	body := map[string]string{"version": version.Version}
	if snap := s.kernel.Snapshot(); snap != nil {
		body["awareness"] = snap.AwarenessLabel
		body["policy"] = snap.Policy
		if snap.AwarenessLabel == "unconscious" {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	body["status"] = status
	writeJSON(w, code, body)
}

type score struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// handleStatus reports overall health and awareness only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.kernel.Snapshot()
	if snap == nil {
		http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]score{
		"health":    {Score: snap.OverallHealth, Label: snap.OverallLabel},
		"awareness": {Score: snap.Awareness, Label: snap.AwarenessLabel},
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := s.kernel.Snapshot()
	if snap == nil {
		http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTemplate.Execute(w, homeView{Version: version.Version, Snapshot: snap}); err != nil {
		s.log.WithError(err).Error("Failed to render status page")
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.kernel.Snapshot()
	if snap == nil {
		http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), contentTypeCBOR) {
		data, err := s.cborMode.Marshal(snap)
		if err != nil {
			s.log.WithError(err).Error("Failed to encode snapshot")
			http.Error(w, "Encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.kernel.Snapshot()
	if snap == nil {
		http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	alerts := snap.Alerts
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if n < len(alerts) {
			alerts = alerts[len(alerts)-n:]
		}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	client := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(client) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req kernel.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Source = "http"

	resp, err := s.kernel.Submit(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		s.log.WithError(err).WithFields(logrus.Fields{"op": req.Op, "client": client, "status": code}).Info("Command rejected")
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePulses streams surfaced pulses over a websocket until the client
// goes away.
func (s *Server) handlePulses(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	pulses, unsubscribe := s.kernel.Subscribe(pulseBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.WithField("client", clientIP(r)).Info("Pulse stream opened")
	for {
		select {
		case <-closed:
			s.log.WithField("client", clientIP(r)).Info("Pulse stream closed")
			return
		case <-r.Context().Done():
			return
		case p, ok := <-pulses:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(pulseWriteWait))
			if err := conn.WriteJSON(p); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.log.WithError(err).Warn("Pulse stream write failed")
				}
				return
			}
		}
	}
}

func statusFor(err error) int {
	var parseErr *persist.ParseError
	var writeErr *persist.WriteError
	switch {
	case errors.Is(err, kernel.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, kernel.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &writeErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
