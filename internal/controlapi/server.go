// Package controlapi exposes the worker's lifecycle to a local UI over a
// loopback-only HTTP surface: login, start/pause/stop, status, and the
// local job-outcome history.
package controlapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aschie4589/quantumhive-worker/internal/audit"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/controller"
	"github.com/aschie4589/quantumhive-worker/internal/history"
)

// Server is the local control surface the out-of-scope UI drives.
type Server struct {
	ctrl    *controller.Controller
	cfg     config.Config
	audit   *audit.Logger
	history *history.Ledger
	router  *chi.Mux
}

// New builds a Server wired to the given Controller and history ledger.
func New(ctrl *controller.Controller, cfg config.Config, auditLogger *audit.Logger, ledger *history.Ledger) *Server {
	s := &Server{ctrl: ctrl, cfg: cfg, audit: auditLogger, history: ledger, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// Start binds the control server to 127.0.0.1:port in the background.
func (s *Server) Start(port int) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	go func() {
		conn, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		_ = http.Serve(conn, s.router)
	}()
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	s.router.Post("/v1/login", s.handleLogin)
	s.router.Post("/v1/start", s.handleStart)
	s.router.Post("/v1/pause", s.handlePause)
	s.router.Post("/v1/stop", s.handleStop)
	s.router.Get("/v1/status", s.handleStatus)
	s.router.Get("/v1/history", s.handleHistory)
	s.router.Get("/v1/stats", s.handleStats)
	s.router.Get("/v1/audit", s.handleAudit)
}

// securityMiddleware enforces loopback-only access and a shared-secret
// bearer token, logging every attempt (allowed or not) to the audit log.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusForbidden, "non-loopback access denied")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if s.cfg.ControlAPIToken != "" {
			token := r.Header.Get("X-QuantumHive-Token")
			if token != s.cfg.ControlAPIToken {
				s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusUnauthorized, "invalid token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Login(r.Context(), req.Username, req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Start()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Pause()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.ctrl.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.Recent(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	json.NewEncoder(w).Encode(records)
}

type statsResponse struct {
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	TotalBytes int64 `json:"total_bytes_sent"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats statsResponse
	var err error
	if stats.Completed, err = s.history.CountByOutcome(history.OutcomeCompleted); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats.Failed, err = s.history.CountByOutcome(history.OutcomeFailed); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats.Cancelled, err = s.history.CountByOutcome(history.OutcomeCancelled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats.TotalBytes, err = s.history.TotalBytes(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries := s.audit.Recent(50)
	if entries == nil {
		entries = []audit.Entry{}
	}
	json.NewEncoder(w).Encode(entries)
}
