// Package httpapi exposes the session controller over HTTP: the state
// snapshot, the UI commands, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/internal/session"
	"github.com/abeely/appcore/pkg/logger"
)

// Server serves the appcore HTTP API.
type Server struct {
	controller *session.Controller
	log        *logger.Logger
	router     *mux.Router
	http       *http.Server
}

// NewServer builds the API server around a started controller.
func NewServer(addr string, controller *session.Controller, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		controller: controller,
		log:        log,
		router:     mux.NewRouter(),
	}
	s.routes(gatherer)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.Use(s.requestID)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods(http.MethodGet)

	cmd := v1.PathPrefix("/commands").Subrouter()
	cmd.HandleFunc("/retry-connection", s.handleRetryConnection).Methods(http.MethodPost)
	cmd.HandleFunc("/enter-guest-mode", s.handleEnterGuestMode).Methods(http.MethodPost)
	cmd.HandleFunc("/request-auth-view", s.handleRequestAuthView).Methods(http.MethodPost)
	cmd.HandleFunc("/sign-out", s.handleSignOut).Methods(http.MethodPost)
	cmd.HandleFunc("/splash-finished", s.handleSplashFinished).Methods(http.MethodPost)
	cmd.HandleFunc("/complete-onboarding", s.handleCompleteOnboarding).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the listener fails or Shutdown
// is called.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.http.Addr).Info("http api listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestID stamps every response with an id so UI reports can be
// matched to server logs.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleRetryConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.RetryConnection(r.Context()))
}

func (s *Server) handleEnterGuestMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.EnterGuestMode())
}

func (s *Server) handleRequestAuthView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.RequestAuthView(r.Context()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.SignOut(r.Context()))
}

func (s *Server) handleSplashFinished(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.SplashFinished())
}

func (s *Server) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var patch identity.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.controller.CompleteOnboarding(r.Context(), patch))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
