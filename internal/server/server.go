// Package server exposes the ops HTTP API: a classify endpoint for
// the messaging gateway, health and stats for monitoring, and
// JWT-protected admin operations.
package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/conversation"
	"github.com/hostel-concierge/internal/jsonx"
	"github.com/hostel-concierge/internal/pipeline"
	"github.com/hostel-concierge/internal/policy"
	"github.com/hostel-concierge/internal/routing"
)

// StaffAccount is one admin login. Passwords are bcrypt hashes.
type StaffAccount struct {
	Username     string
	PasswordHash string
}

// Server wires the pipeline to HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *conversation.Store
	limiter  *policy.RateLimiter
	resolver *routing.Resolver
	staff    map[string]string
	logger   *zap.Logger
	started  time.Time
}

// NewServer creates the API server. accounts may be empty, which
// disables admin login entirely.
func NewServer(p *pipeline.Pipeline, store *conversation.Store, limiter *policy.RateLimiter, resolver *routing.Resolver, accounts []StaffAccount, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	staff := make(map[string]string, len(accounts))
	for _, a := range accounts {
		staff[a.Username] = a.PasswordHash
	}
	return &Server{
		pipeline: p,
		store:    store,
		limiter:  limiter,
		resolver: resolver,
		staff:    staff,
		logger:   logger.Named("server"),
		started:  time.Now(),
	}
}

// SetupRoutes registers all endpoints on the router.
func (s *Server) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	router.HandleFunc("/api/classify", s.handleClassify).Methods("POST")
	router.HandleFunc("/api/reply", s.handleReply).Methods("POST")
	router.HandleFunc("/api/admin/login", s.handleLogin).Methods("POST")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.requireAuth)
	admin.HandleFunc("/conversations/{sender}", s.handleClearConversation).Methods("DELETE")
	admin.HandleFunc("/conversations/{sender}/slots", s.handleGetSlots).Methods("GET")
	admin.HandleFunc("/ratelimit/{sender}", s.handleResetRateLimit).Methods("DELETE")
}

// Handler wraps the router with CORS and recovery middleware.
func (s *Server) Handler(router *mux.Router) http.Handler {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if env := os.Getenv("ALLOWED_ORIGINS"); env != "" {
		origins = origins[:0]
		for _, o := range strings.Split(env, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.RecoveryHandler()(cors(router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	missing := map[string]int{}
	if s.resolver != nil {
		missing = s.resolver.MissingRoutes()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations":      s.store.Count(),
		"rate_limit_senders": s.limiter.Senders(),
		"missing_routes":     missing,
		"uptime_seconds":     int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sender == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "sender and text are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp := s.pipeline.Process(ctx, req)
	status := http.StatusOK
	if resp.RateLimited {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Seconds())+1))
	}
	s.writeJSON(w, status, resp)
}

// handleReply records the assistant's outbound message so the next
// classification sees it as conversation context.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Sender == "" || req.Text == "" {
		http.Error(w, "sender and text are required", http.StatusBadRequest)
		return
	}
	s.pipeline.RecordReply(req.Sender, req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hash, ok := s.staff[req.Username]
	if !ok || !CheckPassword(hash, req.Password) {
		s.logger.Warn("failed admin login", zap.String("username", req.Username))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := GenerateToken(req.Username)
	if err != nil {
		s.logger.Error("token generation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"token_type": "Bearer",
	})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	s.store.ClearConversation(sender)
	s.logger.Info("conversation cleared",
		zap.String("sender", sender),
		zap.String("staff", staffID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSlots(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	s.writeJSON(w, http.StatusOK, s.store.GetSlots(sender))
}

func (s *Server) handleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	s.limiter.Reset(sender)
	s.logger.Info("rate limit reset",
		zap.String("sender", sender),
		zap.String("staff", staffID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		s.logger.Error("response marshal failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, v)
}
