package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows the patterns it serves.
type Handler interface {
	http.Handler
	Routes() []string
}

type Router interface {
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Deps is everything the HTTP API serves from.
type Deps struct {
	Services  *services.Services
	Agent     *agent.Agent
	ChatAgent *agent.ChatAgent
	OAuth     *OAuthHandler // optional; nil leaves /callback unregistered
	Logger    *log.Logger
}

// Server is pihome's HTTP API.
type Server struct {
	deps   Deps
	router *BasicRouter
	logger *log.Logger
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Server{deps: deps, router: NewBasicRouter(), logger: logger}
	s.router.Use(RequestID(), Logging(logger), Recover(logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc(http.MethodGet, "/health", s.health)
	s.router.HandleFunc(http.MethodPost, "/api/devices/heartbeat", s.deviceHeartbeat)
	s.router.HandleFunc(http.MethodPost, "/api/agent/process", s.processMessage)
	s.router.HandleFunc(http.MethodGet, "/api/chats/{id}/messages", s.listMessages)
	s.router.HandleFunc(http.MethodPost, "/api/chats/{id}/messages", s.sendMessage)
	if s.deps.OAuth != nil {
		s.router.Handler(s.deps.OAuth)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, shared.StatusCode(err), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return shared.BadRequest(fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}
