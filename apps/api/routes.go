package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mahaj/dupahar-support/pkg/auth"
	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/presence"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type onlineReader interface {
	Users(ctx context.Context, channelID string) ([]string, error)
}

type queueLister interface {
	List(ctx context.Context, limit int) ([]presence.QueueEntry, error)
}

type server struct {
	svc    *support.Service
	tokens *auth.Tokens
	online onlineReader
	queue  queueLister
	logger *slog.Logger

	devLogin bool
	// ws is mounted at /ws when the gateway runs in-process.
	ws http.Handler
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.devLogin {
		r.Post("/login", s.tokens.LoginHandler)
	}
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(s.tokens.Middleware)

		r.Route("/channels", func(r chi.Router) {
			r.Post("/", s.createChannel)
			r.Get("/", s.listChannels)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getChannel)
				r.Post("/escalate", s.escalate)
				r.Post("/deescalate", s.deescalate)
				r.Post("/resolve", s.resolve)
				r.Post("/reopen", s.reopen)
				r.Post("/archive", s.archive)
				r.Post("/assign", s.assign)
				r.Get("/messages", s.listMessages)
				r.Post("/messages", s.postMessage)
				r.Post("/read", s.markRead)
				r.Get("/online", s.onlineUsers)
			})
		})
		r.Get("/platform/queue", s.platformQueue)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// actor is set by auth.Middleware on every route that calls this.
func actor(r *http.Request) model.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, support.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, support.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, support.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, support.ErrInvalidTransition), errors.Is(err, support.ErrConcurrentConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: support.ErrorCode(err), Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &support.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}
