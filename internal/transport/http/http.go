// Package http implements the HTTP control API for macaria.
//
// The API accepts typed transcripts, exposes the status board and the
// session snapshot, lists the command vocabulary and triggers the spoken
// help. Swagger UI is served under /swagger/.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/macaria/docs" // registers the OpenAPI document with swag
	"github.com/nadzzz/macaria/internal/interpreter/fastpath"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/session"
	"github.com/nadzzz/macaria/internal/status"
	"github.com/nadzzz/macaria/internal/textnorm"
)

// @title       Macaria API
// @version     1.0
// @description Voice-command front-end: typed transcripts, status and spoken help.
// @BasePath    /

// Injector accepts typed transcripts.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Explainer speaks the usage help.
type Explainer interface {
	Explain(ctx context.Context) error
}

// StatusReader exposes the status board.
type StatusReader interface {
	Snapshot() status.Snapshot
}

// SessionReader exposes the interaction state machine snapshot.
type SessionReader interface {
	Snapshot() session.Snapshot
}

// Deps are the collaborators behind the routes. Nil fields disable the
// routes that need them.
type Deps struct {
	Injector  Injector
	Explainer Explainer
	Status    StatusReader
	Session   SessionReader
	Matcher   *fastpath.Matcher
}

// Server serves the control API.
type Server struct {
	port   int
	deps   Deps
	server *http.Server
	bg     context.Context
}

// New creates a new HTTP API server on the given port.
func New(port int, deps Deps) *Server {
	if deps.Matcher == nil {
		deps.Matcher = fastpath.New()
	}
	return &Server{port: port, deps: deps, bg: context.Background()}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/utterances", s.handleUtterance)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/vocabulary", s.handleVocabulary)
	mux.HandleFunc("POST /v1/explain", s.handleExplain)

	// Swagger UI for the registered OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return mux
}

// ListenAndServe starts the HTTP server. It blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.bg = ctx
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http api listening", "port", s.port)

	go func() {
		<-ctx.Done()
		slog.Info("http api shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// UtteranceRequest is the body of POST /v1/utterances.
type UtteranceRequest struct {
	Text string `json:"text" example:"Macaria, avanza"`
}

// UtteranceResponse acknowledges an accepted transcript.
type UtteranceResponse struct {
	Accepted   bool   `json:"accepted"`
	Normalized string `json:"normalized" example:"macaria avanza"`
}

// StatusResponse combines the status board and the session snapshot.
type StatusResponse struct {
	Status  status.Snapshot   `json:"status"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// VocabularyEntry is one command of the closed vocabulary.
type VocabularyEntry struct {
	Label string   `json:"label" example:"vuelta derecha"`
	Tag   string   `json:"tag" example:"turn-right"`
	Rules []string `json:"rules,omitempty"`
}

// handleUtterance accepts a finalized transcript.
//
// @Summary     Submit a transcript
// @Description Delivers a finalized transcript to the interaction state machine as if a recognizer produced it.
// @Tags        session
// @Accept      json
// @Produce     json
// @Param       utterance  body      UtteranceRequest   true  "Transcript"
// @Success     202        {object}  UtteranceResponse  "Accepted"
// @Failure     400        {string}  string             "Invalid body or empty text"
// @Failure     503        {string}  string             "No injector configured or queue full"
// @Router      /v1/utterances [post]
func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Injector == nil {
		http.Error(w, "transcript injection disabled", http.StatusServiceUnavailable)
		return
	}

	var req UtteranceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	normalized := textnorm.Normalize(req.Text)
	if normalized == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Injector.Inject(ctx, req.Text); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, "inject: "+err.Error(), code)
		return
	}

	writeJSON(w, http.StatusAccepted, UtteranceResponse{Accepted: true, Normalized: normalized})
}

// handleStatus returns the four status slots and the session state.
//
// @Summary     Current status
// @Tags        session
// @Produce     json
// @Success     200  {object}  StatusResponse
// @Router      /v1/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if s.deps.Status != nil {
		resp.Status = s.deps.Status.Snapshot()
	}
	if s.deps.Session != nil {
		snap := s.deps.Session.Snapshot()
		resp.Session = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVocabulary lists the closed command set with the fast-path rules
// that produce each command.
//
// @Summary     Command vocabulary
// @Tags        commands
// @Produce     json
// @Success     200  {array}  VocabularyEntry
// @Router      /v1/vocabulary [get]
func (s *Server) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	rules := make(map[message.Command][]string)
	for _, rule := range s.deps.Matcher.Rules() {
		rules[rule.Command] = append(rules[rule.Command], rule.Name)
	}

	vocab := message.Vocabulary()
	out := make([]VocabularyEntry, 0, len(vocab))
	for _, c := range vocab {
		out = append(out, VocabularyEntry{Label: c.String(), Tag: c.Tag(), Rules: rules[c]})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExplain starts the spoken usage help in the background.
//
// @Summary     Speak the usage help
// @Tags        speech
// @Success     202  "Speech started"
// @Failure     503  {string}  string  "Speech synthesis disabled"
// @Router      /v1/explain [post]
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Explainer == nil {
		http.Error(w, "speech synthesis disabled", http.StatusServiceUnavailable)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.bg, 2*time.Minute)
		defer cancel()
		if err := s.deps.Explainer.Explain(ctx); err != nil {
			slog.Warn("explain failed", "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
