// Package api exposes the counselor, code polisher and dbt test generator
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fabfab/counselor/chat"
	"github.com/fabfab/counselor/conversation"
	"github.com/fabfab/counselor/dbtgen"
	"github.com/fabfab/counselor/llm"
)

type Asker interface {
	Ask(ctx context.Context, session *chat.Session, question string) (chat.Response, error)
}

type CodePolisher interface {
	Improve(ctx context.Context, code, label string) (string, error)
}

type TestGenerator interface {
	Generate(ctx context.Context, modelSQL, modelName string) (string, error)
}

// Options wires the handlers. Any nil capability turns its routes into 503s.
type Options struct {
	Responder     Asker
	Polisher      CodePolisher
	TestGenerator TestGenerator
	Gatherer      prometheus.Gatherer
	Logger        *zap.Logger
}

// Server keeps chat sessions in memory for the life of the process.
type Server struct {
	opts    Options
	logger  *zap.Logger
	handler http.Handler

	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer  string       `json:"answer"`
	Sources []chatSource `json:"sources"`
}

type chatSource struct {
	DocumentID    string   `json:"documentId"`
	Title         string   `json:"title"`
	Employer      string   `json:"employer"`
	Snippet       string   `json:"snippet"`
	Score         float64  `json:"score"`
	PostingCount  int      `json:"postingCount,omitempty"`
	PostingTitles []string `json:"postingTitles,omitempty"`
}

type historyResponse struct {
	ID    string              `json:"id"`
	Turns []conversation.Turn `json:"turns"`
}

type polishRequest struct {
	Code  string `json:"code"`
	Model string `json:"model"`
}

type polishResponse struct {
	Code string `json:"code"`
}

type dbtTestRequest struct {
	Model string `json:"model"`
	SQL   string `json:"sql"`
}

type dbtTestResponse struct {
	Model string `json:"model"`
	YAML  string `json:"yaml"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{opts: opts, logger: logger, sessions: make(map[string]*chat.Session)}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/ask", s.handleAsk).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/polish", s.handlePolish).Methods(http.MethodPost)
	v1.HandleFunc("/dbt-tests", s.handleDBTTest).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := chat.NewSession()
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", session.ID))
	s.writeJSON(w, http.StatusCreated, sessionResponse{ID: session.ID, State: session.State().String()})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.opts.Responder == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("responder is not configured"))
		return
	}
	session, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown session"))
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	resp, err := s.opts.Responder.Ask(r.Context(), session, req.Question)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, transformChatResponse(resp))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown session"))
		return
	}
	s.writeJSON(w, http.StatusOK, historyResponse{ID: session.ID, Turns: session.History()})
}

func (s *Server) handlePolish(w http.ResponseWriter, r *http.Request) {
	if s.opts.Polisher == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("polisher is not configured"))
		return
	}

	var req polishRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("code is required"))
		return
	}

	code, err := s.opts.Polisher.Improve(r.Context(), req.Code, req.Model)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, polishResponse{Code: code})
}

func (s *Server) handleDBTTest(w http.ResponseWriter, r *http.Request) {
	if s.opts.TestGenerator == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("test generator is not configured"))
		return
	}

	var req dbtTestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" || strings.TrimSpace(req.SQL) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("model and sql are required"))
		return
	}

	content, err := s.opts.TestGenerator.Generate(r.Context(), req.SQL, req.Model)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, dbtTestResponse{Model: req.Model, YAML: content})
}

func (s *Server) session(id string) (*chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

func statusFor(err error) int {
	var (
		unavailable *chat.BackendUnavailableError
		genFailed   *chat.GenerationFailedError
		unknown     *llm.UnknownProviderError
	)
	switch {
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &genFailed):
		return http.StatusBadGateway
	case errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, dbtgen.ErrInvalidOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Info("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformChatResponse(resp chat.Response) askResponse {
	converted := askResponse{Answer: resp.Answer, Sources: make([]chatSource, len(resp.Sources))}
	for i, src := range resp.Sources {
		converted.Sources[i] = chatSource{
			DocumentID:    src.DocumentID,
			Title:         src.Title,
			Employer:      src.Employer,
			Snippet:       src.Snippet,
			Score:         src.Score,
			PostingCount:  src.Insight.PostingCount,
			PostingTitles: append([]string(nil), src.Insight.PostingTitles...),
		}
	}
	return converted
}
