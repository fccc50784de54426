// Package server exposes the research pipeline over HTTP: a form endpoint
// that returns the finished report and a websocket that streams progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/pkg/pipeline"
)

// Runner runs one research question to completion.
type Runner interface {
	Run(ctx context.Context, question, mode string, opts ...pipeline.RunOption) models.Outcome
}

type Config struct {
	Addr string
	// RequestTimeout bounds a whole run, all three stages included.
	RequestTimeout time.Duration
}

type Server struct {
	config   Config
	runner   Runner
	logger   logger.Logger
	upgrader websocket.Upgrader
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type researchRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    struct {
		Mode string `json:"mode"`
	} `json:"data"`
}

func New(runner Runner, config Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	return &Server{
		config: config,
		runner: runner,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /deep-research", s.handleDeepResearch)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("server listening", map[string]interface{}{"addr": s.config.Addr})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deep research API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleDeepResearch(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.FormValue("original_query"))
	if question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "original_query is required"})
		return
	}
	mode := r.FormValue("source_mode")
	if mode == "" {
		mode = pipeline.ModeWeb
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	outcome := s.runner.Run(ctx, question, mode)
	if outcome.Succeeded() {
		writeJSON(w, http.StatusOK, map[string]string{"report": outcome.Report.Markdown})
		return
	}

	status := statusFor(outcome.Failure)
	s.logger.Warn("deep research request failed", map[string]interface{}{
		"run_id": outcome.RunID,
		"kind":   string(outcome.Failure.Kind),
		"stage":  string(outcome.Failure.Stage),
		"status": status,
	})
	writeJSON(w, status, map[string]string{"detail": detail(outcome.Failure)})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer conn.Close()
	defer wg.Wait()
	defer cancel()

	out := &wsWriter{conn: conn, logger: s.logger}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var req researchRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			out.send(Message{Type: "error", Content: "malformed message"})
			continue
		}
		if req.Type != "research" {
			out.send(Message{Type: "error", Content: fmt.Sprintf("unsupported message type %q", req.Type)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.research(ctx, out, req)
		}()
	}
}

// research runs one websocket request, streaming a status message per
// state transition and finishing with a report or an error.
func (s *Server) research(ctx context.Context, out *wsWriter, req researchRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	mode := req.Data.Mode
	if mode == "" {
		mode = pipeline.ModeWeb
	}

	outcome := s.runner.Run(ctx, strings.TrimSpace(req.Content), mode,
		pipeline.WithObserver(func(from, to models.State) {
			out.send(Message{
				Type:    "status",
				Content: string(to),
				Data:    map[string]string{"from": string(from), "to": string(to)},
			})
		}))

	if outcome.Succeeded() {
		out.send(Message{
			Type:    "report",
			Content: outcome.Report.Markdown,
			Data: map[string]interface{}{
				"run_id":  outcome.RunID,
				"sources": outcome.Report.Sources,
			},
		})
		return
	}

	out.send(Message{
		Type:    "error",
		Content: detail(outcome.Failure),
		Data: map[string]interface{}{
			"run_id": outcome.RunID,
			"kind":   outcome.Failure.Kind,
			"stage":  outcome.Failure.Stage,
		},
	})
}

// wsWriter serializes writes; runs on one connection share it.
type wsWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger logger.Logger
}

func (w *wsWriter) send(msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(msg); err != nil {
		w.logger.Debug("error sending message", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps a failure to the HTTP status the client sees.
func statusFor(f *models.Failure) int {
	switch {
	case f.Kind == models.UnsupportedMode:
		return http.StatusBadRequest
	case errors.Is(f.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func detail(f *models.Failure) string {
	return fmt.Sprintf("%s during %s: %s", f.Kind, f.Stage, f.Message)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
