// Package control serves the local HTTP API used to inspect and steer a
// running kittymode: status, enable/disable, live settings and match
// previews, a websocket status stream, plus the health probes and the
// Prometheus endpoint.
//
// The API is meant for localhost. It has no authentication.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/health"
	"github.com/MrWong99/kittymode/internal/match"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

const (
	defaultPreviewK = 5
	maxPreviewK     = 50
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second

	defaultEventInterval = 250 * time.Millisecond
	eventWriteTimeout    = 2 * time.Second
)

// Controller is the part of [controller.Controller] the API drives.
type Controller interface {
	Status() controller.Status
	Enable() error
	Disable()
	Snapshot() controller.Settings
	Reconfigure(ctx context.Context, s controller.Settings) error
	Preview(ctx context.Context, text string, k int, f controller.PreviewFilter) ([]match.Result, error)
}

// Server routes the control API.
type Server struct {
	ctrl    Controller
	health  *health.Handler
	metrics http.Handler
	obs     *observe.Metrics

	// eventInterval is how often /v1/events samples the status.
	eventInterval time.Duration

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMetrics records request metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.obs = m }
}

// WithEventInterval sets how often the status stream samples the controller.
// The default is 250ms.
func WithEventInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.eventInterval = d
		}
	}
}

// New builds the API for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, eventInterval: defaultEventInterval}
	for _, o := range opts {
		o(s)
	}
	if s.obs == nil {
		s.obs = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/enable", requireJSON(s.handleEnable))
	mux.HandleFunc("POST /v1/disable", requireJSON(s.handleDisable))
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("PUT /v1/config", requireJSON(s.handlePutConfig))
	mux.HandleFunc("GET /v1/match", s.handleMatch)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	s.handler = observe.Middleware(s.obs)(mux)
	return s
}

// Handler returns the API with tracing and request metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. With certFile and keyFile set it serves TLS.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("control API listening", "addr", ln.Addr().String(), "tls", certFile != "")

	select {
	case err := <-errCh:
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control: serve: %w", err)
	}
	return nil
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Enable(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleDisable(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Disable()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, docFromSettings(s.ctrl.Snapshot()))
}

// handlePutConfig applies a partial update: keys absent from the body keep
// their current values.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	doc := docFromSettings(s.ctrl.Snapshot())

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := s.ctrl.Reconfigure(r.Context(), doc.settings()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	observe.Logger(r.Context()).Info("settings updated via control API")
	writeJSON(w, http.StatusOK, docFromSettings(s.ctrl.Snapshot()))
}

type previewResult struct {
	Phrase string  `json:"phrase"`
	Score  float64 `json:"score"`
	Index  int     `json:"index"`
}

type previewResponse struct {
	TextRunes int             `json:"text_runes"`
	Results   []previewResult `json:"results"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter text is required"))
		return
	}
	k := defaultPreviewK
	if raw := q.Get("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPreviewK {
			writeError(w, http.StatusBadRequest, fmt.Errorf("k must be an integer between 1 and %d", maxPreviewK))
			return
		}
		k = v
	}

	filter := controller.PreviewFilter{Category: q.Get("category")}
	if raw := q.Get("max_runes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, errors.New("max_runes must be a positive integer"))
			return
		}
		filter.MaxRunes = v
	}

	res, err := s.ctrl.Preview(r.Context(), text, k, filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := previewResponse{TextRunes: utf8.RuneCountInString(text), Results: make([]previewResult, len(res))}
	for i, m := range res {
		out.Results[i] = previewResult{Phrase: m.Phrase, Score: m.Score, Index: m.Index}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEvents upgrades to a websocket and sends the status as JSON, first
// immediately and then whenever it changes. Only local origins may connect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		// Accept has already written the error response.
		observe.Logger(r.Context()).Debug("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck // best effort after a failed write

	// Clients never send; CloseRead handles their close frame and cancels ctx.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.eventInterval)
	defer ticker.Stop()

	var (
		last controller.Status
		sent bool
	)
	for {
		if st := s.ctrl.Status(); !sent || st != last {
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, st)
			cancel()
			if err != nil {
				observe.Logger(r.Context()).Debug("events: client gone", "err", err)
				return
			}
			last, sent = st, true
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // closing anyway
			return
		case <-ticker.C:
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// requireJSON rejects requests that do not declare a JSON body. Browsers only
// send that content type cross-origin after a preflight, which this API never
// answers.
func requireJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, errors.New("request content type must be application/json"))
			return
		}
		next(w, r)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNoIndex), errors.Is(err, match.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("control: encode response", "err", err)
	}
}
