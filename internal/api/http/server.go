package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/engine"
	"github.com/Paintersrp/corral/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7664"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 64 << 10

	appsPrefix = "/api/v1/apps/"
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	Logger            *slog.Logger
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing launch manager controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	log             *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if isNilController(cfg.Controller) {
		return nil, fmt.Errorf("controller is required (got %T)", cfg.Controller)
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		log:             cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	if server.log == nil {
		server.log = slog.New(slog.DiscardHandler)
	}
	server.registerRoutes(mux)
	return server, nil
}

func isNilController(ctrl api.Controller) bool {
	if ctrl == nil {
		return true
	}
	v := reflect.ValueOf(ctrl)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	err := <-errCh
	close(stop)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc(appsPrefix, s.handleApp)
	mux.HandleFunc("/api/v1/launching/disable", s.handleLaunching(false))
	mux.HandleFunc("/api/v1/launching/enable", s.handleLaunching(true))
	mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleApp serves /api/v1/apps/{product}/{app}[/{action}].
func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, appsPrefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		s.writeErrorWithDetails(w, fmt.Errorf("%w: expected %s{product}/{app}", api.ErrInvalidPath, appsPrefix), map[string]any{"path": r.URL.Path})
		return
	}
	product, app := parts[0], parts[1]
	action := ""
	if len(parts) == 3 {
		action = parts[2]
	}
	ctx := r.Context()

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, http.MethodGet)
			return
		}
		s.writeOutcome(w, product, app, s.ctrl.Query(ctx, product, app))
	case "launch":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		var req api.LaunchRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		s.writeOutcome(w, product, app, s.ctrl.Launch(ctx, product, app, req.Params))
	case "stop":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		var req api.StopRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		s.writeOutcome(w, product, app, s.ctrl.Stop(ctx, product, app, !req.Force))
	case "startup":
		switch r.Method {
		case http.MethodPost:
			var req api.StartupRequest
			if !s.decodeBody(w, r, &req) {
				return
			}
			s.writeOutcome(w, product, app, s.ctrl.ScheduleAtStartup(product, app, req.Params, req.OneShot))
		case http.MethodDelete:
			s.writeOutcome(w, product, app, s.ctrl.RemoveFromStartup(product, app))
		default:
			s.methodNotAllowed(w, http.MethodPost+", "+http.MethodDelete)
		}
	default:
		s.writeErrorWithDetails(w, fmt.Errorf("%w: unknown action %q", api.ErrInvalidPath, action), map[string]any{"path": r.URL.Path})
	}
}

func (s *Server) handleLaunching(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		token := r.Header.Get(api.TokenHeader)
		var outcome engine.Outcome
		if enable {
			outcome = s.ctrl.EnableLaunching(token)
		} else {
			outcome = s.ctrl.DisableLaunching(token)
		}
		status := outcomeStatus(outcome)
		if outcome == engine.BadProgram {
			status = http.StatusUnauthorized
		}
		s.writeJSON(w, status, api.OutcomeResponse{Outcome: outcome})
	}
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.log.Info("shutdown requested over the control API", "remote", r.RemoteAddr)
	if err := s.ctrl.Shutdown(r.Context(), r.Header.Get(api.TokenHeader)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ShutdownResponse{CompletedAt: time.Now().UTC()})
}

// decodeBody fills dst from an optional JSON body.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "invalid_body",
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) writeOutcome(w http.ResponseWriter, product, app string, outcome engine.Outcome) {
	s.log.Debug("control request", "product", product, "app", app, "outcome", outcome)
	s.writeJSON(w, outcomeStatus(outcome), api.OutcomeResponse{Product: product, App: app, Outcome: outcome})
}

// outcomeStatus maps an outcome to the HTTP status carrying it.
func outcomeStatus(outcome engine.Outcome) int {
	switch outcome {
	case engine.Okay, engine.NotRunning:
		return http.StatusOK
	case engine.Existing:
		return http.StatusConflict
	case engine.NoProduct, engine.NoApplication, engine.FileNotFound:
		return http.StatusNotFound
	case engine.AccessDenied:
		return http.StatusForbidden
	case engine.BadProgram:
		return http.StatusBadRequest
	case engine.NoAnchor:
		return http.StatusBadGateway
	case engine.Frozen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Code:    "method_not_allowed",
		Message: fmt.Sprintf("method not allowed; use %s", method),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithDetails(w, err, nil)
}

func (s *Server) writeErrorWithDetails(w http.ResponseWriter, err error, extra map[string]any) {
	status, code := classifyError(err)
	details := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		details[k] = v
	}
	body := errorBody{
		Code:    code,
		Message: err.Error(),
		Details: details,
	}
	s.writeJSON(w, status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrInvalidPath):
		return http.StatusNotFound, "invalid_path"
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, api.ErrShutdownInProgress):
		return http.StatusConflict, "shutdown_in_progress"
	case errors.Is(err, stdcontext.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
