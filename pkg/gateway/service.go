package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tagbridge/pkg/config"
	"tagbridge/pkg/poller"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// Poller is the part of the poll loop the service drives and reports on.
type Poller interface {
	Run(ctx context.Context) error
	Status() poller.Status
}

// Service runs the poll loop alongside an HTTP status server exposing /healthz, /readyz
// and /metrics.
type Service struct {
	cfg      config.GatewayConfig
	poller   Poller
	gatherer prometheus.Gatherer
	log      *slog.Logger

	mu        sync.RWMutex
	startedAt time.Time
	running   bool
	runErr    string
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Polling       bool   `json:"polling"`
	State         string `json:"state"`
	Cursor        int    `json:"cursor"`
	LastOutcome   string `json:"last_outcome"`
	LastOKAt      string `json:"last_ok_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	RunError      string `json:"run_error,omitempty"`
}

// NewService wires p to a status server configured by cfg. A negative port disables
// the server. gatherer defaults to the global Prometheus registry.
func NewService(cfg config.GatewayConfig, p Poller, gatherer prometheus.Gatherer, log *slog.Logger) (*Service, error) {
	if p == nil {
		return nil, errors.New("poller is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		poller:   p,
		gatherer: gatherer,
		log:      log.With("component", "gateway.service"),
	}, nil
}

// Run blocks until ctx is cancelled, the status server fails, or the poll loop exits.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Port < 0 {
		return s.run(ctx, nil)
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("start status server: %w", err)
	}
	return s.run(ctx, ln)
}

// Addr is the configured status server address.
func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Port
	if port == 0 {
		port = defaultHealthPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Handler serves the status endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Service) run(ctx context.Context, ln net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.running = true
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	if ln != nil {
		go s.serve(ctx, ln, serverErrors)
	}

	pollDone := make(chan error, 1)
	go func() {
		err := s.poller.Run(ctx)
		s.mu.Lock()
		s.running = false
		s.runErr = errorString(err)
		s.mu.Unlock()
		pollDone <- err
	}()

	select {
	case <-ctx.Done():
		<-pollDone
		return nil
	case err := <-serverErrors:
		// Stop the poll loop before returning so callers can release what it uses.
		cancel()
		<-pollDone
		return err
	case err := <-pollDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run poller: %w", err)
		}
		return nil
	}
}

func (s *Service) serve(ctx context.Context, ln net.Listener, errCh chan<- error) {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("serve status: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	ps := s.poller.Status()

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	lastOK := ""
	if !ps.LastOKAt.IsZero() {
		lastOK = ps.LastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Polling:       s.running,
		State:         ps.State.String(),
		Cursor:        ps.Cursor,
		LastOutcome:   ps.LastOutcome.String(),
		LastOKAt:      lastOK,
		LastError:     ps.LastError,
		RunError:      s.runErr,
	}
}

// isReady reports whether the loop is running, has fetched successfully at least once,
// and its latest fetch was not a hard failure. Soft failures keep readiness.
func (s *Service) isReady() bool {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return false
	}

	status := s.poller.Status()
	if status.LastOKAt.IsZero() {
		return false
	}
	return status.LastOutcome != poller.OutcomeHardFailure
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
