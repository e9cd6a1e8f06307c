package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keva-io/keva/pkg/index"
	"github.com/keva-io/keva/pkg/keylock"
	"github.com/keva-io/keva/pkg/log"
	"github.com/keva-io/keva/pkg/metrics"
	"github.com/keva-io/keva/pkg/rebalance"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
)

// Server is the master's HTTP coordinator. It owns the index, grants per-key
// locks, and redirects clients to the volume servers that hold the bytes.
type Server struct {
	cfg        *types.Config
	idx        *index.Index
	locks      *keylock.Table
	volumes    *volume.Client
	rebalancer *rebalance.Rebalancer
	logger     zerolog.Logger

	httpSrv *http.Server
}

// New creates a coordinator from an opened index
func New(cfg *types.Config, idx *index.Index) *Server {
	locks := keylock.NewTable()
	client := volume.NewClient()

	return &Server{
		cfg:        cfg,
		idx:        idx,
		locks:      locks,
		volumes:    client,
		rebalancer: rebalance.New(cfg, idx, locks, client),
		logger:     log.WithComponent("server"),
	}
}

// Start serves the client protocol until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.cfg.Port).Msg("Listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// statusWriter captures the response status for logging and metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ServeHTTP dispatches a client request. The request path is the key; the
// query string is only meaningful for list operations.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	reqLog := s.logger.With().
		Str("request_id", uuid.NewString()).
		Str("method", r.Method).
		Str("key", r.URL.Path).
		Logger()

	s.route(sw, r, reqLog)

	timer.ObserveDurationVec(metrics.RequestDuration, r.Method)
	metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
	reqLog.Debug().Int("status", sw.status).Msg("Request served")
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, reqLog zerolog.Logger) {
	// The key is the request path without the leading slash.
	key := strings.TrimPrefix(r.URL.Path, "/")

	// A query string selects the list protocol; it is only valid on GET.
	if r.URL.RawQuery != "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		s.handleList(w, r, key)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleRead(w, key, reqLog)
	case http.MethodPut:
		s.handlePut(w, r, key, reqLog)
	case http.MethodDelete:
		s.handleDelete(w, key, reqLog)
	case "UNLINK":
		s.handleUnlink(w, key)
	case "REBALANCE":
		s.handleRebalance(w, key)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// getRecord looks up and decodes the record for key. An absent key decodes to
// the hard-deleted sentinel.
func (s *Server) getRecord(key string) (types.Record, error) {
	value, found, err := s.idx.Get(key)
	if err != nil {
		return types.Record{}, err
	}
	if !found {
		return types.NewRecord(), nil
	}
	return types.DecodeRecord(value), nil
}

// putRecord encodes and stores a record under key
func (s *Server) putRecord(key string, rec types.Record) error {
	value, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.idx.Put(key, value)
}
