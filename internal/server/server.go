package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/dappchat/dappchat-relay/internal/config"
	"github.com/dappchat/dappchat-relay/internal/gateway"
	"github.com/dappchat/dappchat-relay/internal/ledger"
	"github.com/dappchat/dappchat-relay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// RelayServer wires dependencies and hosts the websocket relay endpoint.
type RelayServer struct {
	cfg        config.Config
	log        *zap.Logger
	membership ledger.Membership
	uploads    *gateway.Client
	hub        *relay.Hub
	httpSrv    *http.Server
	adminHTTP  *http.Server
	ready      atomic.Bool
}

// NewRelayServer constructs a server with its dependencies. Membership may be
// nil; group messages then broadcast to every connection.
func NewRelayServer(cfg config.Config, logger *zap.Logger, membership ledger.Membership) *RelayServer {
	return &RelayServer{
		cfg:        cfg,
		log:        logger,
		membership: membership,
		uploads: gateway.New(cfg.Gateway.Endpoint, cfg.Gateway.GatewayBase,
			cfg.GatewayJWT(), cfg.Gateway.UploadTimeout, logger),
	}
}

// Start boots the relay and blocks until shutdown.
func (s *RelayServer) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(reg)

	s.hub = relay.NewHub(s.log, relay.Options{
		Metrics:           metrics,
		Membership:        s.membership,
		PresenceRetention: s.cfg.Presence.Retention,
		SweepInterval:     s.cfg.Presence.SweepInterval,
	})
	go s.hub.Run(ctx)
	s.startAdminServer(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/upload", s.handleUpload)
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("relay listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleUpload pins an attachment through the gateway and returns the result
// a file envelope is built from. Upload failures are absorbed into the JSON
// body, never an HTTP error, so the caller's handling stays uniform.
func (s *RelayServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "malformed multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res := s.uploads.Upload(r.Context(), gateway.FileInput{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.log.Warn("encode upload response", zap.Error(err))
	}
}

func (s *RelayServer) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop of both HTTP servers.
func (s *RelayServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("relay server shutdown", zap.Error(err))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("relay server stopped")
}
