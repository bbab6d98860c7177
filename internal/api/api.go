// Package api provides the HTTP server: the direct message endpoint, the
// Twilio and generic JSON webhooks, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/messaging"
	"github.com/BTreeMap/StudyPipe/internal/twiliowhatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	TwilioAuthToken  string
	TwilioWebhookURL string
	GenericFields    FieldPaths
	Gatherer         prometheus.Gatherer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioAuthToken enables X-Twilio-Signature validation.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = token
	}
}

// WithTwilioWebhookURL sets the public URL Twilio signs. When unset it is
// rebuilt from the request.
func WithTwilioWebhookURL(u string) Option {
	return func(o *Opts) {
		o.TwilioWebhookURL = u
	}
}

// WithGenericFields sets the JSON paths read by the generic webhook.
func WithGenericFields(paths FieldPaths) Option {
	return func(o *Opts) {
		o.GenericFields = paths.withDefaults()
	}
}

// WithGatherer serves metrics from a custom registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) {
		o.Gatherer = g
	}
}

// HealthCheck reports an unhealthy dependency.
type HealthCheck func(ctx context.Context) error

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	handler      *messaging.InboundHandler
	twilio       *messaging.TwilioService
	validator    *twiliowhatsapp.Validator
	webhookURL   string
	fields       FieldPaths
	gatherer     prometheus.Gatherer
	healthChecks map[string]HealthCheck
	addr         string
}

// NewServer creates a server processing messages through handler. twilio may
// be nil, in which case the Twilio webhook answers 503.
func NewServer(handler *messaging.InboundHandler, twilio *messaging.TwilioService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, GenericFields: DefaultFieldPaths(), Gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		handler:      handler,
		twilio:       twilio,
		webhookURL:   cfg.TwilioWebhookURL,
		fields:       cfg.GenericFields,
		gatherer:     cfg.Gatherer,
		healthChecks: make(map[string]HealthCheck),
		addr:         cfg.Addr,
	}
	if cfg.TwilioAuthToken != "" {
		s.validator = twiliowhatsapp.NewValidator(cfg.TwilioAuthToken)
	} else {
		slog.Warn("Server.NewServer: no Twilio auth token, webhook signatures are not validated")
	}
	return s
}

// AddHealthCheck registers a dependency probed by /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.healthChecks[name] = check
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/webhook/generic", s.genericWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves HTTP and runs one inbound loop per transport until ctx is
// cancelled or any component fails. On shutdown each transport stops
// accepting messages and the ones already accepted are answered before Run
// returns.
func (s *Server) Run(ctx context.Context, services ...messaging.Service) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range services {
		group.Go(func() error {
			if err := svc.Start(groupCtx); err != nil {
				return err
			}
			go func() {
				<-groupCtx.Done()
				if err := svc.Stop(); err != nil {
					slog.Error("Server.Run: stopping service failed", "service", svc.Name(), "error", err)
				}
			}()
			// Stop closes intake; the loop returns once the closed channel is drained.
			return s.handler.Run(context.WithoutCancel(groupCtx), svc)
		})
	}
	group.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
