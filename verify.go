package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-verify/auth"
	"github.com/goliatone/go-verify/core"
	"github.com/goliatone/go-verify/session"
	"github.com/goliatone/go-verify/transport"
)

type Config = core.Config

type Outcome = core.Outcome
type FlowHandle = core.FlowHandle
type StartVerificationRequest = core.StartVerificationRequest
type CaptureProvider = core.CaptureProvider
type EventSink = core.EventSink
type Gateway = core.Gateway

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type serviceBuilder struct {
	runtimeConfig   core.Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	httpClient      *http.Client
	gateway         core.Gateway
	resolver        session.CredentialResolver
	capture         core.CaptureProvider
	sink            core.EventSink
}

type Option func(*serviceBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *serviceBuilder) {
		b.httpClient = client
	}
}

func WithGateway(gateway core.Gateway) Option {
	return func(b *serviceBuilder) {
		b.gateway = gateway
	}
}

func WithCredentialResolver(resolver session.CredentialResolver) Option {
	return func(b *serviceBuilder) {
		b.resolver = resolver
	}
}

func WithCaptureProvider(capture core.CaptureProvider) Option {
	return func(b *serviceBuilder) {
		b.capture = capture
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(b *serviceBuilder) {
		b.sink = sink
	}
}

func defaultServiceBuilder(runtime core.Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("verify", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: core.NopMetricsRecorder{},
		configProvider:  core.NewCfgxConfigProvider(nil),
		optionsResolver: core.GoOptionsResolver{},
	}
}

// Service is the entry point for running verification flows. One Service
// may drive any number of concurrent flows; each StartVerification call
// creates an independent orchestrator tracked until its outcome lands.
type Service struct {
	config          core.Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	gateway         core.Gateway
	resolver        session.CredentialResolver
	capture         core.CaptureProvider
	sink            core.EventSink

	mu    sync.Mutex
	flows map[string]*session.Orchestrator
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}

	provider, logger := glog.Resolve("verify", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	defaults := core.DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, core.Classify(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, core.Classify(err)
	}

	gateway := builder.gateway
	if gateway == nil {
		if strings.TrimSpace(finalConfig.BaseURL) == "" {
			return nil, fmt.Errorf("verify: base url is required when no gateway is provided")
		}
		var client transport.HTTPDoer
		if builder.httpClient != nil {
			client = builder.httpClient
		}
		gateway, err = transport.NewRESTGateway(finalConfig.BaseURL, client)
		if err != nil {
			return nil, err
		}
	}
	resolver := builder.resolver
	if resolver == nil {
		resolver = auth.NewResolver(gateway)
	}
	if builder.capture == nil {
		return nil, fmt.Errorf("verify: capture provider is required")
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		gateway:         gateway,
		resolver:        resolver,
		capture:         builder.capture,
		sink:            builder.sink,
		flows:           map[string]*session.Orchestrator{},
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// StartVerification launches a new flow and returns its handle. The handle's
// Outcome channel yields exactly one terminal result.
func (s *Service) StartVerification(ctx context.Context, req core.StartVerificationRequest) (core.FlowHandle, error) {
	if s == nil {
		return nil, fmt.Errorf("verify: service is not configured")
	}

	orchestrator, err := session.New(s.config, s.gateway, s.resolver, s.capture,
		session.WithLogger(s.logger),
		session.WithLoggerProvider(s.loggerProvider),
		session.WithMetricsRecorder(s.metricsRecorder),
		session.WithEventSink(s.sink),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.flows[orchestrator.ID()] = orchestrator
	s.mu.Unlock()

	orchestrator.Start(ctx, req)
	go s.reap(orchestrator)
	return orchestrator, nil
}

// CancelVerification aborts a running flow. Flows that already delivered an
// outcome are no longer tracked and report not found.
func (s *Service) CancelVerification(_ context.Context, flowID string) error {
	if s == nil {
		return fmt.Errorf("verify: service is not configured")
	}
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return core.NewClientError("verify: flow id is required", core.ErrorInternal)
	}

	s.mu.Lock()
	orchestrator, ok := s.flows[flowID]
	s.mu.Unlock()
	if !ok {
		return goerrors.New(
			fmt.Sprintf("verify: flow %s not found", flowID),
			goerrors.CategoryNotFound,
		).WithCode(http.StatusNotFound)
	}
	orchestrator.Cancel()
	return nil
}

// Flow returns the handle for a tracked flow, if it is still running.
func (s *Service) Flow(flowID string) (core.FlowHandle, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orchestrator, ok := s.flows[strings.TrimSpace(flowID)]
	if !ok {
		return nil, false
	}
	return orchestrator, true
}

// ActiveFlows reports how many flows have not yet delivered an outcome.
func (s *Service) ActiveFlows() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

func (s *Service) reap(orchestrator *session.Orchestrator) {
	<-orchestrator.Done()
	s.mu.Lock()
	delete(s.flows, orchestrator.ID())
	s.mu.Unlock()
}
