package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-verify/core"
	"github.com/goliatone/go-verify/poll"
)

// CredentialResolver turns a raw caller-supplied token into a usable
// credential. Satisfied by auth.Resolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, rawToken string) (core.Credential, error)
}

// ResultPoller waits for the server verdict. Satisfied by poll.Poller.
type ResultPoller interface {
	Poll(ctx context.Context, sessionID string, kind core.SessionKind, fetch poll.FetchFunc) (core.SessionStatus, error)
}

type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *Orchestrator) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithPoller(poller ResultPoller) Option {
	return func(o *Orchestrator) {
		if poller != nil {
			o.poller = poller
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives one verification flow from credential resolution to a
// single terminal outcome. One instance owns one flow; instances share no
// state.
type Orchestrator struct {
	config         core.Config
	gateway        core.Gateway
	resolver       CredentialResolver
	capture        core.CaptureProvider
	poller         ResultPoller
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	sink           core.EventSink
	now            func() time.Time

	flowID string

	mu        sync.Mutex
	state     core.FlowState
	sessionID string
	started   bool
	cancelFn  context.CancelFunc

	deliverOnce sync.Once
	outcome     chan core.Outcome
	done        chan struct{}
}

func New(
	config core.Config,
	gateway core.Gateway,
	resolver CredentialResolver,
	capture core.CaptureProvider,
	options ...Option,
) (*Orchestrator, error) {
	if gateway == nil {
		return nil, fmt.Errorf("session: gateway is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("session: credential resolver is required")
	}
	if capture == nil {
		return nil, fmt.Errorf("session: capture provider is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	orchestrator := &Orchestrator{
		config:   config,
		gateway:  gateway,
		resolver: resolver,
		capture:  capture,
		metrics:  core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		flowID:  uuid.NewString(),
		state:   core.FlowStateCreated,
		outcome: make(chan core.Outcome, 1),
		done:    make(chan struct{}),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(orchestrator)
	}

	_, logger := glog.Resolve(config.ServiceName, orchestrator.loggerProvider, orchestrator.logger)
	orchestrator.logger = glog.Ensure(logger)
	if orchestrator.poller == nil {
		orchestrator.poller = poll.New(
			poll.WithLogger(orchestrator.logger),
			poll.WithMetricsRecorder(orchestrator.metrics),
		)
	}
	return orchestrator, nil
}

func (o *Orchestrator) ID() string {
	if o == nil {
		return ""
	}
	return o.flowID
}

// Outcome returns the channel that yields the flow's single terminal result.
func (o *Orchestrator) Outcome() <-chan core.Outcome {
	return o.outcome
}

// Done is closed once the terminal outcome has been delivered. Unlike
// Outcome it can be observed by any number of watchers.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start launches the flow. The returned channel receives exactly one
// Outcome. Calling Start twice returns the same channel without launching a
// second run, as does calling Start after Cancel has already delivered the
// cancelled outcome.
func (o *Orchestrator) Start(ctx context.Context, req core.StartVerificationRequest) <-chan core.Outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return o.outcome
	}
	o.started = true
	flowCtx, cancel := context.WithCancel(ctx)
	o.cancelFn = cancel
	o.mu.Unlock()

	if err := validateStartRequest(req); err != nil {
		o.deliver(context.Background(), core.FailureOutcome(err))
		cancel()
		return o.outcome
	}

	go o.run(flowCtx, req)
	return o.outcome
}

// Cancel aborts the flow and delivers Outcome.Cancelled unless a terminal
// outcome was already delivered. Idempotent; safe to call from any
// goroutine, before or after Start.
func (o *Orchestrator) Cancel() {
	if o == nil {
		return
	}
	o.mu.Lock()
	// Marking the flow started makes cancellation irreversible: a Start
	// arriving afterwards finds the flow consumed and launches nothing.
	o.started = true
	cancel := o.cancelFn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.deliver(context.Background(), core.CancelledOutcome())
}

func validateStartRequest(req core.StartVerificationRequest) error {
	if strings.TrimSpace(req.RawCredential) == "" {
		return core.NewClientError("session: credential is required", core.ErrorInternal)
	}
	if !req.Kind.IsValid() {
		return core.NewClientError(
			fmt.Sprintf("session: invalid session kind %q", req.Kind),
			core.ErrorInternal,
		)
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return core.NewClientError("session: account id is required", core.ErrorInternal)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, req core.StartVerificationRequest) {
	cred, err := o.resolver.Resolve(ctx, req.RawCredential)
	if err != nil {
		o.finishError(ctx, "resolve credential", err)
		return
	}

	// Enrollment runs as its own cancellable operation; only session
	// creation is gated on it, so capture preparation may proceed in
	// parallel on the caller's side.
	var enrollment <-chan error
	if req.Kind == core.SessionKindFace && req.ReferenceFace != nil {
		o.transition(ctx, core.FlowStateEnrollmentPending, "")
		enrollment = o.startEnrollment(ctx, cred, req)
	}
	if enrollment != nil {
		select {
		case <-ctx.Done():
			o.finishError(ctx, "await enrollment", ctx.Err())
			return
		case err := <-enrollment:
			if err != nil {
				o.finishError(ctx, "enroll reference face", err)
				return
			}
		}
	}

	session, err := o.gateway.CreateSession(ctx, cred, o.sessionRequest(req))
	if err != nil {
		o.finishError(ctx, "create session", err)
		return
	}
	o.mu.Lock()
	o.sessionID = session.ID
	o.mu.Unlock()
	o.transition(ctx, core.FlowStateCapturePending, session.ID)

	if err := o.captureAndUpload(ctx, &session); err != nil {
		o.finishError(ctx, "capture media", err)
		return
	}

	o.transition(ctx, core.FlowStatePolling, "")
	status, err := o.poller.Poll(ctx, session.ID, session.Kind, func(ctx context.Context) (core.SessionStatus, error) {
		return o.gateway.GetSessionStatus(ctx, cred, session.ID)
	})
	if err != nil {
		o.finishError(ctx, "poll verdict", err)
		return
	}

	if status.Status.Declined() {
		o.finishError(ctx, "verdict", core.NewAPIError(
			fmt.Sprintf("session %s was declined", session.ID),
			http.StatusOK,
			core.ErrorDeclined,
		))
		return
	}
	o.deliver(ctx, core.SuccessOutcome(session.ID, status.Confidence))
}

func (o *Orchestrator) startEnrollment(ctx context.Context, cred core.Credential, req core.StartVerificationRequest) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- o.gateway.EnrollFace(ctx, cred, req.AccountID, *req.ReferenceFace)
	}()
	return done
}

func (o *Orchestrator) sessionRequest(req core.StartVerificationRequest) core.CreateSessionRequest {
	return core.CreateSessionRequest{
		Kind:           req.Kind,
		AccountID:      strings.TrimSpace(req.AccountID),
		Country:        o.config.Country,
		DocumentType:   o.config.DocumentType,
		Threshold:      o.config.Threshold,
		Timeout:        time.Duration(o.config.TimeoutSeconds) * time.Second,
		Subvalidations: append([]string(nil), o.config.Subvalidations...),
		MaxRetries:     o.config.MaxCaptureRetries,
	}
}

// captureAndUpload collects one artifact per upload target. Document
// sessions may burn their retry budget on quality rejections; once the
// budget hits zero the rejection reason is terminal.
func (o *Orchestrator) captureAndUpload(ctx context.Context, session *core.Session) error {
	for _, target := range session.UploadTargets {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			result, err := o.capture.Capture(ctx, session.Kind)
			if err != nil {
				return err
			}

			if result.Rejected {
				if session.Kind == core.SessionKindDocument && session.RetriesRemaining > 0 {
					session.RetriesRemaining--
					o.transition(ctx, core.FlowStateFeedbackRetry, string(result.Reason))
					o.transition(ctx, core.FlowStateCapturePending, "")
					continue
				}
				return core.NewCaptureRejectedError(result.Reason)
			}
			if result.Artifact == nil || len(result.Artifact.Bytes) == 0 {
				return core.NewClientError("session: capture produced no artifact", core.ErrorInternal)
			}

			if err := o.gateway.UploadMedia(ctx, target, *result.Artifact); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func (o *Orchestrator) finishError(ctx context.Context, stage string, err error) {
	if core.IsCancellation(err) || errors.Is(ctx.Err(), context.Canceled) {
		o.deliver(ctx, core.CancelledOutcome())
		return
	}
	classified := core.Classify(err)
	o.logger.Error("flow stage failed",
		"flow_id", o.flowID,
		"stage", stage,
		"error", classified.Error(),
	)
	o.deliver(ctx, core.FailureOutcome(classified))
}

// deliver enforces at-most-once outcome delivery. Stale completions from
// cancelled background operations hit the once-guard and are dropped.
func (o *Orchestrator) deliver(ctx context.Context, outcome core.Outcome) {
	o.deliverOnce.Do(func() {
		terminal := core.FlowStateCompleted
		switch outcome.Kind {
		case core.OutcomeKindFailure:
			terminal = core.FlowStateFailed
		case core.OutcomeKindCancelled:
			terminal = core.FlowStateCancelled
		}
		o.setState(ctx, terminal, "")

		o.metrics.IncCounter(ctx, "verify.flow.total", 1, map[string]string{
			"outcome": string(outcome.Kind),
		})
		o.outcome <- outcome
		close(o.outcome)
		close(o.done)
	})
}

// transition applies a non-terminal state change, logging and journaling it.
// Invalid transitions indicate a bug and are logged, never surfaced.
func (o *Orchestrator) transition(ctx context.Context, next core.FlowState, detail string) {
	o.mu.Lock()
	current := o.state
	o.mu.Unlock()
	if err := core.ValidateFlowTransition(current, next); err != nil {
		o.logger.Error("invalid flow transition", "flow_id", o.flowID, "error", err.Error())
		return
	}
	o.setState(ctx, next, detail)
}

func (o *Orchestrator) setState(ctx context.Context, next core.FlowState, detail string) {
	o.mu.Lock()
	o.state = next
	sessionID := o.sessionID
	o.mu.Unlock()

	o.logger.Info("flow state changed",
		"flow_id", o.flowID,
		"session_id", sessionID,
		"state", string(next),
		"detail", detail,
	)
	if o.sink == nil {
		return
	}
	event := core.FlowEvent{
		ID:         uuid.NewString(),
		FlowID:     o.flowID,
		SessionID:  sessionID,
		State:      string(next),
		Detail:     detail,
		OccurredAt: o.now(),
	}
	if err := o.sink.Record(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Error("journal record failed", "flow_id", o.flowID, "error", err.Error())
	}
}

// State reports the current flow state, mostly for tests and diagnostics.
func (o *Orchestrator) State() core.FlowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

var _ core.FlowHandle = (*Orchestrator)(nil)
