package session

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-verify/core"
	"github.com/goliatone/go-verify/poll"
)

type fakeGateway struct {
	mu          sync.Mutex
	calls       []string
	session     core.Session
	createErr   error
	enrollErr   error
	uploadErr   error
	statuses    []core.SessionStatus
	statusErrs  []error
	statusCalls int
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) CreateSession(_ context.Context, _ core.Credential, req core.CreateSessionRequest) (core.Session, error) {
	g.record("create")
	if g.createErr != nil {
		return core.Session{}, g.createErr
	}
	session := g.session
	if session.Kind == "" {
		session.Kind = req.Kind
	}
	if session.RetriesRemaining == 0 {
		session.RetriesRemaining = req.MaxRetries
	}
	return session, nil
}

func (g *fakeGateway) GetSessionStatus(context.Context, core.Credential, string) (core.SessionStatus, error) {
	g.record("status")
	g.mu.Lock()
	index := g.statusCalls
	g.statusCalls++
	g.mu.Unlock()
	if index < len(g.statusErrs) && g.statusErrs[index] != nil {
		return core.SessionStatus{}, g.statusErrs[index]
	}
	if index < len(g.statuses) {
		return g.statuses[index], nil
	}
	return core.SessionStatus{Status: core.StatusPending}, nil
}

func (g *fakeGateway) ExchangeCredential(context.Context, string) (string, error) {
	g.record("exchange")
	return "", nil
}

func (g *fakeGateway) UploadMedia(context.Context, core.UploadTarget, core.MediaArtifact) error {
	g.record("upload")
	return g.uploadErr
}

func (g *fakeGateway) EnrollFace(context.Context, core.Credential, string, core.MediaArtifact) error {
	g.record("enroll")
	return g.enrollErr
}

type staticResolver struct {
	err error
}

func (r staticResolver) Resolve(_ context.Context, rawToken string) (core.Credential, error) {
	if r.err != nil {
		return core.Credential{}, r.err
	}
	return core.Credential{Token: rawToken, Kind: core.CredentialKindSDK}, nil
}

type scriptedCapture struct {
	mu      sync.Mutex
	results []core.CaptureResult
	calls   int
}

func (c *scriptedCapture) Capture(context.Context, core.SessionKind) (core.CaptureResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.calls
	c.calls++
	if index < len(c.results) {
		return c.results[index], nil
	}
	return acceptedCapture(), nil
}

func acceptedCapture() core.CaptureResult {
	return core.CaptureResult{
		Artifact: &core.MediaArtifact{Bytes: []byte("media"), ContentType: "image/jpeg"},
	}
}

func rejectedCapture(reason core.FeedbackReason) core.CaptureResult {
	return core.CaptureResult{Rejected: true, Reason: reason}
}

type scriptedPoller struct {
	status core.SessionStatus
	err    error
	calls  int
}

func (p *scriptedPoller) Poll(context.Context, string, core.SessionKind, poll.FetchFunc) (core.SessionStatus, error) {
	p.calls++
	return p.status, p.err
}

func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Country = "co"
	return cfg
}

func startRequest(kind core.SessionKind) core.StartVerificationRequest {
	return core.StartVerificationRequest{
		RawCredential: "sdk-token",
		Kind:          kind,
		AccountID:     "acct_1",
	}
}

func waitOutcome(t *testing.T, outcomes <-chan core.Outcome) core.Outcome {
	t.Helper()
	select {
	case outcome := <-outcomes:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flow outcome")
		return core.Outcome{}
	}
}

func newOrchestrator(t *testing.T, gateway core.Gateway, capture core.CaptureProvider, options ...Option) *Orchestrator {
	t.Helper()
	orchestrator, err := New(testConfig(), gateway, staticResolver{}, capture, options...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}

func TestRun_EndToEndSuccessOnThirdPollAttempt(t *testing.T) {
	confidence := 0.97
	gateway := &fakeGateway{
		session: core.Session{ID: "v1", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
		statuses: []core.SessionStatus{
			{Status: core.StatusPending},
			{Status: core.StatusPending},
			{Status: core.StatusSuccess, Confidence: &confidence},
		},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	orchestrator := newOrchestrator(t, gateway, capture,
		WithPoller(poll.New(poll.WithSleeper(instantSleep))),
	)

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), startRequest(core.SessionKindFace)))
	if outcome.Kind != core.OutcomeKindSuccess {
		t.Fatalf("expected success outcome, got %+v", outcome)
	}
	if outcome.SessionID != "v1" {
		t.Fatalf("expected session id v1, got %q", outcome.SessionID)
	}
	if outcome.Confidence == nil || *outcome.Confidence != confidence {
		t.Fatalf("expected confidence %v, got %v", confidence, outcome.Confidence)
	}
	if gateway.statusCalls != 3 {
		t.Fatalf("expected verdict on third poll attempt, got %d fetches", gateway.statusCalls)
	}
	if orchestrator.State() != core.FlowStateCompleted {
		t.Fatalf("expected completed state, got %s", orchestrator.State())
	}
}

func TestRun_DocumentFeedbackRetryThenProceeds(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{
			ID:               "v2",
			UploadTargets:    []core.UploadTarget{{URL: "https://u/front"}},
			RetriesRemaining: 1,
		},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{
		rejectedCapture(core.FeedbackBlurryImage),
		acceptedCapture(),
	}}
	poller := &scriptedPoller{status: core.SessionStatus{Status: core.StatusSuccess}}
	orchestrator := newOrchestrator(t, gateway, capture, WithPoller(poller))

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), startRequest(core.SessionKindDocument)))
	if outcome.Kind != core.OutcomeKindSuccess {
		t.Fatalf("expected success after one retry, got %+v", outcome)
	}
	if capture.calls != 2 {
		t.Fatalf("expected two capture attempts, got %d", capture.calls)
	}
	if poller.calls != 1 {
		t.Fatalf("expected polling to run once, got %d", poller.calls)
	}
}

func TestRun_DocumentRejectionWithoutBudgetFailsBeforePolling(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{ID: "v3", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{
		rejectedCapture(core.FeedbackBlurryImage),
	}}
	poller := &scriptedPoller{status: core.SessionStatus{Status: core.StatusSuccess}}

	config := testConfig()
	config.MaxCaptureRetries = 0
	orchestrator, err := New(config, gateway, staticResolver{}, capture, WithPoller(poller))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), startRequest(core.SessionKindDocument)))
	if outcome.Kind != core.OutcomeKindFailure {
		t.Fatalf("expected failure outcome, got %+v", outcome)
	}
	var richErr *goerrors.Error
	if !goerrors.As(outcome.Err, &richErr) {
		t.Fatalf("expected classified error, got %v", outcome.Err)
	}
	if richErr.TextCode != core.ErrorCaptureRejected {
		t.Fatalf("expected %s, got %s", core.ErrorCaptureRejected, richErr.TextCode)
	}
	if richErr.Message != string(core.FeedbackBlurryImage) {
		t.Fatalf("expected feedback reason surfaced, got %q", richErr.Message)
	}
	if poller.calls != 0 {
		t.Fatalf("polling must not run after terminal rejection, ran %d times", poller.calls)
	}
	if capture.calls != 1 {
		t.Fatalf("expected a single capture attempt, got %d", capture.calls)
	}
}

func TestCancel_MidPollDeliversCancelledAndStopsFetching(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{ID: "v4", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	orchestrator := newOrchestrator(t, gateway, capture,
		WithPoller(poll.New(poll.WithSleeper(func(ctx context.Context, _ time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		}))),
	)

	outcomes := orchestrator.Start(context.Background(), startRequest(core.SessionKindFace))

	// Wait until the first status fetch happened, then cancel mid-sleep.
	deadline := time.Now().Add(2 * time.Second)
	for {
		gateway.mu.Lock()
		fetched := gateway.statusCalls
		gateway.mu.Unlock()
		if fetched >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first status fetch never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	orchestrator.Cancel()

	outcome := waitOutcome(t, outcomes)
	if outcome.Kind != core.OutcomeKindCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", outcome)
	}

	gateway.mu.Lock()
	fetchesAtCancel := gateway.statusCalls
	gateway.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	gateway.mu.Lock()
	fetchesAfter := gateway.statusCalls
	gateway.mu.Unlock()
	if fetchesAfter != fetchesAtCancel {
		t.Fatalf("no network calls may follow cancellation: %d -> %d", fetchesAtCancel, fetchesAfter)
	}
	if orchestrator.State() != core.FlowStateCancelled {
		t.Fatalf("expected cancelled state, got %s", orchestrator.State())
	}
}

func TestCancel_BeforeStartPreventsAnyNetworkActivity(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{ID: "v8", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	poller := &scriptedPoller{status: core.SessionStatus{Status: core.StatusSuccess}}
	orchestrator := newOrchestrator(t, gateway, capture, WithPoller(poller))

	orchestrator.Cancel()

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), startRequest(core.SessionKindFace)))
	if outcome.Kind != core.OutcomeKindCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", outcome)
	}
	// A dead flow must never run: no resolves, uploads, polls after cancel.
	time.Sleep(20 * time.Millisecond)
	if calls := gateway.callLog(); len(calls) != 0 {
		t.Fatalf("network calls happened after cancellation: %v", calls)
	}
	if capture.calls != 0 {
		t.Fatalf("capture ran after cancellation, %d calls", capture.calls)
	}
	if poller.calls != 0 {
		t.Fatalf("polling ran after cancellation, %d runs", poller.calls)
	}
	if orchestrator.State() != core.FlowStateCancelled {
		t.Fatalf("expected cancelled state, got %s", orchestrator.State())
	}
}

func TestDeliver_RaceBetweenCompletionAndCancelYieldsOneOutcome(t *testing.T) {
	gateway := &fakeGateway{
		session:  core.Session{ID: "v5", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
		statuses: []core.SessionStatus{{Status: core.StatusSuccess}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	orchestrator := newOrchestrator(t, gateway, capture,
		WithPoller(poll.New(poll.WithSleeper(instantSleep))),
	)

	outcomes := orchestrator.Start(context.Background(), startRequest(core.SessionKindFace))
	first := waitOutcome(t, outcomes)

	// A cancellation arriving after delivery must be dropped silently.
	orchestrator.Cancel()
	orchestrator.Cancel()

	if first.Kind != core.OutcomeKindSuccess {
		t.Fatalf("expected the completed outcome to win, got %+v", first)
	}
	if extra, open := <-outcomes; open {
		t.Fatalf("expected closed channel after single delivery, got %+v", extra)
	}
}

func TestRun_EnrollmentPrecedesSessionCreation(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{ID: "v6", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	poller := &scriptedPoller{status: core.SessionStatus{Status: core.StatusSuccess}}
	orchestrator := newOrchestrator(t, gateway, capture, WithPoller(poller))

	req := startRequest(core.SessionKindFace)
	req.ReferenceFace = &core.MediaArtifact{Bytes: []byte("reference"), ContentType: "image/png"}

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), req))
	if outcome.Kind != core.OutcomeKindSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}

	calls := gateway.callLog()
	if len(calls) < 2 || calls[0] != "enroll" || calls[1] != "create" {
		t.Fatalf("enrollment must precede session creation, got %v", calls)
	}
}

func TestRun_EnrollmentFailureAbortsFlow(t *testing.T) {
	gateway := &fakeGateway{
		enrollErr: core.NewAPIError("enrollment rejected", 422, ""),
	}
	capture := &scriptedCapture{}
	poller := &scriptedPoller{}
	orchestrator := newOrchestrator(t, gateway, capture, WithPoller(poller))

	req := startRequest(core.SessionKindFace)
	req.ReferenceFace = &core.MediaArtifact{Bytes: []byte("reference"), ContentType: "image/png"}

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), req))
	if outcome.Kind != core.OutcomeKindFailure {
		t.Fatalf("expected failure outcome, got %+v", outcome)
	}
	for _, call := range gateway.callLog() {
		if call == "create" {
			t.Fatal("session creation must not run after enrollment failure")
		}
	}
}

func TestStart_InvalidRequestFailsImmediately(t *testing.T) {
	gateway := &fakeGateway{}
	orchestrator := newOrchestrator(t, gateway, &scriptedCapture{})

	outcome := waitOutcome(t, orchestrator.Start(context.Background(), core.StartVerificationRequest{
		RawCredential: "token",
		Kind:          core.SessionKind("voice"),
		AccountID:     "acct_1",
	}))
	if outcome.Kind != core.OutcomeKindFailure {
		t.Fatalf("expected failure for invalid kind, got %+v", outcome)
	}
	if len(gateway.callLog()) != 0 {
		t.Fatalf("no gateway calls expected, got %v", gateway.callLog())
	}
}

func TestStart_SecondCallReturnsSameChannel(t *testing.T) {
	gateway := &fakeGateway{
		session: core.Session{ID: "v7", UploadTargets: []core.UploadTarget{{URL: "https://u/front"}}},
	}
	capture := &scriptedCapture{results: []core.CaptureResult{acceptedCapture()}}
	poller := &scriptedPoller{status: core.SessionStatus{Status: core.StatusSuccess}}
	orchestrator := newOrchestrator(t, gateway, capture, WithPoller(poller))

	first := orchestrator.Start(context.Background(), startRequest(core.SessionKindFace))
	second := orchestrator.Start(context.Background(), startRequest(core.SessionKindFace))
	if first != second {
		t.Fatal("expected both Start calls to share one outcome channel")
	}
	if outcome := waitOutcome(t, first); outcome.Kind != core.OutcomeKindSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
}
