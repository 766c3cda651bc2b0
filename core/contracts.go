package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CreateSessionRequest carries the parameters for one server-side
// verification session. Fields map onto the form-encoded create call.
type CreateSessionRequest struct {
	Kind           SessionKind
	AccountID      string
	Country        string
	DocumentType   string
	Threshold      float64
	Timeout        time.Duration
	Subvalidations []string
	MaxRetries     int
}

// SessionStatus is one status fetch result. Confidence is only present once
// the server has produced a verdict with comparison metrics.
type SessionStatus struct {
	Status     Status
	Confidence *float64
}

type MediaArtifact struct {
	Bytes       []byte
	ContentType string
}

// Gateway is the remote verification API consumed by this module. All
// operations are request/response; implementations classify their own
// failures before returning them.
type Gateway interface {
	CreateSession(ctx context.Context, cred Credential, req CreateSessionRequest) (Session, error)
	GetSessionStatus(ctx context.Context, cred Credential, sessionID string) (SessionStatus, error)
	ExchangeCredential(ctx context.Context, generatorToken string) (string, error)
	UploadMedia(ctx context.Context, target UploadTarget, media MediaArtifact) error
	EnrollFace(ctx context.Context, cred Credential, accountID string, media MediaArtifact) error
}

// CaptureResult is what the capture collaborator reports per attempt: either
// a media artifact ready for upload, or a quality rejection.
type CaptureResult struct {
	Artifact *MediaArtifact
	Rejected bool
	Reason   FeedbackReason
}

// CaptureProvider produces captured media or a quality-rejection signal. The
// on-device capture and detection pipeline lives behind this contract.
type CaptureProvider interface {
	Capture(ctx context.Context, kind SessionKind) (CaptureResult, error)
}

// FlowEvent records one orchestrator state transition for diagnostics.
type FlowEvent struct {
	ID         string
	FlowID     string
	SessionID  string
	State      string
	Detail     string
	OccurredAt time.Time
}

type EventSink interface {
	Record(ctx context.Context, event FlowEvent) error
}

// StartVerificationRequest is the caller-facing input for one flow.
type StartVerificationRequest struct {
	RawCredential string
	Kind          SessionKind
	AccountID     string
	// ReferenceFace, when set for face sessions, is enrolled before the
	// session is created so the server can run a personalized comparison.
	ReferenceFace *MediaArtifact
}

// FlowHandle is the caller-facing surface of one running flow. Outcome
// yields exactly one value; Cancel is idempotent.
type FlowHandle interface {
	ID() string
	Outcome() <-chan Outcome
	Cancel()
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
