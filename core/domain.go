package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSessionKind         = errors.New("core: invalid session kind")
	ErrInvalidFlowStateTransition = errors.New("core: invalid flow state transition")
)

type SessionKind string

const (
	SessionKindFace     SessionKind = "face"
	SessionKindDocument SessionKind = "document"
)

func (k SessionKind) IsValid() bool {
	switch k {
	case SessionKindFace, SessionKindDocument:
		return true
	default:
		return false
	}
}

func ParseSessionKind(value string) (SessionKind, error) {
	kind := SessionKind(strings.TrimSpace(strings.ToLower(value)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionKind, value)
	}
	return kind, nil
}

// Status is the server-reported state of a verification session. Anything
// other than pending is terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return strings.TrimSpace(string(s)) != "" && s != StatusPending
}

func (s Status) Declined() bool {
	switch s {
	case StatusFailed, Status("failure"):
		return true
	default:
		return false
	}
}

type CredentialKind string

const (
	CredentialKindSDK       CredentialKind = "sdk"
	CredentialKindGenerator CredentialKind = "generator"
)

// Credential is the bearer token used against the verification API.
// Immutable once resolved.
type Credential struct {
	Token     string
	Kind      CredentialKind
	ExpiresAt time.Time
}

type UploadTarget struct {
	URL string
}

// Session identifies one verification attempt tracked server-side. Owned and
// mutated exclusively by the orchestrator that created it.
type Session struct {
	ID               string
	Kind             SessionKind
	AccountID        string
	UploadTargets    []UploadTarget
	RetriesRemaining int
}

type FeedbackReason string

const (
	FeedbackBlurryImage      FeedbackReason = "blurry_image"
	FeedbackGlare            FeedbackReason = "glare"
	FeedbackDocumentNotFound FeedbackReason = "document_not_found"
	FeedbackFaceNotFound     FeedbackReason = "face_not_found"
	FeedbackLowLight         FeedbackReason = "low_light"
)

func (r FeedbackReason) IsValid() bool {
	switch r {
	case FeedbackBlurryImage, FeedbackGlare, FeedbackDocumentNotFound, FeedbackFaceNotFound, FeedbackLowLight:
		return true
	default:
		return false
	}
}

// PollSchedule returns the fixed backoff schedule consumed left to right by
// the result poller. Each entry is the wait between consecutive status
// fetches; no entry is consumed more than once per poll run.
func PollSchedule() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
		10 * time.Second,
		12 * time.Second,
	}
}

// DocumentWarmupDelay is the schedule-independent lead time before the first
// status fetch for document sessions. The server needs processing headroom
// before the first query has any chance of returning a verdict.
const DocumentWarmupDelay = 1 * time.Second

type FlowState string

const (
	FlowStateCreated           FlowState = "created"
	FlowStateEnrollmentPending FlowState = "enrollment_pending"
	FlowStateCapturePending    FlowState = "capture_pending"
	FlowStateFeedbackRetry     FlowState = "feedback_retry"
	FlowStatePolling           FlowState = "polling"
	FlowStateCompleted         FlowState = "completed"
	FlowStateFailed            FlowState = "failed"
	FlowStateCancelled         FlowState = "cancelled"
)

func (s FlowState) Terminal() bool {
	switch s {
	case FlowStateCompleted, FlowStateFailed, FlowStateCancelled:
		return true
	default:
		return false
	}
}

func (s FlowState) CanTransitionTo(next FlowState) bool {
	if s.Terminal() {
		return false
	}
	if next == FlowStateCancelled || next == FlowStateFailed {
		return true
	}
	switch s {
	case FlowStateCreated:
		return next == FlowStateEnrollmentPending || next == FlowStateCapturePending
	case FlowStateEnrollmentPending:
		return next == FlowStateCapturePending
	case FlowStateCapturePending:
		return next == FlowStateFeedbackRetry || next == FlowStatePolling
	case FlowStateFeedbackRetry:
		return next == FlowStateCapturePending || next == FlowStatePolling
	case FlowStatePolling:
		return next == FlowStateCompleted
	default:
		return false
	}
}

func ValidateFlowTransition(from FlowState, to FlowState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidFlowStateTransition, from, to)
	}
	return nil
}

type OutcomeKind string

const (
	OutcomeKindSuccess   OutcomeKind = "success"
	OutcomeKindFailure   OutcomeKind = "failure"
	OutcomeKindCancelled OutcomeKind = "cancelled"
)

// Outcome is the single terminal result delivered at most once per flow.
type Outcome struct {
	Kind       OutcomeKind
	SessionID  string
	Confidence *float64
	Err        error
}

func SuccessOutcome(sessionID string, confidence *float64) Outcome {
	return Outcome{
		Kind:       OutcomeKindSuccess,
		SessionID:  strings.TrimSpace(sessionID),
		Confidence: confidence,
	}
}

func FailureOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeKindFailure, Err: Classify(err)}
}

func CancelledOutcome() Outcome {
	return Outcome{Kind: OutcomeKindCancelled}
}
