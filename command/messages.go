package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-verify/core"
)

const (
	TypeStartVerification  = "verify.command.start"
	TypeCancelVerification = "verify.command.cancel"
)

type StartVerificationMessage struct {
	Request core.StartVerificationRequest
}

func (StartVerificationMessage) Type() string { return TypeStartVerification }

func (m StartVerificationMessage) Validate() error {
	if strings.TrimSpace(m.Request.RawCredential) == "" {
		return fmt.Errorf("command: credential is required")
	}
	if !m.Request.Kind.IsValid() {
		return fmt.Errorf("command: invalid session kind %q", m.Request.Kind)
	}
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type CancelVerificationMessage struct {
	FlowID string
	Reason string
}

func (CancelVerificationMessage) Type() string { return TypeCancelVerification }

func (m CancelVerificationMessage) Validate() error {
	if strings.TrimSpace(m.FlowID) == "" {
		return fmt.Errorf("command: flow id is required")
	}
	return nil
}
