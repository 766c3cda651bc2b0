package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-verify/core"
)

type FlowService interface {
	StartVerification(ctx context.Context, req core.StartVerificationRequest) (core.FlowHandle, error)
	CancelVerification(ctx context.Context, flowID string) error
}

type StartVerificationCommand struct {
	service FlowService
}

func NewStartVerificationCommand(service FlowService) *StartVerificationCommand {
	return &StartVerificationCommand{service: service}
}

func (c *StartVerificationCommand) Execute(ctx context.Context, msg StartVerificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: verification service is required")
	}
	handle, err := c.service.StartVerification(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, handle)
	return nil
}

type CancelVerificationCommand struct {
	service FlowService
}

func NewCancelVerificationCommand(service FlowService) *CancelVerificationCommand {
	return &CancelVerificationCommand{service: service}
}

func (c *CancelVerificationCommand) Execute(ctx context.Context, msg CancelVerificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: verification service is required")
	}
	return c.service.CancelVerification(ctx, msg.FlowID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
