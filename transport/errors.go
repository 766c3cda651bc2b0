package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-verify/core"
)

func transportError(source error, message string, metadata map[string]any) error {
	err := core.NewTransportError(source, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func apiError(message string, statusCode int, textCode string, metadata map[string]any) error {
	err := core.NewAPIError(message, statusCode, textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func clientError(message string, textCode string, metadata map[string]any) error {
	err := core.NewClientError(message, textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapClientError(source error, message string, textCode string, metadata map[string]any) error {
	if source == nil {
		return clientError(message, textCode, metadata)
	}
	err := goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
