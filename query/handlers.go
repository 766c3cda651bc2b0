package query

import (
	"context"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-verify/core"
)

// FlowEventReader exposes the journaled transitions of a flow. Satisfied by
// store.Journal.
type FlowEventReader interface {
	ListByFlow(ctx context.Context, flowID string) ([]core.FlowEvent, error)
}

// FlowReader resolves a still-running flow by id. Satisfied by verify.Service.
type FlowReader interface {
	Flow(flowID string) (core.FlowHandle, bool)
}

type ListFlowEventsQuery struct {
	reader FlowEventReader
}

func NewListFlowEventsQuery(reader FlowEventReader) *ListFlowEventsQuery {
	return &ListFlowEventsQuery{reader: reader}
}

func (q *ListFlowEventsQuery) Query(ctx context.Context, msg ListFlowEventsMessage) ([]core.FlowEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: flow event reader is required")
	}
	return q.reader.ListByFlow(ctx, msg.FlowID)
}

type GetFlowQuery struct {
	reader FlowReader
}

func NewGetFlowQuery(reader FlowReader) *GetFlowQuery {
	return &GetFlowQuery{reader: reader}
}

func (q *GetFlowQuery) Query(_ context.Context, msg GetFlowMessage) (core.FlowHandle, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: flow reader is required")
	}
	handle, ok := q.reader.Flow(msg.FlowID)
	if !ok {
		return nil, goerrors.New(
			fmt.Sprintf("query: flow %s not found", msg.FlowID),
			goerrors.CategoryNotFound,
		).WithCode(http.StatusNotFound)
	}
	return handle, nil
}
