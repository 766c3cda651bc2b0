package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-verify/core"
)

var (
	_ gocmd.Querier[ListFlowEventsMessage, []core.FlowEvent] = (*ListFlowEventsQuery)(nil)
	_ gocmd.Querier[GetFlowMessage, core.FlowHandle]         = (*GetFlowQuery)(nil)
)
