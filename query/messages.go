package query

import (
	"fmt"
	"strings"
)

const (
	TypeListFlowEvents = "verify.query.flow_events.list"
	TypeGetFlow        = "verify.query.flow.get"
)

type ListFlowEventsMessage struct {
	FlowID string
}

func (ListFlowEventsMessage) Type() string { return TypeListFlowEvents }

func (m ListFlowEventsMessage) Validate() error {
	if strings.TrimSpace(m.FlowID) == "" {
		return fmt.Errorf("query: flow id is required")
	}
	return nil
}

type GetFlowMessage struct {
	FlowID string
}

func (GetFlowMessage) Type() string { return TypeGetFlow }

func (m GetFlowMessage) Validate() error {
	if strings.TrimSpace(m.FlowID) == "" {
		return fmt.Errorf("query: flow id is required")
	}
	return nil
}
