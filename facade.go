package verify

import (
	"fmt"

	verifycommand "github.com/goliatone/go-verify/command"
	verifyquery "github.com/goliatone/go-verify/query"
)

type Commands struct {
	StartVerification  *verifycommand.StartVerificationCommand
	CancelVerification *verifycommand.CancelVerificationCommand
}

type Queries struct {
	ListFlowEvents *verifyquery.ListFlowEventsQuery
	GetFlow        *verifyquery.GetFlowQuery
}

// Facade wires the flow service into command and query handlers for callers
// that dispatch through a command bus instead of calling the service
// directly.
type Facade struct {
	service  verifycommand.FlowService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	eventReader verifyquery.FlowEventReader
	flowReader  verifyquery.FlowReader
}

// WithFlowEventReader supplies the journal backing the flow events query.
func WithFlowEventReader(reader verifyquery.FlowEventReader) FacadeOption {
	return func(options *facadeOptions) {
		options.eventReader = reader
	}
}

func WithFlowReader(reader verifyquery.FlowReader) FacadeOption {
	return func(options *facadeOptions) {
		options.flowReader = reader
	}
}

func NewFacade(service verifycommand.FlowService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("verify: flow service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	flowReader := cfg.flowReader
	if flowReader == nil {
		if reader, ok := service.(verifyquery.FlowReader); ok {
			flowReader = reader
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartVerification:  verifycommand.NewStartVerificationCommand(service),
		CancelVerification: verifycommand.NewCancelVerificationCommand(service),
	}
	facade.queries = Queries{
		ListFlowEvents: verifyquery.NewListFlowEventsQuery(cfg.eventReader),
		GetFlow:        verifyquery.NewGetFlowQuery(flowReader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() verifycommand.FlowService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ verifycommand.FlowService = (*Service)(nil)
