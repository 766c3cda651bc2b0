package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-verify/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type flowEventRecord struct {
	bun.BaseModel `bun:"table:verification_flow_events,alias:vfe"`

	ID         string    `bun:"id,pk"`
	FlowID     string    `bun:"flow_id,notnull"`
	SessionID  string    `bun:"session_id"`
	State      string    `bun:"state,notnull"`
	Detail     string    `bun:"detail"`
	OccurredAt time.Time `bun:"occurred_at,nullzero,notnull,default:current_timestamp"`
}

func flowEventHandlers() repository.ModelHandlers[*flowEventRecord] {
	return repository.ModelHandlers[*flowEventRecord]{
		NewRecord: func() *flowEventRecord {
			return &flowEventRecord{}
		},
		GetID: func(record *flowEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *flowEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *flowEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

// Journal persists flow state transitions so completed and abandoned flows
// can be audited after the fact.
type Journal struct {
	db   *bun.DB
	repo repository.Repository[*flowEventRecord]
}

func NewJournal(db *bun.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("store: bun db is required")
	}
	repo := repository.NewRepository[*flowEventRecord](db, flowEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("store: invalid journal repository wiring: %w", err)
		}
	}
	return &Journal{db: db, repo: repo}, nil
}

// EnsureSchema creates the journal table when it does not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("store: journal is not configured")
	}
	_, err := j.db.NewCreateTable().
		Model((*flowEventRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (j *Journal) Record(ctx context.Context, event core.FlowEvent) error {
	if j == nil || j.repo == nil {
		return fmt.Errorf("store: journal is not configured")
	}
	if strings.TrimSpace(event.FlowID) == "" {
		return fmt.Errorf("store: flow id is required")
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = uuid.NewString()
	}
	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	record := &flowEventRecord{
		ID:         id,
		FlowID:     strings.TrimSpace(event.FlowID),
		SessionID:  strings.TrimSpace(event.SessionID),
		State:      strings.TrimSpace(event.State),
		Detail:     strings.TrimSpace(event.Detail),
		OccurredAt: occurredAt,
	}
	_, err := j.repo.Create(ctx, record)
	return err
}

// ListByFlow returns a flow's transitions in the order they happened.
func (j *Journal) ListByFlow(ctx context.Context, flowID string) ([]core.FlowEvent, error) {
	if j == nil || j.repo == nil {
		return nil, fmt.Errorf("store: journal is not configured")
	}
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return nil, fmt.Errorf("store: flow id is required")
	}

	records, _, err := j.repo.List(ctx,
		repository.SelectBy("flow_id", "=", flowID),
		repository.OrderBy("occurred_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	events := make([]core.FlowEvent, 0, len(records))
	for _, record := range records {
		events = append(events, flowEventToDomain(record))
	}
	return events, nil
}

func flowEventToDomain(record *flowEventRecord) core.FlowEvent {
	if record == nil {
		return core.FlowEvent{}
	}
	return core.FlowEvent{
		ID:         record.ID,
		FlowID:     record.FlowID,
		SessionID:  record.SessionID,
		State:      record.State,
		Detail:     record.Detail,
		OccurredAt: record.OccurredAt,
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

var _ core.EventSink = (*Journal)(nil)
