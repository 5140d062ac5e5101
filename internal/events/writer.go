package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pfmt/internal/db"
)

// Event types.
const (
	SessionCreated     = "session.created"
	SessionStepUpdated = "session.step_updated"
	SessionAdvanced    = "session.advanced"
	SessionRetreated   = "session.retreated"
	SessionCompleted   = "session.completed"
	SessionCancelled   = "session.cancelled"
	ProjectCreated     = "project.created"
	ProjectInitiated   = "project.initiated"
	ProjectAssigned    = "project.assigned"
	ProjectFinalized   = "project.finalized"
	ProjectTransition  = "project.transitioned"
	VersionCreated     = "version.created"
	VersionSubmitted   = "version.submitted"
	VersionApproved    = "version.approved"
	VersionRejected    = "version.rejected"
)

type EventPayload map[string]any

// Event is a state transition recorded for audit and fanned out to
// in-process subscribers once its transaction commits.
type Event struct {
	ID         int64
	TS         time.Time
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Writer appends audit rows inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, q db.Querier, evt *Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	evt.TS = w.Now().UTC()
	if evt.Payload == nil {
		evt.Payload = EventPayload{}
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	err = q.QueryRowContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?) RETURNING id`,
		evt.TS.Format(time.RFC3339), evt.Type, evt.ProjectID, evt.EntityKind, evt.EntityID, evt.ActorID, string(data)).Scan(&evt.ID)
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return nil
}
