package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/models"
)

const eventColumns = `seq, ts, actor_id, actor_email, action, target_type, target_id, target_name, from_folder_id, to_folder_id`

// Record appends an audit event and sets its Seq
func (tc *TiDBClient) Record(ctx context.Context, event *models.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "tidb.record_event",
		trace.WithAttributes(
			attribute.String("action", string(event.Action)),
			attribute.String("target_id", event.Target.ID),
		),
	)
	defer span.End()

	query := `INSERT INTO file_events (ts, actor_id, actor_email, action, target_type, target_id, target_name, from_folder_id, to_folder_id)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := tc.db.ExecContext(ctx, query,
		event.TS, event.Actor.ID, event.Actor.Email, string(event.Action),
		string(event.Target.Type), event.Target.ID, event.Target.Name,
		nullable(event.FromFolderID), nullable(event.ToFolderID),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read event sequence: %w", err)
	}
	event.Seq = seq
	return nil
}

// ListByTarget returns the newest events about one file or folder
func (tc *TiDBClient) ListByTarget(ctx context.Context, targetID string, limit int) ([]*models.AuditEvent, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_events_by_target",
		trace.WithAttributes(
			attribute.String("target_id", targetID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM file_events WHERE target_id = ? ORDER BY ts DESC, seq DESC LIMIT ?`
	return tc.listEvents(ctx, span, query, targetID, limit)
}

// ListByActor returns the newest events performed by one actor
func (tc *TiDBClient) ListByActor(ctx context.Context, email string, limit int) ([]*models.AuditEvent, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_events_by_actor",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM file_events WHERE actor_email = ? ORDER BY ts DESC, seq DESC LIMIT ?`
	return tc.listEvents(ctx, span, query, email, limit)
}

func (tc *TiDBClient) listEvents(ctx context.Context, span trace.Span, query, key string, limit int) ([]*models.AuditEvent, error) {
	rows, err := tc.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		var (
			e          models.AuditEvent
			action     string
			targetType string
			from, to   sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.TS, &e.Actor.ID, &e.Actor.Email, &action, &targetType,
			&e.Target.ID, &e.Target.Name, &from, &to); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Action = models.Action(action)
		e.Target.Type = models.TargetType(targetType)
		e.FromFolderID = fromNullString(from)
		e.ToFolderID = fromNullString(to)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	span.SetAttributes(attribute.Int("event_count", len(events)))
	return events, nil
}
