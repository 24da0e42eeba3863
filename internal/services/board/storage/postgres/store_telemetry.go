package postgres

import (
	"context"
	"fmt"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// AppendTelemetryEvent persists one operational telemetry record.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := storage.NormalizeTelemetryEvent(evt)
	if err != nil {
		return err
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO telemetry_events (ts, event_name, severity, user_id, request_id, attributes_json)
VALUES ($1, $2, $3, $4, $5, $6)
`,
		normalized.Timestamp,
		normalized.EventName,
		normalized.Severity,
		normalized.UserID,
		normalized.RequestID,
		string(normalized.AttributesJSON),
	); err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}
