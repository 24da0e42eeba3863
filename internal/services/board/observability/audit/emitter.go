package audit

import (
	"context"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// Severity describes the audit severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Emitter appends audit events to the telemetry store.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter wires an emitter to the store. A nil store yields a no-op
// emitter so callers never guard their Emit calls.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records one event, stamping the current time when the caller left the
// timestamp unset.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	return e.store.AppendTelemetryEvent(ctx, e.stamped(evt))
}

func (e *Emitter) stamped(evt storage.TelemetryEvent) storage.TelemetryEvent {
	if !evt.Timestamp.IsZero() {
		return evt
	}
	now := time.Now
	if e.clock != nil {
		now = e.clock
	}
	evt.Timestamp = now().UTC()
	return evt
}
