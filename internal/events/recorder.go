// Package events records experiment telemetry into the event log.
//
// Recording is best-effort: a failed durable write is logged and dropped,
// never surfaced to the render path that triggered it.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/article-goat/internal/assign"
	"github.com/headline-goat/article-goat/internal/metrics"
	"github.com/headline-goat/article-goat/internal/store"
)

var (
	ErrInvalidEvent = errors.New("invalid event")
)

// maxTimeOnPage caps a single exit event's dwell time in seconds.
const maxTimeOnPage = 4 * 60 * 60

type Recorder struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Recorder)

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(s store.Store, opts ...Option) *Recorder {
	r := &Recorder{store: s, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Input is one tracking call from a client.
type Input struct {
	Context   assign.ExperimentContext
	Type      store.EventType
	Payload   map[string]any
	UserAgent string
}

// Record appends the event and updates the variant counters. It returns an
// error only for malformed input, a variant that is not part of the test, or
// a test that is not taking events (draft or completed). Other storage
// failures are logged and counted as dropped.
func (r *Recorder) Record(ctx context.Context, in Input) error {
	ec := in.Context
	if ec.TestID == "" || ec.VariantID == "" || ec.SessionID == "" {
		return fmt.Errorf("%w: test, variant and session are required", ErrInvalidEvent)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, in.Type)
	}

	e := &store.Event{
		ID:        uuid.NewString(),
		TestID:    ec.TestID,
		VariantID: ec.VariantID,
		SessionID: ec.SessionID,
		Type:      in.Type,
		Payload:   in.Payload,
		Device:    deviceFrom(in.Payload, in.UserAgent),
		CreatedAt: r.now(),
	}
	if in.Type == store.EventExit {
		e.TimeOnPage = timeOnPage(in.Payload)
	}

	err := r.store.RecordEvent(ctx, e)
	switch {
	case err == nil:
		metrics.EventsRecorded.WithLabelValues(string(in.Type)).Inc()
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("variant %s in test %s: %w", ec.VariantID, ec.TestID, err)
	case errors.Is(err, store.ErrConflict):
		return err
	default:
		metrics.EventsDropped.WithLabelValues(string(in.Type)).Inc()
		r.logger.Error("dropping event after storage failure",
			"test_id", ec.TestID,
			"variant_id", ec.VariantID,
			"event_type", in.Type,
			"error", err,
		)
		return nil
	}
}

// Rebuild recomputes a test's counters from its event log.
func (r *Recorder) Rebuild(ctx context.Context, testID string) error {
	if err := r.store.RebuildCounters(ctx, testID); err != nil {
		return fmt.Errorf("failed to rebuild counters for test %s: %w", testID, err)
	}
	r.logger.Info("counters rebuilt from event log", "test_id", testID)
	return nil
}

func deviceFrom(payload map[string]any, userAgent string) string {
	if d, ok := payload["device"].(string); ok && d != "" {
		return d
	}
	return DeviceClass(userAgent)
}

// timeOnPage reads the dwell time in seconds from an exit payload.
func timeOnPage(payload map[string]any) float64 {
	var secs float64
	switch v := payload["timeOnPage"].(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	}
	if math.IsNaN(secs) || secs < 0 {
		return 0
	}
	return math.Min(secs, maxTimeOnPage)
}
