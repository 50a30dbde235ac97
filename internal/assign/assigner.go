package assign

import (
	"context"
	"errors"
	"log/slog"

	"github.com/headline-goat/article-goat/internal/metrics"
	"github.com/headline-goat/article-goat/internal/store"
)

var ErrNoVariants = errors.New("test has no variants")

// ExperimentContext identifies one session's exposure to one variant. It is
// returned by assignment and passed explicitly to every tracking call.
type ExperimentContext struct {
	TestID    string `json:"testId"`
	VariantID string `json:"variantId"`
	SessionID string `json:"sessionId"`
}

type Source string

const (
	SourceHashed   Source = "hashed"
	SourceStored   Source = "stored"
	SourceFallback Source = "fallback"
)

type Assignment struct {
	ExperimentContext
	Variant *store.Variant
	Source  Source
}

type Assigner struct {
	sessions SessionStore
	logger   *slog.Logger
}

type Option func(*Assigner)

func WithLogger(l *slog.Logger) Option {
	return func(a *Assigner) { a.logger = l }
}

func NewAssigner(sessions SessionStore, opts ...Option) *Assigner {
	a := &Assigner{sessions: sessions, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assign returns the session's variant for a test. A stored assignment always
// wins over hashing. If the stored variant is no longer part of the test the
// control is served and the stored value is left untouched.
func (a *Assigner) Assign(ctx context.Context, sessionID, testID string, variants []*store.Variant) (Assignment, error) {
	if len(variants) == 0 {
		return Assignment{}, ErrNoVariants
	}
	key := SessionKey(testID)

	stored, ok, err := a.sessions.Get(ctx, sessionID, key)
	if err != nil {
		a.logger.Warn("session lookup failed, assigning without stickiness",
			"test_id", testID, "session_id", sessionID, "error", err)
	}
	if ok {
		for _, v := range variants {
			if v.ID == stored {
				return a.result(testID, sessionID, v, SourceStored), nil
			}
		}
		return a.result(testID, sessionID, Control(variants), SourceFallback), nil
	}

	v := Pick(variants, Draw(sessionID, testID))
	if err == nil {
		if err := a.sessions.Set(ctx, sessionID, key, v.ID); err != nil {
			a.logger.Warn("failed to persist assignment",
				"test_id", testID, "session_id", sessionID, "error", err)
		}
	}
	return a.result(testID, sessionID, v, SourceHashed), nil
}

func (a *Assigner) result(testID, sessionID string, v *store.Variant, src Source) Assignment {
	metrics.Assignments.WithLabelValues(string(src)).Inc()
	return Assignment{
		ExperimentContext: ExperimentContext{TestID: testID, VariantID: v.ID, SessionID: sessionID},
		Variant:           v,
		Source:            src,
	}
}
