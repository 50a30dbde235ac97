package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Test operations
	CreateTest(ctx context.Context, test *Test) error
	GetTest(ctx context.Context, id string) (*Test, error)
	ListTests(ctx context.Context, filter TestFilter) ([]*Test, error)
	UpdateTest(ctx context.Context, test *Test) error
	// TransitionTest is a compare-and-set on the status: it applies
	// test.Status only if the stored status is still from.
	TransitionTest(ctx context.Context, test *Test, from TestStatus) error
	ApplyReallocation(ctx context.Context, testID, winnerID string, traffic map[string]float64) error
	DeleteTest(ctx context.Context, id string) error

	// Variant operations
	CreateVariant(ctx context.Context, variant *Variant) error
	GetVariant(ctx context.Context, id string) (*Variant, error)
	// ListVariants returns a single point-in-time read of a test's variants,
	// control first, then by position.
	ListVariants(ctx context.Context, testID string) ([]*Variant, error)
	UpdateVariant(ctx context.Context, variant *Variant) error
	AddVariant(ctx context.Context, variant *Variant, traffic map[string]float64) error
	RemoveVariant(ctx context.Context, testID, variantID string, traffic map[string]float64) error
	SetTraffic(ctx context.Context, testID string, traffic map[string]float64) error
	SetSignificance(ctx context.Context, variantID string, significant bool) error

	// Template operations
	CreateTemplate(ctx context.Context, tmpl *Template) error
	GetTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	IncrementTemplateUsage(ctx context.Context, id string) error

	// Event operations
	RecordEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, testID string) ([]*Event, error)
	RebuildCounters(ctx context.Context, testID string) error

	// Lifecycle
	Close() error
}
