package store

import (
	"strings"
	"time"
)

type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusRunning   TestStatus = "running"
	StatusPaused    TestStatus = "paused"
	StatusCompleted TestStatus = "completed"
)

// CanTransition reports whether a test may move from one status to another.
// completed is terminal.
func CanTransition(from, to TestStatus) bool {
	switch from {
	case StatusDraft:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted
	case StatusPaused:
		return to == StatusRunning || to == StatusCompleted
	}
	return false
}

type TestType string

const (
	TypeHeadline TestType = "headline"
	TypeCTA      TestType = "cta"
	TypeImage    TestType = "image"
	TypeLayout   TestType = "layout"
	TypeFullPage TestType = "full-page"
)

func (t TestType) Valid() bool {
	switch t {
	case TypeHeadline, TypeCTA, TypeImage, TypeLayout, TypeFullPage:
		return true
	}
	return false
}

type Distribution string

const (
	DistributionManual    Distribution = "manual"
	DistributionAutoPilot Distribution = "auto-pilot"
)

type Goal string

const (
	GoalConversions  Goal = "conversions"
	GoalEngagement   Goal = "engagement"
	GoalClickThrough Goal = "click-through"
	GoalTimeOnPage   Goal = "time-on-page"
)

const (
	DefaultMinSampleSize   = 100
	DefaultConfidenceLevel = 0.95
)

type Test struct {
	ID               string
	ArticleID        string
	ArticleSlug      string
	Name             string
	Type             TestType
	Status           TestStatus
	Distribution     Distribution
	Goal             Goal
	MinSampleSize    int
	ConfidenceLevel  float64
	WinningVariantID *string
	StartedAt        *time.Time
	EndedAt          *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ContentKind string

const (
	ContentTemplate  ContentKind = "template"
	ContentOverrides ContentKind = "overrides"
)

// VariantContent holds either a template reference with placeholder data
// or a flat map of field overrides, selected by Kind.
type VariantContent struct {
	Kind       ContentKind
	TemplateID string
	Data       map[string]string
	Changes    map[string]string
}

func TemplateContent(templateID string, data map[string]string) VariantContent {
	return VariantContent{Kind: ContentTemplate, TemplateID: templateID, Data: data}
}

func OverrideContent(changes map[string]string) VariantContent {
	return VariantContent{Kind: ContentOverrides, Changes: changes}
}

type Variant struct {
	ID               string
	TestID           string
	Name             string
	Description      string
	IsControl        bool
	TrafficPercent   float64
	Content          VariantContent
	IsSignificant    bool
	Views            int
	Clicks           int
	Conversions      int
	TotalTimeOnPage  float64
	ConversionRate   float64
	ClickThroughRate float64
	Position         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type EventType string

const (
	EventView       EventType = "view"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
	EventExit       EventType = "exit"
)

func (e EventType) Valid() bool {
	switch e {
	case EventView, EventClick, EventConversion, EventExit:
		return true
	}
	return false
}

type Event struct {
	ID        string
	TestID    string
	VariantID string
	SessionID string
	Type      EventType
	Payload   map[string]any
	Device    string
	// TimeOnPage is the dwell time in seconds carried by exit events.
	TimeOnPage float64
	CreatedAt  time.Time
}

type PlaceholderKind string

const (
	PlaceholderText PlaceholderKind = "text"
	PlaceholderHTML PlaceholderKind = "html"
	PlaceholderURL  PlaceholderKind = "url"
	PlaceholderCTA  PlaceholderKind = "cta"
)

type Placeholder struct {
	Name string          `json:"name"`
	Kind PlaceholderKind `json:"kind"`
}

type Template struct {
	ID           string
	Name         string
	Category     string
	Body         string
	Placeholders []Placeholder
	UsageCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlaceholderNames returns the declared placeholder names in order.
func (t *Template) PlaceholderNames() []string {
	names := make([]string, len(t.Placeholders))
	for i, p := range t.Placeholders {
		names[i] = p.Name
	}
	return names
}

// KindOf returns the declared kind of a placeholder, matched case-insensitively.
func (t *Template) KindOf(name string) (PlaceholderKind, bool) {
	for _, p := range t.Placeholders {
		if strings.EqualFold(p.Name, name) {
			return p.Kind, true
		}
	}
	return "", false
}

// TestFilter narrows ListTests. Zero values match everything.
type TestFilter struct {
	Status       TestStatus
	Distribution Distribution
	ArticleID    string
}
