package server

import (
	"time"

	"github.com/headline-goat/article-goat/internal/stats"
	"github.com/headline-goat/article-goat/internal/store"
)

type testResponse struct {
	ID               string             `json:"id"`
	ArticleID        string             `json:"articleId"`
	ArticleSlug      string             `json:"articleSlug"`
	Name             string             `json:"name"`
	TestType         store.TestType     `json:"testType"`
	Status           store.TestStatus   `json:"status"`
	Distribution     store.Distribution `json:"distribution"`
	Goal             store.Goal         `json:"goal"`
	MinSampleSize    int                `json:"minSampleSize"`
	ConfidenceLevel  float64            `json:"confidenceLevel"`
	WinningVariantID *string            `json:"winningVariantId,omitempty"`
	StartedAt        *time.Time         `json:"startedAt,omitempty"`
	EndedAt          *time.Time         `json:"endedAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	Variants         []variantResponse  `json:"variants,omitempty"`
}

type variantResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	IsControl        bool              `json:"isControl"`
	TrafficPercent   float64           `json:"trafficPercent"`
	TemplateID       string            `json:"templateId,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	Changes          map[string]string `json:"changes,omitempty"`
	IsSignificant    bool              `json:"isSignificant"`
	Views            int               `json:"views"`
	Clicks           int               `json:"clicks"`
	Conversions      int               `json:"conversions"`
	ConversionRate   float64           `json:"conversionRate"`
	ClickThroughRate float64           `json:"clickThroughRate"`
}

func toTestResponse(t *store.Test, variants []*store.Variant) testResponse {
	resp := testResponse{
		ID:               t.ID,
		ArticleID:        t.ArticleID,
		ArticleSlug:      t.ArticleSlug,
		Name:             t.Name,
		TestType:         t.Type,
		Status:           t.Status,
		Distribution:     t.Distribution,
		Goal:             t.Goal,
		MinSampleSize:    t.MinSampleSize,
		ConfidenceLevel:  t.ConfidenceLevel,
		WinningVariantID: t.WinningVariantID,
		StartedAt:        t.StartedAt,
		EndedAt:          t.EndedAt,
		CreatedAt:        t.CreatedAt,
	}
	for _, v := range variants {
		resp.Variants = append(resp.Variants, toVariantResponse(v))
	}
	return resp
}

func toVariantResponse(v *store.Variant) variantResponse {
	return variantResponse{
		ID:               v.ID,
		Name:             v.Name,
		Description:      v.Description,
		IsControl:        v.IsControl,
		TrafficPercent:   v.TrafficPercent,
		TemplateID:       v.Content.TemplateID,
		Data:             v.Content.Data,
		Changes:          v.Content.Changes,
		IsSignificant:    v.IsSignificant,
		Views:            v.Views,
		Clicks:           v.Clicks,
		Conversions:      v.Conversions,
		ConversionRate:   v.ConversionRate,
		ClickThroughRate: v.ClickThroughRate,
	}
}

type resultsResponse struct {
	TestID           string                  `json:"testId"`
	Confidence       float64                 `json:"confidence"`
	Confident        bool                    `json:"confident"`
	LeadingVariantID string                  `json:"leadingVariantId"`
	Variants         []variantResultResponse `json:"variants"`
}

type variantResultResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	IsControl        bool    `json:"isControl"`
	TrafficPercent   float64 `json:"trafficPercent"`
	Views            int     `json:"views"`
	Clicks           int     `json:"clicks"`
	Conversions      int     `json:"conversions"`
	ConversionRate   float64 `json:"conversionRate"`
	ClickThroughRate float64 `json:"clickThroughRate"`
	CILower          float64 `json:"ciLower"`
	CIUpper          float64 `json:"ciUpper"`
	PValue           float64 `json:"pValue,omitempty"`
	Significant      bool    `json:"significant"`
}

func toResultsResponse(testID string, res *stats.Result) resultsResponse {
	resp := resultsResponse{
		TestID:           testID,
		Confidence:       res.Confidence,
		Confident:        res.Confident,
		LeadingVariantID: res.LeadingVariantID,
		Variants:         make([]variantResultResponse, len(res.Variants)),
	}
	for i, v := range res.Variants {
		resp.Variants[i] = variantResultResponse{
			ID:               v.ID,
			Name:             v.Name,
			IsControl:        v.IsControl,
			TrafficPercent:   v.TrafficPercent,
			Views:            v.Views,
			Clicks:           v.Clicks,
			Conversions:      v.Conversions,
			ConversionRate:   v.Rate,
			ClickThroughRate: v.ClickThroughRate,
			CILower:          v.CILower,
			CIUpper:          v.CIUpper,
			PValue:           v.PValue,
			Significant:      v.Significant,
		}
	}
	return resp
}

// variantRequest is the wire form of a variant definition. A templateId
// selects template-based content; otherwise changes are field overrides.
type variantRequest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	TemplateID     string            `json:"templateId"`
	Data           map[string]string `json:"data"`
	Changes        map[string]string `json:"changes"`
	TrafficPercent float64           `json:"trafficPercent"`
}

func (v variantRequest) content() store.VariantContent {
	if v.TemplateID != "" {
		return store.TemplateContent(v.TemplateID, v.Data)
	}
	return store.OverrideContent(v.Changes)
}

type createTestRequest struct {
	ArticleID       string             `json:"articleId"`
	ArticleSlug     string             `json:"articleSlug"`
	Name            string             `json:"name"`
	TestType        store.TestType     `json:"testType"`
	Distribution    store.Distribution `json:"distribution"`
	Goal            store.Goal         `json:"goal"`
	MinSampleSize   int                `json:"minSampleSize"`
	ConfidenceLevel float64            `json:"confidenceLevel"`
	Control         variantRequest     `json:"control"`
}

type updateVariantRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	TemplateID  *string           `json:"templateId"`
	Data        map[string]string `json:"data"`
	Changes     map[string]string `json:"changes"`
}

type trafficRequest struct {
	Traffic map[string]float64 `json:"traffic"`
}

type completeRequest struct {
	WinnerID *string `json:"winnerId"`
}

type templateRequest struct {
	Name     string                           `json:"name"`
	Category string                           `json:"category"`
	Body     string                           `json:"body"`
	Kinds    map[string]store.PlaceholderKind `json:"kinds"`
}

type templateResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Category     string              `json:"category,omitempty"`
	Body         string              `json:"body"`
	Placeholders []store.Placeholder `json:"placeholders"`
	UsageCount   int                 `json:"usageCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func toTemplateResponse(t *store.Template) templateResponse {
	placeholders := t.Placeholders
	if placeholders == nil {
		placeholders = []store.Placeholder{}
	}
	return templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Category:     t.Category,
		Body:         t.Body,
		Placeholders: placeholders,
		UsageCount:   t.UsageCount,
		CreatedAt:    t.CreatedAt,
	}
}

type eventRequest struct {
	EventType string         `json:"eventType"`
	VariantID string         `json:"variantId"`
	SessionID string         `json:"sessionId"`
	EventData map[string]any `json:"eventData"`
}
