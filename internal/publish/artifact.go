package publish

import (
	"time"

	"github.com/headline-goat/article-goat/internal/store"
)

// Artifact is the JSON document consumed by the client runtime.
type Artifact struct {
	Tests       []ArtifactTest `json:"tests"`
	GeneratedAt time.Time      `json:"generatedAt"`
	ArticleID   string         `json:"articleId"`
	ArticleSlug string         `json:"articleSlug"`
	Version     int64          `json:"version"`
}

type ArtifactTest struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	TestType store.TestType    `json:"testType"`
	Variants []ArtifactVariant `json:"variants"`
}

type ArtifactVariant struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	IsControl      bool              `json:"isControl"`
	TrafficPercent float64           `json:"trafficPercent"`
	Template       *ArtifactTemplate `json:"template,omitempty"`
	Data           map[string]string `json:"data"`
	Changes        map[string]string `json:"changes,omitempty"`
}

type ArtifactTemplate struct {
	ID           string              `json:"id"`
	Body         string              `json:"body"`
	Placeholders []store.Placeholder `json:"placeholders"`
}

// ArtifactRef identifies a published artifact.
type ArtifactRef struct {
	Path        string    `json:"path"`
	URL         string    `json:"url"`
	Version     int64     `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Tests       int       `json:"tests"`
}

func artifactVariant(v *store.Variant, tmpl *store.Template) ArtifactVariant {
	av := ArtifactVariant{
		ID:             v.ID,
		Name:           v.Name,
		IsControl:      v.IsControl,
		TrafficPercent: v.TrafficPercent,
		Data:           map[string]string{},
	}
	switch v.Content.Kind {
	case store.ContentTemplate:
		if v.Content.Data != nil {
			av.Data = v.Content.Data
		}
		if tmpl != nil {
			placeholders := tmpl.Placeholders
			if placeholders == nil {
				placeholders = []store.Placeholder{}
			}
			av.Template = &ArtifactTemplate{ID: tmpl.ID, Body: tmpl.Body, Placeholders: placeholders}
		}
	default:
		av.Changes = v.Content.Changes
	}
	return av
}
