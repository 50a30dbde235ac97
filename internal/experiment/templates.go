package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/headline-goat/article-goat/internal/render"
	"github.com/headline-goat/article-goat/internal/store"
)

type TemplateInput struct {
	Name     string
	Category string
	Body     string
	// Kinds overrides the kind of individual placeholders. Unlisted
	// placeholders are text, or cta when the name marks a call-to-action URL.
	Kinds map[string]store.PlaceholderKind
}

// CreateTemplate stores a template with the placeholders found in its body.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*store.Template, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid(RuleRequired, "template name is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, invalid(RuleRequired, "template body is required")
	}

	kinds := make(map[string]store.PlaceholderKind, len(in.Kinds))
	for name, kind := range in.Kinds {
		switch kind {
		case store.PlaceholderText, store.PlaceholderHTML, store.PlaceholderURL, store.PlaceholderCTA:
		default:
			return nil, invalid(RuleInvalidValue, "placeholder %s has unknown kind %q", name, kind)
		}
		kinds[strings.ToLower(name)] = kind
	}

	names := render.ExtractPlaceholders(in.Body)
	placeholders := make([]store.Placeholder, 0, len(names))
	for _, name := range names {
		kind, ok := kinds[strings.ToLower(name)]
		if !ok {
			kind = defaultKind(name)
		}
		placeholders = append(placeholders, store.Placeholder{Name: name, Kind: kind})
	}

	tmpl := &store.Template{
		ID:           s.newID(),
		Name:         in.Name,
		Category:     in.Category,
		Body:         in.Body,
		Placeholders: placeholders,
	}
	if err := s.store.CreateTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tmpl, nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*store.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context) ([]*store.Template, error) {
	return s.store.ListTemplates(ctx)
}

func defaultKind(name string) store.PlaceholderKind {
	switch strings.ToLower(name) {
	case "cta_url", "ctaurl", "cta_link", "button_url":
		return store.PlaceholderCTA
	}
	return store.PlaceholderText
}

// checkContent validates a variant's content and that a referenced template
// exists.
func (s *Service) checkContent(ctx context.Context, c store.VariantContent) error {
	switch c.Kind {
	case store.ContentOverrides:
		return nil
	case store.ContentTemplate:
		if c.TemplateID == "" {
			return invalid(RuleRequired, "template-based content needs a template id")
		}
		_, err := s.store.GetTemplate(ctx, c.TemplateID)
		if errors.Is(err, store.ErrNotFound) {
			return invalid(RuleInvalidValue, "template %s does not exist", c.TemplateID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up template: %w", err)
		}
		return nil
	}
	return invalid(RuleInvalidValue, "unknown content kind %q", c.Kind)
}

// normalizeContent treats content without a kind as empty overrides.
func normalizeContent(c store.VariantContent) store.VariantContent {
	if c.Kind == "" {
		c.Kind = store.ContentOverrides
	}
	return c
}

func (s *Service) countTemplateUse(ctx context.Context, c store.VariantContent) {
	if c.Kind != store.ContentTemplate {
		return
	}
	if err := s.store.IncrementTemplateUsage(ctx, c.TemplateID); err != nil {
		s.logger.Warn("failed to increment template usage", "template_id", c.TemplateID, "error", err)
	}
}
