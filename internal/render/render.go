// Package render substitutes variant data into template bodies.
package render

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/headline-goat/article-goat/internal/store"
)

var (
	placeholderRE = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

	// ugc is safe for concurrent use once built.
	ugc = bluemonday.UGCPolicy()

	// ctaKeys are treated as call-to-action URLs even when the template does
	// not declare them.
	ctaKeys = map[string]bool{
		"cta_url":    true,
		"ctaurl":     true,
		"cta_link":   true,
		"button_url": true,
	}
)

var ErrTemplateMismatch = errors.New("variant references a different template")

type renderer struct {
	kinds      map[string]store.PlaceholderKind
	redirector *Redirector
	pageQuery  url.Values
	raw        bool
}

type Option func(*renderer)

// WithPlaceholders declares placeholder kinds. Names match case-insensitively.
func WithPlaceholders(placeholders []store.Placeholder) Option {
	return func(r *renderer) {
		for _, p := range placeholders {
			r.kinds[strings.ToLower(strings.TrimSpace(p.Name))] = p.Kind
		}
	}
}

// WithRedirector wraps CTA values through the outbound redirect, taking the
// attribution id from the current page query.
func WithRedirector(rd *Redirector, pageQuery url.Values) Option {
	return func(r *renderer) {
		r.redirector = rd
		r.pageQuery = pageQuery
	}
}

// Raw disables escaping and sanitizing. Only for trusted data.
func Raw() Option {
	return func(r *renderer) { r.raw = true }
}

// Render replaces every {{key}} in body whose key is present in data,
// matching keys case-insensitively. Placeholders without data are left as is.
//
// Values are HTML-escaped unless the placeholder is declared as html, in
// which case they are sanitized with a user-generated-content policy.
func Render(body string, data map[string]string, opts ...Option) string {
	r := &renderer{kinds: make(map[string]store.PlaceholderKind)}
	for _, opt := range opts {
		opt(r)
	}

	values := make(map[string]string, len(data))
	for k, v := range data {
		values[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return placeholderRE.ReplaceAllStringFunc(body, func(match string) string {
		key := strings.ToLower(strings.TrimSpace(match[2 : len(match)-2]))
		value, ok := values[key]
		if !ok {
			return match
		}
		return r.value(key, value)
	})
}

// RenderRaw substitutes values without escaping.
func RenderRaw(body string, data map[string]string) string {
	return Render(body, data, Raw())
}

func (r *renderer) kindOf(key string) store.PlaceholderKind {
	if kind, ok := r.kinds[key]; ok {
		return kind
	}
	if ctaKeys[key] {
		return store.PlaceholderCTA
	}
	return store.PlaceholderText
}

func (r *renderer) value(key, value string) string {
	kind := r.kindOf(key)

	if kind == store.PlaceholderCTA && r.redirector != nil {
		value = r.redirector.Wrap(value, r.pageQuery)
	}
	if r.raw {
		return value
	}

	switch kind {
	case store.PlaceholderHTML:
		return ugc.Sanitize(value)
	case store.PlaceholderURL, store.PlaceholderCTA:
		return html.EscapeString(safeURL(value))
	default:
		return html.EscapeString(value)
	}
}

// safeURL drops URLs with schemes other than http, https or mailto.
func safeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "#"
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return raw
	}
	return "#"
}

// ExtractPlaceholders returns the distinct placeholder names in body in order
// of first appearance. Duplicates differing only in case are collapsed.
func ExtractPlaceholders(body string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRE.FindAllStringSubmatch(body, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names
}

// Content is a rendered variant. Template-based variants produce HTML;
// override variants produce plain field values for the consumer to insert.
type Content struct {
	Kind   store.ContentKind `json:"kind"`
	HTML   string            `json:"html,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// RenderVariant renders v according to its content kind. tmpl is required for
// template-based variants and ignored otherwise. For overrides the changes are
// merged over base.
func RenderVariant(v *store.Variant, tmpl *store.Template, base map[string]string, opts ...Option) (Content, error) {
	switch v.Content.Kind {
	case store.ContentTemplate:
		if tmpl == nil || tmpl.ID != v.Content.TemplateID {
			return Content{}, fmt.Errorf("variant %s: %w", v.ID, ErrTemplateMismatch)
		}
		opts = append([]Option{WithPlaceholders(tmpl.Placeholders)}, opts...)
		return Content{
			Kind: store.ContentTemplate,
			HTML: Render(tmpl.Body, v.Content.Data, opts...),
		}, nil

	case store.ContentOverrides, "":
		r := &renderer{kinds: make(map[string]store.PlaceholderKind)}
		for _, opt := range opts {
			opt(r)
		}
		fields := make(map[string]string, len(base)+len(v.Content.Changes))
		for k, val := range base {
			fields[k] = val
		}
		for k, val := range v.Content.Changes {
			if r.redirector != nil && r.kindOf(strings.ToLower(k)) == store.PlaceholderCTA {
				val = r.redirector.Wrap(val, r.pageQuery)
			}
			fields[k] = val
		}
		return Content{Kind: store.ContentOverrides, Fields: fields}, nil
	}

	return Content{}, fmt.Errorf("variant %s: unknown content kind %q", v.ID, v.Content.Kind)
}
