// Package publish serializes running tests into per-article JSON artifacts
// and uploads them to object storage.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/headline-goat/article-goat/internal/metrics"
	"github.com/headline-goat/article-goat/internal/store"
)

const (
	ArtifactName = "ab-tests.json"

	DefaultAttempts       = 4
	DefaultBackoff        = 250 * time.Millisecond
	DefaultAttemptTimeout = 10 * time.Second
)

// ErrPublish is returned when every upload attempt failed.
var ErrPublish = errors.New("artifact publish failed")

type Publisher struct {
	store          store.Store
	uploader       Uploader
	attempts       int
	backoff        time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
	locks          keyedMutex
}

type Option func(*Publisher)

// WithRetry sets the number of upload attempts and the initial backoff, which
// doubles after every failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if backoff >= 0 {
			p.backoff = backoff
		}
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.attemptTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

func NewPublisher(s store.Store, uploader Uploader, opts ...Option) *Publisher {
	p := &Publisher{
		store:          s,
		uploader:       uploader,
		attempts:       DefaultAttempts,
		backoff:        DefaultBackoff,
		attemptTimeout: DefaultAttemptTimeout,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ArtifactPath returns the object path of an article's artifact.
func ArtifactPath(slug string) string {
	return path.Join(slug, ArtifactName)
}

// Publish regenerates the artifact of the article that owns testID. The
// document lists every running test of that article with at least one
// variant; when none qualify an empty document is written so clients stop
// running stale experiments.
//
// At most one publish per article runs at a time.
func (p *Publisher) Publish(ctx context.Context, testID string) (ArtifactRef, error) {
	test, err := p.store.GetTest(ctx, testID)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to get test %s: %w", testID, err)
	}
	return p.PublishArticle(ctx, test.ArticleID, articleSlug(test))
}

// PublishArticle regenerates the artifact for an article.
func (p *Publisher) PublishArticle(ctx context.Context, articleID, slug string) (ArtifactRef, error) {
	start := time.Now()
	defer func() { metrics.PublishDuration.Observe(time.Since(start).Seconds()) }()

	unlock := p.locks.lock(slug)
	defer unlock()

	doc, err := p.build(ctx, articleID, slug)
	if err != nil {
		return ArtifactRef{}, err
	}
	content, err := json.Marshal(doc)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to marshal artifact: %w", err)
	}

	objectPath := ArtifactPath(slug)
	u, err := p.upload(ctx, objectPath, content)
	if err != nil {
		return ArtifactRef{}, err
	}

	p.logger.Info("artifact published",
		"article_id", articleID,
		"path", objectPath,
		"tests", len(doc.Tests),
		"version", doc.Version,
	)
	return ArtifactRef{
		Path:        objectPath,
		URL:         u,
		Version:     doc.Version,
		GeneratedAt: doc.GeneratedAt,
		Tests:       len(doc.Tests),
	}, nil
}

func (p *Publisher) build(ctx context.Context, articleID, slug string) (*Artifact, error) {
	now := p.now().UTC()
	doc := &Artifact{
		Tests:       []ArtifactTest{},
		GeneratedAt: now,
		ArticleID:   articleID,
		ArticleSlug: slug,
		Version:     now.UnixMilli(),
	}

	tests, err := p.store.ListTests(ctx, store.TestFilter{ArticleID: articleID, Status: store.StatusRunning})
	if err != nil {
		return nil, fmt.Errorf("failed to list running tests: %w", err)
	}

	templates := make(map[string]*store.Template)
	for _, t := range tests {
		if articleSlug(t) != slug {
			continue
		}
		variants, err := p.store.ListVariants(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list variants of test %s: %w", t.ID, err)
		}
		if len(variants) == 0 {
			continue
		}

		at := ArtifactTest{ID: t.ID, Name: t.Name, TestType: t.Type, Variants: make([]ArtifactVariant, 0, len(variants))}
		for _, v := range variants {
			var tmpl *store.Template
			if v.Content.Kind == store.ContentTemplate {
				if tmpl, err = p.template(ctx, templates, v.Content.TemplateID); err != nil {
					return nil, fmt.Errorf("variant %s: %w", v.ID, err)
				}
			}
			at.Variants = append(at.Variants, artifactVariant(v, tmpl))
		}
		doc.Tests = append(doc.Tests, at)
	}
	return doc, nil
}

func (p *Publisher) template(ctx context.Context, cache map[string]*store.Template, id string) (*store.Template, error) {
	if tmpl, ok := cache[id]; ok {
		return tmpl, nil
	}
	tmpl, err := p.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template %s: %w", id, err)
	}
	cache[id] = tmpl
	return tmpl, nil
}

func (p *Publisher) upload(ctx context.Context, objectPath string, content []byte) (string, error) {
	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		u, err := p.uploader.Upload(attemptCtx, objectPath, content, "application/json", true)
		cancel()
		if err == nil {
			metrics.PublishAttempts.WithLabelValues("success").Inc()
			return u, nil
		}
		lastErr = err

		if attempt == p.attempts {
			break
		}
		metrics.PublishAttempts.WithLabelValues("retry").Inc()
		p.logger.Warn("artifact upload failed, retrying",
			"path", objectPath,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		if err := sleepCtx(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}

	metrics.PublishAttempts.WithLabelValues("failure").Inc()
	return "", fmt.Errorf("%w: %s: %w", ErrPublish, objectPath, lastErr)
}

// CacheBustURL appends a v parameter that changes once per window so clients
// bypass intermediary caches without defeating them entirely.
func CacheBustURL(rawURL string, now time.Time, window time.Duration) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse artifact URL: %w", err)
	}
	if window <= 0 {
		window = time.Second
	}
	q := u.Query()
	q.Set("v", strconv.FormatInt(now.UnixNano()/int64(window), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func articleSlug(t *store.Test) string {
	switch {
	case t.ArticleSlug != "":
		return t.ArticleSlug
	case t.ArticleID != "":
		return t.ArticleID
	}
	return t.ID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
