package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    article_id TEXT NOT NULL DEFAULT '',
    article_slug TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    test_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    distribution TEXT NOT NULL DEFAULT 'manual',
    goal TEXT NOT NULL DEFAULT 'conversions',
    min_sample_size INTEGER NOT NULL DEFAULT 100,
    confidence_level REAL NOT NULL DEFAULT 0.95,
    winning_variant_id TEXT,
    started_at INTEGER,
    ended_at INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);
CREATE INDEX IF NOT EXISTS idx_tests_article ON tests(article_id);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    is_control INTEGER NOT NULL DEFAULT 0,
    traffic_percent REAL NOT NULL DEFAULT 0,
    content_kind TEXT NOT NULL DEFAULT 'overrides',
    template_id TEXT,
    data TEXT,
    changes TEXT,
    is_significant INTEGER NOT NULL DEFAULT 0,
    views INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    total_time_on_page REAL NOT NULL DEFAULT 0,
    conversion_rate REAL NOT NULL DEFAULT 0,
    click_through_rate REAL NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_test ON variants(test_id);

CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    placeholders TEXT NOT NULL DEFAULT '[]',
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT,
    device TEXT NOT NULL DEFAULT '',
    time_on_page REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id);
CREATE INDEX IF NOT EXISTS idx_events_variant_type ON events(variant_id, event_type);
`

// Open opens (or creates) the SQLite database at dbPath and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// dsn adds a busy timeout to every pooled connection so concurrent
// writers queue on the database lock instead of failing immediately.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=" + url.QueryEscape("busy_timeout(5000)")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Test operations

const testColumns = `id, article_id, article_slug, name, test_type, status, distribution, goal,
	min_sample_size, confidence_level, winning_variant_id, started_at, ended_at, created_at, updated_at`

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test) error {
	now := s.now()
	test.CreatedAt = time.Unix(now.Unix(), 0)
	test.UpdatedAt = test.CreatedAt

	_, err := execRetry(ctx, s.db,
		`INSERT INTO tests (`+testColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.ArticleID, test.ArticleSlug, test.Name, string(test.Type), string(test.Status),
		string(test.Distribution), string(test.Goal), test.MinSampleSize, test.ConfidenceLevel,
		nullableStringPtr(test.WinningVariantID), nullableTime(test.StartedAt), nullableTime(test.EndedAt),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTest(ctx context.Context, id string) (*Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id = ?`, id)
	test, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return test, nil
}

func (s *SQLiteStore) ListTests(ctx context.Context, filter TestFilter) ([]*Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Distribution != "" {
		query += ` AND distribution = ?`
		args = append(args, string(filter.Distribution))
	}
	if filter.ArticleID != "" {
		query += ` AND article_id = ?`
		args = append(args, filter.ArticleID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, test)
	}
	return tests, rows.Err()
}

// UpdateTest writes the definition fields of a test. Status, winner and the
// lifecycle timestamps are owned by TransitionTest and ApplyReallocation.
func (s *SQLiteStore) UpdateTest(ctx context.Context, test *Test) error {
	now := s.now()
	result, err := execRetry(ctx, s.db,
		`UPDATE tests SET article_id = ?, article_slug = ?, name = ?, test_type = ?,
		 distribution = ?, goal = ?, min_sample_size = ?, confidence_level = ?, updated_at = ?
		 WHERE id = ?`,
		test.ArticleID, test.ArticleSlug, test.Name, string(test.Type),
		string(test.Distribution), string(test.Goal), test.MinSampleSize, test.ConfidenceLevel,
		now.Unix(), test.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update test: %w", err)
	}
	if err := expectRows(result); err != nil {
		return err
	}
	test.UpdatedAt = time.Unix(now.Unix(), 0)
	return nil
}

// TransitionTest moves a test to test.Status only while it is still in status
// from, writing the lifecycle timestamps with it. A nil WinningVariantID keeps
// the stored winner. On success test is reloaded from the stored row; if the
// status moved in the meantime the result is ErrConflict.
func (s *SQLiteStore) TransitionTest(ctx context.Context, test *Test, from TestStatus) error {
	result, err := execRetry(ctx, s.db,
		`UPDATE tests SET status = ?, started_at = ?, ended_at = ?,
		 winning_variant_id = COALESCE(?, winning_variant_id), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(test.Status), nullableTime(test.StartedAt), nullableTime(test.EndedAt),
		nullableStringPtr(test.WinningVariantID), s.now().Unix(), test.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition test: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	stored, err := s.GetTest(ctx, test.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: test %s is %s, not %s", ErrConflict, test.ID, stored.Status, from)
	}
	*test = *stored
	return nil
}

// ApplyReallocation records an auto-pilot decision, the winner and the new
// traffic split, in one transaction and only while the test is running. A
// test that stopped running since it was read yields ErrConflict and is left
// untouched.
func (s *SQLiteStore) ApplyReallocation(ctx context.Context, testID, winnerID string, traffic map[string]float64) error {
	now := s.now().Unix()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE tests SET winning_variant_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
			winnerID, now, testID, string(StatusRunning),
		)
		if err != nil {
			return fmt.Errorf("failed to set winner: %w", err)
		}
		if err := guarded(ctx, tx, result, testID); err != nil {
			return err
		}
		// The test row stays write-locked until commit.
		return setTrafficTx(ctx, tx, testID, traffic, now)
	})
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, id string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		// First delete related events and variants
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE test_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE test_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete variants: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete test: %w", err)
		}
		return expectRows(result)
	})
}

// Variant operations

const variantColumns = `id, test_id, name, description, is_control, traffic_percent, content_kind,
	template_id, data, changes, is_significant, views, clicks, conversions, total_time_on_page,
	conversion_rate, click_through_rate, position, created_at, updated_at`

func (s *SQLiteStore) CreateVariant(ctx context.Context, v *Variant) error {
	dataJSON, changesJSON, err := marshalContent(v.Content)
	if err != nil {
		return err
	}

	now := s.now()
	v.CreatedAt = time.Unix(now.Unix(), 0)
	v.UpdatedAt = v.CreatedAt

	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertVariant(ctx, tx, v, dataJSON, changesJSON, now.Unix())
	})
}

// AddVariant inserts a variant into a draft test and applies the rebalanced
// traffic of its siblings in the same transaction.
func (s *SQLiteStore) AddVariant(ctx context.Context, v *Variant, traffic map[string]float64) error {
	dataJSON, changesJSON, err := marshalContent(v.Content)
	if err != nil {
		return err
	}

	now := s.now()
	v.CreatedAt = time.Unix(now.Unix(), 0)
	v.UpdatedAt = v.CreatedAt

	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockDraft(ctx, tx, v.TestID, now.Unix()); err != nil {
			return err
		}
		if err := insertVariant(ctx, tx, v, dataJSON, changesJSON, now.Unix()); err != nil {
			return err
		}
		return setTrafficTx(ctx, tx, v.TestID, traffic, now.Unix())
	})
}

func insertVariant(ctx context.Context, tx *sql.Tx, v *Variant, dataJSON, changesJSON []byte, now int64) error {
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM variants WHERE test_id = ?`, v.TestID,
	).Scan(&v.Position); err != nil {
		return fmt.Errorf("failed to allocate variant position: %w", err)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO variants (id, test_id, name, description, is_control, traffic_percent, content_kind,
		 template_id, data, changes, position, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TestID, v.Name, v.Description, v.IsControl, v.TrafficPercent, string(v.Content.Kind),
		nullableString(v.Content.TemplateID), nullableBytes(dataJSON), nullableBytes(changesJSON),
		v.Position, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ?`, id)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) ListVariants(ctx context.Context, testID string) ([]*Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE test_id = ?
		 ORDER BY is_control DESC, position ASC, created_at ASC`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// UpdateVariant writes the definition fields of a variant. Counters and
// derived rates are owned by RecordEvent and are never overwritten here.
func (s *SQLiteStore) UpdateVariant(ctx context.Context, v *Variant) error {
	dataJSON, changesJSON, err := marshalContent(v.Content)
	if err != nil {
		return err
	}

	now := s.now()
	result, err := execRetry(ctx, s.db,
		`UPDATE variants SET name = ?, description = ?, is_control = ?, traffic_percent = ?, content_kind = ?,
		 template_id = ?, data = ?, changes = ?, updated_at = ?
		 WHERE id = ?`,
		v.Name, v.Description, v.IsControl, v.TrafficPercent, string(v.Content.Kind),
		nullableString(v.Content.TemplateID), nullableBytes(dataJSON), nullableBytes(changesJSON),
		now.Unix(), v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}
	if err := expectRows(result); err != nil {
		return err
	}
	v.UpdatedAt = time.Unix(now.Unix(), 0)
	return nil
}

// RemoveVariant deletes a variant from a draft test and applies the
// rebalanced traffic of the remaining variants in the same transaction.
func (s *SQLiteStore) RemoveVariant(ctx context.Context, testID, variantID string, traffic map[string]float64) error {
	now := s.now().Unix()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockDraft(ctx, tx, testID, now); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE id = ? AND test_id = ?`, variantID, testID)
		if err != nil {
			return fmt.Errorf("failed to delete variant: %w", err)
		}
		if err := expectRows(result); err != nil {
			return err
		}
		return setTrafficTx(ctx, tx, testID, traffic, now)
	})
}

// SetTraffic updates the traffic weights of several variants of one test in a
// single transaction so readers never observe a partial reallocation.
// Completed tests are frozen and yield ErrConflict.
func (s *SQLiteStore) SetTraffic(ctx context.Context, testID string, traffic map[string]float64) error {
	now := s.now().Unix()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE tests SET updated_at = ? WHERE id = ? AND status != ?`,
			now, testID, string(StatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("failed to lock test: %w", err)
		}
		if err := guarded(ctx, tx, result, testID); err != nil {
			return err
		}
		return setTrafficTx(ctx, tx, testID, traffic, now)
	})
}

func setTrafficTx(ctx context.Context, tx *sql.Tx, testID string, traffic map[string]float64, now int64) error {
	for variantID, pct := range traffic {
		result, err := tx.ExecContext(ctx,
			`UPDATE variants SET traffic_percent = ?, updated_at = ? WHERE id = ? AND test_id = ?`,
			pct, now, variantID, testID,
		)
		if err != nil {
			return fmt.Errorf("failed to set traffic for variant %s: %w", variantID, err)
		}
		if err := expectRows(result); err != nil {
			return fmt.Errorf("variant %s: %w", variantID, err)
		}
	}
	return nil
}

// SetSignificance flags a variant as significant or not while its test is
// running. Any other status yields ErrConflict.
func (s *SQLiteStore) SetSignificance(ctx context.Context, variantID string, significant bool) error {
	result, err := execRetry(ctx, s.db,
		`UPDATE variants SET is_significant = ?, updated_at = ?
		 WHERE id = ? AND EXISTS (SELECT 1 FROM tests WHERE tests.id = variants.test_id AND tests.status = ?)`,
		significant, s.now().Unix(), variantID, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to set significance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status TestStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT t.status FROM variants v JOIN tests t ON t.id = v.test_id WHERE v.id = ?`, variantID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read test status: %w", err)
	}
	return fmt.Errorf("%w: variant %s belongs to a %s test", ErrConflict, variantID, status)
}

// Template operations

func (s *SQLiteStore) CreateTemplate(ctx context.Context, tmpl *Template) error {
	placeholders, err := json.Marshal(tmpl.Placeholders)
	if err != nil {
		return fmt.Errorf("failed to marshal placeholders: %w", err)
	}

	now := s.now()
	tmpl.CreatedAt = time.Unix(now.Unix(), 0)
	tmpl.UpdatedAt = tmpl.CreatedAt

	_, err = execRetry(ctx, s.db,
		`INSERT INTO templates (id, name, category, body, placeholders, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID, tmpl.Name, tmpl.Category, tmpl.Body, string(placeholders), tmpl.UsageCount, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, body, placeholders, usage_count, created_at, updated_at
		 FROM templates WHERE id = ?`, id)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, body, placeholders, usage_count, created_at, updated_at
		 FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (s *SQLiteStore) IncrementTemplateUsage(ctx context.Context, id string) error {
	result, err := execRetry(ctx, s.db,
		`UPDATE templates SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		s.now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	return expectRows(result)
}

// Event operations

// counterUpdates maps an event type to the counter projection applied in the
// same transaction as the event insert. Column references on the right-hand
// side read the pre-update row, so each statement recomputes the rates from
// the incremented values.
var counterUpdates = map[EventType]string{
	EventView: `UPDATE variants SET
		views = views + 1,
		conversion_rate = CAST(conversions AS REAL) / (views + 1),
		click_through_rate = CAST(clicks AS REAL) / (views + 1)
		WHERE id = ? AND test_id = ?`,
	EventConversion: `UPDATE variants SET
		conversions = conversions + 1,
		conversion_rate = CASE WHEN views > 0 THEN CAST(conversions + 1 AS REAL) / views ELSE 0 END
		WHERE id = ? AND test_id = ?`,
	EventClick: `UPDATE variants SET
		clicks = clicks + 1,
		click_through_rate = CASE WHEN views > 0 THEN CAST(clicks + 1 AS REAL) / views ELSE 0 END
		WHERE id = ? AND test_id = ?`,
}

// RecordEvent appends an event and applies its counter increment atomically.
// An event for a variant that does not belong to the test is rejected with
// ErrNotFound. Only running and paused tests take events; draft and completed
// tests yield ErrConflict.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e *Event) error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}

	var payload []byte
	if len(e.Payload) > 0 {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE tests SET updated_at = updated_at WHERE id = ? AND status IN (?, ?)`,
			e.TestID, string(StatusRunning), string(StatusPaused),
		)
		if err != nil {
			return fmt.Errorf("failed to lock test: %w", err)
		}
		if err := guarded(ctx, tx, result, e.TestID); err != nil {
			return err
		}

		if e.Type == EventExit {
			result, err = tx.ExecContext(ctx,
				`UPDATE variants SET total_time_on_page = total_time_on_page + ? WHERE id = ? AND test_id = ?`,
				e.TimeOnPage, e.VariantID, e.TestID)
		} else {
			result, err = tx.ExecContext(ctx, counterUpdates[e.Type], e.VariantID, e.TestID)
		}
		if err != nil {
			return fmt.Errorf("failed to update counters: %w", err)
		}
		if err := expectRows(result); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, test_id, variant_id, session_id, event_type, payload, device, time_on_page, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TestID, e.VariantID, e.SessionID, string(e.Type), nullableBytes(payload), e.Device,
			e.TimeOnPage, e.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListEvents(ctx context.Context, testID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, variant_id, session_id, event_type, payload, device, time_on_page, created_at
		 FROM events WHERE test_id = ? ORDER BY created_at ASC, rowid ASC`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var payload sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TestID, &e.VariantID, &e.SessionID, &e.Type, &payload, &e.Device,
			&e.TimeOnPage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// RebuildCounters recomputes every variant counter of a test from the event log.
func (s *SQLiteStore) RebuildCounters(ctx context.Context, testID string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE variants SET
				views = (SELECT COUNT(*) FROM events e WHERE e.variant_id = variants.id AND e.event_type = 'view'),
				clicks = (SELECT COUNT(*) FROM events e WHERE e.variant_id = variants.id AND e.event_type = 'click'),
				conversions = (SELECT COUNT(*) FROM events e WHERE e.variant_id = variants.id AND e.event_type = 'conversion'),
				total_time_on_page = (SELECT COALESCE(SUM(time_on_page), 0) FROM events e
					WHERE e.variant_id = variants.id AND e.event_type = 'exit')
			WHERE test_id = ?`, testID)
		if err != nil {
			return fmt.Errorf("failed to rebuild counters: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE variants SET
				conversion_rate = CASE WHEN views > 0 THEN CAST(conversions AS REAL) / views ELSE 0 END,
				click_through_rate = CASE WHEN views > 0 THEN CAST(clicks AS REAL) / views ELSE 0 END
			WHERE test_id = ?`, testID)
		if err != nil {
			return fmt.Errorf("failed to rebuild rates: %w", err)
		}
		return nil
	})
}

// Scanning helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanTest(row scanner) (*Test, error) {
	var t Test
	var winner sql.NullString
	var startedAt, endedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.ArticleID, &t.ArticleSlug, &t.Name, &t.Type, &t.Status, &t.Distribution, &t.Goal,
		&t.MinSampleSize, &t.ConfidenceLevel, &winner, &startedAt, &endedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if winner.Valid {
		w := winner.String
		t.WinningVariantID = &w
	}
	t.StartedAt = timePtr(startedAt)
	t.EndedAt = timePtr(endedAt)
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func scanVariant(row scanner) (*Variant, error) {
	var v Variant
	var templateID, data, changes sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&v.ID, &v.TestID, &v.Name, &v.Description, &v.IsControl, &v.TrafficPercent, &v.Content.Kind,
		&templateID, &data, &changes, &v.IsSignificant, &v.Views, &v.Clicks, &v.Conversions, &v.TotalTimeOnPage,
		&v.ConversionRate, &v.ClickThroughRate, &v.Position, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.Content.TemplateID = templateID.String
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &v.Content.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variant data: %w", err)
		}
	}
	if changes.Valid && changes.String != "" {
		if err := json.Unmarshal([]byte(changes.String), &v.Content.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variant changes: %w", err)
		}
	}
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

func scanTemplate(row scanner) (*Template, error) {
	var t Template
	var placeholders string
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Body, &placeholders, &t.UsageCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(placeholders), &t.Placeholders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal placeholders: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func marshalContent(c VariantContent) (data, changes []byte, err error) {
	if len(c.Data) > 0 {
		if data, err = json.Marshal(c.Data); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal variant data: %w", err)
		}
	}
	if len(c.Changes) > 0 {
		if changes, err = json.Marshal(c.Changes); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal variant changes: %w", err)
		}
	}
	return data, changes, nil
}

func expectRows(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// guarded checks a status-guarded UPDATE of a test row. No affected rows
// means the test is missing (ErrNotFound) or in another status (ErrConflict).
func guarded(ctx context.Context, tx *sql.Tx, result sql.Result, testID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status TestStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM tests WHERE id = ?`, testID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read test status: %w", err)
	}
	return fmt.Errorf("%w: test %s is %s", ErrConflict, testID, status)
}

// lockDraft write-locks a draft test row until tx ends.
func lockDraft(ctx context.Context, tx *sql.Tx, testID string, now int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE tests SET updated_at = ? WHERE id = ? AND status = ?`,
		now, testID, string(StatusDraft),
	)
	if err != nil {
		return fmt.Errorf("failed to lock test: %w", err)
	}
	return guarded(ctx, tx, result, testID)
}

func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
