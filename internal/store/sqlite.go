package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Use ":memory:" for tests.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS competitors (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	domain           TEXT NOT NULL,
	strategy         TEXT NOT NULL DEFAULT 'by-collection',
	rate_limit_ms    INTEGER NOT NULL DEFAULT 2000,
	collections      TEXT,
	url_patterns     TEXT,
	search_terms     TEXT,
	exclude_patterns TEXT,
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	vendor       TEXT NOT NULL DEFAULT '',
	product_type TEXT NOT NULL DEFAULT '',
	sku          TEXT NOT NULL DEFAULT '',
	price        REAL NOT NULL DEFAULT 0,
	available    INTEGER NOT NULL DEFAULT 1,
	embedding    TEXT,
	synced_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS competitor_products (
	id               TEXT PRIMARY KEY,
	competitor_id    TEXT NOT NULL REFERENCES competitors(id),
	external_id      TEXT NOT NULL,
	title            TEXT NOT NULL,
	vendor           TEXT NOT NULL DEFAULT '',
	product_type     TEXT NOT NULL DEFAULT '',
	sku              TEXT NOT NULL DEFAULT '',
	price            REAL NOT NULL DEFAULT 0,
	compare_at_price REAL NOT NULL DEFAULT 0,
	available        INTEGER NOT NULL DEFAULT 1,
	url              TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	embedding        TEXT,
	scraped_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (competitor_id, external_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	id                    TEXT PRIMARY KEY,
	competitor_product_id TEXT NOT NULL REFERENCES competitor_products(id),
	price                 REAL NOT NULL,
	compare_at_price      REAL NOT NULL DEFAULT 0,
	recorded_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scrape_jobs (
	id               TEXT PRIMARY KEY,
	competitor_id    TEXT NOT NULL REFERENCES competitors(id),
	status           TEXT NOT NULL DEFAULT 'pending',
	products_found   INTEGER NOT NULL DEFAULT 0,
	products_created INTEGER NOT NULL DEFAULT 0,
	products_updated INTEGER NOT NULL DEFAULT 0,
	parse_errors     INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS product_matches (
	id                    TEXT PRIMARY KEY,
	product_id            TEXT NOT NULL REFERENCES products(id),
	competitor_product_id TEXT NOT NULL REFERENCES competitor_products(id),
	score                 REAL NOT NULL DEFAULT 0,
	factors               TEXT,
	confidence            TEXT NOT NULL DEFAULT 'very_low',
	is_manual             INTEGER NOT NULL DEFAULT 0,
	is_violation          INTEGER NOT NULL DEFAULT 0,
	violation_amount      REAL NOT NULL DEFAULT 0,
	violation_percent     REAL NOT NULL DEFAULT 0,
	first_violated_at     DATETIME,
	last_checked_at       DATETIME,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (product_id, competitor_product_id)
);

CREATE TABLE IF NOT EXISTS rejected_pairs (
	id                    TEXT PRIMARY KEY,
	product_id            TEXT NOT NULL,
	competitor_product_id TEXT NOT NULL,
	reason                TEXT NOT NULL DEFAULT '',
	rejected_by           TEXT NOT NULL DEFAULT '',
	rejected_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (product_id, competitor_product_id)
);

CREATE TABLE IF NOT EXISTS violation_history (
	id               TEXT PRIMARY KEY,
	match_id         TEXT NOT NULL REFERENCES product_matches(id),
	type             TEXT NOT NULL,
	severity         TEXT NOT NULL DEFAULT '',
	competitor_price REAL NOT NULL,
	reference_price  REAL NOT NULL,
	amount           REAL NOT NULL DEFAULT 0,
	percent          REAL NOT NULL DEFAULT 0,
	previous_price   REAL NOT NULL DEFAULT 0,
	detected_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS violation_alerts (
	id          TEXT PRIMARY KEY,
	match_id    TEXT NOT NULL REFERENCES product_matches(id),
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_competitor_products_competitor ON competitor_products(competitor_id);
CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(competitor_product_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_matches_violation ON product_matches(is_violation);
CREATE INDEX IF NOT EXISTS idx_violation_history_match ON violation_history(match_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_match_status ON violation_alerts(match_id, status);
`

// Migrate applies the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCompetitor inserts a competitor configuration.
func (s *SQLiteStore) CreateCompetitor(ctx context.Context, c model.Competitor) (model.Competitor, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO competitors (id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Domain, string(c.Strategy), c.RateLimitMS,
		marshalJSON(c.Collections), marshalJSON(c.URLPatterns), marshalJSON(c.SearchTerms), marshalJSON(c.ExcludePatterns),
		boolToInt(c.Active), c.CreatedAt,
	)
	if err != nil {
		return model.Competitor{}, eris.Wrapf(err, "sqlite: insert competitor %s", c.Name)
	}
	return c, nil
}

// ListCompetitors returns competitors, optionally only active ones.
func (s *SQLiteStore) ListCompetitors(ctx context.Context, activeOnly bool) ([]model.Competitor, error) {
	q := `SELECT id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at
	      FROM competitors`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list competitors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Competitor
	for rows.Next() {
		c, err := scanCompetitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list competitors rows")
}

// GetCompetitorByName looks up one competitor by exact name.
func (s *SQLiteStore) GetCompetitorByName(ctx context.Context, name string) (*model.Competitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at
		 FROM competitors WHERE name = ?`, name)
	c, err := scanCompetitor(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertProduct inserts or replaces an internal product.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p model.InternalProduct) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SyncedAt.IsZero() {
		p.SyncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, title, vendor, product_type, sku, price, available, embedding, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, vendor = excluded.vendor, product_type = excluded.product_type,
			sku = excluded.sku, price = excluded.price, available = excluded.available,
			embedding = excluded.embedding, synced_at = excluded.synced_at`,
		p.ID, p.Title, p.Vendor, p.ProductType, p.SKU, p.Price, boolToInt(p.Available),
		marshalJSON(p.Embedding), p.SyncedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
}

// ListProducts returns internal products, optionally filtered by vendor.
func (s *SQLiteStore) ListProducts(ctx context.Context, brands []string) ([]model.InternalProduct, error) {
	q := `SELECT id, title, vendor, product_type, sku, price, available, embedding, synced_at FROM products`
	var args []any
	if len(brands) > 0 {
		q += ` WHERE lower(vendor) IN (` + placeholders(len(brands)) + `)`
		for _, b := range brands {
			args = append(args, strings.ToLower(b))
		}
	}
	q += ` ORDER BY title`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.InternalProduct
	for rows.Next() {
		var p model.InternalProduct
		var available int
		var embedding sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Vendor, &p.ProductType, &p.SKU, &p.Price, &available, &embedding, &p.SyncedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		p.Available = available != 0
		p.Embedding = unmarshalFloats(embedding)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products rows")
}

// UpsertCompetitorProduct inserts or updates a competitor product keyed by
// (competitor_id, external_id). It reports whether a new row was created.
func (s *SQLiteStore) UpsertCompetitorProduct(ctx context.Context, cp model.CompetitorProduct) (string, bool, error) {
	if cp.ScrapedAt.IsZero() {
		cp.ScrapedAt = time.Now().UTC()
	}

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM competitor_products WHERE competitor_id = ? AND external_id = ?`,
		cp.CompetitorID, cp.ExternalID,
	).Scan(&existingID)

	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE competitor_products SET
				title = ?, vendor = ?, product_type = ?, sku = ?, price = ?, compare_at_price = ?,
				available = ?, url = ?, image_url = ?, scraped_at = ?
			 WHERE id = ?`,
			cp.Title, cp.Vendor, cp.ProductType, cp.SKU, cp.Price, cp.CompareAtPrice,
			boolToInt(cp.Available), cp.URL, cp.ImageURL, cp.ScrapedAt, existingID,
		)
		if err != nil {
			return "", false, eris.Wrapf(err, "sqlite: update competitor product %s", existingID)
		}
		return existingID, false, nil
	case eris.Is(err, sql.ErrNoRows):
		id := cp.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO competitor_products
				(id, competitor_id, external_id, title, vendor, product_type, sku, price, compare_at_price, available, url, image_url, embedding, scraped_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, cp.CompetitorID, cp.ExternalID, cp.Title, cp.Vendor, cp.ProductType, cp.SKU,
			cp.Price, cp.CompareAtPrice, boolToInt(cp.Available), cp.URL, cp.ImageURL,
			marshalJSON(cp.Embedding), cp.ScrapedAt,
		)
		if err != nil {
			return "", false, eris.Wrapf(err, "sqlite: insert competitor product %s/%s", cp.CompetitorID, cp.ExternalID)
		}
		return id, true, nil
	default:
		return "", false, eris.Wrap(err, "sqlite: lookup competitor product")
	}
}

// ListCompetitorProducts returns competitor products; competitorID "" = all.
func (s *SQLiteStore) ListCompetitorProducts(ctx context.Context, competitorID string) ([]model.CompetitorProduct, error) {
	q := `SELECT id, competitor_id, external_id, title, vendor, product_type, sku, price, compare_at_price, available, url, image_url, embedding, scraped_at
	      FROM competitor_products`
	var args []any
	if competitorID != "" {
		q += ` WHERE competitor_id = ?`
		args = append(args, competitorID)
	}
	q += ` ORDER BY title`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list competitor products")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CompetitorProduct
	for rows.Next() {
		var cp model.CompetitorProduct
		var available int
		var embedding sql.NullString
		if err := rows.Scan(&cp.ID, &cp.CompetitorID, &cp.ExternalID, &cp.Title, &cp.Vendor, &cp.ProductType,
			&cp.SKU, &cp.Price, &cp.CompareAtPrice, &available, &cp.URL, &cp.ImageURL, &embedding, &cp.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan competitor product")
		}
		cp.Available = available != 0
		cp.Embedding = unmarshalFloats(embedding)
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list competitor products rows")
}

// LatestPrice returns the most recent price history row, or nil when none.
func (s *SQLiteStore) LatestPrice(ctx context.Context, competitorProductID string) (*model.PriceHistory, error) {
	var ph model.PriceHistory
	err := s.db.QueryRowContext(ctx,
		`SELECT id, competitor_product_id, price, compare_at_price, recorded_at
		 FROM price_history WHERE competitor_product_id = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		competitorProductID,
	).Scan(&ph.ID, &ph.CompetitorProductID, &ph.Price, &ph.CompareAtPrice, &ph.RecordedAt)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest price")
	}
	return &ph, nil
}

// AddPriceHistory appends one price observation.
func (s *SQLiteStore) AddPriceHistory(ctx context.Context, ph model.PriceHistory) error {
	if ph.ID == "" {
		ph.ID = uuid.New().String()
	}
	if ph.RecordedAt.IsZero() {
		ph.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (id, competitor_product_id, price, compare_at_price, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		ph.ID, ph.CompetitorProductID, ph.Price, ph.CompareAtPrice, ph.RecordedAt,
	)
	return eris.Wrap(err, "sqlite: add price history")
}

// CreateScrapeJob inserts a pending job for the competitor.
func (s *SQLiteStore) CreateScrapeJob(ctx context.Context, competitorID string) (model.ScrapeJob, error) {
	job := model.ScrapeJob{
		ID:           uuid.New().String(),
		CompetitorID: competitorID,
		Status:       model.JobPending,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, competitor_id, status, started_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.CompetitorID, string(job.Status), job.StartedAt,
	)
	if err != nil {
		return model.ScrapeJob{}, eris.Wrap(err, "sqlite: create scrape job")
	}
	return job, nil
}

// UpdateScrapeJob persists job progress and status transitions.
func (s *SQLiteStore) UpdateScrapeJob(ctx context.Context, job model.ScrapeJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = ?, products_found = ?, products_created = ?, products_updated = ?,
			parse_errors = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(job.Status), job.ProductsFound, job.ProductsCreated, job.ProductsUpdated,
		job.ParseErrors, job.Error, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scrape job %s", job.ID)
	}
	return checkRowsAffected(res, "scrape job", job.ID)
}

// ListScrapeJobs returns jobs newest first; competitorID "" = all.
func (s *SQLiteStore) ListScrapeJobs(ctx context.Context, competitorID string) ([]model.ScrapeJob, error) {
	q := `SELECT id, competitor_id, status, products_found, products_created, products_updated, parse_errors, error, started_at, completed_at
	      FROM scrape_jobs`
	var args []any
	if competitorID != "" {
		q += ` WHERE competitor_id = ?`
		args = append(args, competitorID)
	}
	q += ` ORDER BY started_at DESC, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrape jobs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScrapeJob
	for rows.Next() {
		var job model.ScrapeJob
		var completed sql.NullTime
		if err := rows.Scan(&job.ID, &job.CompetitorID, &job.Status, &job.ProductsFound, &job.ProductsCreated,
			&job.ProductsUpdated, &job.ParseErrors, &job.Error, &job.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scrape job")
		}
		if completed.Valid {
			t := completed.Time
			job.CompletedAt = &t
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scrape jobs rows")
}

// ListMatches returns every product match, manual and automatic.
func (s *SQLiteStore) ListMatches(ctx context.Context) ([]model.ProductMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM product_matches ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list matches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProductMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list matches rows")
}

// GetMatch returns one match by id.
func (s *SQLiteStore) GetMatch(ctx context.Context, id string) (*model.ProductMatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM product_matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpsertMatches writes a batch of matches in one transaction. Conflicting
// pairs are updated in place unless the existing row is manual; manual
// matches are never overwritten by automatic matching.
func (s *SQLiteStore) UpsertMatches(ctx context.Context, matches []model.ProductMatch) error {
	if len(matches) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin match batch")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range matches {
		m := &matches[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now

		_, err := tx.ExecContext(ctx,
			`INSERT INTO product_matches
				(id, product_id, competitor_product_id, score, factors, confidence, is_manual, is_violation,
				 violation_amount, violation_percent, first_violated_at, last_checked_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (product_id, competitor_product_id) DO UPDATE SET
				score = excluded.score, factors = excluded.factors, confidence = excluded.confidence,
				is_manual = excluded.is_manual, updated_at = excluded.updated_at
			 WHERE product_matches.is_manual = 0`,
			m.ID, m.ProductID, m.CompetitorProductID, m.Score, marshalJSON(m.Factors), string(m.Confidence),
			boolToInt(m.IsManual), boolToInt(m.IsViolation), m.ViolationAmount, m.ViolationPercent,
			m.FirstViolatedAt, m.LastCheckedAt, m.CreatedAt, m.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert match %s/%s", m.ProductID, m.CompetitorProductID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit match batch")
}

// VerifyMatch promotes an automatic match to a confirmed manual one in place.
func (s *SQLiteStore) VerifyMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_matches SET is_manual = 1, confidence = ?, score = 1.0, updated_at = ? WHERE id = ?`,
		string(model.ConfidenceHigh), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: verify match %s", id)
	}
	return checkRowsAffected(res, "match", id)
}

// RejectMatch removes the match and blacklists its pair in one transaction.
// If the pair is already rejected, only the match row is removed.
func (s *SQLiteStore) RejectMatch(ctx context.Context, matchID, reason, rejectedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reject")
	}
	defer tx.Rollback() //nolint:errcheck

	var productID, competitorProductID string
	err = tx.QueryRowContext(ctx,
		`SELECT product_id, competitor_product_id FROM product_matches WHERE id = ?`, matchID,
	).Scan(&productID, &competitorProductID)
	if eris.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup match %s", matchID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_matches WHERE id = ?`, matchID); err != nil {
		return eris.Wrapf(err, "sqlite: delete match %s", matchID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rejected_pairs (id, product_id, competitor_product_id, reason, rejected_by, rejected_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, competitor_product_id) DO NOTHING`,
		uuid.New().String(), productID, competitorProductID, reason, rejectedBy, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert rejected pair")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reject")
}

// UpdateMatchViolation persists the violation fields set by the detector.
func (s *SQLiteStore) UpdateMatchViolation(ctx context.Context, m model.ProductMatch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_matches SET is_violation = ?, violation_amount = ?, violation_percent = ?,
			first_violated_at = ?, last_checked_at = ?, updated_at = ?
		 WHERE id = ?`,
		boolToInt(m.IsViolation), m.ViolationAmount, m.ViolationPercent,
		m.FirstViolatedAt, m.LastCheckedAt, time.Now().UTC(), m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update match violation %s", m.ID)
	}
	return checkRowsAffected(res, "match", m.ID)
}

// ListRejectedPairs returns the full blacklist.
func (s *SQLiteStore) ListRejectedPairs(ctx context.Context) ([]model.RejectedPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, competitor_product_id, reason, rejected_by, rejected_at FROM rejected_pairs`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rejected pairs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RejectedPair
	for rows.Next() {
		var rp model.RejectedPair
		if err := rows.Scan(&rp.ID, &rp.ProductID, &rp.CompetitorProductID, &rp.Reason, &rp.RejectedBy, &rp.RejectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rejected pair")
		}
		out = append(out, rp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rejected pairs rows")
}

// AddViolationHistory appends one audit record. Rows are never updated.
func (s *SQLiteStore) AddViolationHistory(ctx context.Context, h model.ViolationHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.DetectedAt.IsZero() {
		h.DetectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violation_history (id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.MatchID, string(h.Type), string(h.Severity), h.CompetitorPrice, h.ReferencePrice,
		h.Amount, h.Percent, h.PreviousPrice, h.DetectedAt,
	)
	return eris.Wrap(err, "sqlite: add violation history")
}

// LatestViolationHistory returns the newest history row for a match, or nil.
func (s *SQLiteStore) LatestViolationHistory(ctx context.Context, matchID string) (*model.ViolationHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at
		 FROM violation_history WHERE match_id = ?
		 ORDER BY detected_at DESC, id DESC LIMIT 1`, matchID)
	h, err := scanViolationHistory(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListViolationHistory returns the full history for a match, oldest first.
func (s *SQLiteStore) ListViolationHistory(ctx context.Context, matchID string) ([]model.ViolationHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at
		 FROM violation_history WHERE match_id = ? ORDER BY detected_at, id`, matchID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list violation history")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ViolationHistory
	for rows.Next() {
		h, err := scanViolationHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list violation history rows")
}

// CreateAlert records a new open alert for a match.
func (s *SQLiteStore) CreateAlert(ctx context.Context, a model.ViolationAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AlertOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violation_alerts (id, match_id, severity, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.MatchID, string(a.Severity), string(a.Status), a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create alert")
}

// MarkAlertSent flips an alert to sent after webhook delivery.
func (s *SQLiteStore) MarkAlertSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE violation_alerts SET status = ? WHERE id = ?`, string(model.AlertSent), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark alert sent %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

// ResolveOpenAlerts closes all non-resolved alerts for a match and returns
// how many were closed.
func (s *SQLiteStore) ResolveOpenAlerts(ctx context.Context, matchID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE violation_alerts SET status = ?, resolved_at = ? WHERE match_id = ? AND status != ?`,
		string(model.AlertResolved), time.Now().UTC(), matchID, string(model.AlertResolved),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: resolve alerts for match %s", matchID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- scan helpers ---

const matchColumns = `id, product_id, competitor_product_id, score, factors, confidence, is_manual, is_violation,
	violation_amount, violation_percent, first_violated_at, last_checked_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(r rowScanner) (model.ProductMatch, error) {
	var m model.ProductMatch
	var factors sql.NullString
	var isManual, isViolation int
	var firstViolated, lastChecked sql.NullTime
	err := r.Scan(&m.ID, &m.ProductID, &m.CompetitorProductID, &m.Score, &factors, &m.Confidence,
		&isManual, &isViolation, &m.ViolationAmount, &m.ViolationPercent,
		&firstViolated, &lastChecked, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, eris.Wrap(err, "sqlite: scan match")
	}
	m.IsManual = isManual != 0
	m.IsViolation = isViolation != 0
	if factors.Valid && factors.String != "" {
		_ = json.Unmarshal([]byte(factors.String), &m.Factors)
	}
	if firstViolated.Valid {
		t := firstViolated.Time
		m.FirstViolatedAt = &t
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		m.LastCheckedAt = &t
	}
	return m, nil
}

func scanViolationHistory(r rowScanner) (model.ViolationHistory, error) {
	var h model.ViolationHistory
	var typ, severity string
	err := r.Scan(&h.ID, &h.MatchID, &typ, &severity, &h.CompetitorPrice, &h.ReferencePrice,
		&h.Amount, &h.Percent, &h.PreviousPrice, &h.DetectedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return h, err
		}
		return h, eris.Wrap(err, "sqlite: scan violation history")
	}
	h.Type = model.ViolationEventType(typ)
	h.Severity = model.Severity(severity)
	return h, nil
}

func scanCompetitor(r rowScanner) (model.Competitor, error) {
	var c model.Competitor
	var strategy string
	var active int
	var collections, urlPatterns, searchTerms, excludePatterns sql.NullString
	err := r.Scan(&c.ID, &c.Name, &c.Domain, &strategy, &c.RateLimitMS,
		&collections, &urlPatterns, &searchTerms, &excludePatterns, &active, &c.CreatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, eris.Wrap(err, "sqlite: scan competitor")
	}
	c.Strategy = model.ScrapeStrategy(strategy)
	c.Active = active != 0
	c.Collections = unmarshalStrings(collections)
	c.URLPatterns = unmarshalStrings(urlPatterns)
	c.SearchTerms = unmarshalStrings(searchTerms)
	c.ExcludePatterns = unmarshalStrings(excludePatterns)
	return c, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalFloats(s sql.NullString) []float64 {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	var out []float64
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}
