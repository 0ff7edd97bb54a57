package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/db"
	"github.com/sells-group/pricewatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	} else {
		pgxCfg.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS competitors (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name             TEXT NOT NULL UNIQUE,
	domain           TEXT NOT NULL,
	strategy         TEXT NOT NULL DEFAULT 'by-collection',
	rate_limit_ms    INTEGER NOT NULL DEFAULT 2000,
	collections      TEXT,
	url_patterns     TEXT,
	search_terms     TEXT,
	exclude_patterns TEXT,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	title        TEXT NOT NULL,
	vendor       TEXT NOT NULL DEFAULT '',
	product_type TEXT NOT NULL DEFAULT '',
	sku          TEXT NOT NULL DEFAULT '',
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	available    BOOLEAN NOT NULL DEFAULT TRUE,
	embedding    TEXT,
	synced_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS competitor_products (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	competitor_id    UUID NOT NULL REFERENCES competitors(id),
	external_id      TEXT NOT NULL,
	title            TEXT NOT NULL,
	vendor           TEXT NOT NULL DEFAULT '',
	product_type     TEXT NOT NULL DEFAULT '',
	sku              TEXT NOT NULL DEFAULT '',
	price            DOUBLE PRECISION NOT NULL DEFAULT 0,
	compare_at_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	available        BOOLEAN NOT NULL DEFAULT TRUE,
	url              TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	embedding        TEXT,
	scraped_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (competitor_id, external_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	competitor_product_id UUID NOT NULL REFERENCES competitor_products(id),
	price                 DOUBLE PRECISION NOT NULL,
	compare_at_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	recorded_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrape_jobs (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	competitor_id    UUID NOT NULL REFERENCES competitors(id),
	status           TEXT NOT NULL DEFAULT 'pending',
	products_found   INTEGER NOT NULL DEFAULT 0,
	products_created INTEGER NOT NULL DEFAULT 0,
	products_updated INTEGER NOT NULL DEFAULT 0,
	parse_errors     INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS product_matches (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	product_id            UUID NOT NULL REFERENCES products(id),
	competitor_product_id UUID NOT NULL REFERENCES competitor_products(id),
	score                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	factors               TEXT,
	confidence            TEXT NOT NULL DEFAULT 'very_low',
	is_manual             BOOLEAN NOT NULL DEFAULT FALSE,
	is_violation          BOOLEAN NOT NULL DEFAULT FALSE,
	violation_amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	violation_percent     DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_violated_at     TIMESTAMPTZ,
	last_checked_at       TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, competitor_product_id)
);

CREATE TABLE IF NOT EXISTS rejected_pairs (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	product_id            UUID NOT NULL,
	competitor_product_id UUID NOT NULL,
	reason                TEXT NOT NULL DEFAULT '',
	rejected_by           TEXT NOT NULL DEFAULT '',
	rejected_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, competitor_product_id)
);

CREATE TABLE IF NOT EXISTS violation_history (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	match_id         UUID NOT NULL REFERENCES product_matches(id),
	type             TEXT NOT NULL,
	severity         TEXT NOT NULL DEFAULT '',
	competitor_price DOUBLE PRECISION NOT NULL,
	reference_price  DOUBLE PRECISION NOT NULL,
	amount           DOUBLE PRECISION NOT NULL DEFAULT 0,
	percent          DOUBLE PRECISION NOT NULL DEFAULT 0,
	previous_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	detected_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS violation_alerts (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	match_id    UUID NOT NULL REFERENCES product_matches(id),
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_competitor_products_competitor ON competitor_products(competitor_id);
CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(competitor_product_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_matches_violation ON product_matches(is_violation);
CREATE INDEX IF NOT EXISTS idx_violation_history_match ON violation_history(match_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_match_status ON violation_alerts(match_id, status);
`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// CreateCompetitor inserts a competitor configuration.
func (s *PostgresStore) CreateCompetitor(ctx context.Context, c model.Competitor) (model.Competitor, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO competitors (id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Name, c.Domain, string(c.Strategy), c.RateLimitMS,
		marshalJSON(c.Collections), marshalJSON(c.URLPatterns), marshalJSON(c.SearchTerms), marshalJSON(c.ExcludePatterns),
		c.Active, c.CreatedAt,
	)
	if err != nil {
		return model.Competitor{}, eris.Wrapf(err, "postgres: insert competitor %s", c.Name)
	}
	return c, nil
}

// ListCompetitors returns competitors, optionally only active ones.
func (s *PostgresStore) ListCompetitors(ctx context.Context, activeOnly bool) ([]model.Competitor, error) {
	q := `SELECT id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at
	      FROM competitors`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list competitors")
	}
	defer rows.Close()

	var out []model.Competitor
	for rows.Next() {
		c, err := scanPGCompetitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list competitors rows")
}

// GetCompetitorByName looks up one competitor by exact name.
func (s *PostgresStore) GetCompetitorByName(ctx context.Context, name string) (*model.Competitor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, domain, strategy, rate_limit_ms, collections, url_patterns, search_terms, exclude_patterns, active, created_at
		 FROM competitors WHERE name = $1`, name)
	c, err := scanPGCompetitor(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertProduct inserts or replaces an internal product.
func (s *PostgresStore) UpsertProduct(ctx context.Context, p model.InternalProduct) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SyncedAt.IsZero() {
		p.SyncedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, title, vendor, product_type, sku, price, available, embedding, synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, vendor = EXCLUDED.vendor, product_type = EXCLUDED.product_type,
			sku = EXCLUDED.sku, price = EXCLUDED.price, available = EXCLUDED.available,
			embedding = EXCLUDED.embedding, synced_at = EXCLUDED.synced_at`,
		p.ID, p.Title, p.Vendor, p.ProductType, p.SKU, p.Price, p.Available,
		marshalJSON(p.Embedding), p.SyncedAt,
	)
	return eris.Wrapf(err, "postgres: upsert product %s", p.ID)
}

// ListProducts returns internal products, optionally filtered by vendor.
func (s *PostgresStore) ListProducts(ctx context.Context, brands []string) ([]model.InternalProduct, error) {
	q := `SELECT id, title, vendor, product_type, sku, price, available, embedding, synced_at FROM products`
	var args []any
	if len(brands) > 0 {
		lowered := make([]string, len(brands))
		for i, b := range brands {
			lowered[i] = strings.ToLower(strings.TrimSpace(b))
		}
		q += ` WHERE lower(vendor) = ANY($1)`
		args = append(args, lowered)
	}
	q += ` ORDER BY title`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.InternalProduct
	for rows.Next() {
		var p model.InternalProduct
		var embedding sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Vendor, &p.ProductType, &p.SKU, &p.Price, &p.Available, &embedding, &p.SyncedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		p.Embedding = unmarshalFloats(embedding)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products rows")
}

// UpsertCompetitorProduct inserts or updates a competitor product keyed by
// (competitor_id, external_id). xmax = 0 distinguishes insert from update.
func (s *PostgresStore) UpsertCompetitorProduct(ctx context.Context, cp model.CompetitorProduct) (string, bool, error) {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.ScrapedAt.IsZero() {
		cp.ScrapedAt = time.Now().UTC()
	}
	var id string
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO competitor_products
			(id, competitor_id, external_id, title, vendor, product_type, sku, price, compare_at_price, available, url, image_url, embedding, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (competitor_id, external_id) DO UPDATE SET
			title = EXCLUDED.title, vendor = EXCLUDED.vendor, product_type = EXCLUDED.product_type,
			sku = EXCLUDED.sku, price = EXCLUDED.price, compare_at_price = EXCLUDED.compare_at_price,
			available = EXCLUDED.available, url = EXCLUDED.url, image_url = EXCLUDED.image_url,
			scraped_at = EXCLUDED.scraped_at
		 RETURNING id, (xmax = 0)`,
		cp.ID, cp.CompetitorID, cp.ExternalID, cp.Title, cp.Vendor, cp.ProductType, cp.SKU,
		cp.Price, cp.CompareAtPrice, cp.Available, cp.URL, cp.ImageURL,
		marshalJSON(cp.Embedding), cp.ScrapedAt,
	).Scan(&id, &created)
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: upsert competitor product %s/%s", cp.CompetitorID, cp.ExternalID)
	}
	return id, created, nil
}

// ListCompetitorProducts returns competitor products; competitorID "" = all.
func (s *PostgresStore) ListCompetitorProducts(ctx context.Context, competitorID string) ([]model.CompetitorProduct, error) {
	q := `SELECT id, competitor_id, external_id, title, vendor, product_type, sku, price, compare_at_price, available, url, image_url, embedding, scraped_at
	      FROM competitor_products`
	var args []any
	if competitorID != "" {
		q += ` WHERE competitor_id = $1`
		args = append(args, competitorID)
	}
	q += ` ORDER BY title`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list competitor products")
	}
	defer rows.Close()

	var out []model.CompetitorProduct
	for rows.Next() {
		var cp model.CompetitorProduct
		var embedding sql.NullString
		if err := rows.Scan(&cp.ID, &cp.CompetitorID, &cp.ExternalID, &cp.Title, &cp.Vendor, &cp.ProductType,
			&cp.SKU, &cp.Price, &cp.CompareAtPrice, &cp.Available, &cp.URL, &cp.ImageURL, &embedding, &cp.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor product")
		}
		cp.Embedding = unmarshalFloats(embedding)
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list competitor products rows")
}

// LatestPrice returns the most recent price history row, or nil when none.
func (s *PostgresStore) LatestPrice(ctx context.Context, competitorProductID string) (*model.PriceHistory, error) {
	var ph model.PriceHistory
	err := s.pool.QueryRow(ctx,
		`SELECT id, competitor_product_id, price, compare_at_price, recorded_at
		 FROM price_history WHERE competitor_product_id = $1
		 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		competitorProductID,
	).Scan(&ph.ID, &ph.CompetitorProductID, &ph.Price, &ph.CompareAtPrice, &ph.RecordedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest price")
	}
	return &ph, nil
}

// AddPriceHistory appends one price observation.
func (s *PostgresStore) AddPriceHistory(ctx context.Context, ph model.PriceHistory) error {
	if ph.ID == "" {
		ph.ID = uuid.New().String()
	}
	if ph.RecordedAt.IsZero() {
		ph.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (id, competitor_product_id, price, compare_at_price, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		ph.ID, ph.CompetitorProductID, ph.Price, ph.CompareAtPrice, ph.RecordedAt,
	)
	return eris.Wrap(err, "postgres: add price history")
}

// CreateScrapeJob inserts a pending job for the competitor.
func (s *PostgresStore) CreateScrapeJob(ctx context.Context, competitorID string) (model.ScrapeJob, error) {
	job := model.ScrapeJob{
		ID:           uuid.New().String(),
		CompetitorID: competitorID,
		Status:       model.JobPending,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, competitor_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		job.ID, job.CompetitorID, string(job.Status), job.StartedAt,
	)
	if err != nil {
		return model.ScrapeJob{}, eris.Wrap(err, "postgres: create scrape job")
	}
	return job, nil
}

// UpdateScrapeJob persists job progress and status transitions.
func (s *PostgresStore) UpdateScrapeJob(ctx context.Context, job model.ScrapeJob) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $1, products_found = $2, products_created = $3, products_updated = $4,
			parse_errors = $5, error = $6, completed_at = $7
		 WHERE id = $8`,
		string(job.Status), job.ProductsFound, job.ProductsCreated, job.ProductsUpdated,
		job.ParseErrors, job.Error, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scrape job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScrapeJobs returns jobs newest first; competitorID "" = all.
func (s *PostgresStore) ListScrapeJobs(ctx context.Context, competitorID string) ([]model.ScrapeJob, error) {
	q := `SELECT id, competitor_id, status, products_found, products_created, products_updated, parse_errors, error, started_at, completed_at
	      FROM scrape_jobs`
	var args []any
	if competitorID != "" {
		q += ` WHERE competitor_id = $1`
		args = append(args, competitorID)
	}
	q += ` ORDER BY started_at DESC, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrape jobs")
	}
	defer rows.Close()

	var out []model.ScrapeJob
	for rows.Next() {
		var job model.ScrapeJob
		if err := rows.Scan(&job.ID, &job.CompetitorID, &job.Status, &job.ProductsFound, &job.ProductsCreated,
			&job.ProductsUpdated, &job.ParseErrors, &job.Error, &job.StartedAt, &job.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scrape job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scrape jobs rows")
}

// ListMatches returns every product match, manual and automatic.
func (s *PostgresStore) ListMatches(ctx context.Context) ([]model.ProductMatch, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+matchColumns+` FROM product_matches ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list matches")
	}
	defer rows.Close()

	var out []model.ProductMatch
	for rows.Next() {
		m, err := scanPGMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list matches rows")
}

// GetMatch returns one match by id.
func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*model.ProductMatch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM product_matches WHERE id = $1`, id)
	m, err := scanPGMatch(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpsertMatches writes a batch of matches through the temp-table bulk merge.
// Manual rows are never overwritten.
func (s *PostgresStore) UpsertMatches(ctx context.Context, matches []model.ProductMatch) error {
	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(matches))
	for i := range matches {
		m := &matches[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		rows[i] = []any{
			m.ID, m.ProductID, m.CompetitorProductID, m.Score, marshalJSON(m.Factors),
			string(m.Confidence), m.IsManual, m.IsViolation, m.ViolationAmount, m.ViolationPercent,
			m.FirstViolatedAt, m.LastCheckedAt, m.CreatedAt, m.UpdatedAt,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "product_matches",
		Columns: []string{
			"id", "product_id", "competitor_product_id", "score", "factors",
			"confidence", "is_manual", "is_violation", "violation_amount", "violation_percent",
			"first_violated_at", "last_checked_at", "created_at", "updated_at",
		},
		ConflictKeys: []string{"product_id", "competitor_product_id"},
		UpdateCols:   []string{"score", "factors", "confidence", "is_manual", "updated_at"},
		UpdateWhere:  "NOT product_matches.is_manual",
	}, rows)
	return eris.Wrap(err, "postgres: upsert matches")
}

// VerifyMatch promotes an automatic match to a confirmed manual one in place.
func (s *PostgresStore) VerifyMatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_matches SET is_manual = TRUE, confidence = $1, score = 1.0, updated_at = $2 WHERE id = $3`,
		string(model.ConfidenceHigh), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: verify match %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectMatch removes the match and blacklists its pair in one transaction.
func (s *PostgresStore) RejectMatch(ctx context.Context, matchID, reason, rejectedBy string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin reject")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var productID, competitorProductID string
	err = tx.QueryRow(ctx,
		`SELECT product_id, competitor_product_id FROM product_matches WHERE id = $1`, matchID,
	).Scan(&productID, &competitorProductID)
	if eris.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup match %s", matchID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM product_matches WHERE id = $1`, matchID); err != nil {
		return eris.Wrapf(err, "postgres: delete match %s", matchID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO rejected_pairs (id, product_id, competitor_product_id, reason, rejected_by, rejected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (product_id, competitor_product_id) DO NOTHING`,
		uuid.New().String(), productID, competitorProductID, reason, rejectedBy, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert rejected pair")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit reject")
}

// UpdateMatchViolation persists the violation fields set by the detector.
func (s *PostgresStore) UpdateMatchViolation(ctx context.Context, m model.ProductMatch) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_matches SET is_violation = $1, violation_amount = $2, violation_percent = $3,
			first_violated_at = $4, last_checked_at = $5, updated_at = $6
		 WHERE id = $7`,
		m.IsViolation, m.ViolationAmount, m.ViolationPercent,
		m.FirstViolatedAt, m.LastCheckedAt, time.Now().UTC(), m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update match violation %s", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRejectedPairs returns the full blacklist.
func (s *PostgresStore) ListRejectedPairs(ctx context.Context) ([]model.RejectedPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, competitor_product_id, reason, rejected_by, rejected_at FROM rejected_pairs`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rejected pairs")
	}
	defer rows.Close()

	var out []model.RejectedPair
	for rows.Next() {
		var rp model.RejectedPair
		if err := rows.Scan(&rp.ID, &rp.ProductID, &rp.CompetitorProductID, &rp.Reason, &rp.RejectedBy, &rp.RejectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rejected pair")
		}
		out = append(out, rp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rejected pairs rows")
}

// AddViolationHistory appends one audit record.
func (s *PostgresStore) AddViolationHistory(ctx context.Context, h model.ViolationHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.DetectedAt.IsZero() {
		h.DetectedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO violation_history (id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.MatchID, string(h.Type), string(h.Severity), h.CompetitorPrice, h.ReferencePrice,
		h.Amount, h.Percent, h.PreviousPrice, h.DetectedAt,
	)
	return eris.Wrap(err, "postgres: add violation history")
}

// LatestViolationHistory returns the newest history row for a match, or nil.
func (s *PostgresStore) LatestViolationHistory(ctx context.Context, matchID string) (*model.ViolationHistory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at
		 FROM violation_history WHERE match_id = $1
		 ORDER BY detected_at DESC, id DESC LIMIT 1`, matchID)
	h, err := scanPGViolationHistory(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListViolationHistory returns the full history for a match, oldest first.
func (s *PostgresStore) ListViolationHistory(ctx context.Context, matchID string) ([]model.ViolationHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, match_id, type, severity, competitor_price, reference_price, amount, percent, previous_price, detected_at
		 FROM violation_history WHERE match_id = $1 ORDER BY detected_at, id`, matchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list violation history")
	}
	defer rows.Close()

	var out []model.ViolationHistory
	for rows.Next() {
		h, err := scanPGViolationHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list violation history rows")
}

// CreateAlert records a new open alert for a match.
func (s *PostgresStore) CreateAlert(ctx context.Context, a model.ViolationAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AlertOpen
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO violation_alerts (id, match_id, severity, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.MatchID, string(a.Severity), string(a.Status), a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create alert")
}

// MarkAlertSent flips an alert to sent after webhook delivery.
func (s *PostgresStore) MarkAlertSent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE violation_alerts SET status = $1 WHERE id = $2`, string(model.AlertSent), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark alert sent %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveOpenAlerts closes all non-resolved alerts for a match.
func (s *PostgresStore) ResolveOpenAlerts(ctx context.Context, matchID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE violation_alerts SET status = $1, resolved_at = $2 WHERE match_id = $3 AND status != $1`,
		string(model.AlertResolved), time.Now().UTC(), matchID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: resolve alerts for match %s", matchID)
	}
	return int(tag.RowsAffected()), nil
}

// --- scan helpers ---

func scanPGMatch(r rowScanner) (model.ProductMatch, error) {
	var m model.ProductMatch
	var factors sql.NullString
	err := r.Scan(&m.ID, &m.ProductID, &m.CompetitorProductID, &m.Score, &factors, &m.Confidence,
		&m.IsManual, &m.IsViolation, &m.ViolationAmount, &m.ViolationPercent,
		&m.FirstViolatedAt, &m.LastCheckedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return m, err
		}
		return m, eris.Wrap(err, "postgres: scan match")
	}
	if factors.Valid && factors.String != "" {
		_ = json.Unmarshal([]byte(factors.String), &m.Factors)
	}
	return m, nil
}

func scanPGViolationHistory(r rowScanner) (model.ViolationHistory, error) {
	var h model.ViolationHistory
	var typ, severity string
	err := r.Scan(&h.ID, &h.MatchID, &typ, &severity, &h.CompetitorPrice, &h.ReferencePrice,
		&h.Amount, &h.Percent, &h.PreviousPrice, &h.DetectedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return h, err
		}
		return h, eris.Wrap(err, "postgres: scan violation history")
	}
	h.Type = model.ViolationEventType(typ)
	h.Severity = model.Severity(severity)
	return h, nil
}

func scanPGCompetitor(r rowScanner) (model.Competitor, error) {
	var c model.Competitor
	var strategy string
	var collections, urlPatterns, searchTerms, excludePatterns sql.NullString
	err := r.Scan(&c.ID, &c.Name, &c.Domain, &strategy, &c.RateLimitMS,
		&collections, &urlPatterns, &searchTerms, &excludePatterns, &c.Active, &c.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, eris.Wrap(err, "postgres: scan competitor")
	}
	c.Strategy = model.ScrapeStrategy(strategy)
	c.Collections = unmarshalStrings(collections)
	c.URLPatterns = unmarshalStrings(urlPatterns)
	c.SearchTerms = unmarshalStrings(searchTerms)
	c.ExcludePatterns = unmarshalStrings(excludePatterns)
	return c, nil
}
