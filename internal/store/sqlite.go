package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/pkg/geocode"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	base_url               TEXT NOT NULL UNIQUE,
	discovery_status       TEXT NOT NULL DEFAULT 'pending',
	scrape_config          TEXT,
	structure_hash         TEXT NOT NULL DEFAULT '',
	last_discovery_at      TIMESTAMP,
	last_run_at            TIMESTAMP,
	consecutive_failures   INTEGER NOT NULL DEFAULT 0,
	total_extractions      INTEGER NOT NULL DEFAULT 0,
	successful_extractions INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	source_id               TEXT NOT NULL,
	external_id             TEXT NOT NULL,
	url                     TEXT NOT NULL,
	title                   TEXT,
	category                TEXT,
	normalized_category     TEXT,
	address                 TEXT,
	clean_address           TEXT,
	city                    TEXT,
	state                   TEXT,
	evaluation_value        REAL,
	first_auction_value     REAL,
	second_auction_value    REAL,
	discount_pct            REAL,
	image_url               TEXT,
	dedup_key               TEXT NOT NULL DEFAULT '',
	is_duplicate            INTEGER NOT NULL DEFAULT 0,
	invalid_value_hierarchy INTEGER NOT NULL DEFAULT 0,
	invalid_address         INTEGER NOT NULL DEFAULT 0,
	latitude                REAL,
	longitude               REAL,
	extracted_at            TIMESTAMP NOT NULL,
	updated_at              TIMESTAMP NOT NULL,
	PRIMARY KEY (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup_key ON listings(dedup_key);
CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(normalized_category);

CREATE TABLE IF NOT EXISTS geocode_cache (
	query_key    TEXT PRIMARY KEY,
	latitude     REAL,
	longitude    REAL,
	display_name TEXT,
	matched      INTEGER NOT NULL DEFAULT 0,
	cached_at    TIMESTAMP NOT NULL
);
`

// SQLiteStore backs the pipeline with an embedded database, the default for
// single-machine runs.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, eris.Wrapf(err, "opening sqlite database at %s", path)
	}
	// modernc sqlite handles a single writer; keep the pool small.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "pinging sqlite database at %s", path)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "applying sqlite schema")
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSource(ctx context.Context, name, baseURL string) (*model.Source, error) {
	now := s.now().UTC()
	src := &model.Source{
		ID:              uuid.NewString(),
		Name:            name,
		BaseURL:         baseURL,
		DiscoveryStatus: model.DiscoveryPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, base_url, discovery_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, src.BaseURL, string(src.DiscoveryStatus), src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "inserting source %s", baseURL)
	}
	return src, nil
}

const sourceColumns = `id, name, base_url, discovery_status, scrape_config, structure_hash,
	last_discovery_at, last_run_at, consecutive_failures, total_extractions,
	successful_extractions, created_at, updated_at`

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("source %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading source %s", id)
	}
	return src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "listing sources")
	}
	defer rows.Close()
	return collectSources(rows)
}

func (s *SQLiteStore) ListDueSources(ctx context.Context, limit int) ([]model.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources
		ORDER BY last_run_at IS NOT NULL, last_run_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "listing due sources")
	}
	defer rows.Close()
	return collectSources(rows)
}

func (s *SQLiteStore) SaveScrapeConfig(ctx context.Context, sourceID string, cfg *model.ScrapeConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "encoding scrape config")
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources
		SET scrape_config = ?, structure_hash = ?, discovery_status = ?,
		    last_discovery_at = ?, consecutive_failures = 0, updated_at = ?
		WHERE id = ?`,
		string(payload), cfg.Validation.StructureHash, string(model.DiscoveryCompleted),
		cfg.DiscoveredAt, now, sourceID)
	if err != nil {
		return eris.Wrapf(err, "saving scrape config for source %s", sourceID)
	}
	return requireRow(res, sourceID)
}

func (s *SQLiteStore) UpdateDiscoveryStatus(ctx context.Context, sourceID string, status model.DiscoveryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET discovery_status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "updating discovery status for source %s", sourceID)
	}
	return requireRow(res, sourceID)
}

func (s *SQLiteStore) TouchSourceRun(ctx context.Context, sourceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "touching last run for source %s", sourceID)
	}
	return requireRow(res, sourceID)
}

func (s *SQLiteStore) UpsertListings(ctx context.Context, records []model.ReconciledRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "beginning listings transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (
			source_id, external_id, url, title, category, normalized_category,
			address, clean_address, city, state,
			evaluation_value, first_auction_value, second_auction_value, discount_pct,
			image_url, dedup_key, is_duplicate, invalid_value_hierarchy, invalid_address,
			latitude, longitude, extracted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			category = excluded.category,
			normalized_category = excluded.normalized_category,
			address = excluded.address,
			clean_address = excluded.clean_address,
			city = excluded.city,
			state = excluded.state,
			evaluation_value = excluded.evaluation_value,
			first_auction_value = excluded.first_auction_value,
			second_auction_value = excluded.second_auction_value,
			discount_pct = excluded.discount_pct,
			image_url = excluded.image_url,
			dedup_key = excluded.dedup_key,
			is_duplicate = excluded.is_duplicate,
			invalid_value_hierarchy = excluded.invalid_value_hierarchy,
			invalid_address = excluded.invalid_address,
			latitude = COALESCE(excluded.latitude, listings.latitude),
			longitude = COALESCE(excluded.longitude, listings.longitude),
			extracted_at = excluded.extracted_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "preparing listings upsert")
	}
	defer stmt.Close()

	now := s.now().UTC()
	written := 0
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.SourceID, r.ExternalID, r.URL, r.Title, r.Category, r.NormalizedCategory,
			r.Address, r.CleanAddress, r.City, r.State,
			r.EvaluationValue, r.FirstAuctionValue, r.SecondAuctionValue, r.DiscountPct,
			r.ImageURL, r.DedupKey, r.IsDuplicate, r.InvalidValueHierarchy, r.InvalidAddress,
			r.Latitude, r.Longitude, r.ExtractedAt.UTC(), now)
		if err != nil {
			return written, eris.Wrapf(err, "upserting listing %s/%s", r.SourceID, r.ExternalID)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "committing listings")
	}
	return written, nil
}

func (s *SQLiteStore) RecordExtractionOutcome(ctx context.Context, sourceID string, success bool) error {
	// Detached context so metrics land even when the run is being canceled.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsTimeout)
	defer cancel()

	var q string
	if success {
		q = `UPDATE sources SET
			consecutive_failures = 0,
			total_extractions = total_extractions + 1,
			successful_extractions = successful_extractions + 1,
			updated_at = ?
		WHERE id = ?`
	} else {
		q = `UPDATE sources SET
			consecutive_failures = consecutive_failures + 1,
			total_extractions = total_extractions + 1,
			updated_at = ?
		WHERE id = ?`
	}
	res, err := s.db.ExecContext(mctx, q, s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "recording extraction outcome for source %s", sourceID)
	}
	return requireRow(res, sourceID)
}

func (s *SQLiteStore) GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error) {
	var (
		lat, lon sql.NullFloat64
		name     sql.NullString
		matched  bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, display_name, matched FROM geocode_cache WHERE query_key = ?`, key).
		Scan(&lat, &lon, &name, &matched)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "reading geocode cache")
	}
	return &geocode.Result{
		Latitude:    lat.Float64,
		Longitude:   lon.Float64,
		DisplayName: name.String,
		Matched:     matched,
	}, true, nil
}

func (s *SQLiteStore) PutGeocode(ctx context.Context, key string, result *geocode.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (query_key, latitude, longitude, display_name, matched, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_key) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			display_name = excluded.display_name,
			matched = excluded.matched,
			cached_at = excluded.cached_at`,
		key, result.Latitude, result.Longitude, result.DisplayName, result.Matched, s.now().UTC())
	if err != nil {
		return eris.Wrap(err, "writing geocode cache")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	var (
		src           model.Source
		status        string
		cfgJSON       sql.NullString
		lastDiscovery sql.NullTime
		lastRun       sql.NullTime
	)
	err := row.Scan(
		&src.ID, &src.Name, &src.BaseURL, &status, &cfgJSON, &src.StructureHash,
		&lastDiscovery, &lastRun,
		&src.Metrics.ConsecutiveFailures, &src.Metrics.TotalExtractions,
		&src.Metrics.SuccessfulExtractions,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	src.DiscoveryStatus = model.DiscoveryStatus(status)
	src.Metrics.StructureHash = src.StructureHash
	if lastDiscovery.Valid {
		t := lastDiscovery.Time
		src.LastDiscoveryAt = &t
	}
	if lastRun.Valid {
		t := lastRun.Time
		src.LastRunAt = &t
	}
	if cfgJSON.Valid && cfgJSON.String != "" {
		var cfg model.ScrapeConfig
		if err := json.Unmarshal([]byte(cfgJSON.String), &cfg); err != nil {
			return nil, eris.Wrapf(err, "decoding scrape config for source %s", src.ID)
		}
		src.ScrapeConfig = &cfg
	}
	return &src, nil
}

func collectSources(rows *sql.Rows) ([]model.Source, error) {
	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scanning source row")
		}
		out = append(out, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterating source rows")
	}
	return out, nil
}

func requireRow(res sql.Result, sourceID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "checking rows affected")
	}
	if n == 0 {
		zap.L().Warn("source not found for update", zap.String("source_id", sourceID))
		return eris.Errorf("source %s not found", sourceID)
	}
	return nil
}
