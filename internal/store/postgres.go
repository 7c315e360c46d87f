package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/pkg/geocode"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	base_url               TEXT NOT NULL UNIQUE,
	discovery_status       TEXT NOT NULL DEFAULT 'pending',
	scrape_config          JSONB,
	structure_hash         TEXT NOT NULL DEFAULT '',
	last_discovery_at      TIMESTAMPTZ,
	last_run_at            TIMESTAMPTZ,
	consecutive_failures   INTEGER NOT NULL DEFAULT 0,
	total_extractions      INTEGER NOT NULL DEFAULT 0,
	successful_extractions INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
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
	evaluation_value        DOUBLE PRECISION,
	first_auction_value     DOUBLE PRECISION,
	second_auction_value    DOUBLE PRECISION,
	discount_pct            DOUBLE PRECISION,
	image_url               TEXT,
	dedup_key               TEXT NOT NULL DEFAULT '',
	is_duplicate            BOOLEAN NOT NULL DEFAULT FALSE,
	invalid_value_hierarchy BOOLEAN NOT NULL DEFAULT FALSE,
	invalid_address         BOOLEAN NOT NULL DEFAULT FALSE,
	latitude                DOUBLE PRECISION,
	longitude               DOUBLE PRECISION,
	extracted_at            TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup_key ON listings(dedup_key);
CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(normalized_category);

CREATE TABLE IF NOT EXISTS geocode_cache (
	query_key    TEXT PRIMARY KEY,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	display_name TEXT,
	matched      BOOLEAN NOT NULL DEFAULT FALSE,
	cached_at    TIMESTAMPTZ NOT NULL
);
`

// PostgresStore backs the pipeline with a shared database for multi-machine
// deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and verifies the
// connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "pinging postgres")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "applying postgres schema")
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, name, baseURL string) (*model.Source, error) {
	now := s.now().UTC()
	src := &model.Source{
		ID:              uuid.NewString(),
		Name:            name,
		BaseURL:         baseURL,
		DiscoveryStatus: model.DiscoveryPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (id, name, base_url, discovery_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		src.ID, src.Name, src.BaseURL, string(src.DiscoveryStatus), src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "inserting source %s", baseURL)
	}
	return src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanPgSource(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("source %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading source %s", id)
	}
	return src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "listing sources")
	}
	defer rows.Close()
	return collectPgSources(rows)
}

func (s *PostgresStore) ListDueSources(ctx context.Context, limit int) ([]model.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources ORDER BY last_run_at ASC NULLS FIRST`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "listing due sources")
	}
	defer rows.Close()
	return collectPgSources(rows)
}

func (s *PostgresStore) SaveScrapeConfig(ctx context.Context, sourceID string, cfg *model.ScrapeConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "encoding scrape config")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources
		SET scrape_config = $1, structure_hash = $2, discovery_status = $3,
		    last_discovery_at = $4, consecutive_failures = 0, updated_at = $5
		WHERE id = $6`,
		payload, cfg.Validation.StructureHash, string(model.DiscoveryCompleted),
		cfg.DiscoveredAt, s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "saving scrape config for source %s", sourceID)
	}
	return requirePgRow(tag.RowsAffected(), sourceID)
}

func (s *PostgresStore) UpdateDiscoveryStatus(ctx context.Context, sourceID string, status model.DiscoveryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET discovery_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "updating discovery status for source %s", sourceID)
	}
	return requirePgRow(tag.RowsAffected(), sourceID)
}

func (s *PostgresStore) TouchSourceRun(ctx context.Context, sourceID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_run_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "touching last run for source %s", sourceID)
	}
	return requirePgRow(tag.RowsAffected(), sourceID)
}

const listingUpsertSQL = `
	INSERT INTO listings (
		source_id, external_id, url, title, category, normalized_category,
		address, clean_address, city, state,
		evaluation_value, first_auction_value, second_auction_value, discount_pct,
		image_url, dedup_key, is_duplicate, invalid_value_hierarchy, invalid_address,
		latitude, longitude, extracted_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23)
	ON CONFLICT (source_id, external_id) DO UPDATE SET
		url = EXCLUDED.url,
		title = EXCLUDED.title,
		category = EXCLUDED.category,
		normalized_category = EXCLUDED.normalized_category,
		address = EXCLUDED.address,
		clean_address = EXCLUDED.clean_address,
		city = EXCLUDED.city,
		state = EXCLUDED.state,
		evaluation_value = EXCLUDED.evaluation_value,
		first_auction_value = EXCLUDED.first_auction_value,
		second_auction_value = EXCLUDED.second_auction_value,
		discount_pct = EXCLUDED.discount_pct,
		image_url = EXCLUDED.image_url,
		dedup_key = EXCLUDED.dedup_key,
		is_duplicate = EXCLUDED.is_duplicate,
		invalid_value_hierarchy = EXCLUDED.invalid_value_hierarchy,
		invalid_address = EXCLUDED.invalid_address,
		latitude = COALESCE(EXCLUDED.latitude, listings.latitude),
		longitude = COALESCE(EXCLUDED.longitude, listings.longitude),
		extracted_at = EXCLUDED.extracted_at,
		updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) UpsertListings(ctx context.Context, records []model.ReconciledRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(listingUpsertSQL,
			r.SourceID, r.ExternalID, r.URL, r.Title, r.Category, r.NormalizedCategory,
			r.Address, r.CleanAddress, r.City, r.State,
			r.EvaluationValue, r.FirstAuctionValue, r.SecondAuctionValue, r.DiscountPct,
			r.ImageURL, r.DedupKey, r.IsDuplicate, r.InvalidValueHierarchy, r.InvalidAddress,
			r.Latitude, r.Longitude, r.ExtractedAt.UTC(), now)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for i := range records {
		if _, err := br.Exec(); err != nil {
			return written, eris.Wrapf(err, "upserting listing %s/%s",
				records[i].SourceID, records[i].ExternalID)
		}
		written++
	}
	return written, nil
}

func (s *PostgresStore) RecordExtractionOutcome(ctx context.Context, sourceID string, success bool) error {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsTimeout)
	defer cancel()

	var q string
	if success {
		q = `UPDATE sources SET
			consecutive_failures = 0,
			total_extractions = total_extractions + 1,
			successful_extractions = successful_extractions + 1,
			updated_at = $1
		WHERE id = $2`
	} else {
		q = `UPDATE sources SET
			consecutive_failures = consecutive_failures + 1,
			total_extractions = total_extractions + 1,
			updated_at = $1
		WHERE id = $2`
	}
	tag, err := s.pool.Exec(mctx, q, s.now().UTC(), sourceID)
	if err != nil {
		return eris.Wrapf(err, "recording extraction outcome for source %s", sourceID)
	}
	return requirePgRow(tag.RowsAffected(), sourceID)
}

func (s *PostgresStore) GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error) {
	var (
		lat, lon *float64
		name     *string
		matched  bool
	)
	err := s.pool.QueryRow(ctx,
		`SELECT latitude, longitude, display_name, matched FROM geocode_cache WHERE query_key = $1`, key).
		Scan(&lat, &lon, &name, &matched)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "reading geocode cache")
	}
	res := &geocode.Result{Matched: matched}
	if lat != nil {
		res.Latitude = *lat
	}
	if lon != nil {
		res.Longitude = *lon
	}
	if name != nil {
		res.DisplayName = *name
	}
	return res, true, nil
}

func (s *PostgresStore) PutGeocode(ctx context.Context, key string, result *geocode.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (query_key, latitude, longitude, display_name, matched, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (query_key) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			display_name = EXCLUDED.display_name,
			matched = EXCLUDED.matched,
			cached_at = EXCLUDED.cached_at`,
		key, result.Latitude, result.Longitude, result.DisplayName, result.Matched, s.now().UTC())
	if err != nil {
		return eris.Wrap(err, "writing geocode cache")
	}
	return nil
}

func scanPgSource(row pgx.Row) (*model.Source, error) {
	var (
		src           model.Source
		status        string
		cfgJSON       []byte
		lastDiscovery *time.Time
		lastRun       *time.Time
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
	src.LastDiscoveryAt = lastDiscovery
	src.LastRunAt = lastRun
	if len(cfgJSON) > 0 {
		var cfg model.ScrapeConfig
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
			return nil, eris.Wrapf(err, "decoding scrape config for source %s", src.ID)
		}
		src.ScrapeConfig = &cfg
	}
	return &src, nil
}

func collectPgSources(rows pgx.Rows) ([]model.Source, error) {
	var out []model.Source
	for rows.Next() {
		src, err := scanPgSource(rows)
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

func requirePgRow(n int64, sourceID string) error {
	if n == 0 {
		zap.L().Warn("source not found for update", zap.String("source_id", sourceID))
		return eris.Errorf("source %s not found", sourceID)
	}
	return nil
}
