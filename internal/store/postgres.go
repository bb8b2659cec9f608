package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

// Pool abstracts the pgxpool methods the store needs, so tests can swap in
// a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool. Postgres is the deployment
// backend when multiple process instances must share one lock store.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow fixes the clock for expiry tests.
func (s *PostgresStore) WithNow(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	norm_name  TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	parent_id  BIGINT REFERENCES entities(id),
	aliases    TEXT[] NOT NULL DEFAULT '{}',
	tickers    TEXT[] NOT NULL DEFAULT '{}',
	sector     TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT '',
	region     TEXT NOT NULL DEFAULT '',
	verified   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entity_tickers (
	ticker    TEXT PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES entities(id)
);

CREATE TABLE IF NOT EXISTS aliases (
	id         BIGSERIAL PRIMARY KEY,
	entity_id  BIGINT NOT NULL REFERENCES entities(id),
	alias      TEXT NOT NULL,
	norm_alias TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL DEFAULT 'synonym',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_locks (
	key         TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	status      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	result      BYTEA
);

CREATE TABLE IF NOT EXISTS resolution_log (
	id          BIGSERIAL PRIMARY KEY,
	query       TEXT NOT NULL,
	norm_query  TEXT NOT NULL,
	entity_id   BIGINT,
	entity_name TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL,
	confidence  INTEGER NOT NULL,
	latency_ms  BIGINT NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id);
CREATE INDEX IF NOT EXISTS idx_resolution_log_at ON resolution_log(resolved_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgEntityCols = `id, name, norm_name, kind, parent_id, aliases, tickers, sector, industry, region, verified, created_at, updated_at`

func scanPgEntity(row pgx.Row) (*entity.Record, error) {
	var rec entity.Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.NormName, &rec.Kind, &rec.ParentID,
		&rec.Aliases, &rec.Tickers, &rec.Sector, &rec.Industry, &rec.Region,
		&rec.Verified, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, key string) (*entity.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEntityCols+` FROM entities WHERE norm_name = $1`, key)
	rec, err := scanPgEntity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entity by name")
	}
	return rec, nil
}

func (s *PostgresStore) GetByTicker(ctx context.Context, ticker string) (*entity.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+prefixCols("e.", pgEntityCols)+`
		 FROM entities e JOIN entity_tickers t ON t.entity_id = e.id
		 WHERE t.ticker = lower($1)`, ticker)
	rec, err := scanPgEntity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entity by ticker")
	}
	return rec, nil
}

func (s *PostgresStore) GetAlias(ctx context.Context, key string) (*entity.AliasHit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT a.id, a.entity_id, a.alias, a.norm_alias, a.kind, a.created_at,
		        `+prefixCols("e.", pgEntityCols)+`
		 FROM aliases a JOIN entities e ON e.id = a.entity_id
		 WHERE a.norm_alias = $1`, key)

	var hit entity.AliasHit
	err := row.Scan(&hit.Alias.ID, &hit.Alias.EntityID, &hit.Alias.Alias,
		&hit.Alias.NormAlias, &hit.Alias.Kind, &hit.Alias.CreatedAt,
		&hit.Entity.ID, &hit.Entity.Name, &hit.Entity.NormName, &hit.Entity.Kind,
		&hit.Entity.ParentID, &hit.Entity.Aliases, &hit.Entity.Tickers,
		&hit.Entity.Sector, &hit.Entity.Industry, &hit.Entity.Region,
		&hit.Entity.Verified, &hit.Entity.CreatedAt, &hit.Entity.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get alias")
	}
	return &hit, nil
}

func (s *PostgresStore) ListByKind(ctx context.Context, kind entity.Kind) ([]entity.Record, error) {
	return s.listWhere(ctx, `WHERE kind = $1`, string(kind))
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]entity.Record, error) {
	return s.listWhere(ctx, ``)
}

func (s *PostgresStore) listWhere(ctx context.Context, where string, args ...any) ([]entity.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEntityCols+` FROM entities `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		rec, err := scanPgEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate entities")
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, rec *entity.Record) error {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO entities (name, norm_name, kind, parent_id, aliases, tickers, sector, industry, region, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (norm_name) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, parent_id = excluded.parent_id,
			aliases = excluded.aliases, tickers = excluded.tickers,
			sector = excluded.sector, industry = excluded.industry, region = excluded.region,
			verified = excluded.verified, updated_at = excluded.updated_at
		RETURNING id, created_at`,
		rec.Name, rec.NormName, string(rec.Kind), rec.ParentID,
		orEmpty(rec.Aliases), orEmpty(rec.Tickers),
		rec.Sector, rec.Industry, rec.Region, rec.Verified, now,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return eris.Wrap(err, "postgres: upsert entity")
	}
	rec.UpdatedAt = now

	for _, t := range rec.Tickers {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO entity_tickers (ticker, entity_id) VALUES (lower($1), $2)
			ON CONFLICT (ticker) DO UPDATE SET entity_id = excluded.entity_id`,
			t, rec.ID,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert ticker %s", t)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertAlias(ctx context.Context, a *entity.Alias) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aliases (entity_id, alias, norm_alias, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (norm_alias) DO UPDATE SET
			entity_id = excluded.entity_id, alias = excluded.alias, kind = excluded.kind`,
		a.EntityID, a.Alias, a.NormAlias, string(a.Kind), s.now(),
	)
	return eris.Wrap(err, "postgres: upsert alias")
}

// --- joblock.Store ---

// TryAcquire uses a guarded upsert so the row count from the store is the
// atomic ground truth for which caller won the race; a prior status read is
// never trusted for the grant decision.
func (s *PostgresStore) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO job_locks (key, owner, status, acquired_at, expires_at, result)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (key) DO UPDATE SET
			owner = excluded.owner, status = excluded.status,
			acquired_at = excluded.acquired_at, expires_at = excluded.expires_at,
			result = NULL
		WHERE job_locks.status <> $3 OR job_locks.expires_at <= excluded.acquired_at`,
		key, owner, string(joblock.StatusProcessing), now, now.Add(ttl),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: try acquire lock")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Release(ctx context.Context, key, owner string, status joblock.Status, result []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_locks SET status = $1, result = $2
		WHERE key = $3 AND owner = $4 AND status = $5`,
		string(status), result, key, owner, string(joblock.StatusProcessing),
	)
	return eris.Wrap(err, "postgres: release lock")
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*joblock.Lock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, owner, status, acquired_at, expires_at, result FROM job_locks WHERE key = $1`, key)
	var l joblock.Lock
	err := row.Scan(&l.Key, &l.Owner, &l.Status, &l.AcquiredAt, &l.ExpiresAt, &l.Result)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lock")
	}
	if l.Status == joblock.StatusProcessing && l.Expired(s.now()) {
		return nil, nil
	}
	return &l, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM job_locks
		WHERE (status = $1 AND expires_at <= $2)
		   OR (status <> $1 AND acquired_at <= $3)`,
		string(joblock.StatusProcessing), now, now.Add(-retention),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired locks")
	}
	return tag.RowsAffected(), nil
}

// --- resolve.AuditSink ---

func (s *PostgresStore) LogResolution(ctx context.Context, e resolve.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resolution_log (query, norm_query, entity_id, entity_name, method, confidence, latency_ms, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Query, e.NormQuery, e.EntityID, e.EntityName, string(e.Method),
		e.Confidence, e.LatencyMS, e.ResolvedAt,
	)
	return eris.Wrap(err, "postgres: log resolution")
}

func (s *PostgresStore) ResolutionStats(ctx context.Context, lookback time.Duration) (*ResolutionStats, error) {
	cutoff := s.now().Add(-lookback)
	rows, err := s.pool.Query(ctx, `
		SELECT method, COUNT(*), AVG(confidence), AVG(latency_ms)
		FROM resolution_log WHERE resolved_at >= $1 GROUP BY method`, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolution stats")
	}
	defer rows.Close()

	stats := &ResolutionStats{
		ByMethod:      make(map[string]int),
		LookbackHours: int(lookback.Hours()),
		CollectedAt:   s.now(),
	}
	var confSum, latSum float64
	for rows.Next() {
		var method string
		var count int
		var avgConf, avgLat float64
		if err := rows.Scan(&method, &count, &avgConf, &avgLat); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		stats.ByMethod[method] = count
		stats.Total += count
		if method == string(resolve.MethodNone) {
			stats.Unresolved += count
		}
		confSum += avgConf * float64(count)
		latSum += avgLat * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate stats")
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confSum / float64(stats.Total)
		stats.AvgLatencyMS = latSum / float64(stats.Total)
	}
	return stats, nil
}
