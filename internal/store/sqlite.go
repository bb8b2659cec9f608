package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithNow fixes the clock for expiry tests.
func (s *SQLiteStore) WithNow(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	norm_name  TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	parent_id  INTEGER REFERENCES entities(id),
	aliases    TEXT NOT NULL DEFAULT '[]',
	tickers    TEXT NOT NULL DEFAULT '[]',
	sector     TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT '',
	region     TEXT NOT NULL DEFAULT '',
	verified   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_tickers (
	ticker    TEXT PRIMARY KEY,
	entity_id INTEGER NOT NULL REFERENCES entities(id)
);

CREATE TABLE IF NOT EXISTS aliases (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id  INTEGER NOT NULL REFERENCES entities(id),
	alias      TEXT NOT NULL,
	norm_alias TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL DEFAULT 'synonym',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_locks (
	key         TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	status      TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL,
	result      BLOB
);

CREATE TABLE IF NOT EXISTS resolution_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	query       TEXT NOT NULL,
	norm_query  TEXT NOT NULL,
	entity_id   INTEGER,
	entity_name TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL,
	confidence  INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	resolved_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id);
CREATE INDEX IF NOT EXISTS idx_resolution_log_at ON resolution_log(resolved_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteEntityCols = `id, name, norm_name, kind, parent_id, aliases, tickers, sector, industry, region, verified, created_at, updated_at`

func (s *SQLiteStore) scanEntity(row interface{ Scan(...any) error }) (*entity.Record, error) {
	var rec entity.Record
	var aliasesJSON, tickersJSON string
	var parentID sql.NullInt64
	err := row.Scan(&rec.ID, &rec.Name, &rec.NormName, &rec.Kind, &parentID,
		&aliasesJSON, &tickersJSON, &rec.Sector, &rec.Industry, &rec.Region,
		&rec.Verified, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		rec.ParentID = &parentID.Int64
	}
	if err := json.Unmarshal([]byte(aliasesJSON), &rec.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	if err := json.Unmarshal([]byte(tickersJSON), &rec.Tickers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tickers")
	}
	return &rec, nil
}

func (s *SQLiteStore) GetByName(ctx context.Context, key string) (*entity.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityCols+` FROM entities WHERE norm_name = ?`, key)
	rec, err := s.scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entity by name")
	}
	return rec, nil
}

func (s *SQLiteStore) GetByTicker(ctx context.Context, ticker string) (*entity.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prefixCols("e.", sqliteEntityCols)+`
		 FROM entities e JOIN entity_tickers t ON t.entity_id = e.id
		 WHERE t.ticker = ?`, strings.ToLower(strings.TrimSpace(ticker)))
	rec, err := s.scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entity by ticker")
	}
	return rec, nil
}

func (s *SQLiteStore) GetAlias(ctx context.Context, key string) (*entity.AliasHit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.entity_id, a.alias, a.norm_alias, a.kind, a.created_at,
		        `+prefixCols("e.", sqliteEntityCols)+`
		 FROM aliases a JOIN entities e ON e.id = a.entity_id
		 WHERE a.norm_alias = ?`, key)

	var hit entity.AliasHit
	var aliasesJSON, tickersJSON string
	var parentID sql.NullInt64
	err := row.Scan(&hit.Alias.ID, &hit.Alias.EntityID, &hit.Alias.Alias,
		&hit.Alias.NormAlias, &hit.Alias.Kind, &hit.Alias.CreatedAt,
		&hit.Entity.ID, &hit.Entity.Name, &hit.Entity.NormName, &hit.Entity.Kind,
		&parentID, &aliasesJSON, &tickersJSON, &hit.Entity.Sector,
		&hit.Entity.Industry, &hit.Entity.Region, &hit.Entity.Verified,
		&hit.Entity.CreatedAt, &hit.Entity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get alias")
	}
	if parentID.Valid {
		hit.Entity.ParentID = &parentID.Int64
	}
	if err := json.Unmarshal([]byte(aliasesJSON), &hit.Entity.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	if err := json.Unmarshal([]byte(tickersJSON), &hit.Entity.Tickers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tickers")
	}
	return &hit, nil
}

func (s *SQLiteStore) ListByKind(ctx context.Context, kind entity.Kind) ([]entity.Record, error) {
	return s.listWhere(ctx, `WHERE kind = ?`, string(kind))
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]entity.Record, error) {
	return s.listWhere(ctx, ``)
}

func (s *SQLiteStore) listWhere(ctx context.Context, where string, args ...any) ([]entity.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEntityCols+` FROM entities `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		rec, err := s.scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, rec *entity.Record) error {
	now := s.now()
	aliasesJSON, err := json.Marshal(orEmpty(rec.Aliases))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	tickersJSON, err := json.Marshal(orEmpty(rec.Tickers))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tickers")
	}

	var parentID any
	if rec.ParentID != nil {
		parentID = *rec.ParentID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (name, norm_name, kind, parent_id, aliases, tickers, sector, industry, region, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(norm_name) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, parent_id = excluded.parent_id,
			aliases = excluded.aliases, tickers = excluded.tickers,
			sector = excluded.sector, industry = excluded.industry, region = excluded.region,
			verified = excluded.verified, updated_at = excluded.updated_at`,
		rec.Name, rec.NormName, string(rec.Kind), parentID,
		string(aliasesJSON), string(tickersJSON),
		rec.Sector, rec.Industry, rec.Region, rec.Verified, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert entity")
	}

	if rec.ID == 0 {
		row := s.db.QueryRowContext(ctx, `SELECT id, created_at FROM entities WHERE norm_name = ?`, rec.NormName)
		if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: read back entity id")
		}
	}
	rec.UpdatedAt = now

	// Keep the ticker lookup table in sync with the record.
	for _, t := range rec.Tickers {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO entity_tickers (ticker, entity_id) VALUES (?, ?)
			ON CONFLICT(ticker) DO UPDATE SET entity_id = excluded.entity_id`,
			strings.ToLower(t), rec.ID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert ticker %s", t)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertAlias(ctx context.Context, a *entity.Alias) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (entity_id, alias, norm_alias, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(norm_alias) DO UPDATE SET
			entity_id = excluded.entity_id, alias = excluded.alias, kind = excluded.kind`,
		a.EntityID, a.Alias, a.NormAlias, string(a.Kind), now,
	)
	return eris.Wrap(err, "sqlite: upsert alias")
}

// --- joblock.Store ---

// TryAcquire relies on a guarded upsert: the UPDATE branch only fires when
// the existing lock is terminal or expired, so the row count is the atomic
// ground truth for who won the race.
func (s *SQLiteStore) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_locks (key, owner, status, acquired_at, expires_at, result)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner, status = excluded.status,
			acquired_at = excluded.acquired_at, expires_at = excluded.expires_at,
			result = NULL
		WHERE job_locks.status != ? OR job_locks.expires_at <= excluded.acquired_at`,
		key, owner, string(joblock.StatusProcessing), now, now.Add(ttl),
		string(joblock.StatusProcessing),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: try acquire lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: lock rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Release(ctx context.Context, key, owner string, status joblock.Status, result []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_locks SET status = ?, result = ?
		WHERE key = ? AND owner = ? AND status = ?`,
		string(status), result, key, owner, string(joblock.StatusProcessing),
	)
	return eris.Wrap(err, "sqlite: release lock")
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*joblock.Lock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, owner, status, acquired_at, expires_at, result FROM job_locks WHERE key = ?`, key)
	var l joblock.Lock
	err := row.Scan(&l.Key, &l.Owner, &l.Status, &l.AcquiredAt, &l.ExpiresAt, &l.Result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get lock")
	}
	if l.Status == joblock.StatusProcessing && l.Expired(s.now()) {
		return nil, nil
	}
	return &l, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM job_locks
		WHERE (status = ? AND expires_at <= ?)
		   OR (status != ? AND acquired_at <= ?)`,
		string(joblock.StatusProcessing), now,
		string(joblock.StatusProcessing), now.Add(-retention),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired locks")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: expired rows affected")
}

// --- resolve.AuditSink ---

func (s *SQLiteStore) LogResolution(ctx context.Context, e resolve.AuditEntry) error {
	var entityID any
	if e.EntityID != nil {
		entityID = *e.EntityID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_log (query, norm_query, entity_id, entity_name, method, confidence, latency_ms, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Query, e.NormQuery, entityID, e.EntityName, string(e.Method),
		e.Confidence, e.LatencyMS, e.ResolvedAt,
	)
	return eris.Wrap(err, "sqlite: log resolution")
}

func (s *SQLiteStore) ResolutionStats(ctx context.Context, lookback time.Duration) (*ResolutionStats, error) {
	cutoff := s.now().Add(-lookback)
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*), AVG(confidence), AVG(latency_ms)
		FROM resolution_log WHERE resolved_at >= ? GROUP BY method`, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolution stats")
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
			return nil, eris.Wrap(err, "sqlite: scan stats")
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
		return nil, eris.Wrap(err, "sqlite: iterate stats")
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confSum / float64(stats.Total)
		stats.AvgLatencyMS = latSum / float64(stats.Total)
	}
	return stats, nil
}

// prefixCols prefixes each column in a comma-separated list.
func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
