// Package sqlitestore implements core.CacheStore on an embedded SQLite
// database through a zombiezen connection pool.
package sqlitestore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS grsync_avatar (
	identity       TEXT    NOT NULL,
	rating         INTEGER NOT NULL,
	content_hash   TEXT,
	resource_path  TEXT,
	size_hint      INTEGER,
	last_synced_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (identity, rating)
);
CREATE TABLE IF NOT EXISTS grsync_resource (
	content_hash  TEXT PRIMARY KEY,
	resource_path TEXT,
	size_hint     INTEGER,
	origin_url    TEXT
);
`

var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening the store.
type Config struct {
	// Path is the database file, created if missing.  ":memory:" forces a
	// single connection since each in-memory connection is independent.
	Path string
	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int
	Logger   core.Logger
}

// Store is safe for concurrent use; each operation borrows its own
// connection.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	logger core.Logger
}

// Open creates the pool.  Schema bootstrap runs once per connection on
// first use.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "sqlite.open", fmt.Errorf("path is required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}
	if cfg.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDatabase, "sqlite.open", fmt.Errorf("opening %s: %w", cfg.Path, err))
	}
	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, path: cfg.Path, logger: logger}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Close closes all connections.  Blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return apperrors.New(apperrors.CategoryDatabase, "sqlite.close", err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func (s *Store) withConn(ctx context.Context, op string, fn func(*sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperrors.New(apperrors.CategoryDatabase, op, err)
	}
	defer s.pool.Put(conn)
	if err := fn(conn); err != nil {
		return translate(op, err)
	}
	return nil
}

func (s *Store) LookupEntry(ctx context.Context, identity string, ceiling core.Rating) (*core.CacheEntry, error) {
	var entry *core.CacheEntry
	err := s.withConn(ctx, "sqlite.lookup_entry", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT identity, rating, content_hash, resource_path, size_hint, last_synced_at
			FROM grsync_avatar
			WHERE identity = ? AND rating <= ?
			ORDER BY rating DESC
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{identity, int(ceiling)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry = &core.CacheEntry{
						Identity:     stmt.ColumnText(0),
						Rating:       core.Rating(stmt.ColumnInt(1)),
						ContentHash:  nullText(stmt, 2),
						ResourcePath: nullText(stmt, 3),
						SizeHint:     stmt.ColumnInt(4),
						LastSyncedAt: stmt.ColumnInt64(5),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.New(apperrors.CategoryDatabase, "sqlite.lookup_entry", apperrors.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) InsertEntry(ctx context.Context, identity string, rating core.Rating) error {
	return s.withConn(ctx, "sqlite.insert_entry", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO grsync_avatar (identity, rating, last_synced_at) VALUES (?, ?, 0)`,
			&sqlitex.ExecOptions{Args: []any{identity, int(rating)}})
	})
}

func (s *Store) TouchEntry(ctx context.Context, identity string, rating core.Rating, at time.Time) error {
	return s.withConn(ctx, "sqlite.touch_entry", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`UPDATE grsync_avatar SET last_synced_at = ? WHERE identity = ? AND rating = ?`,
			&sqlitex.ExecOptions{Args: []any{at.Unix(), identity, int(rating)}})
	})
}

func (s *Store) LinkEntry(ctx context.Context, identity string, rating core.Rating, contentHash string, sizeHint int) error {
	return s.withConn(ctx, "sqlite.link_entry", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`UPDATE grsync_avatar SET content_hash = ?, resource_path = NULL, size_hint = ?
			 WHERE identity = ? AND rating = ?`,
			&sqlitex.ExecOptions{Args: []any{contentHash, nullInt(sizeHint), identity, int(rating)}})
	})
}

func (s *Store) LookupResource(ctx context.Context, contentHash string) (*core.ResourceRecord, error) {
	var rec *core.ResourceRecord
	err := s.withConn(ctx, "sqlite.lookup_resource", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT content_hash, resource_path, size_hint, origin_url FROM grsync_resource WHERE content_hash = ?`,
			&sqlitex.ExecOptions{
				Args: []any{contentHash},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rec = &core.ResourceRecord{
						ContentHash:  stmt.ColumnText(0),
						ResourcePath: nullText(stmt, 1),
						SizeHint:     stmt.ColumnInt(2),
						OriginURL:    nullText(stmt, 3),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.New(apperrors.CategoryDatabase, "sqlite.lookup_resource", apperrors.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) InsertResource(ctx context.Context, rec core.ResourceRecord) error {
	return s.withConn(ctx, "sqlite.insert_resource", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO grsync_resource (content_hash, resource_path, size_hint, origin_url) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				rec.ContentHash,
				nullString(rec.ResourcePath),
				nullInt(rec.SizeHint),
				nullString(rec.OriginURL),
			}})
	})
}

// translate maps SQLite result codes onto the sentinel errors.
func translate(op string, err error) error {
	if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
		return apperrors.New(apperrors.CategoryDatabase, op, fmt.Errorf("%w: %v", apperrors.ErrAlreadyExists, err))
	}
	if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultBusy {
		return apperrors.Transient(op, err)
	}
	return apperrors.New(apperrors.CategoryDatabase, op, err)
}

func nullText(stmt *sqlite.Stmt, col int) string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return ""
	}
	return stmt.ColumnText(col)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

var _ core.CacheStore = (*Store)(nil)
