package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sportsfetch/pkg/logger"

	"github.com/sirupsen/logrus"
)

// DurableBackend 基于 SQLite 的持久缓存层。
// 过期条目保留在表中直到 Sweep 清理，期间可通过 GetStale
// 提供降级数据。启用 WAL 模式以支持并发读取。
type DurableBackend struct {
	db  *sql.DB
	log *logrus.Entry
}

var _ Backend = (*DurableBackend)(nil)

// NewDurableBackend 打开或创建持久层数据库并初始化表结构。
func NewDurableBackend(path string) (*DurableBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapBackendErr("failed to create durable cache directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wrapBackendErr("failed to open durable cache db", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapBackendErr("failed to ping durable cache db", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, wrapBackendErr("failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, wrapBackendErr("failed to set busy timeout", err)
	}

	d := &DurableBackend{
		db:  db,
		log: logger.WithComponent("cache.durable"),
	}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// migrate 创建缓存表和索引。
func (d *DurableBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
	`

	if _, err := d.db.Exec(query); err != nil {
		return wrapBackendErr("failed to create cache_entries table", err)
	}

	return nil
}

func (d *DurableBackend) Get(ctx context.Context, key string) (*Entry, error) {
	return d.get(ctx, key, false)
}

func (d *DurableBackend) GetStale(ctx context.Context, key string) (*Entry, error) {
	return d.get(ctx, key, true)
}

func (d *DurableBackend) get(ctx context.Context, key string, stale bool) (*Entry, error) {
	query := `SELECT value, expires_at, created_at, updated_at FROM cache_entries WHERE key = ?`
	args := []interface{}{key}
	if !stale {
		query += ` AND expires_at > ?`
		args = append(args, time.Now().Unix())
	}

	var (
		value     []byte
		expiresAt int64
		createdAt int64
		updatedAt int64
	)
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&value, &expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMissNotFound
	}
	if err != nil {
		return nil, wrapBackendErr("durable get failed", err)
	}

	return &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Unix(expiresAt, 0),
		CreatedAt: time.Unix(createdAt, 0),
		UpdatedAt: time.Unix(updatedAt, 0),
	}, nil
}

func (d *DurableBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	query := `
	INSERT INTO cache_entries (key, value, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value      = excluded.value,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at
	`

	_, err := d.db.ExecContext(ctx, query, key, value, now.Add(ttl).Unix(), now.Unix(), now.Unix())
	if err != nil {
		return wrapBackendErr("durable set failed", err)
	}
	return nil
}

func (d *DurableBackend) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return wrapBackendErr("durable delete failed", err)
	}
	return nil
}

func (d *DurableBackend) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return 0, wrapBackendErr("durable delete by prefix failed", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, wrapBackendErr("durable delete by prefix failed", err)
	}
	return removed, nil
}

// Sweep 删除所有已过期的条目，返回删除数量。
func (d *DurableBackend) Sweep(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, wrapBackendErr("durable sweep failed", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, wrapBackendErr("durable sweep failed", err)
	}
	if removed > 0 {
		d.log.WithField("removed", removed).Debug("清理过期缓存条目")
	}
	return removed, nil
}

func (d *DurableBackend) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
	FROM cache_entries`, time.Now().Unix()).Scan(&s.Entries, &s.Expired)
	if err != nil {
		return Stats{}, wrapBackendErr("durable stats failed", err)
	}
	return s, nil
}

func (d *DurableBackend) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return wrapBackendErr("durable ping failed", err)
	}
	return nil
}

func (d *DurableBackend) Close() error {
	return d.db.Close()
}

// escapeLike 转义 LIKE 模式中的特殊字符，缓存键可能包含 '%' 或 '_'。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
