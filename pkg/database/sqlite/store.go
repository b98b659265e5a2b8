// Package sqlite 把目录记录保存到 SQLite 的 media 表中（database.driver=sqlite）。
package sqlite

import (
	"Media_Catalog/pkg/database"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS media (
	hash      TEXT PRIMARY KEY,
	filepath  TEXT NOT NULL UNIQUE,
	format    TEXT NOT NULL,
	created   INTEGER,
	latitude  REAL,
	longitude REAL,
	device    TEXT,
	iso       INTEGER,
	phash     TEXT,
	size      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_media_device ON media(device);
CREATE INDEX IF NOT EXISTS idx_media_created ON media(created);
CREATE TABLE IF NOT EXISTS labels (
	hash  TEXT NOT NULL REFERENCES media(hash) ON DELETE CASCADE,
	label TEXT NOT NULL,
	PRIMARY KEY (hash, label)
);
CREATE INDEX IF NOT EXISTS idx_labels_label ON labels(label);
`

// Store 是 database.Store 的 SQLite 实现。
type Store struct {
	db   *sql.DB
	path string
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

// Open 打开（或创建）path 处的数据库并初始化表结构。
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 数据库失败: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("执行 %q 失败: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("sqlite 存储已打开", "path", path)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("读取 user_version 失败: %w", err)
	}
	if version > database.SchemaVersion {
		return fmt.Errorf("%w: 数据库版本 %d 高于支持的 %d", database.ErrCorrupt, version, database.SchemaVersion)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("创建 media 表失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", database.SchemaVersion)); err != nil {
		return fmt.Errorf("写入 user_version 失败: %w", err)
	}
	return nil
}

// LoadRecords 按 hash 顺序读出全部记录。
func (s *Store) LoadRecords(ctx context.Context) ([]database.RecordDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, filepath, format, created, latitude, longitude, device, iso, phash, size
		 FROM media ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("查询 media 表失败: %w", err)
	}
	defer rows.Close()

	var docs []database.RecordDocument
	for rows.Next() {
		var (
			d       database.RecordDocument
			created sql.NullInt64
			lat     sql.NullFloat64
			long    sql.NullFloat64
			device  sql.NullString
			iso     sql.NullInt64
			phash   sql.NullString
		)
		if err := rows.Scan(&d.Hash, &d.FilePath, &d.Format, &created, &lat, &long, &device, &iso, &phash, &d.Size); err != nil {
			return nil, fmt.Errorf("%w: 读取 media 行失败: %v", database.ErrCorrupt, err)
		}
		if created.Valid {
			v := created.Int64
			d.Created = &v
		}
		if lat.Valid && long.Valid {
			la, lo := lat.Float64, long.Float64
			d.Latitude, d.Longitude = &la, &lo
		}
		if iso.Valid {
			v := int(iso.Int64)
			d.ISO = &v
		}
		d.Device = device.String
		d.PerceptualHash = phash.String
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadLabels(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// loadLabels 把 labels 表的内容挂到对应的记录上。docs 按 hash 排序。
func (s *Store) loadLabels(ctx context.Context, docs []database.RecordDocument) error {
	rows, err := s.db.QueryContext(ctx, "SELECT hash, label FROM labels ORDER BY hash, label")
	if err != nil {
		return fmt.Errorf("查询 labels 表失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, label string
		if err := rows.Scan(&hash, &label); err != nil {
			return fmt.Errorf("%w: 读取 labels 行失败: %v", database.ErrCorrupt, err)
		}
		i, ok := slices.BinarySearchFunc(docs, hash, func(d database.RecordDocument, h string) int {
			return strings.Compare(d.Hash, h)
		})
		if !ok {
			return fmt.Errorf("%w: 标签 %q 指向不存在的记录 %s", database.ErrCorrupt, label, hash)
		}
		docs[i].Labels = append(docs[i].Labels, label)
	}
	return rows.Err()
}

// SaveRecords 在一个事务内清空并重写 media 表。
func (s *Store) SaveRecords(ctx context.Context, docs []database.RecordDocument) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM labels"); err != nil {
		return fmt.Errorf("清空 labels 表失败: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM media"); err != nil {
		return fmt.Errorf("清空 media 表失败: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO media (hash, filepath, format, created, latitude, longitude, device, iso, phash, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer stmt.Close()
	labelStmt, err := tx.PrepareContext(ctx, "INSERT INTO labels (hash, label) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer labelStmt.Close()

	for _, d := range docs {
		if _, err = stmt.ExecContext(ctx, d.Hash, d.FilePath, d.Format,
			nullable(d.Created), nullable(d.Latitude), nullable(d.Longitude),
			nullString(d.Device), nullable(d.ISO), nullString(d.PerceptualHash), d.Size); err != nil {
			return fmt.Errorf("写入记录 %s 失败: %w", d.Hash, err)
		}
		for _, label := range d.Labels {
			if _, err = labelStmt.ExecContext(ctx, d.Hash, label); err != nil {
				return fmt.Errorf("写入记录 %s 的标签失败: %w", d.Hash, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
