package catalog

import (
	"Media_Catalog/config"
	"Media_Catalog/pkg/database"
	"Media_Catalog/pkg/database/mongo"
	"Media_Catalog/pkg/database/snapshot"
	"Media_Catalog/pkg/database/sqlite"
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ReadFromDisk 从快照文件加载目录。
// 文件内容损坏（含重复的 hash 或路径）返回 ErrCorruptPersistence，读取失败返回 ErrIO。
func ReadFromDisk(path string) (*Catalog, error) {
	docs, err := snapshot.ReadFile(path)
	if err != nil {
		return nil, wrapLoadErr(path, err)
	}
	c := New()
	if err := c.replace(docs); err != nil {
		return nil, fmt.Errorf("快照 %s: %w", path, err)
	}
	return c, nil
}

// WriteToDisk 把目录原子地写入快照文件。崩溃或失败不会破坏已有的快照。
func (c *Catalog) WriteToDisk(path string) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if err := snapshot.WriteFile(path, c.documents()); err != nil {
		return fmt.Errorf("%w: 写入快照 %s: %w", ErrIO, path, err)
	}
	return nil
}

// Load 用 store 中的记录替换目录当前内容。
func (c *Catalog) Load(ctx context.Context, store database.Store) error {
	docs, err := store.LoadRecords(ctx)
	if err != nil {
		return wrapLoadErr("store", err)
	}
	return c.replace(docs)
}

// Save 把目录当前内容写入 store。
func (c *Catalog) Save(ctx context.Context, store database.Store) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if err := store.SaveRecords(ctx, c.documents()); err != nil {
		return fmt.Errorf("%w: 保存目录: %w", ErrIO, err)
	}
	return nil
}

func (c *Catalog) documents() []database.RecordDocument {
	snap := c.snapshot()
	docs := make([]database.RecordDocument, 0, len(snap))
	for _, rec := range snap {
		docs = append(docs, database.FromRecord(rec))
	}
	return docs
}

// replace 先在新目录中校验全部记录，成功后再整体替换，失败时当前内容不变。
func (c *Catalog) replace(docs []database.RecordDocument) error {
	fresh := New()
	for _, d := range docs {
		rec, err := d.ToRecord()
		if err != nil {
			return err
		}
		if err := fresh.Insert(rec); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptPersistence, err)
		}
	}

	c.mu.Lock()
	c.byHash, c.byPath, c.sorted = fresh.byHash, fresh.byPath, nil
	c.mu.Unlock()
	return nil
}

func wrapLoadErr(what string, err error) error {
	if errors.Is(err, ErrCorruptPersistence) {
		return fmt.Errorf("读取 %s: %w", what, err)
	}
	return fmt.Errorf("%w: 读取 %s: %w", ErrIO, what, err)
}

// OpenStore 按 database.driver 打开对应的记录存储。
func OpenStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	slog.Debug("打开目录存储", "driver", cfg.Database.Driver)
	switch cfg.Database.Driver {
	case "file", "":
		return snapshot.New(cfg.Catalog.SnapshotPath), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.Database.URI)
	case "mongo":
		return mongo.NewStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("未知的数据库驱动: %s", cfg.Database.Driver)
	}
}
