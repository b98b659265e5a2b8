package mongo

import (
	"Media_Catalog/config"
	"Media_Catalog/pkg/database"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	recordsColl = "records"
	stagingColl = "records_staging"
	metaColl    = "meta"
	batchSize   = 1000
)

// Store 是 database.Store 接口的MongoDB实现。
// 记录以 hash 为 _id 存放在 records 集合中，filePath 上有唯一索引。
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

type metaDoc struct {
	ID        string    `bson:"_id"`
	Version   int       `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// NewStore 创建并返回一个新的 Store 实例，并建立与MongoDB的连接。
func NewStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	slog.Info("正在连接到 MongoDB...", "uri", cfg.Database.URI)
	clientCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.Database.URI)
	client, err := mongo.Connect(clientCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(clientCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	slog.Info("MongoDB 连接成功")

	store := &Store{
		client: client,
		db:     client.Database(cfg.Database.Name),
	}
	if err := store.EnsureIndexes(ctx, store.db.Collection(recordsColl)); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// EnsureIndexes 为记录集合创建索引。
func (s *Store) EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "filePath", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_filepath_unique"),
		},
		{
			Keys:    bson.D{{Key: "perceptualHash", Value: 1}},
			Options: options.Index().SetName("idx_phash").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "device", Value: 1}, {Key: "created", Value: 1}},
			Options: options.Index().SetName("idx_device_created"),
		},
		{
			Keys:    bson.D{{Key: "labels", Value: 1}},
			Options: options.Index().SetName("idx_labels").SetSparse(true),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("为记录集合创建索引失败", "collection", coll.Name(), "error", err)
		return err
	}
	return nil
}

// LoadRecords 按 _id（即 hash）顺序读出全部记录。
func (s *Store) LoadRecords(ctx context.Context) ([]database.RecordDocument, error) {
	var meta metaDoc
	err := s.db.Collection(metaColl).FindOne(ctx, bson.M{"_id": "schema"}).Decode(&meta)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		// 新数据库
	case err != nil:
		return nil, err
	case meta.Version > database.SchemaVersion:
		return nil, fmt.Errorf("%w: 数据库版本 %d 高于支持的 %d", database.ErrCorrupt, meta.Version, database.SchemaVersion)
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(recordsColl).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []database.RecordDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: 解码记录失败: %v", database.ErrCorrupt, err)
	}
	return docs, nil
}

// SaveRecords 先把全部记录写入暂存集合，再用 renameCollection 原子替换 records。
// 写入中途失败时，records 保持上一次保存的内容。
func (s *Store) SaveRecords(ctx context.Context, docs []database.RecordDocument) error {
	staging := s.db.Collection(stagingColl)
	if err := staging.Drop(ctx); err != nil {
		return fmt.Errorf("清理暂存集合失败: %w", err)
	}
	if err := s.EnsureIndexes(ctx, staging); err != nil {
		return err
	}

	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		batch := make([]mongo.WriteModel, 0, end-start)
		for _, d := range docs[start:end] {
			batch = append(batch, mongo.NewInsertOneModel().SetDocument(d))
		}
		if _, err := staging.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(true)); err != nil {
			slog.Error("records BulkWrite 发生错误", "error", err)
			return err
		}
	}

	rename := bson.D{
		{Key: "renameCollection", Value: s.db.Name() + "." + stagingColl},
		{Key: "to", Value: s.db.Name() + "." + recordsColl},
		{Key: "dropTarget", Value: true},
	}
	if err := s.client.Database("admin").RunCommand(ctx, rename).Err(); err != nil {
		return fmt.Errorf("替换 records 集合失败: %w", err)
	}

	_, err := s.db.Collection(metaColl).ReplaceOne(ctx,
		bson.M{"_id": "schema"},
		metaDoc{ID: "schema", Version: database.SchemaVersion, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true))
	return err
}

// DropAllCollections 删除当前数据库中的所有已知集合，主要用于测试环境的重置。
func (s *Store) DropAllCollections(ctx context.Context) error {
	slog.Warn("正在删除所有集合...", "database", s.db.Name())
	for _, name := range []string{recordsColl, stagingColl, metaColl} {
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			slog.Error("删除集合失败", "collection", name, "error", err)
			return err
		}
	}
	return nil
}

// Close 断开与 MongoDB 的连接。
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
