package mongo

import (
	"Media_Catalog/config"
	"Media_Catalog/pkg/database"
	"context"
	"os"
	"testing"
	"time"
)

// 需要一个可用的 MongoDB：MEDIACAT_MONGO_URI=mongodb://localhost:27017 go test ./pkg/database/mongo
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MEDIACAT_MONGO_URI")
	if uri == "" {
		t.Skip("未设置 MEDIACAT_MONGO_URI，跳过 MongoDB 测试")
	}
	cfg := &config.Config{}
	cfg.Database.URI = uri
	cfg.Database.Name = "media_catalog_test"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := NewStore(ctx, cfg)
	if err != nil {
		t.Fatalf("连接 MongoDB 失败：%v", err)
	}
	if err := s.DropAllCollections(ctx); err != nil {
		t.Fatalf("重置集合失败：%v", err)
	}
	t.Cleanup(func() {
		_ = s.DropAllCollections(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestStore_SaveLoadReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := int64(1622550645123456789)
	docs := []database.RecordDocument{
		{Hash: "bb", FilePath: "/lib/a.jpg", Format: "image/jpeg", Size: 2},
		{Hash: "aa", FilePath: "/lib/b.jpg", Format: "image/jpeg", Created: &created, Size: 1},
	}
	if err := s.SaveRecords(ctx, docs); err != nil {
		t.Fatalf("保存失败：%v", err)
	}

	// 交换两条记录的路径：暂存集合替换不会触发唯一索引冲突。
	docs[0].FilePath, docs[1].FilePath = docs[1].FilePath, docs[0].FilePath
	if err := s.SaveRecords(ctx, docs); err != nil {
		t.Fatalf("交换路径后保存失败：%v", err)
	}

	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("加载失败：%v", err)
	}
	if len(got) != 2 || got[0].Hash != "aa" || got[0].FilePath != "/lib/a.jpg" {
		t.Fatalf("记录不符：%+v", got)
	}
	if got[0].Created == nil || *got[0].Created != created {
		t.Fatalf("纳秒时间丢失：%+v", got[0])
	}
}
