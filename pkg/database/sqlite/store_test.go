package sqlite

import (
	"Media_Catalog/pkg/database"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("打开失败：%v", err)
	}
	defer s.Close(ctx)

	created := int64(1622550645123456789)
	iso := 100
	docs := []database.RecordDocument{
		{Hash: "bb", FilePath: "/lib/b.jpg", Format: "image/jpeg", Size: 2},
		{Hash: "aa", FilePath: "/lib/a.jpg", Format: "image/jpeg", Created: &created, Device: "CamX", ISO: &iso, Size: 1},
	}
	if err := s.SaveRecords(ctx, docs); err != nil {
		t.Fatalf("保存失败：%v", err)
	}
	// 第二次保存应完整替换。
	if err := s.SaveRecords(ctx, docs[1:]); err != nil {
		t.Fatalf("保存失败：%v", err)
	}

	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("加载失败：%v", err)
	}
	if len(got) != 1 || got[0].Hash != "aa" {
		t.Fatalf("记录不符：%+v", got)
	}
	if *got[0].Created != created || *got[0].ISO != 100 || got[0].Device != "CamX" || got[0].Latitude != nil {
		t.Fatalf("字段不符：%+v", got[0])
	}
}

func TestStore_Labels(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("打开失败：%v", err)
	}
	defer s.Close(ctx)

	docs := []database.RecordDocument{
		{Hash: "aa", FilePath: "/lib/a.jpg", Format: "image/jpeg", Labels: []string{"family", "trip"}},
		{Hash: "bb", FilePath: "/lib/b.jpg", Format: "image/jpeg"},
		{Hash: "cc", FilePath: "/lib/c.jpg", Format: "image/jpeg", Labels: []string{"trip"}},
	}
	if err := s.SaveRecords(ctx, docs); err != nil {
		t.Fatalf("保存失败：%v", err)
	}
	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("加载失败：%v", err)
	}
	if len(got) != 3 || !slices.Equal(got[0].Labels, []string{"family", "trip"}) ||
		got[1].Labels != nil || !slices.Equal(got[2].Labels, []string{"trip"}) {
		t.Fatalf("标签不符：%+v", got)
	}

	// 删除标签后重新保存，旧标签不能残留
	docs[0].Labels = nil
	if err := s.SaveRecords(ctx, docs); err != nil {
		t.Fatalf("保存失败：%v", err)
	}
	if got, err = s.LoadRecords(ctx); err != nil || got[0].Labels != nil {
		t.Fatalf("旧标签残留：%+v %v", got, err)
	}

	// 指向不存在记录的标签视为损坏
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec("INSERT INTO labels (hash, label) VALUES ('zz', 'ghost')"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadRecords(ctx); !errors.Is(err, database.ErrCorrupt) {
		t.Fatalf("期望 ErrCorrupt，实际：%v", err)
	}
}

func TestStore_DuplicatePathRejected(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("打开失败：%v", err)
	}
	defer s.Close(ctx)

	docs := []database.RecordDocument{
		{Hash: "aa", FilePath: "/lib/a.jpg", Format: "image/jpeg"},
		{Hash: "bb", FilePath: "/lib/a.jpg", Format: "image/jpeg"},
	}
	if err := s.SaveRecords(ctx, docs); err == nil {
		t.Fatalf("同一路径两条记录应写入失败")
	}
}

func TestOpen_FutureVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(ctx, path); !errors.Is(err, database.ErrCorrupt) {
		t.Fatalf("期望 ErrCorrupt，实际：%v", err)
	}
}
