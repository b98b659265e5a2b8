package scanner

import (
	"Media_Catalog/config"
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/search"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("加载默认配置失败：%v", err)
	}
	lib := filepath.Join(dir, "library")
	cfg.Catalog.SnapshotPath = filepath.Join(lib, "catalog.snapshot")
	cfg.Catalog.LibraryRoots = []string{lib}
	cfg.Catalog.BackupPath = filepath.Join(dir, "backup")
	cfg.Logger.Path = filepath.Join(dir, "logs")
	cfg.Metrics.TextfilePath = filepath.Join(dir, "metrics.prom")
	cfg.Normalizer.Root = lib
	return cfg, lib
}

func TestOrchestrator_ImportPersistAndLock(t *testing.T) {
	ctx := context.Background()
	cfg, lib := testConfig(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.jpg"), "aaa")
	writeFile(t, filepath.Join(src, "b.jpg"), "aaa")
	writeFile(t, filepath.Join(src, "c.mp4"), "ccc")

	o, err := NewOrchestrator(ctx, cfg, true)
	if err != nil {
		t.Fatalf("创建协调器失败：%v", err)
	}
	if _, err := NewOrchestrator(ctx, cfg, true); !errors.Is(err, catalog.ErrCatalogLocked) {
		t.Fatalf("期望 ErrCatalogLocked，实际：%v", err)
	}

	report, err := o.CopyFromDirectory(ctx, src, lib)
	if err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	if report.Summary.Imported != 2 || report.Summary.SkippedDuplicate != 1 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}
	if _, err := os.Stat(cfg.Metrics.TextfilePath); err != nil {
		t.Fatalf("应写出指标文件：%v", err)
	}

	// 快照、锁文件和日志不是孤儿文件
	vr, err := o.Validate(ctx, "full")
	if err != nil {
		t.Fatalf("校验失败：%v", err)
	}
	if !vr.Clean() {
		t.Fatalf("导入后校验应无不一致：%+v", vr)
	}
	if err := o.Close(ctx); err != nil {
		t.Fatalf("关闭失败：%v", err)
	}

	ro, err := NewOrchestrator(ctx, cfg, false)
	if err != nil {
		t.Fatalf("只读打开失败：%v", err)
	}
	defer ro.Close(ctx)
	if ro.Catalog.Len() != 2 {
		t.Fatalf("重新加载后记录数不符：%d", ro.Catalog.Len())
	}
	if _, err := ro.AddDirectory(ctx, src); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("只读协调器不应允许写入：%v", err)
	}
	n := 0
	for range ro.Search(search.Query{Codec: "mp4"}, search.SortPath) {
		n++
	}
	if n != 1 {
		t.Fatalf("搜索结果不符：%d", n)
	}
}

func TestOrchestrator_NormalizeAndPrune(t *testing.T) {
	ctx := context.Background()
	cfg, lib := testConfig(t)
	cfg.Normalizer.Template = "{hash}.{ext}"
	writeFile(t, filepath.Join(lib, "in", "a.jpg"), "aaa")
	writeFile(t, filepath.Join(lib, "in", "b.jpg"), "bbb")

	o, err := NewOrchestrator(ctx, cfg, true)
	if err != nil {
		t.Fatalf("创建协调器失败：%v", err)
	}
	defer o.Close(ctx)

	if _, err := o.AddDirectory(ctx, lib); err != nil {
		t.Fatalf("索引失败：%v", err)
	}
	report, err := o.Normalize(ctx, "", "")
	if err != nil {
		t.Fatalf("规整失败：%v", err)
	}
	if report.Summary.Moved != 2 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}

	for r := range o.Catalog.All() {
		if filepath.Dir(r.Filepath) != lib {
			t.Fatalf("规整后路径不符：%s", r.Filepath)
		}
		if err := os.Remove(r.Filepath); err != nil {
			t.Fatal(err)
		}
		break
	}
	n, err := o.PruneMissing(ctx)
	if err != nil || n != 1 {
		t.Fatalf("应删除 1 条记录：n=%d err=%v", n, err)
	}
	if o.Catalog.Len() != 1 {
		t.Fatalf("记录数不符：%d", o.Catalog.Len())
	}

	backup, err := o.Backup(ctx)
	if err != nil {
		t.Fatalf("备份失败：%v", err)
	}
	if restored, err := catalog.ReadFromDisk(backup); err != nil || restored.Len() != 1 {
		t.Fatalf("备份内容不符：%v", err)
	}
}

func TestOrchestrator_ValidateManagedRoots(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("加载默认配置失败：%v", err)
	}
	if len(cfg.Catalog.LibraryRoots) != 0 || cfg.Normalizer.Root != "" {
		t.Fatalf("默认配置不应有媒体库目录：%+v %q", cfg.Catalog.LibraryRoots, cfg.Normalizer.Root)
	}
	cfg.Catalog.SnapshotPath = filepath.Join(dir, "catalog.snapshot")
	cfg.Logger.Path = filepath.Join(dir, "logs")
	lib := filepath.Join(dir, "library")
	writeFile(t, filepath.Join(lib, "a.jpg"), "aaa")

	o, err := NewOrchestrator(ctx, cfg, true)
	if err != nil {
		t.Fatalf("创建协调器失败：%v", err)
	}
	if _, err := o.AddDirectory(ctx, lib); err != nil {
		t.Fatalf("索引失败：%v", err)
	}
	if err := o.Close(ctx); err != nil {
		t.Fatalf("关闭失败：%v", err)
	}
	stray := filepath.Join(lib, "stray.jpg")
	writeFile(t, stray, "zzz")

	t.Run("没有任何媒体库目录", func(t *testing.T) {
		o, err := NewOrchestrator(ctx, cfg, false)
		if err != nil {
			t.Fatalf("只读打开失败：%v", err)
		}
		defer o.Close(ctx)
		vr, err := o.Validate(ctx, "")
		if err != nil {
			t.Fatalf("校验失败：%v", err)
		}
		if len(vr.Orphan) != 0 || len(vr.Roots) != 0 {
			t.Fatalf("不应检查孤儿文件：%+v", vr)
		}
		if len(vr.Diagnostics) != 1 || vr.Diagnostics[0].Code != models.CodeOrphanScanSkipped {
			t.Fatalf("应提示跳过孤儿文件检查：%+v", vr.Diagnostics)
		}
		if vr.Err() != nil {
			t.Fatalf("跳过孤儿检查不是失败：%v", vr.Err())
		}
	})

	t.Run("退回规整根目录", func(t *testing.T) {
		cfg := *cfg
		cfg.Normalizer.Root = lib
		o, err := NewOrchestrator(ctx, &cfg, false)
		if err != nil {
			t.Fatalf("只读打开失败：%v", err)
		}
		defer o.Close(ctx)
		vr, err := o.Validate(ctx, "")
		if err != nil {
			t.Fatalf("校验失败：%v", err)
		}
		if len(vr.Roots) != 1 || vr.Roots[0] != lib {
			t.Fatalf("应使用 normalizer.root：%v", vr.Roots)
		}
		if len(vr.Orphan) != 1 || vr.Orphan[0] != stray {
			t.Fatalf("应发现孤儿文件：%v", vr.Orphan)
		}
		if len(vr.Diagnostics) != 0 {
			t.Fatalf("不应有诊断：%+v", vr.Diagnostics)
		}
	})
}
