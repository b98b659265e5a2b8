package maintenance

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/hasher"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// library 创建三个已入库文件，返回目录与库根目录。
func library(t *testing.T) (*catalog.Catalog, string) {
	t.Helper()
	root := t.TempDir()
	cat := catalog.New()
	for _, name := range []string{"a.jpg", "b.jpg", "sub/c.jpg"} {
		p := filepath.Join(root, filepath.FromSlash(name))
		writeFile(t, p, "content "+name)
		rec := models.MediaRecord{
			Hash:     hasher.CalculateSHA256FromBytes([]byte("content " + name)),
			Filepath: p,
			Format:   models.Format{Kind: models.KindImage, Codec: "jpeg"},
		}
		if err := cat.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}
	return cat, root
}

func TestValidate_CleanLibrary(t *testing.T) {
	cat, root := library(t)
	snapshot := filepath.Join(root, "catalog.snapshot")
	writeFile(t, snapshot, "snapshot")
	writeFile(t, snapshot+".lock", "")
	writeFile(t, filepath.Join(root, ".x.jpg.tmp-123"), "partial copy")

	v := NewValidator(cat, ValidatorOptions{Roots: []string{root}, Ignore: []string{snapshot, snapshot + ".lock"}})
	report, err := v.Validate(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("校验失败：%v", err)
	}
	if !report.Clean() || report.Checked != 3 {
		t.Fatalf("不应发现不一致：%+v", report)
	}
}

func TestValidate_Findings(t *testing.T) {
	cat, root := library(t)
	if err := os.Remove(filepath.Join(root, "a.jpg")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "sub", "c.jpg"), "tampered")
	writeFile(t, filepath.Join(root, "new", "stray.jpg"), "untracked")
	before := cat.Records()

	v := NewValidator(cat, ValidatorOptions{WorkerCount: 2, Roots: []string{root}})

	quick, err := v.Validate(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("校验失败：%v", err)
	}
	if len(quick.Missing) != 1 || len(quick.HashMismatch) != 0 || len(quick.Orphan) != 1 {
		t.Fatalf("quick 模式结果不符：%+v", quick)
	}

	full, err := v.Validate(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("校验失败：%v", err)
	}
	if len(full.Missing) != 1 || full.Missing[0].Path != filepath.Join(root, "a.jpg") {
		t.Fatalf("Missing 不符：%+v", full.Missing)
	}
	if len(full.HashMismatch) != 1 || full.HashMismatch[0].Path != filepath.Join(root, "sub", "c.jpg") {
		t.Fatalf("HashMismatch 不符：%+v", full.HashMismatch)
	}
	if full.HashMismatch[0].Actual != hasher.CalculateSHA256FromBytes([]byte("tampered")) {
		t.Fatalf("实际哈希不符")
	}
	if len(full.Orphan) != 1 || full.Orphan[0] != filepath.Join(root, "new", "stray.jpg") {
		t.Fatalf("Orphan 不符：%+v", full.Orphan)
	}

	// 校验只读
	after := cat.Records()
	if len(after) != len(before) {
		t.Fatalf("校验不应修改目录")
	}
	for i := range before {
		if !before[i].Equal(after[i]) {
			t.Fatalf("校验不应修改目录")
		}
	}
}

func TestValidate_ModeAndCancel(t *testing.T) {
	cat, root := library(t)
	v := NewValidator(cat, ValidatorOptions{Roots: []string{root}})
	if _, err := v.Validate(context.Background(), Mode("deep")); err == nil {
		t.Fatalf("未知模式应返回错误")
	}
	if m, err := ParseMode(""); err != nil || m != ModeQuick {
		t.Fatalf("空模式应为 quick")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := v.Validate(ctx, ModeFull)
	if err != nil {
		t.Fatalf("取消不应返回错误：%v", err)
	}
	if !report.Cancelled || report.Checked != 0 {
		t.Fatalf("报告应标记为取消：%+v", report)
	}
}

func TestValidate_MissingRootIsDiagnostic(t *testing.T) {
	cat, root := library(t)
	v := NewValidator(cat, ValidatorOptions{Roots: []string{filepath.Join(root, "nope")}})
	report, err := v.Validate(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("校验失败：%v", err)
	}
	if report.Summary.Failed != 1 || report.Diagnostics[0].Code != models.CodeIOFailed {
		t.Fatalf("期望 io_failed 诊断：%+v", report)
	}
}

func TestRemoveMissing(t *testing.T) {
	cat, root := library(t)
	gone := filepath.Join(root, "a.jpg")
	back := filepath.Join(root, "b.jpg")
	_ = os.Remove(gone)
	_ = os.Remove(back)

	report, err := NewValidator(cat, ValidatorOptions{}).Validate(context.Background(), ModeQuick)
	if err != nil || len(report.Missing) != 2 {
		t.Fatalf("期望 2 个丢失文件：%+v %v", report, err)
	}
	// b.jpg 在校验之后又出现了
	writeFile(t, back, "content b.jpg")

	n, err := NewMaintenance(cat, nil).RemoveMissing(context.Background(), report)
	if err != nil {
		t.Fatalf("清除失败：%v", err)
	}
	if n != 1 || cat.Len() != 2 {
		t.Fatalf("只应删除 a.jpg 的记录：n=%d len=%d", n, cat.Len())
	}
	if _, ok := cat.LookupByPath(back); !ok {
		t.Fatalf("重新出现的文件应保留记录")
	}
}

func TestGenerateFileManifest(t *testing.T) {
	cat, root := library(t)
	out := t.TempDir()
	m := NewMaintenance(cat, nil)
	m.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }

	path, err := m.GenerateFileManifest(context.Background(), root, out)
	if err != nil {
		t.Fatalf("生成清单失败：%v", err)
	}
	if filepath.Base(path) != "manifest_2024-03-09.txt" {
		t.Fatalf("清单文件名不符：%s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("清单行数不符：%q", lines)
	}
	want := hasher.CalculateSHA256FromBytes([]byte("content sub/c.jpg")) + " *sub/c.jpg"
	if lines[2] != want {
		t.Fatalf("清单行不符：\n%s\n%s", lines[2], want)
	}
}

func TestBackupCatalog(t *testing.T) {
	cat, _ := library(t)
	out := filepath.Join(t.TempDir(), "backups")
	m := NewMaintenance(cat, nil)

	path, err := m.BackupCatalog(context.Background(), out)
	if err != nil {
		t.Fatalf("备份失败：%v", err)
	}
	restored, err := catalog.ReadFromDisk(path)
	if err != nil {
		t.Fatalf("读取备份失败：%v", err)
	}
	if restored.Len() != cat.Len() {
		t.Fatalf("备份记录数不符：%d", restored.Len())
	}
}

func TestExportLabel(t *testing.T) {
	cat, root := library(t)
	dup := filepath.Join(root, "other", "a.jpg")
	writeFile(t, dup, "another a")
	if err := cat.Insert(models.MediaRecord{
		Hash:     hasher.CalculateSHA256FromBytes([]byte("another a")),
		Filepath: dup,
		Format:   models.Format{Kind: models.KindImage, Codec: "jpeg"},
	}); err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		filepath.Join(root, "a.jpg"):     true,
		filepath.Join(root, "sub/c.jpg"): true,
		dup:                              true,
	}
	for p := range want {
		rec, _ := cat.LookupByPath(p)
		if _, err := cat.AddLabel(rec.Hash, "trip"); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMaintenance(cat, nil)
	out := t.TempDir()
	for round := 0; round < 2; round++ {
		dir, n, err := m.ExportLabel(context.Background(), "trip", out)
		if err != nil {
			t.Fatalf("导出失败：%v", err)
		}
		if dir != filepath.Join(out, "trip") || n != 3 {
			t.Fatalf("第 %d 次导出结果不符：%s %d", round+1, dir, n)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 3 {
			t.Fatalf("第 %d 次导出后应有 3 个链接，实际 %d", round+1, len(entries))
		}
		got := make(map[string]bool)
		for _, e := range entries {
			target, err := os.Readlink(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("%s 不是符号链接：%v", e.Name(), err)
			}
			got[target] = true
		}
		for p := range want {
			if !got[p] {
				t.Fatalf("缺少指向 %s 的链接：%v", p, got)
			}
		}
	}

	if _, _, err := m.ExportLabel(context.Background(), "../x", out); err == nil {
		t.Fatalf("非法标签应被拒绝")
	}
}
