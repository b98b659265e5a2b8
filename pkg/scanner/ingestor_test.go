package scanner

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newImporter(cat *catalog.Catalog) *Importer {
	return NewImporter(cat, New(Options{WorkerCount: 4, MediaOnly: true, SkipHidden: true}), nil)
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCopyFromDirectory_Dedup(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.jpg"), "same bytes")
	writeFile(t, filepath.Join(src, "b.jpg"), "same bytes")
	writeFile(t, filepath.Join(src, "sub", "c.jpg"), "other bytes")

	cat := catalog.New()
	report, err := newImporter(cat).CopyFromDirectory(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	s := report.Summary
	if s.Imported != 2 || s.SkippedDuplicate != 1 || s.Failed != 0 {
		t.Fatalf("计数不符：%+v", s)
	}
	if cat.Len() != 2 {
		t.Fatalf("目录应有 2 条记录，实际：%d", cat.Len())
	}
	if n := countFiles(t, dst); n != 2 {
		t.Fatalf("目标目录应有 2 个文件，实际：%d", n)
	}
	// 按遍历顺序，a.jpg 先于 b.jpg 入库
	if r, ok := cat.LookupByPath(filepath.Join(dst, "a.jpg")); !ok || r.Size != int64(len("same bytes")) {
		t.Fatalf("a.jpg 应被导入：%+v", r)
	}
	if _, ok := cat.LookupByPath(filepath.Join(dst, "sub", "c.jpg")); !ok {
		t.Fatalf("应保持相对路径")
	}
	if report.RunID == "" || report.Operation != models.OpCopyDirectory {
		t.Fatalf("报告元数据不符：%+v", report)
	}

	// 再次导入全部为重复
	report, err = newImporter(cat).CopyFromDirectory(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	if report.Summary.Imported != 0 || report.Summary.SkippedDuplicate != 3 {
		t.Fatalf("重复导入计数不符：%+v", report.Summary)
	}
}

func TestCopyFromDirectory_Collision(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "x.jpg"), "new content")
	writeFile(t, filepath.Join(dst, "x.jpg"), "unrelated file already there")

	cat := catalog.New()
	report, err := newImporter(cat).CopyFromDirectory(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	if report.Summary.Imported != 1 || report.Summary.Collisions != 1 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}
	placed := filepath.Join(dst, "x_1.jpg")
	data, err := os.ReadFile(placed)
	if err != nil || string(data) != "new content" {
		t.Fatalf("应写入 x_1.jpg：%v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dst, "x.jpg"))
	if string(data) != "unrelated file already there" {
		t.Fatalf("已有文件不应被覆盖")
	}
	if _, ok := cat.LookupByPath(placed); !ok {
		t.Fatalf("目录记录应指向改名后的路径")
	}
	collisions := 0
	for _, d := range report.Diagnostics {
		if d.Code == models.CodeRenameCollision {
			collisions++
		}
	}
	if collisions != 1 {
		t.Fatalf("期望一条 rename_collision 诊断：%+v", report.Diagnostics)
	}
}

func TestCopyFromDirectory_PerFileFailureContinues(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.jpg"), "first")
	writeFile(t, filepath.Join(src, "sub", "b.jpg"), "blocked")
	writeFile(t, filepath.Join(src, "z.jpg"), "last")
	// 目标中 sub 是普通文件，sub/b.jpg 无法放置
	writeFile(t, filepath.Join(dst, "sub"), "not a directory")

	cat := catalog.New()
	report, err := newImporter(cat).CopyFromDirectory(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("单个文件失败不应中止批处理：%v", err)
	}
	s := report.Summary
	if s.Imported != 2 || s.Failed != 1 {
		t.Fatalf("计数不符：%+v", s)
	}
	failed := 0
	for _, d := range report.Diagnostics {
		if d.Code == models.CodeIOFailed {
			failed++
			if d.Path != filepath.Join(src, "sub", "b.jpg") {
				t.Fatalf("失败诊断的路径不符：%+v", d)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("期望 1 条 io_failed 诊断：%+v", report.Diagnostics)
	}
	if cat.Len() != 2 {
		t.Fatalf("失败的文件不应入库，记录数：%d", cat.Len())
	}
	if _, ok := cat.LookupByPath(filepath.Join(dst, "z.jpg")); !ok {
		t.Fatalf("失败之后的文件应继续导入")
	}
	// 目标目录中只有原有的 sub 文件和两个导入的文件，没有残留的临时文件
	if n := countFiles(t, dst); n != 3 {
		t.Fatalf("目标目录文件数不符：%d", n)
	}
}

func TestCopyFromDirectory_DestinationInsideSource(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "library")
	writeFile(t, filepath.Join(src, "a.jpg"), "aaa")

	cat := catalog.New()
	im := newImporter(cat)
	if _, err := im.CopyFromDirectory(context.Background(), src, dst); err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	writeFile(t, filepath.Join(src, "b.jpg"), "bbb")
	report, err := im.CopyFromDirectory(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("导入失败：%v", err)
	}
	// library/ 下的文件不会被再次扫描
	if report.Summary.Imported != 1 || report.Summary.SkippedDuplicate != 1 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}
	if cat.Len() != 2 {
		t.Fatalf("记录数不符：%d", cat.Len())
	}
}

func TestCopyFromDirectory_FatalErrors(t *testing.T) {
	dir := t.TempDir()
	im := newImporter(catalog.New())

	if _, err := im.CopyFromDirectory(context.Background(), filepath.Join(dir, "missing"), dir); err == nil {
		t.Fatalf("源目录不存在时期望错误")
	}
	if _, err := im.CopyFromDirectory(context.Background(), dir, dir); err == nil {
		t.Fatalf("源与目标相同时期望错误")
	}
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "x")
	if _, err := im.CopyFromDirectory(context.Background(), dir, filepath.Join(blocker, "lib")); err == nil {
		t.Fatalf("目标目录无法创建时期望错误")
	}
}

func TestCopyFromDirectory_Cancelled(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.jpg"), "aaa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cat := catalog.New()
	report, err := newImporter(cat).CopyFromDirectory(ctx, src, dst)
	if err != nil {
		t.Fatalf("取消不应返回错误：%v", err)
	}
	if !report.Cancelled || report.Err() == nil {
		t.Fatalf("报告应标记为取消")
	}
	if cat.Len() != 0 {
		t.Fatalf("取消前未处理的文件不应入库")
	}
}

func TestAddDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "aaa")
	writeFile(t, filepath.Join(root, "b.mp4"), "bbb")
	writeFile(t, filepath.Join(root, "readme.txt"), "hello there")

	cat := catalog.New()
	im := newImporter(cat)
	report, err := im.AddDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("索引失败：%v", err)
	}
	if report.Summary.Imported != 2 || report.Summary.Unsupported != 1 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}
	if _, ok := cat.LookupByPath(filepath.Join(root, "a.jpg")); !ok {
		t.Fatalf("应原地索引")
	}

	// 同一内容出现在新位置，并替换 b.mp4 的内容
	writeFile(t, filepath.Join(root, "copy", "a.jpg"), "aaa")
	writeFile(t, filepath.Join(root, "b.mp4"), "changed")

	report, err = im.AddDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("索引失败：%v", err)
	}
	s := report.Summary
	if s.AlreadyIndexed != 1 || s.SkippedDuplicate != 1 || s.Skipped != 1 || s.Imported != 0 {
		t.Fatalf("计数不符：%+v", s)
	}
	found := false
	for _, d := range report.Diagnostics {
		if d.Code == models.CodePathConflict && d.Path == filepath.Join(root, "b.mp4") {
			found = true
		}
	}
	if !found {
		t.Fatalf("期望 path_conflict 诊断：%+v", report.Diagnostics)
	}
	if cat.Len() != 2 {
		t.Fatalf("path_conflict 不应修改目录：%d", cat.Len())
	}
}
