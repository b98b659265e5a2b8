package main

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/search"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildQuery(t *testing.T) {
	q, key, err := buildQuery(searchFlags{
		kind:   "image/JPEG",
		from:   "2021-06-01",
		to:     "2021-06-01",
		isoMin: 100,
		bbox:   "10,170,20,-170",
		sort:   "created",
	})
	if err != nil {
		t.Fatalf("解析失败：%v", err)
	}
	if q.Kind != models.KindImage || q.Codec != "jpeg" || key != search.SortCreated {
		t.Fatalf("查询不符：%+v %s", q, key)
	}
	if q.ISOMin == nil || *q.ISOMin != 100 || q.ISOMax != nil {
		t.Fatalf("ISO 范围不符：%+v", q)
	}
	if got := q.CreatedTo.Sub(*q.CreatedFrom); got.Hours() < 23.9 {
		t.Fatalf("--to 应取当天最后一刻：%s", got)
	}
	if !q.Box.Contains(models.Location{Latitude: 15, Longitude: 179}) {
		t.Fatalf("跨 180 度经线的范围应包含 179")
	}

	bad := []searchFlags{
		{kind: "audio"},
		{from: "yesterday"},
		{bbox: "1,2,3"},
		{bbox: "50,0,10,10"},
		{bbox: "0,0,10,200"},
		{sort: "size"},
	}
	for _, f := range bad {
		if _, _, err := buildQuery(f); err == nil {
			t.Fatalf("参数 %+v 应返回错误", f)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"计数", "值"}, [][]string{{"imported", "2"}, {"failed"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "imported") || !strings.Contains(out, "failed") {
		t.Fatalf("表格缺少内容：\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("没有列时应返回空串")
	}
}

func writeConfig(t *testing.T) (dir, lib string) {
	t.Helper()
	dir = t.TempDir()
	lib = filepath.Join(dir, "library")
	yaml := fmt.Sprintf(`catalog:
  snapshotPath: %q
  libraryRoots: [%q]
  backupPath: %q
logger:
  level: warn
  path: %q
`, filepath.Join(lib, "catalog.snapshot"), lib, filepath.Join(dir, "backup"), filepath.Join(dir, "logs"))
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, lib
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_ImportSearchValidate(t *testing.T) {
	dir, lib := writeConfig(t)
	src := t.TempDir()
	for name, content := range map[string]string{"a.jpg": "aaa", "b.jpg": "aaa", "c.mp4": "ccc"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := run(t, "-c", dir, "--json", "import", src, lib)
	if err != nil {
		t.Fatalf("import 失败：%v\n%s", err, out)
	}
	var report models.BatchReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("import 输出不是 JSON：%v\n%s", err, out)
	}
	if report.Summary.Imported != 2 || report.Summary.SkippedDuplicate != 1 {
		t.Fatalf("计数不符：%+v", report.Summary)
	}

	out, err = run(t, "-c", dir, "--json", "search", "--codec", "mp4")
	if err != nil {
		t.Fatalf("search 失败：%v", err)
	}
	var records []models.MediaRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil || len(records) != 1 {
		t.Fatalf("search 结果不符：%v\n%s", err, out)
	}
	if filepath.Dir(records[0].Filepath) != lib {
		t.Fatalf("导入路径不符：%s", records[0].Filepath)
	}

	if out, err := run(t, "-c", dir, "validate", "--mode", "full"); err != nil {
		t.Fatalf("validate 应无不一致：%v\n%s", err, out)
	}

	if err := os.Remove(records[0].Filepath); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "-c", dir, "validate"); err != errInconsistent {
		t.Fatalf("期望 errInconsistent，实际：%v", err)
	}
	out, err = run(t, "-c", dir, "prune")
	if err != nil || !strings.Contains(out, "1") {
		t.Fatalf("prune 结果不符：%v\n%s", err, out)
	}
}

func TestCLI_Labels(t *testing.T) {
	dir, lib := writeConfig(t)
	if err := os.MkdirAll(lib, 0o755); err != nil {
		t.Fatal(err)
	}
	a := filepath.Join(lib, "a.jpg")
	for name, content := range map[string]string{"a.jpg": "aaa", "b.jpg": "bbb"} {
		if err := os.WriteFile(filepath.Join(lib, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if out, err := run(t, "-c", dir, "add", lib); err != nil {
		t.Fatalf("add 失败：%v\n%s", err, out)
	}

	if out, err := run(t, "-c", dir, "label", "add", a, "trip", "family"); err != nil || !strings.Contains(out, "修改 2 个标签") {
		t.Fatalf("label add 结果不符：%v\n%s", err, out)
	}
	if _, err := run(t, "-c", dir, "label", "add", filepath.Join(lib, "missing.jpg"), "trip"); !errors.Is(err, catalog.ErrRecordNotFound) {
		t.Fatalf("期望 ErrRecordNotFound，实际：%v", err)
	}

	out, err := run(t, "-c", dir, "--json", "search", "--label", "trip")
	if err != nil {
		t.Fatalf("search 失败：%v", err)
	}
	var records []models.MediaRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil || len(records) != 1 || records[0].Filepath != a {
		t.Fatalf("按标签搜索结果不符：%v\n%s", err, out)
	}

	if out, err := run(t, "-c", dir, "label", "rm", records[0].Hash, "family"); err != nil || !strings.Contains(out, "修改 1 个标签") {
		t.Fatalf("label rm 结果不符：%v\n%s", err, out)
	}
	out, err = run(t, "-c", dir, "--json", "label", "ls")
	if err != nil {
		t.Fatalf("label ls 失败：%v", err)
	}
	var labels []catalog.LabelCount
	if err := json.Unmarshal([]byte(out), &labels); err != nil || len(labels) != 1 || labels[0] != (catalog.LabelCount{Label: "trip", Count: 1}) {
		t.Fatalf("label ls 结果不符：%v\n%s", err, out)
	}

	exports := filepath.Join(dir, "exports")
	if out, err := run(t, "-c", dir, "label", "export", "trip", "--out", exports); err != nil {
		t.Fatalf("label export 失败：%v\n%s", err, out)
	}
	if target, err := os.Readlink(filepath.Join(exports, "trip", "a.jpg")); err != nil || target != a {
		t.Fatalf("导出链接不符：%q %v", target, err)
	}
}
