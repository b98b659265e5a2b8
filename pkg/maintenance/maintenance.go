package maintenance

import (
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/fsx"
	"Media_Catalog/pkg/logger"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Maintenance 提供目录的维护操作：文件清单、快照备份和显式清除丢失的记录。
type Maintenance struct {
	cat *catalog.Catalog
	log *slog.Logger
	now func() time.Time
}

// NewMaintenance 创建维护模块实例。log 为 nil 时丢弃日志。
func NewMaintenance(cat *catalog.Catalog, log *slog.Logger) *Maintenance {
	if log == nil {
		log = logger.Discard()
	}
	return &Maintenance{cat: cat, log: log, now: time.Now}
}

// GenerateFileManifest 把目录写成 sha256sum 兼容的清单（"<hash> *<path>"，按路径排序），
// 返回清单文件路径。libraryRoot 下的文件使用相对路径，其余使用绝对路径。
// 清单可以直接用 `sha256sum -c` 在 libraryRoot 下校验。
func (m *Maintenance) GenerateFileManifest(ctx context.Context, libraryRoot, outputDir string) (string, error) {
	m.log.Info("--- 开始生成文件清单 (File Manifest) ---")
	root, err := filepath.Abs(libraryRoot)
	if err != nil {
		return "", err
	}

	type line struct{ path, text string }
	var lines []line
	for rec := range m.cat.All() {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p := rec.Filepath
		if fsx.Within(root, p) {
			p, _ = filepath.Rel(root, p)
		}
		// 为了可移植性，将路径分隔符统一为 '/'
		p = filepath.ToSlash(p)
		lines = append(lines, line{path: p, text: fmt.Sprintf("%s *%s\n", rec.Hash, p)})
	}
	slices.SortFunc(lines, func(a, b line) int { return strings.Compare(a.path, b.path) })

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.text)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("无法创建清单目录: %w", err)
	}
	name := fmt.Sprintf("manifest_%s.txt", m.now().Format("2006-01-02"))
	if err := fsx.WriteFileAtomic(outputDir, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("无法写入清单文件: %w", err)
	}
	path := filepath.Join(outputDir, name)
	m.log.Info("--- 文件清单生成完毕 ---", "path", path, "records", len(lines))
	return path, nil
}

// BackupCatalog 把当前目录写成一个带时间戳的快照文件，返回其路径。
func (m *Maintenance) BackupCatalog(ctx context.Context, outputDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.log.Info("--- 开始执行目录备份 ---")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: 无法创建备份目录: %w", catalog.ErrIO, err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("catalog_backup_%s.snapshot", m.now().Format("2006-01-02_150405")))
	if err := m.cat.WriteToDisk(path); err != nil {
		return "", err
	}
	m.log.Info("--- 目录备份成功 ---", "path", path, "records", m.cat.Len())
	return path, nil
}

// RemoveMissing 从目录中删除校验报告里记为 Missing 的记录。
// 删除前会再次确认文件仍不存在，校验之后重新出现的文件保留。返回删除的数量。
func (m *Maintenance) RemoveMissing(ctx context.Context, report *ValidationReport) (int, error) {
	removed := 0
	for _, f := range report.Missing {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		rec, ok := m.cat.LookupByHash(f.Hash)
		if !ok || rec.Filepath != f.Path {
			continue
		}
		if _, err := os.Stat(f.Path); !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("文件已重新出现或无法确认，保留记录", "path", f.Path, "error", err)
			continue
		}
		if err := m.cat.Remove(f.Hash); err != nil {
			return removed, err
		}
		removed++
		m.log.Info("已删除丢失文件的记录", "hash", f.Hash, "path", f.Path)
	}
	return removed, nil
}

// ExportLabel 在 outputDir/<label> 下为带有 label 的每条记录创建指向文件的符号链接，
// 返回导出目录和链接数。同名文件按 _N 后缀区分；重复导出时已存在的相同链接保持不变。
func (m *Maintenance) ExportLabel(ctx context.Context, label, outputDir string) (string, int, error) {
	label, err := catalog.NormalizeLabel(label)
	if err != nil {
		return "", 0, err
	}
	dir, err := filepath.Abs(filepath.Join(outputDir, label))
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("无法创建导出目录: %w", err)
	}
	m.log.Info("--- 开始导出标签 ---", "label", label, "dir", dir)

	n := 0
	for rec := range m.cat.All() {
		if err := ctx.Err(); err != nil {
			return dir, n, err
		}
		if !rec.HasLabel(label) {
			continue
		}
		linksHere := func(p string) bool {
			dst, err := os.Readlink(p)
			return err == nil && dst == rec.Filepath
		}
		link, _, err := fsx.UniquePath(filepath.Join(dir, filepath.Base(rec.Filepath)), func(c string) (bool, error) {
			if linksHere(c) {
				return false, nil
			}
			return fsx.Exists(c)
		})
		if err != nil {
			return dir, n, fmt.Errorf("无法确定链接路径: %w", err)
		}
		if !linksHere(link) {
			if err := os.Symlink(rec.Filepath, link); err != nil {
				return dir, n, fmt.Errorf("无法创建链接 %s: %w", link, err)
			}
		}
		n++
	}
	m.log.Info("--- 标签导出完毕 ---", "label", label, "links", n)
	return dir, n, nil
}
