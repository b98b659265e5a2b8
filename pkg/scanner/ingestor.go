package scanner

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/fsx"
	"Media_Catalog/pkg/logger"
	"Media_Catalog/pkg/metrics"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// 目标路径在选定后被并发占用时的重试次数。
const maxPlaceAttempts = 3

// Importer 把扫描结果写入目录：CopyFromDirectory 复制到媒体库后入库，AddDirectory 原地入库。
// 候选文件按扫描顺序逐个处理，同一批次内的重复内容因此也能被识别。
type Importer struct {
	cat     *catalog.Catalog
	scanner *Scanner
	log     *slog.Logger
}

// NewImporter 创建入库器。log 为 nil 时丢弃日志。
func NewImporter(cat *catalog.Catalog, s *Scanner, log *slog.Logger) *Importer {
	if log == nil {
		log = logger.Discard()
	}
	return &Importer{cat: cat, scanner: s, log: log}
}

// CopyFromDirectory 扫描 srcRoot，把目录中还没有的内容复制到 dstRoot 下（保持相对路径）并入库。
// 源目录不可读或目标目录无法创建时返回错误；单个文件的失败只记入报告。
// 被取消时返回的报告 Cancelled 为 true，已入库的文件保留。
func (im *Importer) CopyFromDirectory(ctx context.Context, srcRoot, dstRoot string) (*models.BatchReport, error) {
	report := models.NewBatchReport(models.OpCopyDirectory)
	ctx = logger.CtxWithLogger(ctx, im.log, "run_id", report.RunID)
	log := logger.FromCtx(ctx, im.log)

	src, err := filepath.Abs(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: 源目录 %s: %w", catalog.ErrIO, srcRoot, err)
	}
	if info, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("%w: 源目录不可读: %w", catalog.ErrIO, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: 源路径 %s 不是目录", catalog.ErrIO, src)
	}
	dst, err := filepath.Abs(dstRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: 目标目录 %s: %w", catalog.ErrIO, dstRoot, err)
	}
	if dst == src {
		return nil, fmt.Errorf("目标目录不能与源目录相同: %s", dst)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("%w: 无法创建目标目录: %w", catalog.ErrIO, err)
	}

	s := im.scanner
	if fsx.Within(src, dst) {
		// 目标在源目录内部：不扫描目标目录，避免把刚复制的文件再导入一次
		s = s.WithExclude(dst)
	}

	log.Info("================== 新的导入任务开始 ==================", "src", src, "dst", dst)
	sc := s.Scan(ctx, src)
	defer sc.Close()

	for sc.Next() {
		if ctx.Err() != nil {
			break
		}
		im.copyOne(log, report, sc.Candidate(), dst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrIO, err)
	}
	return im.finish(ctx, log, report, sc), nil
}

func (im *Importer) copyOne(log *slog.Logger, report *models.BatchReport, c Candidate, dst string) {
	rec := c.Record
	if existing, ok := im.cat.LookupByHash(rec.Hash); ok {
		report.Summary.SkippedDuplicate++
		log.Debug("内容已存在，跳过", "path", rec.Filepath, "existing", existing.Filepath)
		return
	}

	target := filepath.Join(dst, c.Rel)
	var (
		placed string
		err    error
	)
	for attempt := 0; attempt < maxPlaceAttempts; attempt++ {
		var suffix int
		placed, suffix, err = fsx.UniquePath(target, im.occupied)
		if err != nil {
			err = fmt.Errorf("无法确定目标路径 %s: %w", target, err)
			break
		}
		err = fsx.CopyVerified(rec.Filepath, placed, rec.Hash)
		if errors.Is(err, fsx.ErrRenameCollision) {
			continue
		}
		if err == nil && suffix > 0 {
			report.Summary.Collisions++
			report.Add(rec.Filepath, rec.Hash, models.CodeRenameCollision,
				fmt.Errorf("%s 已被占用，改名为 %s", target, filepath.Base(placed)))
		}
		break
	}
	if err != nil {
		code := models.CodeIOFailed
		if errors.Is(err, fsx.ErrHashMismatch) {
			code = models.CodeHashMismatch
		}
		report.Summary.Failed++
		report.Add(rec.Filepath, rec.Hash, code, err)
		log.Error("复制文件失败", "path", rec.Filepath, "target", placed, "error", err)
		return
	}

	rec.Filepath = placed
	if err := im.cat.Insert(rec); err != nil {
		// 入库失败时删除刚复制的文件，磁盘上不留无记录的副本
		if rmErr := os.Remove(placed); rmErr != nil {
			log.Error("回滚已复制文件失败", "path", placed, "error", rmErr)
		}
		report.Summary.Failed++
		report.Add(c.Record.Filepath, rec.Hash, models.CodeCatalogWriteFailed, err)
		log.Error("写入目录失败", "path", placed, "error", err)
		return
	}
	report.Summary.Imported++
	log.Debug("已导入", "src", c.Record.Filepath, "dst", placed)
}

// occupied 判断路径是否已被磁盘上的文件或目录中的记录占用。
// 除"不存在"以外的 Lstat 错误原样返回，由调用方记为该文件的失败。
func (im *Importer) occupied(p string) (bool, error) {
	if _, ok := im.cat.LookupByPath(p); ok {
		return true, nil
	}
	return fsx.Exists(p)
}

// AddDirectory 原地索引 root 下的媒体文件，不复制。
// 已按同一路径入库的内容计为 already_indexed；内容已在别处入库的计为重复；
// 路径已被另一个哈希占用（文件被替换过）记为 path_conflict，不做修复。
func (im *Importer) AddDirectory(ctx context.Context, root string) (*models.BatchReport, error) {
	report := models.NewBatchReport(models.OpAddDirectory)
	ctx = logger.CtxWithLogger(ctx, im.log, "run_id", report.RunID)
	log := logger.FromCtx(ctx, im.log)

	log.Info("================== 新的索引任务开始 ==================", "root", root)
	sc := im.scanner.Scan(ctx, root)
	defer sc.Close()

	for sc.Next() {
		if ctx.Err() != nil {
			break
		}
		rec := sc.Candidate().Record

		if existing, ok := im.cat.LookupByHash(rec.Hash); ok {
			if existing.Filepath == rec.Filepath {
				report.Summary.AlreadyIndexed++
			} else {
				report.Summary.SkippedDuplicate++
				log.Debug("内容已在别处入库，跳过", "path", rec.Filepath, "existing", existing.Filepath)
			}
			continue
		}
		if existing, ok := im.cat.LookupByPath(rec.Filepath); ok {
			report.Summary.Skipped++
			report.Add(rec.Filepath, rec.Hash, models.CodePathConflict,
				fmt.Errorf("路径已记录为 %s，磁盘内容为 %s", existing.Hash, rec.Hash))
			log.Warn("路径与目录记录的哈希不一致", "path", rec.Filepath, "catalog", existing.Hash, "disk", rec.Hash)
			continue
		}

		if err := im.cat.Insert(rec); err != nil {
			report.Summary.Failed++
			report.Add(rec.Filepath, rec.Hash, models.CodeCatalogWriteFailed, err)
			log.Error("写入目录失败", "path", rec.Filepath, "error", err)
			continue
		}
		report.Summary.Imported++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrIO, err)
	}
	return im.finish(ctx, log, report, sc), nil
}

func (im *Importer) finish(ctx context.Context, log *slog.Logger, report *models.BatchReport, sc *Scan) *models.BatchReport {
	sc.Close()
	report.Merge(sc.Report())
	if ctx.Err() != nil {
		report.Cancelled = true
	}
	report.Finalize()
	metrics.CatalogRecords.Set(float64(im.cat.Len()))
	metrics.ObserveReport(report, nil)

	s := report.Summary
	log.Info("================== 任务结束 ==================",
		"operation", report.Operation,
		"imported", s.Imported,
		"skipped_duplicate", s.SkippedDuplicate,
		"already_indexed", s.AlreadyIndexed,
		"unsupported", s.Unsupported,
		"failed", s.Failed,
		"collisions", s.Collisions,
		"cancelled", report.Cancelled)
	return report
}
