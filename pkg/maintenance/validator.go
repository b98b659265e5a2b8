package maintenance

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/fsx"
	"Media_Catalog/pkg/hasher"
	"Media_Catalog/pkg/logger"
	"Media_Catalog/pkg/metrics"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Mode 决定校验的深度。
type Mode string

const (
	// ModeQuick 只检查文件是否存在。
	ModeQuick Mode = "quick"
	// ModeFull 重新计算每个文件的哈希。
	ModeFull Mode = "full"
)

// ParseMode 解析校验模式，空字符串视为 quick。
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeQuick:
		return ModeQuick, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("未知的校验模式: %q", s)
}

// Finding 是一条目录与磁盘不一致的记录。
type Finding struct {
	Hash   string `json:"hash"`
	Path   string `json:"path"`
	Actual string `json:"actual,omitempty"` // 仅 HashMismatch：磁盘上的实际哈希
}

// ValidationReport 是一次校验的结果。各列表按路径排序。
type ValidationReport struct {
	models.BatchReport
	Mode         Mode      `json:"mode"`
	Roots        []string  `json:"roots"`
	Checked      int       `json:"checked"`
	Missing      []Finding `json:"missing"`
	HashMismatch []Finding `json:"hash_mismatch"`
	Orphan       []string  `json:"orphan"`
}

// Clean 报告是否没有发现任何不一致。
func (r *ValidationReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.HashMismatch) == 0 && len(r.Orphan) == 0
}

type ValidatorOptions struct {
	WorkerCount int
	// Roots 是受管理的媒体库目录，其中不在目录里的文件记为 Orphan。
	Roots []string
	// Ignore 中的文件（例如快照与锁文件）不会被记为 Orphan。
	Ignore     []string
	SkipHidden bool
	Logger     *slog.Logger
}

// Validator 对照文件系统检查目录。它只读取，从不修改目录或磁盘。
type Validator struct {
	cat    *catalog.Catalog
	opts   ValidatorOptions
	ignore map[string]bool
}

func NewValidator(cat *catalog.Catalog, opts ValidatorOptions) *Validator {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	ignore := make(map[string]bool, len(opts.Ignore))
	for _, p := range opts.Ignore {
		if abs, err := filepath.Abs(p); err == nil {
			ignore[abs] = true
		}
	}
	return &Validator{cat: cat, opts: opts, ignore: ignore}
}

type checkResult struct {
	rec     models.MediaRecord
	checked bool
	missing bool
	actual  string
	err     error
}

// Validate 检查每条记录对应的文件，再遍历媒体库目录寻找未入库的文件。
// 只有模式无效时返回错误；单个文件的读取失败记为 io_failed 诊断。
func (v *Validator) Validate(ctx context.Context, mode Mode) (*ValidationReport, error) {
	if mode != ModeQuick && mode != ModeFull {
		return nil, fmt.Errorf("未知的校验模式: %q", mode)
	}
	report := &ValidationReport{BatchReport: *models.NewBatchReport(models.OpValidate), Mode: mode}
	ctx = logger.CtxWithLogger(ctx, v.opts.Logger, "run_id", report.RunID)
	log := logger.FromCtx(ctx, v.opts.Logger)
	log.Info("================== 校验开始 ==================", "mode", mode, "records", v.cat.Len())

	records := v.cat.Records()
	results := make([]checkResult, len(records))

	g := new(errgroup.Group)
	g.SetLimit(v.opts.WorkerCount)
	for i, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = v.check(rec, mode)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if !res.checked {
			continue
		}
		report.Checked++
		switch {
		case res.missing:
			report.Missing = append(report.Missing, Finding{Hash: res.rec.Hash, Path: res.rec.Filepath})
		case res.err != nil:
			report.Summary.Failed++
			report.Add(res.rec.Filepath, res.rec.Hash, models.CodeIOFailed, res.err)
		case res.actual != "" && res.actual != res.rec.Hash:
			report.HashMismatch = append(report.HashMismatch, Finding{Hash: res.rec.Hash, Path: res.rec.Filepath, Actual: res.actual})
		}
	}

	if ctx.Err() == nil {
		v.findOrphans(ctx, log, report)
	}
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	byPath := func(a, b Finding) int { return strings.Compare(a.Path, b.Path) }
	slices.SortFunc(report.Missing, byPath)
	slices.SortFunc(report.HashMismatch, byPath)
	slices.Sort(report.Orphan)
	report.Finalize()

	metrics.ValidationFindings.WithLabelValues("missing").Set(float64(len(report.Missing)))
	metrics.ValidationFindings.WithLabelValues("hash_mismatch").Set(float64(len(report.HashMismatch)))
	metrics.ValidationFindings.WithLabelValues("orphan").Set(float64(len(report.Orphan)))
	metrics.ObserveReport(&report.BatchReport, nil)

	log.Info("================== 校验结束 ==================",
		"checked", report.Checked,
		"missing", len(report.Missing),
		"hash_mismatch", len(report.HashMismatch),
		"orphan", len(report.Orphan),
		"io_failed", report.Summary.Failed,
		"cancelled", report.Cancelled)
	return report, nil
}

func (v *Validator) check(rec models.MediaRecord, mode Mode) checkResult {
	res := checkResult{rec: rec, checked: true}
	info, err := os.Stat(rec.Filepath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.missing = true
		return res
	case err != nil:
		res.err = err
		return res
	case !info.Mode().IsRegular():
		res.err = fmt.Errorf("%s 不是普通文件", rec.Filepath)
		return res
	}
	if mode == ModeFull {
		res.actual, res.err = hasher.CalculateSHA256(rec.Filepath)
		if errors.Is(res.err, fs.ErrNotExist) {
			res.missing, res.err = true, nil
		}
	}
	return res
}

// findOrphans 遍历媒体库目录，收集不在目录中的文件。临时文件与 Ignore 中的文件除外。
// 没有媒体库目录时记一条 orphan_scan_skipped 诊断。
func (v *Validator) findOrphans(ctx context.Context, log *slog.Logger, report *ValidationReport) {
	report.Roots = slices.Clone(v.opts.Roots)
	if len(v.opts.Roots) == 0 {
		report.Add("", "", models.CodeOrphanScanSkipped,
			errors.New("未配置媒体库目录 (catalog.libraryRoots 或 normalizer.root)，跳过孤儿文件检查"))
		log.Warn("未配置媒体库目录，跳过孤儿文件检查")
		return
	}
	for _, root := range v.opts.Roots {
		w, err := fsx.NewWalker(root, fsx.WalkOptions{
			SkipHidden: v.opts.SkipHidden,
			OnError: func(path string, err error) {
				report.Summary.Failed++
				report.Add(path, "", models.CodeIOFailed, err)
			},
		})
		if err != nil {
			report.Summary.Failed++
			report.Add(root, "", models.CodeIOFailed, fmt.Errorf("无法遍历媒体库目录: %w", err))
			log.Warn("无法遍历媒体库目录", "root", root, "error", err)
			continue
		}
		for w.Next() {
			if ctx.Err() != nil {
				return
			}
			e := w.Entry()
			if fsx.IsTempName(e.Dir.Name()) || v.ignore[e.Path] {
				continue
			}
			if _, ok := v.cat.LookupByPath(e.Path); !ok {
				report.Orphan = append(report.Orphan, e.Path)
			}
		}
	}
}
