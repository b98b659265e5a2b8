// Package normalizer 按路径模板重新安排目录中文件在磁盘上的位置。
//
// 一次规整分两步：先为全部记录（按 hash 顺序）确定目标路径，再执行移动。
// 每个文件先在磁盘上移动成功，才更新目录中的路径，所以任何时刻目录都不会指向不存在的文件。
package normalizer

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
	"strings"
)

type Options struct {
	// PruneEmptyDirs 在规整结束后删除 root 下被搬空的目录。
	PruneEmptyDirs bool
	Logger         *slog.Logger
}

type Normalizer struct {
	cat  *catalog.Catalog
	opts Options
}

func New(cat *catalog.Catalog, opts Options) *Normalizer {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Normalizer{cat: cat, opts: opts}
}

// move 是计划中的一次移动。
type move struct {
	hash string
	from string
	to   string
	// parked 为 true 表示文件已被临时挪开以打破交换环，orig 是挪开前的路径。
	parked bool
	orig   string
}

// parkMarker 出现在为打破交换环而临时挪开的文件名中：.<原文件名>.tmp-park-<hash>
const parkMarker = ".tmp-park-"

// originalName 返回路径的文件名；对临时挪开的文件返回挪开前的文件名。
func originalName(path string) string {
	base := filepath.Base(path)
	if !fsx.IsTempName(base) {
		return base
	}
	if i := strings.LastIndex(base, parkMarker); i > 1 {
		return base[1:i]
	}
	return base
}

// Normalize 把目录中每条记录移动到 root 下按 template 渲染出的路径。
// 模板无效或 root 无法创建时返回错误；单个文件的失败只记入报告。
// 已经在目标位置的记录不做任何操作，因此连续运行两次，第二次不会移动文件。
func (n *Normalizer) Normalize(ctx context.Context, root, template string) (*models.BatchReport, error) {
	tmpl, err := ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrIO, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: 无法创建规整根目录: %w", catalog.ErrIO, err)
	}

	report := models.NewBatchReport(models.OpNormalize)
	ctx = logger.CtxWithLogger(ctx, n.opts.Logger, "run_id", report.RunID)
	log := logger.FromCtx(ctx, n.opts.Logger)
	log.Info("================== 新的规整任务开始 ==================", "root", root, "template", tmpl.String())

	moves := n.plan(log, report, root, tmpl)
	log.Info("规整计划完成", "moves", len(moves), "unchanged", report.Summary.Unchanged, "skipped", report.Summary.Skipped)

	n.execute(ctx, log, report, moves)

	if n.opts.PruneEmptyDirs && !report.Cancelled {
		removed, err := fsx.PruneEmptyDirs(root)
		if err != nil {
			log.Warn("清理空目录失败", "error", err)
		} else if removed > 0 {
			log.Info("已清理空目录", "count", removed)
		}
	}

	report.Finalize()
	metrics.ObserveReport(report, nil)
	s := report.Summary
	log.Info("================== 规整任务结束 ==================",
		"moved", s.Moved,
		"unchanged", s.Unchanged,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"collisions", s.Collisions,
		"cancelled", report.Cancelled)
	return report, nil
}

// plan 为每条记录选定目标路径。
// 已在目标位置的记录和无法渲染的记录保持原位，先占住各自的路径；
// 其余记录按 hash 顺序取得目标路径，或目标被占用时最小的空闲 _N 后缀。
func (n *Normalizer) plan(log *slog.Logger, report *models.BatchReport, root string, tmpl *Template) []move {
	records := n.cat.Records()
	claimed := make(map[string]string, len(records))

	type pending struct {
		rec    models.MediaRecord
		target string
	}
	var movers []pending
	for _, rec := range records {
		rel, err := tmpl.Render(rec)
		if err != nil {
			code := models.CodeMoveFailed
			if errors.Is(err, ErrMissingCreated) {
				code = models.CodeMissingCreated
			}
			report.Summary.Skipped++
			report.Add(rec.Filepath, rec.Hash, code, err)
			claimed[rec.Filepath] = rec.Hash
			continue
		}
		target := filepath.Join(root, rel)
		if target == rec.Filepath {
			report.Summary.Unchanged++
			claimed[target] = rec.Hash
			continue
		}
		movers = append(movers, pending{rec: rec, target: target})
	}

	var moves []move
	for _, p := range movers {
		own := p.rec.Filepath
		taken := func(c string) (bool, error) {
			if c == own {
				return false, nil
			}
			if _, ok := claimed[c]; ok {
				return true, nil
			}
			if _, ok := n.cat.LookupByPath(c); ok {
				// 由其它待移动记录占用的路径会在执行时被腾出
				return false, nil
			}
			return fsx.Exists(c)
		}
		target, suffix, err := fsx.UniquePath(p.target, taken)
		if err != nil {
			// 目标路径无法检查（例如父路径是普通文件）：记录原地不动
			report.Summary.Failed++
			report.Add(own, p.rec.Hash, models.CodeIOFailed, fmt.Errorf("无法确定目标路径 %s: %w", p.target, err))
			log.Error("无法确定目标路径", "hash", p.rec.Hash, "target", p.target, "error", err)
			claimed[own] = p.rec.Hash
			continue
		}
		claimed[target] = p.rec.Hash
		if target == own {
			report.Summary.Unchanged++
			continue
		}
		if suffix > 0 {
			report.Summary.Collisions++
			log.Debug("目标路径已占用，使用后缀", "hash", p.rec.Hash, "target", target)
		}
		moves = append(moves, move{hash: p.rec.Hash, from: own, to: target})
	}
	return moves
}

// execute 依次执行移动。目标仍被另一条待移动记录占用时先等待；
// 所有剩余移动互相等待（交换环）时，把其中一个文件临时挪开。
// 有文件处于临时位置时不响应取消，直到交换环解开，文件不会停留在临时名下。
func (n *Normalizer) execute(ctx context.Context, log *slog.Logger, report *models.BatchReport, moves []move) {
	pendingByHash := make(map[string]bool, len(moves))
	for _, m := range moves {
		pendingByHash[m.hash] = true
	}
	parked := 0
	cancelled := func() bool { return parked == 0 && ctx.Err() != nil }

	for len(moves) > 0 {
		if cancelled() {
			report.Cancelled = true
			return
		}

		progress := false
		var waiting []move
		for _, m := range moves {
			if cancelled() {
				waiting = append(waiting, m)
				continue
			}
			if occ, ok := n.cat.LookupByPath(m.to); ok && occ.Hash != m.hash {
				if pendingByHash[occ.Hash] {
					waiting = append(waiting, m)
					continue
				}
				n.block(log, report, m, fmt.Errorf("目标 %s 已被记录 %s 占用", m.to, occ.Hash))
			} else {
				n.apply(log, report, m)
			}
			if m.parked {
				// 移动成功时 unpark 什么也不做
				n.unpark(log, report, m)
				parked--
			}
			delete(pendingByHash, m.hash)
			progress = true
		}
		moves = waiting
		if len(moves) > 0 && cancelled() {
			report.Cancelled = true
			return
		}

		if !progress && len(moves) > 0 {
			i := cycleMember(moves)
			pm, err := n.park(moves[i])
			if err != nil {
				n.fail(log, report, moves[i], models.CodeMoveFailed, err)
				delete(pendingByHash, moves[i].hash)
				moves = append(moves[:i], moves[i+1:]...)
				continue
			}
			moves[i] = pm
			parked++
		}
	}
}

// cycleMember 返回一个源路径正被其它移动等待的下标。
// 所有移动都在等待时，等待链必然成环，环上总有一个尚未挪开的文件。
func cycleMember(moves []move) int {
	wanted := make(map[string]bool, len(moves))
	for _, m := range moves {
		wanted[m.to] = true
	}
	for i, m := range moves {
		if !m.parked && wanted[m.from] {
			return i
		}
	}
	return 0
}

// apply 移动一个文件并更新目录，返回是否成功。更新目录失败时把文件移回原处。
func (n *Normalizer) apply(log *slog.Logger, report *models.BatchReport, m move) bool {
	if err := fsx.Move(m.from, m.to); err != nil {
		if errors.Is(err, fsx.ErrRenameCollision) {
			n.block(log, report, m, err)
			return false
		}
		n.fail(log, report, m, models.CodeMoveFailed, err)
		return false
	}
	if err := n.cat.UpdatePath(m.hash, m.to); err != nil {
		if rbErr := fsx.Move(m.to, m.from); rbErr != nil {
			log.Error("回滚移动失败", "hash", m.hash, "from", m.to, "to", m.from, "error", rbErr)
		}
		n.fail(log, report, m, models.CodeCatalogWriteFailed, err)
		return false
	}
	report.Summary.Moved++
	log.Debug("已移动", "hash", m.hash, "from", m.from, "to", m.to)
	return true
}

// park 把文件挪到同目录下的隐藏临时名，腾出原路径。
func (n *Normalizer) park(m move) (move, error) {
	dir, base := filepath.Split(m.from)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s%s%s", base, parkMarker, m.hash[:min(12, len(m.hash))]))
	if err := fsx.Move(m.from, tmp); err != nil {
		return m, fmt.Errorf("临时移动失败: %w", err)
	}
	if err := n.cat.UpdatePath(m.hash, tmp); err != nil {
		_ = fsx.Move(tmp, m.from)
		return m, err
	}
	n.opts.Logger.Debug("为打破交换环临时移动文件", "hash", m.hash, "from", m.from, "to", tmp)
	m.orig, m.from, m.parked = m.from, tmp, true
	return m, nil
}

// unpark 在挪开的文件没能到达目标时，把它放回原路径。
// 原路径已被占用时改用原路径旁最小的空闲 _N 名称。
func (n *Normalizer) unpark(log *slog.Logger, report *models.BatchReport, m move) {
	rec, ok := n.cat.LookupByHash(m.hash)
	if !ok || rec.Filepath != m.from {
		return
	}
	back, _, err := fsx.UniquePath(m.orig, func(c string) (bool, error) {
		if _, ok := n.cat.LookupByPath(c); ok {
			return true, nil
		}
		return fsx.Exists(c)
	})
	if err == nil {
		err = fsx.Move(m.from, back)
	}
	if err != nil {
		report.Add(m.from, m.hash, models.CodeMoveFailed, fmt.Errorf("无法从临时位置恢复: %w", err))
		log.Error("无法从临时位置恢复文件", "hash", m.hash, "path", m.from, "error", err)
		return
	}
	if err := n.cat.UpdatePath(m.hash, back); err != nil {
		_ = fsx.Move(back, m.from)
		report.Add(m.from, m.hash, models.CodeCatalogWriteFailed, err)
		log.Error("无法从临时位置恢复文件", "hash", m.hash, "path", m.from, "error", err)
		return
	}
	log.Info("文件已从临时位置恢复", "hash", m.hash, "path", back)
}

func (n *Normalizer) block(log *slog.Logger, report *models.BatchReport, m move, err error) {
	report.Summary.Skipped++
	report.Add(m.from, m.hash, models.CodeBlocked, err)
	log.Warn("目标路径被占用，跳过", "hash", m.hash, "target", m.to, "error", err)
}

func (n *Normalizer) fail(log *slog.Logger, report *models.BatchReport, m move, code string, err error) {
	report.Summary.Failed++
	report.Add(m.from, m.hash, code, err)
	log.Error("移动文件失败", "hash", m.hash, "from", m.from, "to", m.to, "error", err)
}
