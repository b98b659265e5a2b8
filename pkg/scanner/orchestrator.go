package scanner

import (
	"Media_Catalog/config"
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/database"
	"Media_Catalog/pkg/extractor"
	"Media_Catalog/pkg/logger"
	"Media_Catalog/pkg/maintenance"
	"Media_Catalog/pkg/metrics"
	"Media_Catalog/pkg/normalizer"
	"Media_Catalog/pkg/search"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
)

// ErrReadOnly 表示以只读方式打开的协调器收到了修改目录的请求。
var ErrReadOnly = errors.New("catalog opened read-only")

// Orchestrator 持有一个会话的目录、存储、写锁和各模块，并把每个批处理操作
// 串成 加载 → 执行 → 保存 的完整流程。
type Orchestrator struct {
	cfg *config.Config

	Catalog *catalog.Catalog
	store   database.Store
	lock    *catalog.WriterLock
	loggers []*logger.ModuleLogger

	importer   *Importer
	normalizer *normalizer.Normalizer
	validator  *maintenance.Validator
	maint      *maintenance.Maintenance
}

// NewOrchestrator 打开存储并加载目录。writable 为 true 时先获取跨进程写锁。
// 存储损坏或无法读取是致命错误。
func NewOrchestrator(ctx context.Context, cfg *config.Config, writable bool) (o *Orchestrator, err error) {
	slog.Info("初始化扫描协调器 (Orchestrator)...", "driver", cfg.Database.Driver, "writable", writable)
	o = &Orchestrator{cfg: cfg, Catalog: catalog.New()}
	defer func() {
		if err != nil {
			_ = o.Close(ctx)
			o = nil
		}
	}()

	if writable {
		if o.lock, err = catalog.AcquireWriter(cfg.Catalog.SnapshotPath); err != nil {
			return o, err
		}
	}

	// 1. 创建各模块的日志文件
	newLogger := func(name, module string) (*slog.Logger, error) {
		ml, err := logger.NewModuleLogger(cfg, name, module)
		if err != nil {
			return nil, fmt.Errorf("创建 Orchestrator 失败: %w", err)
		}
		o.loggers = append(o.loggers, ml)
		return ml.Logger, nil
	}
	scanLog, err := newLogger("scanner.log", "scanner")
	if err != nil {
		return o, err
	}
	ingestLog, err := newLogger("ingestor.log", "ingestor")
	if err != nil {
		return o, err
	}
	normLog, err := newLogger("normalizer.log", "normalizer")
	if err != nil {
		return o, err
	}
	validLog, err := newLogger("validator.log", "validator")
	if err != nil {
		return o, err
	}
	maintLog, err := newLogger("maintenance.log", "maintenance")
	if err != nil {
		return o, err
	}

	// 2. 打开存储并加载目录
	if o.store, err = catalog.OpenStore(ctx, cfg); err != nil {
		return o, fmt.Errorf("打开存储失败: %w", err)
	}
	if err = o.Catalog.Load(ctx, o.store); err != nil {
		return o, err
	}
	metrics.CatalogRecords.Set(float64(o.Catalog.Len()))
	slog.Info("目录已加载", "records", o.Catalog.Len())

	// 3. 创建各模块
	extractors := extractor.NewRegistry()
	if cfg.Scanner.UseExiftool {
		extractors.EnableExiftool(cfg.Scanner.ExiftoolPath)
	}
	sc := New(Options{
		WorkerCount:    cfg.Scanner.WorkerCount,
		SkipHidden:     cfg.Scanner.SkipHidden,
		MediaOnly:      cfg.Scanner.MediaOnly,
		PerceptualHash: cfg.Scanner.PerceptualHash,
		MtimeFallback:  cfg.Scanner.MtimeFallback,
		Exclude:        absAll(cfg.Scanner.ExcludeDirs),
		Extractors:     extractors,
		Logger:         scanLog,
	})
	o.importer = NewImporter(o.Catalog, sc, ingestLog)
	o.normalizer = normalizer.New(o.Catalog, normalizer.Options{
		PruneEmptyDirs: cfg.Normalizer.PruneEmptyDirs,
		Logger:         normLog,
	})
	o.validator = maintenance.NewValidator(o.Catalog, maintenance.ValidatorOptions{
		WorkerCount: cfg.Validator.WorkerCount,
		Roots:       o.managedRoots(),
		Ignore:      o.ownFiles(),
		SkipHidden:  cfg.Scanner.SkipHidden,
		Logger:      validLog,
	})
	o.maint = maintenance.NewMaintenance(o.Catalog, maintLog)

	slog.Info("扫描协调器初始化成功。")
	return o, nil
}

// managedRoots 返回受管理的媒体库目录：优先 catalog.libraryRoots，
// 未配置时退回规整根目录 normalizer.root。两者都为空时返回 nil。
func (o *Orchestrator) managedRoots() []string {
	if len(o.cfg.Catalog.LibraryRoots) > 0 {
		return o.cfg.Catalog.LibraryRoots
	}
	if o.cfg.Normalizer.Root != "" {
		return []string{o.cfg.Normalizer.Root}
	}
	return nil
}

// ownFiles 返回本工具自己写入、不应被当作孤儿文件的路径。
func (o *Orchestrator) ownFiles() []string {
	snap := o.cfg.Catalog.SnapshotPath
	files := []string{snap, snap + ".lock"}
	if o.cfg.Database.Driver == "sqlite" {
		db := o.cfg.Database.URI
		files = append(files, db, db+"-wal", db+"-shm", db+"-journal")
	}
	if p := o.cfg.Metrics.TextfilePath; p != "" {
		files = append(files, p)
	}
	return files
}

func absAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func (o *Orchestrator) requireWriter() error {
	if o.lock == nil {
		return ErrReadOnly
	}
	return nil
}

// CopyFromDirectory 导入 src 中的新内容到 dst，然后保存目录。
func (o *Orchestrator) CopyFromDirectory(ctx context.Context, src, dst string) (*models.BatchReport, error) {
	if err := o.requireWriter(); err != nil {
		return nil, err
	}
	report, err := o.importer.CopyFromDirectory(ctx, src, dst)
	return o.commit(report, err)
}

// AddDirectory 原地索引 root，然后保存目录。
func (o *Orchestrator) AddDirectory(ctx context.Context, root string) (*models.BatchReport, error) {
	if err := o.requireWriter(); err != nil {
		return nil, err
	}
	report, err := o.importer.AddDirectory(ctx, root)
	return o.commit(report, err)
}

// Normalize 按模板规整 root 下的目录结构。root 或 template 为空时使用配置值。
func (o *Orchestrator) Normalize(ctx context.Context, root, template string) (*models.BatchReport, error) {
	if err := o.requireWriter(); err != nil {
		return nil, err
	}
	if root == "" {
		root = o.cfg.Normalizer.Root
	}
	if root == "" {
		return nil, errors.New("未指定规整根目录 (normalizer.root)")
	}
	if template == "" {
		template = o.cfg.Normalizer.Template
	}
	report, err := o.normalizer.Normalize(ctx, root, template)
	return o.commit(report, err)
}

// commit 在批处理结束后保存目录。取消的批处理同样保存已完成的修改。
func (o *Orchestrator) commit(report *models.BatchReport, err error) (*models.BatchReport, error) {
	if err != nil {
		metrics.ObserveReport(nil, err)
		return nil, err
	}
	// 保存不使用批处理的 ctx：取消后仍要持久化已提交的修改
	if err := o.Save(context.Background()); err != nil {
		return report, err
	}
	return report, nil
}

// Validate 对照文件系统校验目录。mode 为空时使用配置值。
func (o *Orchestrator) Validate(ctx context.Context, mode string) (*maintenance.ValidationReport, error) {
	if mode == "" {
		mode = o.cfg.Validator.Mode
	}
	m, err := maintenance.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	report, err := o.validator.Validate(ctx, m)
	o.writeMetrics()
	return report, err
}

// PruneMissing 重新校验（quick）并删除文件已丢失的记录，然后保存目录。
func (o *Orchestrator) PruneMissing(ctx context.Context) (int, error) {
	if err := o.requireWriter(); err != nil {
		return 0, err
	}
	report, err := o.validator.Validate(ctx, maintenance.ModeQuick)
	if err != nil {
		return 0, err
	}
	n, err := o.maint.RemoveMissing(ctx, report)
	if n > 0 {
		if saveErr := o.Save(context.Background()); saveErr != nil {
			return n, saveErr
		}
	}
	return n, err
}

// Search 在目录上执行查询。
func (o *Orchestrator) Search(q search.Query, key search.SortKey) iter.Seq[models.MediaRecord] {
	return search.Search(o.Catalog, q, key)
}

// Stats 返回目录统计。
func (o *Orchestrator) Stats() catalog.Stats { return o.Catalog.Stats() }

// GenerateManifest 在 outputDir 下生成文件清单。路径相对于第一个媒体库目录。
func (o *Orchestrator) GenerateManifest(ctx context.Context, outputDir string) (string, error) {
	root := ""
	if roots := o.managedRoots(); len(roots) > 0 {
		root = roots[0]
	}
	return o.maint.GenerateFileManifest(ctx, root, outputDir)
}

// Resolve 按 hash 或文件路径查找记录。
func (o *Orchestrator) Resolve(ref string) (models.MediaRecord, error) {
	if rec, ok := o.Catalog.LookupByHash(ref); ok {
		return rec, nil
	}
	if abs, err := filepath.Abs(ref); err == nil {
		if rec, ok := o.Catalog.LookupByPath(abs); ok {
			return rec, nil
		}
	}
	return models.MediaRecord{}, fmt.Errorf("%w: %s", catalog.ErrRecordNotFound, ref)
}

// AddLabels 给 ref 指向的记录添加标签并保存目录，返回实际新增的标签数。
func (o *Orchestrator) AddLabels(ctx context.Context, ref string, labels ...string) (int, error) {
	return o.editLabels(ctx, ref, labels, o.Catalog.AddLabel)
}

// RemoveLabels 删除 ref 指向的记录上的标签并保存目录，返回实际删除的标签数。
func (o *Orchestrator) RemoveLabels(ctx context.Context, ref string, labels ...string) (int, error) {
	return o.editLabels(ctx, ref, labels, o.Catalog.RemoveLabel)
}

func (o *Orchestrator) editLabels(ctx context.Context, ref string, labels []string, edit func(hash, label string) (bool, error)) (int, error) {
	if err := o.requireWriter(); err != nil {
		return 0, err
	}
	rec, err := o.Resolve(ref)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, l := range labels {
		ok, err := edit(rec.Hash, l)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	slog.Info("记录标签已修改", "hash", rec.Hash, "labels", labels, "changed", changed)
	return changed, o.Save(ctx)
}

// AllLabels 返回目录中的全部标签及其记录数。
func (o *Orchestrator) AllLabels() []catalog.LabelCount { return o.Catalog.AllLabels() }

// ExportLabel 在 outputDir/<label> 下为带有该标签的文件创建符号链接。
func (o *Orchestrator) ExportLabel(ctx context.Context, label, outputDir string) (string, int, error) {
	return o.maint.ExportLabel(ctx, label, outputDir)
}

// Backup 把目录快照备份到 catalog.backupPath。
func (o *Orchestrator) Backup(ctx context.Context) (string, error) {
	return o.maint.BackupCatalog(ctx, o.cfg.Catalog.BackupPath)
}

// Save 把目录写回存储并刷新指标文件。
func (o *Orchestrator) Save(ctx context.Context) error {
	if err := o.Catalog.Save(ctx, o.store); err != nil {
		return fmt.Errorf("保存目录失败: %w", err)
	}
	metrics.CatalogRecords.Set(float64(o.Catalog.Len()))
	o.writeMetrics()
	return nil
}

func (o *Orchestrator) writeMetrics() {
	if err := metrics.WriteTextfile(o.cfg.Metrics.TextfilePath); err != nil {
		slog.Warn("写入指标文件失败", "path", o.cfg.Metrics.TextfilePath, "error", err)
	}
}

// Close 关闭存储与日志文件并释放写锁。
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if o.store != nil {
		errs = append(errs, o.store.Close(ctx))
	}
	for _, l := range o.loggers {
		errs = append(errs, l.Close())
	}
	errs = append(errs, o.lock.Release())
	return errors.Join(errs...)
}
