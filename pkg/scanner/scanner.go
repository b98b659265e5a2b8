package scanner

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/extractor"
	"Media_Catalog/pkg/fsx"
	"Media_Catalog/pkg/hasher"
	"Media_Catalog/pkg/logger"
	"Media_Catalog/pkg/metrics"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options 控制一次扫描的行为。
type Options struct {
	WorkerCount int
	SkipHidden  bool
	// MediaOnly 为 false 时，无法识别的文件也会以 other 类型产出。
	MediaOnly      bool
	PerceptualHash bool
	// MtimeFallback 在 EXIF 中没有拍摄时间时使用文件修改时间。
	MtimeFallback bool
	// Exclude 中的目录（绝对路径）不会被遍历。
	Exclude []string

	Extractors *extractor.Registry
	Logger     *slog.Logger
}

// Candidate 是扫描产出的一个待入库文件。Record.Filepath 是源文件的绝对路径。
type Candidate struct {
	Record  models.MediaRecord
	Rel     string
	ModTime time.Time
}

// Scanner 遍历目录并为每个媒体文件计算哈希与元数据。
type Scanner struct {
	opts Options
}

func New(opts Options) *Scanner {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = runtime.NumCPU()
	}
	if opts.Extractors == nil {
		opts.Extractors = extractor.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Scanner{opts: opts}
}

// item 是一个文件（或一次目录读取失败）的处理结果。
type item struct {
	path      string
	candidate *Candidate
	// code 非空时表示一条诊断；unsupported 与 candidate 互斥。
	code        string
	err         error
	unsupported bool
	extraction  error
}

// Scan 是一次扫描的游标：单次、不可重启。Next 按遍历顺序产出候选文件，
// 与并发度无关。用完必须调用 Close。
type Scan struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	pending <-chan chan item
	cur     Candidate
	err     error

	report    *models.BatchReport
	closeOnce sync.Once
	finished  bool
}

// Scan 开始扫描 root。root 不可读时，返回的游标 Next 直接为 false，Err 返回该错误。
func (s *Scanner) Scan(ctx context.Context, root string) *Scan {
	ctx, cancel := context.WithCancel(ctx)
	sc := &Scan{
		ctx:    ctx,
		cancel: cancel,
		log:    logger.FromCtx(ctx, s.opts.Logger),
		report: models.NewBatchReport(models.OpScan),
	}

	// 窗口限制了已遍历但尚未被消费的文件数，遍历因此是惰性的。
	window := 2 * s.opts.WorkerCount
	pending := make(chan chan item, window)
	sc.pending = pending

	push := func(it item) bool {
		ch := make(chan item, 1)
		ch <- it
		select {
		case pending <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	w, err := fsx.NewWalker(root, fsx.WalkOptions{
		SkipHidden: s.opts.SkipHidden,
		Exclude:    s.opts.Exclude,
		OnError: func(path string, err error) {
			push(item{path: path, code: models.CodeIOFailed, err: fmt.Errorf("读取目录失败: %w", err)})
		},
	})
	if err != nil {
		sc.err = fmt.Errorf("无法遍历 %s: %w", root, err)
		close(pending)
		return sc
	}
	sc.log.Info("扫描开始", "root", w.Root(), "workers", s.opts.WorkerCount)

	go func() {
		defer close(pending)
		g := new(errgroup.Group)
		g.SetLimit(s.opts.WorkerCount)
		defer g.Wait()

		for w.Next() {
			if ctx.Err() != nil {
				return
			}
			e := w.Entry()
			ch := make(chan item, 1)
			select {
			case pending <- ch:
			case <-ctx.Done():
				return
			}
			g.Go(func() error {
				ch <- s.process(e)
				return nil
			})
		}
	}()
	return sc
}

// process 打开文件一次：识别格式、流式计算哈希、提取元数据。
func (s *Scanner) process(e fsx.Entry) item {
	it := item{path: e.Path}

	f, err := os.Open(e.Path)
	if err != nil {
		it.code, it.err = models.CodeIOFailed, err
		return it
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		it.code, it.err = models.CodeIOFailed, err
		return it
	}

	head := make([]byte, extractor.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		it.code, it.err = models.CodeIOFailed, err
		return it
	}
	format, ok := extractor.Classify(e.Path, head[:n])
	if !ok && s.opts.MediaOnly {
		it.unsupported = true
		return it
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		it.code, it.err = models.CodeIOFailed, err
		return it
	}
	sum, size, err := hasher.CalculateSHA256FromReader(f)
	if err != nil {
		it.code, it.err = models.CodeIOFailed, fmt.Errorf("计算哈希失败: %w", err)
		return it
	}
	metrics.HashedBytes.Add(float64(size))

	rec := models.MediaRecord{Hash: sum, Filepath: e.Path, Size: size}
	meta := models.Metadata{Format: format}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		it.extraction = err
	} else {
		meta, it.extraction = s.opts.Extractors.Extract(f, format)
	}
	meta.Apply(&rec)

	if rec.Created == nil && s.opts.MtimeFallback {
		t := info.ModTime().UTC()
		rec.Created = &t
	}

	if s.opts.PerceptualHash && format.Kind == models.KindImage {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if ph, err := hasher.CalculatePerceptualHashFromReader(f); err == nil {
				rec.PerceptualHash = ph
			} else {
				s.opts.Logger.Debug("无法计算感知哈希", "path", e.Path, "error", err)
			}
		}
	}

	it.candidate = &Candidate{Record: rec, Rel: e.Rel, ModTime: info.ModTime()}
	return it
}

// Next 前进到下一个候选文件。扫描结束、出错或被取消时返回 false。
func (sc *Scan) Next() bool {
	if sc.finished {
		return false
	}
	for {
		if sc.ctx.Err() != nil {
			sc.report.Cancelled = true
			sc.finish()
			return false
		}
		var ch chan item
		var ok bool
		select {
		case ch, ok = <-sc.pending:
		case <-sc.ctx.Done():
			continue
		}
		if !ok {
			// 生产者可能因为取消而提前结束
			if sc.ctx.Err() != nil {
				sc.report.Cancelled = true
			}
			sc.finish()
			return false
		}
		it := <-ch
		if sc.record(it) {
			sc.cur = *it.candidate
			return true
		}
	}
}

// record 把一个结果计入报告，返回它是否是候选文件。
func (sc *Scan) record(it item) bool {
	r := sc.report
	switch {
	case it.unsupported:
		r.Summary.Unsupported++
		metrics.ScannedFiles.WithLabelValues("unsupported").Inc()
		sc.log.Debug("跳过不支持的文件", "path", it.path)
		return false
	case it.code != "":
		r.Summary.Failed++
		r.Add(it.path, "", it.code, it.err)
		metrics.ScannedFiles.WithLabelValues("failed").Inc()
		sc.log.Warn("处理文件失败", "path", it.path, "code", it.code, "error", it.err)
		return false
	}
	if it.extraction != nil {
		r.Summary.Extraction++
		r.Add(it.path, it.candidate.Record.Hash, models.CodeExtractionFailed, it.extraction)
		metrics.ExtractionFailures.Inc()
		sc.log.Debug("元数据提取失败", "path", it.path, "error", it.extraction)
	}
	metrics.ScannedFiles.WithLabelValues("candidate").Inc()
	return true
}

// Candidate 返回 Next 最近一次产出的候选文件。
func (sc *Scan) Candidate() Candidate { return sc.cur }

// Err 返回致命错误（根目录不可读）。取消不算错误，见 Report().Cancelled。
func (sc *Scan) Err() error { return sc.err }

// Report 返回扫描报告：不支持、失败与提取失败的计数和诊断。
func (sc *Scan) Report() *models.BatchReport { return sc.report }

func (sc *Scan) finish() {
	if sc.finished {
		return
	}
	sc.finished = true
	sc.report.Finalize()
	sc.log.Info("扫描结束",
		"unsupported", sc.report.Summary.Unsupported,
		"failed", sc.report.Summary.Failed,
		"extraction_failures", sc.report.Summary.Extraction,
		"cancelled", sc.report.Cancelled)
}

// Close 停止扫描并等待后台协程退出。可重复调用。
func (sc *Scan) Close() {
	sc.closeOnce.Do(func() {
		sc.cancel()
		for ch := range sc.pending {
			<-ch
		}
		if !sc.finished {
			sc.finish()
		}
	})
}

// WithExclude 返回一个额外排除 dirs 的扫描器副本。
func (s *Scanner) WithExclude(dirs ...string) *Scanner {
	opts := s.opts
	opts.Exclude = append(append([]string(nil), s.opts.Exclude...), dirs...)
	return &Scanner{opts: opts}
}
