package models

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrCancelled 表示批处理被调用方取消。已提交的目录变更保留，未处理的文件不再尝试。
var ErrCancelled = errors.New("operation cancelled")

const (
	OpAddDirectory  = "add_directory"
	OpCopyDirectory = "copy_from_directory"
	OpNormalize     = "normalize_directory_structure"
	OpValidate      = "validate"
	OpScan          = "scan"
)

// 诊断代码。批处理中每个非致命失败都以其中一个代码记录到报告里。
const (
	CodeIOFailed           = "io_failed"
	CodeExtractionFailed   = "metadata_extraction_failed"
	CodeRenameCollision    = "rename_collision"
	CodeHashMismatch       = "hash_mismatch"
	CodeDuplicatePath      = "duplicate_path"
	CodePathConflict       = "path_conflict"
	CodeMissingCreated     = "missing_created"
	CodeMoveFailed         = "move_failed"
	CodeBlocked            = "blocked"
	CodeCatalogWriteFailed = "catalog_write_failed"
	// CodeOrphanScanSkipped 表示没有可遍历的媒体库目录，校验没有检查孤儿文件。
	CodeOrphanScanSkipped = "orphan_scan_skipped"
)

// Diagnostic 是批处理中针对单个文件的一条记录。
type Diagnostic struct {
	Path    string `json:"path"`
	Hash    string `json:"hash,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary 汇总批处理的结果计数；不同操作只使用其中一部分字段。
type Summary struct {
	Imported         int `json:"imported"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	AlreadyIndexed   int `json:"already_indexed"`
	Unsupported      int `json:"unsupported"`
	Failed           int `json:"failed"`
	Moved            int `json:"moved"`
	Unchanged        int `json:"unchanged"`
	Skipped          int `json:"skipped"`
	Collisions       int `json:"collisions"`
	Extraction       int `json:"extraction_failures"`
}

// BatchReport 是所有批处理操作（扫描、导入、规整）返回给调用方的结构。
type BatchReport struct {
	RunID     string `json:"run_id"`
	Operation string `json:"operation"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled 为 true 表示操作被取消而不是失败。
	Cancelled bool `json:"cancelled"`

	Summary     Summary      `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// NewBatchReport 创建一个带新运行 ID 的报告。
func NewBatchReport(op string) *BatchReport {
	return &BatchReport{
		RunID:     uuid.NewString(),
		Operation: op,
		StartedAt: time.Now(),
	}
}

// Add 追加一条诊断。
func (r *BatchReport) Add(path, hash, code string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Path: path, Hash: hash, Code: code, Message: msg})
}

// Merge 把子报告（例如扫描报告）的计数与诊断并入当前报告。
func (r *BatchReport) Merge(o *BatchReport) {
	if o == nil {
		return
	}
	r.Summary.Unsupported += o.Summary.Unsupported
	r.Summary.Extraction += o.Summary.Extraction
	r.Summary.Failed += o.Summary.Failed
	r.Diagnostics = append(r.Diagnostics, o.Diagnostics...)
	r.Cancelled = r.Cancelled || o.Cancelled
}

// Finalize 统一时间为 UTC，并按路径、代码稳定排序诊断。
func (r *BatchReport) Finalize() {
	r.FinishedAt = time.Now().UTC()
	r.StartedAt = r.StartedAt.UTC()
	sort.SliceStable(r.Diagnostics, func(i, j int) bool {
		a, b := r.Diagnostics[i], r.Diagnostics[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Code < b.Code
	})
}

// Err 在报告被取消时返回 ErrCancelled。
func (r *BatchReport) Err() error {
	if r.Cancelled {
		return ErrCancelled
	}
	return nil
}
