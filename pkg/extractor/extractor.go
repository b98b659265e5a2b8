// Package extractor 负责识别媒体格式并从文件内容中提取元数据（拍摄时间、地点、设备、ISO）。
package extractor

import (
	"Media_Catalog/internal/models"
	"errors"
	"fmt"
	"io"
)

// ErrExtractionFailed 表示元数据读取失败。调用方把它当作非致命诊断：记录仍会入库，只是缺少可选字段。
var ErrExtractionFailed = errors.New("metadata extraction failed")

// FormatExtractor 从一类媒体中提取元数据。
// 返回的 Metadata 可以是部分结果：出错时已读到的字段仍然保留。
type FormatExtractor interface {
	Extract(r io.Reader) (models.Metadata, error)
}

// Registry 按媒体大类分派到具体的提取器。
type Registry struct {
	byKind map[models.Kind]FormatExtractor
}

// NewRegistry 返回注册了图片（EXIF）与视频提取器的默认注册表。
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[models.Kind]FormatExtractor)}
	r.Register(models.KindImage, ExifExtractor{})
	r.Register(models.KindVideo, VideoExtractor{})
	return r
}

// EnableExiftool 让图片与视频提取器在拿不到拍摄时间时调用外部 exiftool。
func (r *Registry) EnableExiftool(path string) {
	for _, kind := range []models.Kind{models.KindImage, models.KindVideo} {
		if e, ok := r.byKind[kind]; ok {
			r.byKind[kind] = ExiftoolExtractor{Primary: e, Path: path}
		}
	}
}

// Register 为 kind 注册（或替换）提取器。
func (r *Registry) Register(kind models.Kind, e FormatExtractor) {
	r.byKind[kind] = e
}

// Extract 提取元数据。Format 总是被设置为 f；没有对应提取器的类型只返回格式。
// 失败时返回的错误包装 ErrExtractionFailed，同时返回部分元数据。
func (r *Registry) Extract(rd io.Reader, f models.Format) (models.Metadata, error) {
	e, ok := r.byKind[f.Kind]
	if !ok {
		return models.Metadata{Format: f}, nil
	}
	meta, err := e.Extract(rd)
	meta.Format = f
	if err != nil {
		if errors.Is(err, ErrExtractionFailed) {
			return meta, err
		}
		return meta, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return meta, nil
}
