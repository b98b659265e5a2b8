package extractor

import (
	"Media_Catalog/internal/models"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLen 是内容识别需要读取的文件头长度。
const SniffLen = 3072

// 内容识别失败时按扩展名判断。codec 与 mimetype 子类型（去掉 x- 前缀）保持一致。
var extFormats = map[string]models.Format{
	"jpg":  {Kind: models.KindImage, Codec: "jpeg"},
	"jpeg": {Kind: models.KindImage, Codec: "jpeg"},
	"png":  {Kind: models.KindImage, Codec: "png"},
	"gif":  {Kind: models.KindImage, Codec: "gif"},
	"bmp":  {Kind: models.KindImage, Codec: "bmp"},
	"tif":  {Kind: models.KindImage, Codec: "tiff"},
	"tiff": {Kind: models.KindImage, Codec: "tiff"},
	"webp": {Kind: models.KindImage, Codec: "webp"},
	"heic": {Kind: models.KindImage, Codec: "heic"},
	"heif": {Kind: models.KindImage, Codec: "heif"},
	"dng":  {Kind: models.KindImage, Codec: "dng"},
	"cr2":  {Kind: models.KindImage, Codec: "cr2"},
	"nef":  {Kind: models.KindImage, Codec: "nef"},
	"arw":  {Kind: models.KindImage, Codec: "arw"},
	"raf":  {Kind: models.KindImage, Codec: "raf"},
	"orf":  {Kind: models.KindImage, Codec: "orf"},
	"rw2":  {Kind: models.KindImage, Codec: "rw2"},

	"mp4":  {Kind: models.KindVideo, Codec: "mp4"},
	"m4v":  {Kind: models.KindVideo, Codec: "m4v"},
	"mov":  {Kind: models.KindVideo, Codec: "quicktime"},
	"avi":  {Kind: models.KindVideo, Codec: "msvideo"},
	"mkv":  {Kind: models.KindVideo, Codec: "matroska"},
	"webm": {Kind: models.KindVideo, Codec: "webm"},
	"3gp":  {Kind: models.KindVideo, Codec: "3gpp"},
	"mts":  {Kind: models.KindVideo, Codec: "mp2t"},
	"wmv":  {Kind: models.KindVideo, Codec: "ms-wmv"},
	"flv":  {Kind: models.KindVideo, Codec: "flv"},
	"mpg":  {Kind: models.KindVideo, Codec: "mpeg"},
	"mpeg": {Kind: models.KindVideo, Codec: "mpeg"},
}

// Classify 根据文件头（最多 SniffLen 字节）和文件名判断格式。
// 内容识别为 image/* 或 video/* 时直接采用；否则按扩展名；都不匹配时返回 other 且 ok=false。
func Classify(path string, head []byte) (models.Format, bool) {
	if f, ok := fromMIME(mimetype.Detect(head).String()); ok {
		return f, true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if f, ok := extFormats[ext]; ok {
		return f, true
	}
	return models.Format{Kind: models.KindOther, Codec: ext}, false
}

func fromMIME(m string) (models.Format, bool) {
	m, _, _ = strings.Cut(m, ";")
	top, sub, ok := strings.Cut(strings.TrimSpace(m), "/")
	if !ok {
		return models.Format{}, false
	}
	sub = strings.TrimPrefix(sub, "x-")
	switch top {
	case "image":
		return models.Format{Kind: models.KindImage, Codec: sub}, true
	case "video":
		return models.Format{Kind: models.KindVideo, Codec: sub}, true
	}
	return models.Format{}, false
}
