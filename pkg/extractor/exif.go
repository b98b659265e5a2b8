package extractor

import (
	"Media_Catalog/internal/models"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifTimeLayout 是 EXIF 日期字段的格式。EXIF 不带时区，按 UTC 解释。
const exifTimeLayout = "2006:01:02 15:04:05"

// ExifExtractor 通过 goexif 读取图片的 EXIF。
type ExifExtractor struct{}

// Extract 读取拍摄时间（DateTimeOriginal，退回 DateTime）、GPS、相机型号与 ISO。
// 单个字段缺失不算失败；只有整个 EXIF 块无法解析时返回 ErrExtractionFailed。
func (ExifExtractor) Extract(r io.Reader) (models.Metadata, error) {
	var meta models.Metadata

	x, err := exif.Decode(r)
	if err != nil {
		return meta, fmt.Errorf("%w: 读取 EXIF 失败: %v", ErrExtractionFailed, err)
	}

	if t, ok := exifTime(x); ok {
		meta.Created = &t
	}

	if lat, long, err := x.LatLong(); err == nil {
		loc := models.Location{Latitude: lat, Longitude: long}
		if loc.Valid() {
			meta.Location = &loc
		}
	}

	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			meta.Device = cleanExifString(s)
		}
	}

	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil && iso > 0 {
			meta.ISO = &iso
		}
	}

	return meta, nil
}

func exifTime(x *exif.Exif) (time.Time, bool) {
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		t, err := parseExifTime(s)
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func parseExifTime(s string) (time.Time, error) {
	s = cleanExifString(s)
	if s == "" || strings.HasPrefix(s, "0000") {
		return time.Time{}, errors.New("空的 EXIF 时间")
	}
	return time.ParseInLocation(exifTimeLayout, s, time.UTC)
}

// cleanExifString 去掉 ASCII 字段里常见的 NUL 填充和首尾空白。
func cleanExifString(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}
