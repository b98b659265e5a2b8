package normalizer

import (
	"Media_Catalog/internal/models"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidTemplate 表示模板为空、是绝对路径、含有 ".." 或括号不成对。
	ErrInvalidTemplate = errors.New("invalid path template")
	// ErrUnknownPlaceholder 表示模板中出现了不认识的占位符。
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	// ErrMissingCreated 表示模板需要日期，但记录没有拍摄时间。
	ErrMissingCreated = errors.New("record has no created time")
)

// UnknownDevice 是没有设备信息时 {device} 的取值。
const UnknownDevice = "unknown"

type placeholder func(r models.MediaRecord) string

var placeholders = map[string]placeholder{
	"year":         func(r models.MediaRecord) string { return fmt.Sprintf("%04d", r.Created.Year()) },
	"month":        func(r models.MediaRecord) string { return fmt.Sprintf("%02d", int(r.Created.Month())) },
	"day":          func(r models.MediaRecord) string { return fmt.Sprintf("%02d", r.Created.Day()) },
	"timestamp_ns": func(r models.MediaRecord) string { return strconv.FormatInt(r.Created.UnixNano(), 10) },
	"hash":         func(r models.MediaRecord) string { return r.Hash },
	"ext":          extension,
	"device":       func(r models.MediaRecord) string { return sanitizeName(r.Device, UnknownDevice) },
}

var datePlaceholders = map[string]bool{"year": true, "month": true, "day": true, "timestamp_ns": true}

type segment struct {
	literal string
	name    string // 非空时为占位符
}

// Template 是解析后的路径模板，渲染结果相对于规整的根目录。
type Template struct {
	raw      string
	segments []segment
	usesDate bool
}

// ParseTemplate 解析模板。未知占位符在这里就被拒绝，不会等到渲染时才发现。
func ParseTemplate(s string) (*Template, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: 模板为空", ErrInvalidTemplate)
	}
	slashed := filepath.ToSlash(s)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(s) {
		return nil, fmt.Errorf("%w: 模板必须是相对路径: %s", ErrInvalidTemplate, s)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return nil, fmt.Errorf("%w: 模板不能包含 '..': %s", ErrInvalidTemplate, s)
		}
	}

	t := &Template{raw: s}
	rest := s
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("%w: 多余的 '}': %s", ErrInvalidTemplate, s)
			}
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, fmt.Errorf("%w: 多余的 '}': %s", ErrInvalidTemplate, s)
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: 缺少 '}': %s", ErrInvalidTemplate, s)
		}
		name := rest[open+1 : open+end]
		if _, ok := placeholders[name]; !ok {
			return nil, fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, name)
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		t.segments = append(t.segments, segment{name: name})
		t.usesDate = t.usesDate || datePlaceholders[name]
		rest = rest[open+end+1:]
	}
	return t, nil
}

func (t *Template) String() string { return t.raw }

// UsesDate 报告模板是否引用了拍摄时间。
func (t *Template) UsesDate() bool { return t.usesDate }

// Render 返回记录在模板下的相对路径（NFC 规范化）。
func (t *Template) Render(r models.MediaRecord) (string, error) {
	if t.usesDate && r.Created == nil {
		return "", ErrMissingCreated
	}
	if r.Created != nil {
		utc := r.Created.UTC()
		r.Created = &utc
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.name == "" {
			b.WriteString(seg.literal)
			continue
		}
		b.WriteString(placeholders[seg.name](r))
	}
	rel := filepath.Clean(filepath.FromSlash(norm.NFC.String(b.String())))
	if rel == "." || strings.HasSuffix(b.String(), "/") {
		return "", fmt.Errorf("%w: 渲染结果不是文件路径: %q", ErrInvalidTemplate, b.String())
	}
	return rel, nil
}

// extension 取文件名的扩展名；临时挪开的文件按挪开前的文件名计算。
func extension(r models.MediaRecord) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(originalName(r.Filepath))), "."); ext != "" {
		return sanitizeName(ext, "")
	}
	return sanitizeName(r.Format.Codec, "bin")
}

// sanitizeName 把任意文本转成可用作单个路径片段的 ASCII 名称。
func sanitizeName(name, fallback string) string {
	ascii := unidecode.Unidecode(name)
	var b strings.Builder
	lastUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_. ")
	if out == "" {
		return fallback
	}
	return out
}
