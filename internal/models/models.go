package models

import (
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Kind 是媒体的大类。
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

// Format 是媒体格式标签：大类 + 具体编码（例如 image/jpeg）。
// 入库时确定，之后不可变。
type Format struct {
	Kind  Kind
	Codec string
}

// String 返回 "kind/codec" 形式，codec 为空时只返回 kind。
func (f Format) String() string {
	if f.Codec == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + "/" + f.Codec
}

// ParseFormat 是 String 的逆操作。
func ParseFormat(s string) (Format, error) {
	kind, codec, _ := strings.Cut(strings.TrimSpace(strings.ToLower(s)), "/")
	switch Kind(kind) {
	case KindImage, KindVideo, KindOther:
		return Format{Kind: Kind(kind), Codec: codec}, nil
	default:
		return Format{}, fmt.Errorf("未知的媒体类型 %q", s)
	}
}

// Location 是拍摄地点的经纬度（十进制度）。
type Location struct {
	Latitude  float64
	Longitude float64
}

// Valid 检查经纬度是否落在合法范围内。
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// MediaRecord 代表目录中的一个媒体文件，每个内容哈希只有一条记录。
type MediaRecord struct {
	// Hash 是文件内容的 SHA-256（小写十六进制），是记录的主键，永不改变。
	Hash string

	// Filepath 是文件当前在磁盘上的绝对路径，由导入器与规整器更新。
	Filepath string

	Format Format

	// 以下字段均为可选：元数据提取失败时保持为空。
	Created  *time.Time
	Location *Location
	Device   string
	ISO      *int

	// PerceptualHash 是图片的感知哈希，只有开启后才会计算。
	PerceptualHash string

	Size int64

	// Labels 是用户添加的标签，按字典序排列且不重复。
	Labels []string
}

// Ext 返回文件扩展名（小写，不含点）。
func (r MediaRecord) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(r.Filepath)), ".")
}

// Clone 深拷贝可选字段，避免调用方修改目录内部保存的记录。
func (r MediaRecord) Clone() MediaRecord {
	if r.Created != nil {
		t := *r.Created
		r.Created = &t
	}
	if r.Location != nil {
		l := *r.Location
		r.Location = &l
	}
	if r.ISO != nil {
		iso := *r.ISO
		r.ISO = &iso
	}
	r.Labels = slices.Clone(r.Labels)
	return r
}

// HasLabel 报告记录是否带有 label。
func (r MediaRecord) HasLabel(label string) bool {
	_, ok := slices.BinarySearch(r.Labels, label)
	return ok
}

// Equal 比较两条记录的全部字段（可选字段按值比较）。
func (r MediaRecord) Equal(o MediaRecord) bool {
	if r.Hash != o.Hash || r.Filepath != o.Filepath || r.Format != o.Format ||
		r.Device != o.Device || r.PerceptualHash != o.PerceptualHash || r.Size != o.Size ||
		!slices.Equal(r.Labels, o.Labels) {
		return false
	}
	switch {
	case (r.Created == nil) != (o.Created == nil):
		return false
	case r.Created != nil && !r.Created.Equal(*o.Created):
		return false
	}
	switch {
	case (r.Location == nil) != (o.Location == nil):
		return false
	case r.Location != nil && *r.Location != *o.Location:
		return false
	}
	switch {
	case (r.ISO == nil) != (o.ISO == nil):
		return false
	case r.ISO != nil && *r.ISO != *o.ISO:
		return false
	}
	return true
}

// Metadata 是元数据提取器的输出。除 Format 外都是尽力而为。
type Metadata struct {
	Format   Format
	Created  *time.Time
	Location *Location
	Device   string
	ISO      *int
}

// Apply 把提取到的元数据写入记录。
func (m Metadata) Apply(r *MediaRecord) {
	r.Format = m.Format
	r.Created = m.Created
	r.Location = m.Location
	r.Device = m.Device
	r.ISO = m.ISO
}
