// Package search 在目录上按结构化条件筛选记录。
//
// Query 的所有字段是与（AND）关系；零值字段不参与筛选，因此空 Query 匹配全部记录。
// 记录缺少某个字段时，针对该字段的条件一律不匹配。
package search

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
)

// BoundingBox 是经纬度矩形（含边界）。MinLon > MaxLon 表示跨越 180 度经线。
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains 判断 l 是否落在矩形内。
func (b BoundingBox) Contains(l models.Location) bool {
	if l.Latitude < b.MinLat || l.Latitude > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return l.Longitude >= b.MinLon && l.Longitude <= b.MaxLon
	}
	return l.Longitude >= b.MinLon || l.Longitude <= b.MaxLon
}

type Query struct {
	// 精确匹配
	Kind   models.Kind
	Codec  string
	Device string
	// PerceptualHash 查找感知哈希相同（视觉上相同）的图片。
	PerceptualHash string
	// Label 要求记录带有该标签。
	Label string

	// 范围（含边界），nil 表示不限
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ISOMin      *int
	ISOMax      *int
	Box         *BoundingBox

	// 子串匹配，不区分大小写
	PathContains   string
	DeviceContains string
}

// Empty 报告 q 是否没有任何条件。
func (q Query) Empty() bool {
	return q == Query{}
}

// Match 判断记录是否满足全部条件。
func (q Query) Match(r models.MediaRecord) bool {
	if q.Kind != "" && r.Format.Kind != q.Kind {
		return false
	}
	if q.Codec != "" && !strings.EqualFold(r.Format.Codec, q.Codec) {
		return false
	}
	if q.Device != "" && r.Device != q.Device {
		return false
	}
	if q.PerceptualHash != "" && r.PerceptualHash != q.PerceptualHash {
		return false
	}
	if q.Label != "" && !r.HasLabel(q.Label) {
		return false
	}

	if q.CreatedFrom != nil || q.CreatedTo != nil {
		if r.Created == nil {
			return false
		}
		if q.CreatedFrom != nil && r.Created.Before(*q.CreatedFrom) {
			return false
		}
		if q.CreatedTo != nil && r.Created.After(*q.CreatedTo) {
			return false
		}
	}
	if q.ISOMin != nil || q.ISOMax != nil {
		if r.ISO == nil {
			return false
		}
		if q.ISOMin != nil && *r.ISO < *q.ISOMin {
			return false
		}
		if q.ISOMax != nil && *r.ISO > *q.ISOMax {
			return false
		}
	}
	if q.Box != nil && (r.Location == nil || !q.Box.Contains(*r.Location)) {
		return false
	}

	if q.PathContains != "" && !containsFold(r.Filepath, q.PathContains) {
		return false
	}
	if q.DeviceContains != "" && (r.Device == "" || !containsFold(r.Device, q.DeviceContains)) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// SortKey 指定结果的排序字段。空值表示不排序。
type SortKey string

const (
	SortNone    SortKey = ""
	SortCreated SortKey = "created"
	SortISO     SortKey = "iso"
	SortPath    SortKey = "path"
	SortDevice  SortKey = "device"
	SortFormat  SortKey = "format"
	SortHash    SortKey = "hash"
)

// ParseSortKey 校验排序字段名。
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortNone, SortCreated, SortISO, SortPath, SortDevice, SortFormat, SortHash:
		return k, nil
	}
	return SortNone, fmt.Errorf("未知的排序字段: %q", s)
}

// Search 返回满足 q 的记录序列。
// 不排序时结果在遍历中逐条筛选；指定 key 时按该字段升序，缺失值排在最后，相同值按 hash 排序。
// 序列基于调用时的目录快照，遍历期间的目录修改不影响结果。
func Search(cat *catalog.Catalog, q Query, key SortKey) iter.Seq[models.MediaRecord] {
	all := cat.All()
	if key == SortNone || key == SortHash {
		// 目录快照本身就按 hash 排序
		return func(yield func(models.MediaRecord) bool) {
			for r := range all {
				if q.Match(r) && !yield(r) {
					return
				}
			}
		}
	}
	return func(yield func(models.MediaRecord) bool) {
		var matched []models.MediaRecord
		for r := range all {
			if q.Match(r) {
				matched = append(matched, r)
			}
		}
		slices.SortStableFunc(matched, func(a, b models.MediaRecord) int {
			if c := compareBy(key, a, b); c != 0 {
				return c
			}
			return strings.Compare(a.Hash, b.Hash)
		})
		for _, r := range matched {
			if !yield(r) {
				return
			}
		}
	}
}

// compareBy 比较两条记录的 key 字段；缺失值大于任何已知值。
func compareBy(key SortKey, a, b models.MediaRecord) int {
	switch key {
	case SortCreated:
		return compareOptional(a.Created, b.Created, func(x, y *time.Time) int { return x.Compare(*y) })
	case SortISO:
		return compareOptional(a.ISO, b.ISO, func(x, y *int) int { return cmp.Compare(*x, *y) })
	case SortPath:
		return strings.Compare(a.Filepath, b.Filepath)
	case SortDevice:
		switch {
		case a.Device == b.Device:
			return 0
		case a.Device == "":
			return 1
		case b.Device == "":
			return -1
		}
		return strings.Compare(a.Device, b.Device)
	case SortFormat:
		return strings.Compare(a.Format.String(), b.Format.String())
	}
	return 0
}

func compareOptional[T any](a, b *T, compare func(x, y *T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return compare(a, b)
}
