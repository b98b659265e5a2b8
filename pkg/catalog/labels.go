package catalog

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLabelLength 是标签的最大字符数。
const MaxLabelLength = 128

// LabelCount 是一个标签及带有它的记录数。
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// NormalizeLabel 去掉首尾空白并校验标签。标签会被用作导出目录名，所以不能含有路径分隔符。
func NormalizeLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	switch {
	case label == "", label == ".", label == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	case utf8.RuneCountInString(label) > MaxLabelLength:
		return "", fmt.Errorf("%w: 超过 %d 个字符", ErrInvalidLabel, MaxLabelLength)
	case strings.ContainsAny(label, `/\`):
		return "", fmt.Errorf("%w: 不能包含路径分隔符: %q", ErrInvalidLabel, label)
	case strings.IndexFunc(label, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: 不能包含控制字符: %q", ErrInvalidLabel, label)
	}
	return label, nil
}

// AddLabel 给记录添加标签。标签已存在时返回 false。
func (c *Catalog) AddLabel(hash, label string) (bool, error) {
	label, err := NormalizeLabel(label)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byHash[hash]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	i, found := slices.BinarySearch(rec.Labels, label)
	if found {
		return false, nil
	}
	// 快照缓存可能与旧记录共用底层数组，必须复制后再修改
	rec.Labels = slices.Insert(slices.Clone(rec.Labels), i, label)
	c.byHash[hash] = rec
	c.sorted = nil
	return true, nil
}

// RemoveLabel 删除记录上的标签。记录没有该标签时返回 false。
func (c *Catalog) RemoveLabel(hash, label string) (bool, error) {
	label = strings.TrimSpace(label)
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byHash[hash]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	i, found := slices.BinarySearch(rec.Labels, label)
	if !found {
		return false, nil
	}
	rec.Labels = slices.Delete(slices.Clone(rec.Labels), i, i+1)
	if len(rec.Labels) == 0 {
		rec.Labels = nil
	}
	c.byHash[hash] = rec
	c.sorted = nil
	return true, nil
}

// Labels 返回记录的标签（已排序）。
func (c *Catalog) Labels(hash string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	return slices.Clone(rec.Labels), nil
}

// AllLabels 返回目录中出现过的全部标签及其记录数，按标签排序。
func (c *Catalog) AllLabels() []LabelCount {
	counts := make(map[string]int)
	for _, rec := range c.snapshot() {
		for _, l := range rec.Labels {
			counts[l]++
		}
	}
	out := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		out = append(out, LabelCount{Label: l, Count: n})
	}
	slices.SortFunc(out, func(a, b LabelCount) int { return strings.Compare(a.Label, b.Label) })
	return out
}
