package catalog

import "strconv"

// UnknownKey 是统计中缺失字段的分组名。
const UnknownKey = "unknown"

// Stats 是目录的汇总统计。
type Stats struct {
	Total     int            `json:"total"`
	TotalSize int64          `json:"total_size"`
	ByFormat  map[string]int `json:"by_format"`
	ByDevice  map[string]int `json:"by_device"`
	ByYear    map[string]int `json:"by_year"`
	// MissingCreated 是没有拍摄时间的记录数，这些记录无法按日期规整。
	MissingCreated int `json:"missing_created"`
}

// Stats 按格式、设备、年份统计当前记录。
func (c *Catalog) Stats() Stats {
	s := Stats{
		ByFormat: make(map[string]int),
		ByDevice: make(map[string]int),
		ByYear:   make(map[string]int),
	}
	for rec := range c.All() {
		s.Total++
		s.TotalSize += rec.Size
		s.ByFormat[rec.Format.String()]++

		device := rec.Device
		if device == "" {
			device = UnknownKey
		}
		s.ByDevice[device]++

		if rec.Created == nil {
			s.MissingCreated++
			s.ByYear[UnknownKey]++
			continue
		}
		s.ByYear[strconv.Itoa(rec.Created.Year())]++
	}
	return s
}
