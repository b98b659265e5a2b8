package main

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/scanner"
	"Media_Catalog/pkg/search"
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// searchFlags 是 search 子命令的原始参数，由 buildQuery 解析成查询。
type searchFlags struct {
	kind, codec, device, phash string
	from, to                   string
	isoMin, isoMax             int
	bbox                       string
	pathContains               string
	deviceContains             string
	label                      string
	sort                       string
	limit                      int
}

// buildQuery 把命令行参数转成查询。iso 为 0 表示不限。
func buildQuery(f searchFlags) (search.Query, search.SortKey, error) {
	q := search.Query{
		Codec:          strings.ToLower(strings.TrimSpace(f.codec)),
		Device:         f.device,
		PerceptualHash: strings.ToLower(strings.TrimSpace(f.phash)),
		PathContains:   f.pathContains,
		DeviceContains: f.deviceContains,
		Label:          strings.TrimSpace(f.label),
	}
	if f.kind != "" {
		format, err := models.ParseFormat(f.kind)
		if err != nil {
			return q, "", err
		}
		q.Kind = format.Kind
		if format.Codec != "" {
			q.Codec = format.Codec
		}
	}

	var err error
	if q.CreatedFrom, err = parseDate(f.from, false); err != nil {
		return q, "", fmt.Errorf("--from: %w", err)
	}
	if q.CreatedTo, err = parseDate(f.to, true); err != nil {
		return q, "", fmt.Errorf("--to: %w", err)
	}
	if f.isoMin > 0 {
		q.ISOMin = &f.isoMin
	}
	if f.isoMax > 0 {
		q.ISOMax = &f.isoMax
	}
	if f.bbox != "" {
		box, err := parseBBox(f.bbox)
		if err != nil {
			return q, "", fmt.Errorf("--bbox: %w", err)
		}
		q.Box = &box
	}

	key, err := search.ParseSortKey(f.sort)
	if err != nil {
		return q, "", err
	}
	return q, key, nil
}

// parseDate 接受 RFC 3339 或 2006-01-02（UTC）。endOfDay 为 true 时日期取当天最后一刻。
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("无法解析日期 %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// parseBBox 解析 "minLat,minLon,maxLat,maxLon"。minLon 大于 maxLon 表示跨越 180 度经线。
func parseBBox(s string) (search.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return search.BoundingBox{}, fmt.Errorf("需要 4 个逗号分隔的数值，实际 %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return search.BoundingBox{}, fmt.Errorf("无效的数值 %q", p)
		}
		v[i] = f
	}
	box := search.BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if box.MinLat > box.MaxLat || box.MinLat < -90 || box.MaxLat > 90 ||
		math.Abs(box.MinLon) > 180 || math.Abs(box.MaxLon) > 180 {
		return search.BoundingBox{}, fmt.Errorf("经纬度超出范围 %q", s)
	}
	return box, nil
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "按条件查询目录（所有条件同时满足）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, key, err := buildQuery(f)
			if err != nil {
				return err
			}
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				var results []models.MediaRecord
				for rec := range o.Search(q, key) {
					results = append(results, rec)
					if f.limit > 0 && len(results) >= f.limit {
						break
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, results)
				}
				printRecords(cmd, results)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", "", "媒体类型，例如 image 或 image/jpeg")
	fl.StringVar(&f.codec, "codec", "", "编码，例如 jpeg、mp4")
	fl.StringVar(&f.device, "device", "", "设备名（精确匹配）")
	fl.StringVar(&f.deviceContains, "device-contains", "", "设备名包含（不区分大小写）")
	fl.StringVar(&f.pathContains, "path", "", "路径包含（不区分大小写）")
	fl.StringVar(&f.phash, "phash", "", "感知哈希（查找视觉相同的图片）")
	fl.StringVar(&f.label, "label", "", "带有该标签的记录")
	fl.StringVar(&f.from, "from", "", "拍摄时间下限（2006-01-02 或 RFC 3339）")
	fl.StringVar(&f.to, "to", "", "拍摄时间上限（含）")
	fl.IntVar(&f.isoMin, "iso-min", 0, "ISO 下限")
	fl.IntVar(&f.isoMax, "iso-max", 0, "ISO 上限")
	fl.StringVar(&f.bbox, "bbox", "", "地理范围 minLat,minLon,maxLat,maxLon")
	fl.StringVar(&f.sort, "sort", "", "排序字段: created, iso, path, device, format, hash")
	fl.IntVar(&f.limit, "limit", 0, "最多输出条数（0 表示不限）")
	return cmd
}

func printRecords(cmd *cobra.Command, records []models.MediaRecord) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "没有匹配的记录。")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		created, iso := "-", "-"
		if r.Created != nil {
			created = r.Created.UTC().Format(time.DateTime)
		}
		if r.ISO != nil {
			iso = strconv.Itoa(*r.ISO)
		}
		device := cmp.Or(r.Device, "-")
		rows = append(rows, []string{r.Hash[:min(len(r.Hash), 12)], r.Format.String(), created, device, iso, r.Filepath})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"哈希", "格式", "拍摄时间", "设备", "ISO", "路径"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "共 %d 条。\n", len(records))
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "按格式、设备、年份统计目录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				s := o.Stats()
				if ctx.jsonOutput() {
					return writeJSON(cmd, s)
				}
				printStats(cmd, s)
				return nil
			})
		},
	}
}

func printStats(cmd *cobra.Command, s catalog.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "记录 %d 条，共 %d 字节，缺少拍摄时间 %d 条。\n", s.Total, s.TotalSize, s.MissingCreated)
	groups := []struct {
		title  string
		counts map[string]int
	}{
		{"格式", s.ByFormat},
		{"设备", s.ByDevice},
		{"年份", s.ByYear},
	}
	for _, g := range groups {
		if len(g.counts) == 0 {
			continue
		}
		rows := make([][]string, 0, len(g.counts))
		for _, k := range slices.Sorted(maps.Keys(g.counts)) {
			rows = append(rows, []string{k, strconv.Itoa(g.counts[k])})
		}
		fmt.Fprintln(out, renderTable([]string{g.title, "数量"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}
