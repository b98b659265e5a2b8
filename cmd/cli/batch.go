package main

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/internal/task"
	"Media_Catalog/pkg/scanner"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// maxDiagnosticRows 限制表格输出的诊断条数，完整列表用 --json 查看。
const maxDiagnosticRows = 20

// runBatch 在任务管理器中执行一个批处理并等待其结束。
// 命令的 ctx 被取消（Ctrl-C）时任务在当前文件完成后停止。
func runBatch(cmd *cobra.Command, kind string, fn task.Func) (*models.BatchReport, error) {
	m := task.NewManager(slog.Default())
	id, err := m.Start(cmd.Context(), kind, fn)
	if err != nil {
		return nil, err
	}
	t, err := m.Wait(id)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusFailed {
		return t.Report, fmt.Errorf("%s 失败: %s", kind, t.Error)
	}
	return t.Report, nil
}

func printReport(cmd *cobra.Command, c *commandContext, report *models.BatchReport) error {
	if c.jsonOutput() {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
		return report.Err()
	}

	s := report.Summary
	counters := []struct {
		name  string
		value int
	}{
		{"imported", s.Imported},
		{"skipped_duplicate", s.SkippedDuplicate},
		{"already_indexed", s.AlreadyIndexed},
		{"moved", s.Moved},
		{"unchanged", s.Unchanged},
		{"skipped", s.Skipped},
		{"collisions", s.Collisions},
		{"unsupported", s.Unsupported},
		{"extraction_failures", s.Extraction},
		{"failed", s.Failed},
	}
	rows := make([][]string, 0, len(counters))
	for _, ct := range counters {
		if ct.value == 0 {
			continue
		}
		rows = append(rows, []string{ct.name, strconv.Itoa(ct.value)})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s) 用时 %s\n", report.Operation, report.RunID,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"计数", "值"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	printDiagnostics(cmd, report.Diagnostics)
	if report.Cancelled {
		fmt.Fprintln(out, "操作已取消，已完成的修改已保存。")
	}
	return report.Err()
}

func printDiagnostics(cmd *cobra.Command, diags []models.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	rows := make([][]string, 0, min(len(diags), maxDiagnosticRows))
	for _, d := range diags[:min(len(diags), maxDiagnosticRows)] {
		rows = append(rows, []string{d.Code, d.Path, d.Message})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable([]string{"代码", "路径", "信息"}, rows, nil))
	if len(diags) > maxDiagnosticRows {
		fmt.Fprintf(out, "另有 %d 条诊断未显示，使用 --json 查看完整报告。\n", len(diags)-maxDiagnosticRows)
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <源目录> <媒体库目录>",
		Short: "把源目录中的新内容复制到媒体库并登记",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, true, func(o *scanner.Orchestrator) error {
				report, err := runBatch(cmd, models.OpCopyDirectory, func(c context.Context) (*models.BatchReport, error) {
					return o.CopyFromDirectory(c, args[0], args[1])
				})
				if err != nil {
					return err
				}
				return printReport(cmd, ctx, report)
			})
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <目录>",
		Short: "原地登记目录中的文件，不复制",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, true, func(o *scanner.Orchestrator) error {
				report, err := runBatch(cmd, models.OpAddDirectory, func(c context.Context) (*models.BatchReport, error) {
					return o.AddDirectory(c, args[0])
				})
				if err != nil {
					return err
				}
				return printReport(cmd, ctx, report)
			})
		},
	}
}

func newNormalizeCommand(ctx *commandContext) *cobra.Command {
	var root, template string
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "按命名模板重排媒体库的目录结构",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, true, func(o *scanner.Orchestrator) error {
				report, err := runBatch(cmd, models.OpNormalize, func(c context.Context) (*models.BatchReport, error) {
					return o.Normalize(c, root, template)
				})
				if err != nil {
					return err
				}
				return printReport(cmd, ctx, report)
			})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "规整根目录（默认 normalizer.root）")
	cmd.Flags().StringVar(&template, "template", "", "命名模板（默认 normalizer.template）")
	return cmd
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "删除文件已丢失的记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, true, func(o *scanner.Orchestrator) error {
				n, err := o.PruneMissing(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"removed": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条记录。\n", n)
				return nil
			})
		},
	}
}
