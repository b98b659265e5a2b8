package main

import (
	"Media_Catalog/pkg/catalog"
	"Media_Catalog/pkg/scanner"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newLabelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "管理记录的标签",
	}
	cmd.AddCommand(newLabelEditCommand(ctx, "add", "给记录添加标签", (*scanner.Orchestrator).AddLabels))
	cmd.AddCommand(newLabelEditCommand(ctx, "rm", "删除记录上的标签", (*scanner.Orchestrator).RemoveLabels))
	cmd.AddCommand(newLabelListCommand(ctx))
	cmd.AddCommand(newLabelExportCommand(ctx))
	return cmd
}

type labelEdit func(o *scanner.Orchestrator, ctx context.Context, ref string, labels ...string) (int, error)

func newLabelEditCommand(ctx *commandContext, use, short string, edit labelEdit) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hash|路径> <标签>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, true, func(o *scanner.Orchestrator) error {
				n, err := edit(o, cmd.Context(), args[0], args[1:]...)
				if err != nil {
					return err
				}
				rec, err := o.Resolve(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"hash": rec.Hash, "changed": n, "labels": rec.Labels})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: 修改 %d 个标签，当前标签 [%s]\n",
					rec.Hash[:min(len(rec.Hash), 12)], n, strings.Join(rec.Labels, ", "))
				return nil
			})
		},
	}
}

func newLabelListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [hash|路径]",
		Short: "列出全部标签，或某条记录的标签",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				if len(args) == 1 {
					rec, err := o.Resolve(args[0])
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, rec.Labels)
					}
					for _, l := range rec.Labels {
						fmt.Fprintln(cmd.OutOrStdout(), l)
					}
					return nil
				}
				return printLabels(cmd, ctx, o.AllLabels())
			})
		},
	}
}

func printLabels(cmd *cobra.Command, ctx *commandContext, labels []catalog.LabelCount) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, labels)
	}
	if len(labels) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "目录中没有标签。")
		return nil
	}
	rows := make([][]string, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, []string{l.Label, strconv.Itoa(l.Count)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"标签", "数量"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func newLabelExportCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <标签>",
		Short: "在 <out>/<标签> 下为带有该标签的文件创建符号链接",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				dir, n, err := o.ExportLabel(cmd.Context(), args[0], outDir)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"dir": dir, "links": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 个链接到 %s\n", n, dir)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "exports", "导出目录")
	return cmd
}
