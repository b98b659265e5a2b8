package main

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/maintenance"
	"Media_Catalog/pkg/scanner"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errInconsistent 让 validate 在发现不一致时以非零状态退出。
var errInconsistent = errors.New("目录与文件系统不一致")

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "对照文件系统校验目录（只读）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				var vr *maintenance.ValidationReport
				_, err := runBatch(cmd, models.OpValidate, func(c context.Context) (*models.BatchReport, error) {
					r, err := o.Validate(c, mode)
					if err != nil {
						return nil, err
					}
					vr = r
					return &r.BatchReport, nil
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, vr); err != nil {
						return err
					}
				} else {
					printValidation(cmd, vr)
				}
				if err := vr.Err(); err != nil {
					return err
				}
				if !vr.Clean() {
					return errInconsistent
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "quick 只检查存在性，full 同时重新计算哈希（默认 validator.mode）")
	return cmd
}

func printValidation(cmd *cobra.Command, vr *maintenance.ValidationReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "校验模式 %s，检查 %d 条记录。\n", vr.Mode, vr.Checked)
	var rows [][]string
	for _, f := range vr.Missing {
		rows = append(rows, []string{"missing", f.Path, f.Hash})
	}
	for _, f := range vr.HashMismatch {
		rows = append(rows, []string{"hash_mismatch", f.Path, f.Actual})
	}
	for _, p := range vr.Orphan {
		rows = append(rows, []string{"orphan", p, ""})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"类型", "路径", "哈希"}, rows, nil))
	} else {
		fmt.Fprintln(out, "未发现不一致。")
	}
	printDiagnostics(cmd, vr.Diagnostics)
	if vr.Cancelled {
		fmt.Fprintln(out, "校验已取消，结果不完整。")
	}
}

func newManifestCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "生成 sha256sum 格式的文件清单",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				path, err := o.GenerateManifest(cmd.Context(), outDir)
				if err != nil {
					return err
				}
				return printPath(cmd, ctx, "manifest", path)
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "清单输出目录")
	return cmd
}

func newBackupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "把目录快照备份到 catalog.backupPath",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, false, func(o *scanner.Orchestrator) error {
				path, err := o.Backup(cmd.Context())
				if err != nil {
					return err
				}
				return printPath(cmd, ctx, "backup", path)
			})
		},
	}
}

func printPath(cmd *cobra.Command, ctx *commandContext, key, path string) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, map[string]string{key: path})
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
