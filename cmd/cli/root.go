package main

import (
	"Media_Catalog/config"
	"Media_Catalog/pkg/logger"
	"Media_Catalog/pkg/scanner"
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
}

// ensureConfig 读取配置目录下的 config.yaml 并初始化全局日志。
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := "."
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		if err := config.LoadConfig(path); err != nil {
			c.configErr = err
			return
		}
		if err := logger.InitLogger(config.C); err != nil {
			c.configErr = err
			return
		}
		c.config = config.C
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// withOrchestrator 打开目录执行 fn，结束后关闭。writable 为 true 时持有写锁。
func (c *commandContext) withOrchestrator(cmd *cobra.Command, writable bool, fn func(*scanner.Orchestrator) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	o, err := scanner.NewOrchestrator(cmd.Context(), cfg, writable)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := o.Close(context.Background()); err == nil {
			err = closeErr
		}
	}()
	return fn(o)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var jsonFlag bool

	ctx := newCommandContext(&configFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "mediacat",
		Short:         "照片与视频的内容寻址目录",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", ".", "config.yaml 所在目录")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "以 JSON 输出结果")

	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newNormalizeCommand(ctx))
	rootCmd.AddCommand(newPruneCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newManifestCommand(ctx))
	rootCmd.AddCommand(newBackupCommand(ctx))
	rootCmd.AddCommand(newLabelCommand(ctx))

	return rootCmd
}
