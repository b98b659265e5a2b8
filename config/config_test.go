package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("加载默认配置失败：%v", err)
	}
	if cfg.Database.Driver != "file" || cfg.Validator.Mode != "quick" {
		t.Fatalf("默认值不符：%+v", cfg)
	}
	if cfg.Normalizer.Template != DefaultTemplate || !cfg.Normalizer.PruneEmptyDirs {
		t.Fatalf("规整默认值不符：%+v", cfg.Normalizer)
	}
	if !cfg.Scanner.MediaOnly || cfg.Scanner.MtimeFallback || cfg.Scanner.UseExiftool || cfg.Scanner.ExiftoolPath != "exiftool" {
		t.Fatalf("扫描默认值不符：%+v", cfg.Scanner)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "database:\n  driver: sqlite\n  uri: /tmp/catalog.db\nvalidator:\n  mode: full\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIACAT_LOGGER_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("加载配置失败：%v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Validator.Mode != "full" {
		t.Fatalf("配置文件未生效：%+v", cfg)
	}
	if cfg.Logger.Level != "debug" {
		t.Fatalf("环境变量未生效：%s", cfg.Logger.Level)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"未知驱动", func(c *Config) { c.Database.Driver = "redis" }},
		{"未知校验模式", func(c *Config) { c.Validator.Mode = "deep" }},
		{"快照路径为空", func(c *Config) { c.Catalog.SnapshotPath = "" }},
		{"缺少 URI", func(c *Config) { c.Database.Driver = "mongo" }},
	}
	for _, tc := range cases {
		cfg, err := Load(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s：应返回错误", tc.name)
		}
	}
}
