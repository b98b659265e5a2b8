package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type CatalogConfig struct {
	// SnapshotPath 是目录快照文件（database.driver=file 时也是主存储）。
	SnapshotPath string `mapstructure:"snapshotPath"`
	// LibraryRoots 是受管理的媒体库根目录，校验器在这些目录下查找孤儿文件。
	LibraryRoots []string `mapstructure:"libraryRoots"`
	BackupPath   string   `mapstructure:"backupPath"`
}

type ScannerConfig struct {
	WorkerCount    int      `mapstructure:"workerCount"`
	SkipHidden     bool     `mapstructure:"skipHidden"`
	MediaOnly      bool     `mapstructure:"mediaOnly"`
	PerceptualHash bool     `mapstructure:"perceptualHash"`
	MtimeFallback  bool     `mapstructure:"mtimeFallback"`
	ExcludeDirs    []string `mapstructure:"excludeDirs"`
	// UseExiftool 在内置提取器拿不到拍摄时间时调用外部 exiftool。
	UseExiftool  bool   `mapstructure:"useExiftool"`
	ExiftoolPath string `mapstructure:"exiftoolPath"`
}

type NormalizerConfig struct {
	Root           string `mapstructure:"root"`
	Template       string `mapstructure:"template"`
	PruneEmptyDirs bool   `mapstructure:"pruneEmptyDirs"`
}

type ValidatorConfig struct {
	Mode        string `mapstructure:"mode"`
	WorkerCount int    `mapstructure:"workerCount"`
}

type Config struct {
	Catalog CatalogConfig `mapstructure:"catalog"`

	Database struct {
		Driver string `mapstructure:"driver"`
		URI    string `mapstructure:"uri"`
		Name   string `mapstructure:"name"`
	} `mapstructure:"database"`

	Logger struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"logger"`

	Metrics struct {
		TextfilePath string `mapstructure:"textfilePath"`
	} `mapstructure:"metrics"`

	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Validator  ValidatorConfig  `mapstructure:"validator"`
}

var C *Config

const envPrefix = "MEDIACAT"

// DefaultTemplate 按 年/月 归档，文件名由拍摄日期和纳秒时间戳组成。
const DefaultTemplate = "{year}/{month}/{year}{month}{day}_{timestamp_ns}.{ext}"

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.snapshotPath", "catalog.snapshot")
	v.SetDefault("catalog.libraryRoots", []string{})
	v.SetDefault("catalog.backupPath", "backup")

	v.SetDefault("database.driver", "file")
	v.SetDefault("database.uri", "")
	v.SetDefault("database.name", "media_catalog")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.path", "logs")

	v.SetDefault("scanner.workerCount", 0)
	v.SetDefault("scanner.skipHidden", true)
	v.SetDefault("scanner.mediaOnly", true)
	v.SetDefault("scanner.perceptualHash", false)
	v.SetDefault("scanner.mtimeFallback", false)
	v.SetDefault("scanner.excludeDirs", []string{})
	v.SetDefault("scanner.useExiftool", false)
	v.SetDefault("scanner.exiftoolPath", "exiftool")

	v.SetDefault("metrics.textfilePath", "")

	v.SetDefault("normalizer.root", "")
	v.SetDefault("normalizer.template", DefaultTemplate)
	v.SetDefault("normalizer.pruneEmptyDirs", true)

	v.SetDefault("validator.mode", "quick")
	v.SetDefault("validator.workerCount", 0)
}

// Load 从 path 目录读取 config.yaml；找不到配置文件时使用默认值。
// 环境变量（MEDIACAT_ 前缀，点号换成下划线）优先于文件。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig 读取配置并写入包级变量 C。
func LoadConfig(path string) (err error) {
	cfg, err := Load(path)
	if err != nil {
		return
	}
	C = cfg
	return
}

// Validate 检查取值是否在允许范围内。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "file", "sqlite", "mongo":
	default:
		return errors.New("database.driver 只能是 file、sqlite 或 mongo: " + c.Database.Driver)
	}
	switch c.Validator.Mode {
	case "quick", "full":
	default:
		return errors.New("validator.mode 只能是 quick 或 full: " + c.Validator.Mode)
	}
	if c.Catalog.SnapshotPath == "" {
		return errors.New("catalog.snapshotPath 不能为空")
	}
	if c.Database.Driver != "file" && c.Database.URI == "" {
		return errors.New("database.uri 不能为空 (driver=" + c.Database.Driver + ")")
	}
	return nil
}
