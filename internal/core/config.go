package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/ShelfHarvest/internal/catalog"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// EnvPrefix 环境变量前缀,例如 SHELFHARVEST_AUTH_PASSWORD
const EnvPrefix = "SHELFHARVEST"

// Config 应用程序配置
type Config struct {
	Crawl    models.CrawlConfig    `mapstructure:"crawl"`
	Site     models.SiteProfile    `mapstructure:"site"`
	Auth     models.AuthConfig     `mapstructure:"auth"`
	Frontier models.FrontierConfig `mapstructure:"frontier"`
	Catalog  CatalogConfig         `mapstructure:"catalog"`
	Download models.DownloadConfig `mapstructure:"download"`
	Browser  BrowserConfig         `mapstructure:"browser"`
	Resource ResourceConfig        `mapstructure:"resource"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Output   OutputConfig          `mapstructure:"output"`
}

// CatalogConfig 目录存储配置
type CatalogConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | pgx
	DSN    string `mapstructure:"dsn"`    // 为空时使用 <output>/catalog.db
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	ControlURL    string        `mapstructure:"control_url"`    // 连接已有浏览器
	LaunchRetries int           `mapstructure:"launch_retries"` // 启动失败重试次数
	PageTimeout   time.Duration `mapstructure:"page_timeout"`   // 单次页面操作超时
}

// ResourceConfig 资源限制配置 (内存单位MB)
type ResourceConfig struct {
	SafetyReserveMB  int64 `mapstructure:"safety_reserve_mb"`
	SafetyThreshold  int64 `mapstructure:"safety_threshold_mb"`
	CPULoadThreshold int   `mapstructure:"cpu_load_threshold"`
	MaxSessions      int   `mapstructure:"max_sessions"`
	SessionMemoryMB  int64 `mapstructure:"session_memory_mb"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoadConfig 加载配置文件
// configPath为空时按 ./configs → . → ~/.shelfharvest 搜索config.yaml,找不到则使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".shelfharvest"))
		}
	}

	// 凭据等敏感项可通过环境变量提供
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 流水线
	v.SetDefault("crawl.threads", 2)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.retry_delay", 2*time.Second)
	v.SetDefault("crawl.force", false)
	v.SetDefault("crawl.staleness_days", 7)
	v.SetDefault("crawl.modes", []string{})
	v.SetDefault("crawl.headless", true)
	v.SetDefault("crawl.page_settle", 1500*time.Millisecond)
	v.SetDefault("crawl.max_pages", 5000)
	v.SetDefault("crawl.resume_pending", false)
	v.SetDefault("crawl.frontier_mode", string(models.FrontierRendered))
	v.SetDefault("crawl.user_data_dir", "")

	// 阅读器视口: 单栏
	v.SetDefault("site.viewport_width", 800)
	v.SetDefault("site.viewport_height", 1200)
	v.SetDefault("site.content_id_attr", "id")

	// 凭据
	v.SetDefault("auth.email", "")
	v.SetDefault("auth.password", "")

	// 索引探索
	v.SetDefault("frontier.base_page", 1)
	v.SetDefault("frontier.page_retries", 3)
	v.SetDefault("frontier.cooldown", 10*time.Second)
	v.SetDefault("frontier.max_failed_pages", 5)
	v.SetDefault("frontier.max_duration", 6*time.Hour)
	v.SetDefault("frontier.log_file", "")

	// 目录
	v.SetDefault("catalog.driver", catalog.DriverSQLite)
	v.SetDefault("catalog.dsn", "")

	// 资源下载
	v.SetDefault("download.connect_timeout", 10*time.Second)
	v.SetDefault("download.read_timeout", 30*time.Second)
	v.SetDefault("download.write_timeout", 10*time.Second)
	v.SetDefault("download.retries", 2)
	v.SetDefault("download.retry_wait", time.Second)
	v.SetDefault("download.cloudflare_bypass", false)
	v.SetDefault("download.show_progress", true)
	v.SetDefault("download.insecure_tls", false)

	// 浏览器
	v.SetDefault("browser.control_url", "")
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("browser.page_timeout", 30*time.Second)

	// 资源限制
	v.SetDefault("resource.safety_reserve_mb", 1024)
	v.SetDefault("resource.safety_threshold_mb", 512)
	v.SetDefault("resource.cpu_load_threshold", 85)
	v.SetDefault("resource.max_sessions", 8)
	v.SetDefault("resource.session_memory_mb", 150)

	// 日志
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出
	v.SetDefault("output.base_dir", "output")
}

// Validate 验证整体配置
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if err := c.Frontier.Validate(); err != nil {
		return fmt.Errorf("frontier: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return err
	}
	switch c.Catalog.Driver {
	case catalog.DriverSQLite, catalog.DriverPostgres, "postgres":
	default:
		return fmt.Errorf("catalog: 不支持的驱动 %q (有效值: sqlite, pgx)", c.Catalog.Driver)
	}
	if c.Catalog.Driver != catalog.DriverSQLite && c.Catalog.DSN == "" {
		return fmt.Errorf("catalog: %s 驱动必须提供dsn", c.Catalog.Driver)
	}
	return nil
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// ResourceMonitorConfig 转换为资源监控配置
func (c *Config) ResourceMonitorConfig() session.ResourceMonitorConfig {
	const mb = 1024 * 1024
	return session.ResourceMonitorConfig{
		SafetyReserveMemory: c.Resource.SafetyReserveMB * mb,
		SafetyThreshold:     c.Resource.SafetyThreshold * mb,
		CPULoadThreshold:    c.Resource.CPULoadThreshold,
		MaxSessionsLimit:    c.Resource.MaxSessions,
		SessionMemoryUsage:  c.Resource.SessionMemoryMB * mb,
	}
}

// CatalogDSN 目录连接串,sqlite未配置时落在输出目录下
func (c *Config) CatalogDSN() string {
	if c.Catalog.DSN != "" {
		return c.Catalog.DSN
	}
	return filepath.Join(c.Output.BaseDir, "catalog.db")
}

// FrontierLogPath 标识日志路径
func (c *Config) FrontierLogPath() string {
	if c.Frontier.LogFile != "" {
		return c.Frontier.LogFile
	}
	return filepath.Join(c.Output.BaseDir, "frontier.log")
}

// CLIOverrides 命令行参数
// 指针/零值字段表示未在命令行指定
type CLIOverrides struct {
	IndexURL      string
	Modes         []string
	Email         string
	Password      string
	Threads       int
	MaxRetries    *int
	Force         bool
	OutputDir     string
	Headless      *bool
	ResumePending bool
	FrontierMode  string
	LogLevel      string
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.IndexURL != "" {
		c.Site.IndexURL = o.IndexURL
	}
	if len(o.Modes) > 0 {
		c.Crawl.Modes = o.Modes
	}
	if o.Email != "" {
		c.Auth.Email = o.Email
	}
	if o.Password != "" {
		c.Auth.Password = o.Password
	}
	if o.Threads > 0 {
		c.Crawl.Threads = o.Threads
	}
	if o.MaxRetries != nil {
		c.Crawl.MaxRetries = *o.MaxRetries
	}
	if o.Force {
		c.Crawl.Force = true
	}
	if o.OutputDir != "" {
		c.Output.BaseDir = o.OutputDir
	}
	if o.Headless != nil {
		c.Crawl.Headless = *o.Headless
	}
	if o.ResumePending {
		c.Crawl.ResumePending = true
	}
	if o.FrontierMode != "" {
		c.Crawl.FrontierMode = o.FrontierMode
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}
