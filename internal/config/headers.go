// Package config 读取 headers.yaml
//
// 该文件提供浏览器会话与资源下载共用的附加HTTP头部。值中的 ${VAR}
// 按环境变量展开,Cookie 等凭据可以不落在文件里。
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

const (
	// DefaultConfigFile 默认头部配置文件
	DefaultConfigFile = "configs/headers.yaml"

	// MaxConfigFileSize 头部配置文件上限 (1MB)
	MaxConfigFileSize = 1 << 20
)

//go:embed headers_template.yaml
var defaultHeaderTemplate string

// HeaderConfigLoader 头部配置文件加载器
// 文件不存在时写出带注释的模板
type HeaderConfigLoader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewHeaderConfigLoader 创建加载器,configPath 为空时使用 DefaultConfigFile
func NewHeaderConfigLoader(configPath string) *HeaderConfigLoader {
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	return &HeaderConfigLoader{configPath: configPath, lookupEnv: os.LookupEnv}
}

// Path 配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.configPath
}

// EnsureConfigExists 文件不存在时生成模板,已存在的文件不会被覆盖
func (hcl *HeaderConfigLoader) EnsureConfigExists() error {
	_, err := os.Stat(hcl.configPath)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("无法访问配置文件 [%s]: %w", hcl.configPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(hcl.configPath), 0755); err != nil {
		return fmt.Errorf("无法创建配置目录 [%s]: %w", filepath.Dir(hcl.configPath), err)
	}
	if err := os.WriteFile(hcl.configPath, []byte(defaultHeaderTemplate), 0644); err != nil {
		return fmt.Errorf("无法生成配置文件 [%s]: %w", hcl.configPath, err)
	}
	utils.Infof("已生成头部配置模板: %s", hcl.configPath)
	return nil
}

// ValidateFileSize 拒绝超过 MaxConfigFileSize 的文件
func (hcl *HeaderConfigLoader) ValidateFileSize() error {
	info, err := os.Stat(hcl.configPath)
	if err != nil {
		return fmt.Errorf("无法读取配置文件信息 [%s]: %w", hcl.configPath, err)
	}
	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// LoadConfig 读取并解析头部配置
// 空文件或没有 headers 段时返回空映射;引用了未设置的环境变量时报错
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	if err := hcl.EnsureConfigExists(); err != nil {
		return nil, err
	}
	if err := hcl.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(hcl.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	var cfg models.HeaderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: fmt.Errorf("配置绑定失败: %w", err)}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for name, value := range cfg.Headers {
		expanded, err := hcl.expand(value)
		if err != nil {
			return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: fmt.Errorf("头部 %s: %w", name, err)}
		}
		headers[name] = expanded
	}
	cfg.Headers = headers
	return &cfg, nil
}

// expand 展开 ${VAR};未设置的变量视为配置错误,避免发出空Cookie
func (hcl *HeaderConfigLoader) expand(value string) (string, error) {
	if !strings.Contains(value, "${") {
		return value, nil
	}
	var missing []string
	out := os.Expand(value, func(key string) string {
		v, ok := hcl.lookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("环境变量未设置: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
