package core

import (
	"net/http"
	"net/url"

	"github.com/RecoveryAshes/ShelfHarvest/internal/config"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/123.0.0.0 Safari/537.36"
)

// HeaderManager 管理浏览器会话与资源下载共用的请求头
// 合并优先级: 默认 < 配置文件 < 站点Referer < 命令行
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	site     http.Header
	cli      http.Header

	validator    *utils.HeaderValidator
	redactor     *utils.HeaderRedactor
	configLoader *config.HeaderConfigLoader

	loaded bool
}

// NewHeaderManager 创建头部管理器
// configFile 为空时使用默认路径;cliHeaders 每项格式 "Name: Value"
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:     defaultHeaders(),
		config:       make(http.Header),
		site:         make(http.Header),
		cli:          make(http.Header),
		validator:    utils.NewHeaderValidator(),
		redactor:     utils.NewHeaderRedactor(),
		configLoader: config.NewHeaderConfigLoader(configFile),
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}
	return hm, nil
}

func defaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"image/avif,image/webp,image/apng,image/*,*/*;q=0.8"},
		"Accept-Language": []string{"en-US,en;q=0.9"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// UseSite 以站点来源作为Referer
// 多数图片CDN会拒绝没有Referer的请求
func (hm *HeaderManager) UseSite(site models.SiteProfile) {
	u, err := url.Parse(site.IndexPageURL(1))
	if err != nil || u.Host == "" {
		return
	}
	hm.site.Set("Referer", u.Scheme+"://"+u.Host+"/")
}

// LoadConfig 加载配置文件,已加载时跳过
func (hm *HeaderManager) LoadConfig() error {
	if hm.loaded {
		return nil
	}

	headerConfig, err := hm.configLoader.LoadConfig()
	if err != nil {
		utils.Errorf("加载HTTP头部配置失败: %v", err)
		return err
	}
	for name, value := range headerConfig.Headers {
		hm.config.Set(name, value)
	}
	hm.loaded = true

	if len(headerConfig.Headers) > 0 {
		utils.Debugf("成功加载%d个HTTP头部配置: %v", len(headerConfig.Headers), hm.redactor.Redact(hm.config))
	}
	return nil
}

// Validate 按 默认 → 配置 → 站点 → 命令行 的顺序验证
func (hm *HeaderManager) Validate() error {
	layers := []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.config},
		{"站点", hm.site},
		{"命令行", hm.cli},
	}
	for _, l := range layers {
		if err := hm.validator.Validate(l.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", l.name, err)
			return err
		}
	}
	return nil
}

// GetMergedHeaders 按优先级合并头部
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.site, hm.cli} {
		for name, values := range layer {
			result[http.CanonicalHeaderKey(name)] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 models.HeaderProvider
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.LoadConfig(); err != nil {
		return nil, err
	}
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.GetMergedHeaders(), nil
}
