package models

import (
	"fmt"
	"strings"
	"time"
)

// FrontierConfig 索引探索参数
type FrontierConfig struct {
	BasePage       int           `mapstructure:"base_page" json:"base_page"`               // 起始页码 (默认:1)
	PageRetries    int           `mapstructure:"page_retries" json:"page_retries"`         // 单页重试次数 (默认:3)
	Cooldown       time.Duration `mapstructure:"cooldown" json:"cooldown"`                 // 重试冷却 (默认:10s)
	MaxFailedPages int           `mapstructure:"max_failed_pages" json:"max_failed_pages"` // 连续失败页上限 (默认:5)
	MaxDuration    time.Duration `mapstructure:"max_duration" json:"max_duration"`         // 探索总时长上限,0表示不限 (默认:6h)
	LogFile        string        `mapstructure:"log_file" json:"log_file"`                 // 追加式标识日志
}

// Validate 验证探索参数
func (c *FrontierConfig) Validate() error {
	if c.PageRetries < 1 {
		return fmt.Errorf("单页重试次数必须至少为1")
	}
	if c.MaxFailedPages < 1 {
		return fmt.Errorf("连续失败页上限必须至少为1")
	}
	if c.Cooldown < 0 || c.MaxDuration < 0 {
		return fmt.Errorf("冷却时间与探索时长不能为负数")
	}
	return nil
}

// FrontierEntry 待处理条目
// 由索引探索器首次发现时创建,入队后不可变
type FrontierEntry struct {
	// ItemID 索引页上的条目标识
	ItemID string

	// CandidateURLs 按优先级排列的详情页地址
	CandidateURLs []string

	// KnownAssetID 索引页已知的资源标识(可选)
	KnownAssetID string
}

// Identity 目录中使用的键
func (e FrontierEntry) Identity() string {
	if e.KnownAssetID != "" {
		return e.KnownAssetID
	}
	return e.ItemID
}

// Validate 条目标识不能为空且必须能写入单行日志
func (e FrontierEntry) Validate() error {
	id := strings.TrimSpace(e.ItemID)
	if id == "" {
		return fmt.Errorf("条目标识为空")
	}
	if strings.ContainsAny(e.ItemID, "\r\n") {
		return fmt.Errorf("条目标识包含换行: %q", e.ItemID)
	}
	// frontier日志按行存储且读回时去除首尾空白
	if id != e.ItemID {
		return fmt.Errorf("条目标识带首尾空白: %q", e.ItemID)
	}
	return nil
}
