package main

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

// ValidateIndexURL 验证索引地址,%d 页码占位按第1页处理
func ValidateIndexURL(indexURL string) error {
	return models.ValidateURL(strings.ReplaceAll(indexURL, "%d", "1"))
}

// ValidateFlags 验证命令行标志
// 零值表示未指定,交由配置文件决定
func ValidateFlags(indexURL string, threads int, modes []string, frontierMode string) error {
	if indexURL != "" {
		if err := ValidateIndexURL(indexURL); err != nil {
			return fmt.Errorf("无效的索引地址: %w", err)
		}
	}

	if threads != 0 && (threads < 1 || threads > 32) {
		return fmt.Errorf("工作者数量必须在1-32之间,当前值: %d", threads)
	}

	for _, m := range modes {
		switch models.AcquireMode(strings.ToLower(strings.TrimSpace(m))) {
		case models.AcquireOwned, models.AcquireSubscription, models.AcquireFree:
		default:
			return fmt.Errorf("无效的获取类别: %s (有效值: owned, subscription, free)", m)
		}
	}

	switch models.FrontierMode(frontierMode) {
	case "", models.FrontierRendered, models.FrontierStatic:
	default:
		return fmt.Errorf("无效的索引模式: %s (有效值: rendered, static)", frontierMode)
	}

	return nil
}

// NormalizeURL 规范化索引地址
// 没有协议时默认使用https,保留 %d 页码占位
func NormalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr != "" && !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	return urlStr
}
