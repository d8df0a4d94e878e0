package models

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ItemState 单个条目在获取流水线中的状态
type ItemState string

const (
	StateDiscoverLayout       ItemState = "DISCOVER_LAYOUT"       // 定位详情页布局
	StateClassifyAvailability ItemState = "CLASSIFY_AVAILABILITY" // 判定可获取性
	StateAcquire              ItemState = "ACQUIRE"               // 借阅/免费购买
	StatePaginateAndExtract   ItemState = "PAGINATE_AND_EXTRACT"  // 翻页提取
	StatePersist              ItemState = "PERSIST"               // 落盘+写目录
	StateRelease              ItemState = "RELEASE"               // 归还借阅
	StateDone                 ItemState = "DONE"                  // 完成
	StateSkipped              ItemState = "SKIPPED"               // 预检跳过
	StateFailed               ItemState = "FAILED"                // 重试耗尽
)

// IsTerminal 是否为终止状态
func (s ItemState) IsTerminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// FrontierMode 索引页获取方式
type FrontierMode string

const (
	FrontierRendered FrontierMode = "rendered" // 通过浏览器会话渲染索引页
	FrontierStatic   FrontierMode = "static"   // 直接抓取静态HTML
)

// AcquireMode 允许追求的获取类别
type AcquireMode string

const (
	AcquireOwned        AcquireMode = "owned"        // 已拥有
	AcquireSubscription AcquireMode = "subscription" // 订阅借阅
	AcquireFree         AcquireMode = "free"         // 零价格购买
)

// CrawlConfig 流水线运行配置
// 由命令行与配置文件合并而来,核心组件只读取这些值
type CrawlConfig struct {
	Threads       int           `mapstructure:"threads" json:"threads"`               // worker数量 (默认:2)
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`       // 单步重试次数 (默认:3)
	RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay"`       // 重试间隔 (默认:2s)
	Force         bool          `mapstructure:"force" json:"force"`                   // 强制重新处理
	StalenessDays int           `mapstructure:"staleness_days" json:"staleness_days"` // 不可用分类的有效期(天)
	Modes         []string      `mapstructure:"modes" json:"modes"`                   // 追求的获取类别
	Headless      bool          `mapstructure:"headless" json:"headless"`             // 无头模式
	PageSettle    time.Duration `mapstructure:"page_settle" json:"page_settle"`       // 翻页后等待
	MaxPages      int           `mapstructure:"max_pages" json:"max_pages"`           // 单条目最大翻页数
	ResumePending bool          `mapstructure:"resume_pending" json:"resume_pending"` // 重新入队未完成的已记录条目
	FrontierMode  string        `mapstructure:"frontier_mode" json:"frontier_mode"`   // rendered|static
	UserDataDir   string        `mapstructure:"user_data_dir" json:"user_data_dir"`   // 浏览器用户目录(保留登录态)
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.Threads < 1 || c.Threads > 32 {
		return fmt.Errorf("worker数量必须在1-32之间")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("重试次数必须在0-10之间")
	}
	if c.RetryDelay < 0 || c.RetryDelay > time.Minute {
		return fmt.Errorf("重试间隔必须在0-60秒之间")
	}
	if c.StalenessDays < 0 {
		return fmt.Errorf("有效期天数不能为负数")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("最大翻页数不能为负数")
	}
	for _, m := range c.Modes {
		switch AcquireMode(strings.ToLower(strings.TrimSpace(m))) {
		case AcquireOwned, AcquireSubscription, AcquireFree:
		default:
			return fmt.Errorf("无效的获取模式: %s (有效值: owned, subscription, free)", m)
		}
	}
	switch FrontierMode(c.FrontierMode) {
	case FrontierRendered, FrontierStatic, "":
	default:
		return fmt.Errorf("无效的索引模式: %s (有效值: rendered, static)", c.FrontierMode)
	}
	return nil
}

// StalenessWindow 不可用分类的有效期
func (c *CrawlConfig) StalenessWindow() time.Duration {
	if c.StalenessDays <= 0 {
		return DefaultStalenessWindow
	}
	return time.Duration(c.StalenessDays) * 24 * time.Hour
}

// Pursues 判断该分类是否在本次运行的获取范围内
// 未指定模式时追求全部三类
func (c *CrawlConfig) Pursues(class Classification, zeroPrice bool) bool {
	want := func(m AcquireMode) bool {
		if len(c.Modes) == 0 {
			return true
		}
		for _, s := range c.Modes {
			if AcquireMode(strings.ToLower(strings.TrimSpace(s))) == m {
				return true
			}
		}
		return false
	}
	switch class {
	case ClassPurchaseOwned:
		return want(AcquireOwned)
	case ClassSubscriptionHeld, ClassSubscriptionAvailable:
		return want(AcquireSubscription)
	case ClassPurchaseAvailable:
		return zeroPrice && want(AcquireFree)
	default:
		return false
	}
}

// RunStats 运行统计 (并发安全)
type RunStats struct {
	Discovered atomic.Int64 // 发现条目数
	Processed  atomic.Int64 // 已处理条目数
	Done       atomic.Int64 // 完成提取
	Skipped    atomic.Int64 // 跳过
	Failed     atomic.Int64 // 失败
	Fragments  atomic.Int64 // 提取片段数
	Assets     atomic.Int64 // 下载资源数
	AssetBytes atomic.Int64 // 资源总大小
	AssetFails atomic.Int64 // 资源下载失败
	Restarts   atomic.Int64 // 浏览器重启次数
}

// Snapshot 导出统计快照
func (s *RunStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Discovered: s.Discovered.Load(),
		Processed:  s.Processed.Load(),
		Done:       s.Done.Load(),
		Skipped:    s.Skipped.Load(),
		Failed:     s.Failed.Load(),
		Fragments:  s.Fragments.Load(),
		Assets:     s.Assets.Load(),
		AssetBytes: s.AssetBytes.Load(),
		AssetFails: s.AssetFails.Load(),
		Restarts:   s.Restarts.Load(),
	}
}

// StatsSnapshot 统计快照(用于报告)
type StatsSnapshot struct {
	Discovered int64   `json:"discovered"`
	Processed  int64   `json:"processed"`
	Done       int64   `json:"done"`
	Skipped    int64   `json:"skipped"`
	Failed     int64   `json:"failed"`
	Fragments  int64   `json:"fragments"`
	Assets     int64   `json:"assets"`
	AssetBytes int64   `json:"asset_bytes"`
	AssetFails int64   `json:"asset_fails"`
	Restarts   int64   `json:"browser_restarts"`
	Duration   float64 `json:"duration"` // 秒
}
