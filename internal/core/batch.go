package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// RunFunc 针对单个索引地址执行一次采集
type RunFunc func(ctx context.Context, cfg *Config) (*models.RunReport, error)

// BatchRunner 批量采集器
// 依次处理多个索引地址,单个失败不影响后续
type BatchRunner struct {
	config         *Config
	headerProvider models.HeaderProvider
	batchDelay     time.Duration
	continueOnErr  bool
	run            RunFunc
}

// BatchResult 单个索引地址的结果
type BatchResult struct {
	IndexURL    string
	Success     bool
	Error       error
	Stats       models.StatsSnapshot
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量采集摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	TotalDone     int64
	TotalFailed   int64
	TotalAssets   int64
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchRunner 创建批量采集器
func NewBatchRunner(config *Config, headerProvider models.HeaderProvider, batchDelay time.Duration, continueOnErr bool) *BatchRunner {
	br := &BatchRunner{
		config:         config,
		headerProvider: headerProvider,
		batchDelay:     batchDelay,
		continueOnErr:  continueOnErr,
	}
	br.run = br.harvest
	return br
}

func (br *BatchRunner) harvest(ctx context.Context, cfg *Config) (*models.RunReport, error) {
	h, err := NewHarvester(cfg, br.headerProvider)
	if err != nil {
		return nil, fmt.Errorf("创建采集器失败: %w", err)
	}
	return h.Run(ctx)
}

// RunBatch 依次采集索引地址列表
// 每个地址使用配置副本,只替换索引地址
func (br *BatchRunner) RunBatch(ctx context.Context, indexURLs []string) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量采集: %d个索引", len(indexURLs))

	summary := &BatchSummary{
		TotalURLs: len(indexURLs),
		Results:   make([]BatchResult, 0, len(indexURLs)),
	}
	bar := utils.NewProgressBar(len(indexURLs), "批量采集")

	startTime := time.Now()

	for i, indexURL := range indexURLs {
		if err := ctx.Err(); err != nil {
			summary.TotalDuration = time.Since(startTime).Seconds()
			br.printSummary(summary)
			return summary, err
		}

		utils.Infof("==================== [%d/%d] ====================", i+1, len(indexURLs))
		utils.Infof("索引地址: %s", indexURL)

		result := br.runOne(ctx, indexURL)
		summary.Results = append(summary.Results, result)
		_ = bar.Add(1)

		if result.Success {
			summary.SuccessCount++
		} else {
			summary.FailCount++
			utils.Errorf("❌ 采集失败: %v", result.Error)
			if !br.continueOnErr {
				utils.Warn("批量采集中止 (--continue-on-error=false)")
				break
			}
		}
		summary.TotalDone += result.Stats.Done
		summary.TotalFailed += result.Stats.Failed
		summary.TotalAssets += result.Stats.Assets

		if i < len(indexURLs)-1 && br.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个索引...", br.batchDelay.Seconds())
			if err := session.Sleep(ctx, br.batchDelay); err != nil {
				break
			}
		}
	}
	_ = bar.Finish()

	summary.TotalDuration = time.Since(startTime).Seconds()
	br.printSummary(summary)
	return summary, ctx.Err()
}

func (br *BatchRunner) runOne(ctx context.Context, indexURL string) BatchResult {
	result := BatchResult{IndexURL: indexURL, ProcessedAt: time.Now()}
	startTime := time.Now()

	cfg := *br.config
	cfg.Site.IndexURL = indexURL

	report, err := br.run(ctx, &cfg)
	if report != nil {
		result.Stats = report.Stats
	}
	result.Duration = time.Since(startTime).Seconds()
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// printSummary 打印批量采集摘要
func (br *BatchRunner) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量采集摘要")
	utils.Info("==================================================")
	utils.Infof("总索引数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📦 完成条目: %d, 失败条目: %d, 资源: %d", summary.TotalDone, summary.TotalFailed, summary.TotalAssets)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的索引:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.IndexURL, result.Error)
			}
		}
	}
}
