package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

const (
	DefaultPageRetries    = 3
	DefaultCooldown       = 10 * time.Second
	DefaultMaxFailedPages = 5
	DefaultMaxDuration    = 6 * time.Hour
)

// IndexPage 一页索引的解析结果
type IndexPage struct {
	Entries []models.FrontierEntry
	HasNext bool
}

// IndexSource 分页索引的数据源
type IndexSource interface {
	FetchPage(ctx context.Context, n int) (IndexPage, error)
}

// Frontier 索引探索器
// 逐页抓取索引,新标识先写入日志再入队
type Frontier struct {
	source IndexSource
	log    *FrontierLog
	queue  *Queue[models.FrontierEntry]
	cfg    models.FrontierConfig
	stats  *models.RunStats
}

// NewFrontier 创建探索器
// 重试次数与连续失败页上限未设置时取默认值;冷却与总时长为0表示不等待/不限时
func NewFrontier(source IndexSource, log *FrontierLog, queue *Queue[models.FrontierEntry], cfg models.FrontierConfig, stats *models.RunStats) *Frontier {
	if cfg.PageRetries < 1 {
		cfg.PageRetries = DefaultPageRetries
	}
	if cfg.MaxFailedPages < 1 {
		cfg.MaxFailedPages = DefaultMaxFailedPages
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if stats == nil {
		stats = &models.RunStats{}
	}
	return &Frontier{source: source, log: log, queue: queue, cfg: cfg, stats: stats}
}

// Explore 从起始页开始探索,直到没有下一页
// 单页重试耗尽后跳到下一页;连续失败页达到上限或超过总时长后停止
func (f *Frontier) Explore(ctx context.Context) error {
	start := time.Now()
	failed := 0

	for n := f.cfg.BasePage; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.cfg.MaxDuration > 0 && time.Since(start) > f.cfg.MaxDuration {
			utils.Warnf("索引探索超过时长上限 %v,停止于第%d页", f.cfg.MaxDuration, n)
			return nil
		}

		page, err := f.fetch(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			utils.Errorf("索引第%d页失败 (连续失败%d页): %v", n, failed, err)
			if failed >= f.cfg.MaxFailedPages {
				utils.Warnf("连续%d页失败,停止探索", failed)
				return nil
			}
			continue
		}
		failed = 0

		added := 0
		for _, entry := range page.Entries {
			ok, err := f.admit(entry)
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}
		utils.Infof("索引第%d页: %d个条目, 新增%d个", n, len(page.Entries), added)

		if !page.HasNext {
			utils.Infof("索引探索完成,共%d页", n-f.cfg.BasePage+1)
			return nil
		}
	}
}

func (f *Frontier) fetch(ctx context.Context, n int) (IndexPage, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.PageRetries; attempt++ {
		page, err := f.source.FetchPage(ctx, n)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return IndexPage{}, ctx.Err()
		}
		utils.Warnf("索引第%d页第%d次尝试失败: %v", n, attempt, err)
		if attempt < f.cfg.PageRetries {
			if err := session.Sleep(ctx, f.cfg.Cooldown); err != nil {
				return IndexPage{}, err
			}
		}
	}
	return IndexPage{}, lastErr
}

// admit 未见过的条目写入日志并入队
// 日志写入失败属于进程级错误
func (f *Frontier) admit(entry models.FrontierEntry) (bool, error) {
	if err := entry.Validate(); err != nil {
		utils.Warnf("忽略无效条目: %v", err)
		return false, nil
	}

	added, err := f.log.Add(entry.ItemID)
	if err != nil {
		return false, &models.ItemError{ItemID: entry.ItemID, Class: models.ErrorProcessFatal, Cause: err}
	}
	if !added {
		return false, nil
	}

	if err := f.queue.Push(entry); err != nil {
		return false, fmt.Errorf("条目入队失败 [%s]: %w", entry.ItemID, err)
	}
	f.stats.Discovered.Add(1)
	return true, nil
}

// ResumePending 将日志中尚未完成提取的条目重新入队
// 这些条目只能使用模板生成候选地址
func (f *Frontier) ResumePending(ctx context.Context, catalog Catalog, site *models.SiteProfile) (int, error) {
	resumed := 0
	for _, id := range f.log.IDs() {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		rec, err := catalog.ExtractionStatus(ctx, id)
		if err != nil {
			return resumed, err
		}
		if rec != nil && rec.Status == models.ExtractionDone {
			continue
		}
		urls := site.ItemURLs(id)
		if len(urls) == 0 {
			continue
		}
		if err := f.queue.Push(models.FrontierEntry{ItemID: id, CandidateURLs: urls}); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return resumed, nil
			}
			return resumed, err
		}
		resumed++
	}
	if resumed > 0 {
		f.stats.Discovered.Add(int64(resumed))
		utils.Infof("重新入队%d个未完成的条目", resumed)
	}
	return resumed, nil
}

// buildEntry 由索引上读取的值组装条目
func buildEntry(site *models.SiteProfile, base, id, link, assetID string) (models.FrontierEntry, bool) {
	if link != "" {
		link = resolveLink(base, link)
	}
	if id == "" {
		id = idFromLink(link)
	}
	if id == "" {
		return models.FrontierEntry{}, false
	}

	urls := site.ItemURLs(id)
	if link != "" {
		dup := false
		for _, u := range urls {
			if u == link {
				dup = true
				break
			}
		}
		if !dup {
			urls = append(urls, link)
		}
	}
	return models.FrontierEntry{ItemID: id, CandidateURLs: urls, KnownAssetID: assetID}, true
}

func resolveLink(base, link string) string {
	b, err := url.Parse(base)
	if err != nil {
		return link
	}
	l, err := url.Parse(link)
	if err != nil {
		return link
	}
	return b.ResolveReference(l).String()
}

// idFromLink 取详情链接路径的最后一段作为标识
func idFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" {
		return ""
	}
	p := u.Path
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
