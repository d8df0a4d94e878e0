package crawlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// maxRewindClicks 回到开头时的点击上限
const maxRewindClicks = 5000

// paginate 翻页提取
// 掉线后重新登录并回到最后的阅读位置继续,已捕获片段保留在引擎中
func (w *Worker) paginate(ctx context.Context, run *itemRun) (models.ItemState, error) {
	site := w.opts.Site

	if !run.readerOpened {
		if err := w.openReader(ctx, run); err != nil {
			return models.StateFailed, err
		}
		if site.ViewportWidth > 0 && site.ViewportHeight > 0 {
			if err := run.sess.SetViewport(site.ViewportWidth, site.ViewportHeight); err != nil {
				utils.Warnf("设置视口失败 [%s]: %v", run.entry.ItemID, err)
			}
			if err := session.Settle(ctx, w.opts.Crawl.PageSettle); err != nil {
				return models.StateFailed, err
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return models.StateFailed, err
		}

		out, err := SignedOut(ctx, run.sess, w.opts.AuthCfg)
		if err != nil {
			return models.StateFailed, err
		}
		if out {
			// 连续重新登录次数受重试预算限制,成功提取一页后清零
			if run.reauths >= w.attempts() {
				return models.StateFailed, fmt.Errorf("%w: 连续%d次重新登录后仍在登录页", ErrDeauthenticated, run.reauths)
			}
			run.reauths++
			if err := w.reauthenticate(ctx, run); err != nil {
				return models.StateFailed, err
			}
			continue
		}
		// 只记录登录状态下的阅读位置
		if u, err := run.sess.CurrentURL(ctx); err == nil && u != "" {
			run.readerURL = u
		}

		if !run.rewound {
			if err := w.rewind(ctx, run); err != nil {
				return models.StateFailed, err
			}
			run.rewound = true
		}

		root, err := w.stepWait(ctx, run, site.ContentRootSelector)
		if err != nil {
			return models.StateFailed, err
		}
		before := len(run.engine.Result().Fragments)
		if err := run.engine.Extract(ctx, run.sess, root); err != nil {
			return models.StateFailed, err
		}
		run.pages++
		run.reauths = 0
		utils.Debugf("条目 %s 第%d页: 新增%d个片段", run.entry.ItemID, run.pages,
			len(run.engine.Result().Fragments)-before)

		if w.opts.Crawl.MaxPages > 0 && run.pages >= w.opts.Crawl.MaxPages {
			utils.Warnf("条目 %s 达到翻页上限 %d,停止翻页", run.entry.ItemID, w.opts.Crawl.MaxPages)
			break
		}

		next, ok, err := run.sess.Find(ctx, site.TurnForwardSelector)
		if err != nil {
			return models.StateFailed, err
		}
		if !ok || session.Disabled(next) {
			break
		}
		if err := next.Click(); err != nil {
			return models.StateFailed, err
		}
		if err := session.Settle(ctx, w.opts.Crawl.PageSettle); err != nil {
			return models.StateFailed, err
		}
	}

	utils.Infof("条目 %s 提取完成: %d页, %d个片段", run.entry.ItemID, run.pages, len(run.engine.Result().Fragments))
	return models.StatePersist, nil
}

// openReader 打开阅读器: 优先使用地址模板,否则点击阅读控件
func (w *Worker) openReader(ctx context.Context, run *itemRun) error {
	site := w.opts.Site

	switch {
	case strings.Contains(site.ReaderURLTemplate, "%s"):
		if err := run.sess.Navigate(ctx, fmt.Sprintf(site.ReaderURLTemplate, run.assetID)); err != nil {
			return err
		}
	case site.ReaderOpenSelector != "":
		btn, err := w.stepWait(ctx, run, site.ReaderOpenSelector)
		if err != nil {
			return err
		}
		if err := btn.Click(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: 未配置阅读器入口", ErrPageStructureAbsent)
	}

	if err := session.Settle(ctx, w.opts.Crawl.PageSettle); err != nil {
		return err
	}
	u, err := run.sess.CurrentURL(ctx)
	if err != nil {
		return err
	}
	run.readerURL = u
	run.readerOpened = true
	return nil
}

// rewind 第一次进入时回到开头
func (w *Worker) rewind(ctx context.Context, run *itemRun) error {
	selector := w.opts.Site.TurnBackwardSelector
	if selector == "" {
		return nil
	}
	for i := 0; i < maxRewindClicks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		prev, ok, err := run.sess.Find(ctx, selector)
		if err != nil {
			return err
		}
		if !ok || session.Disabled(prev) {
			if i > 0 {
				utils.Debugf("条目 %s 回退%d页到开头", run.entry.ItemID, i)
			}
			return nil
		}
		if err := prev.Click(); err != nil {
			return err
		}
		if err := session.Settle(ctx, w.opts.Crawl.PageSettle); err != nil {
			return err
		}
	}
	utils.Warnf("条目 %s 回退超过%d次仍未到开头", run.entry.ItemID, maxRewindClicks)
	return nil
}

// reauthenticate 重新登录并回到最后的阅读位置
func (w *Worker) reauthenticate(ctx context.Context, run *itemRun) error {
	if w.deps.Auth == nil {
		return fmt.Errorf("%w: 未配置认证器", ErrDeauthenticated)
	}
	utils.Warnf("条目 %s 翻页中会话掉线,重新登录后从第%d页继续", run.entry.ItemID, run.pages+1)

	if err := w.deps.Auth.Authenticate(ctx, run.sess); err != nil {
		return fmt.Errorf("重新登录失败: %w", err)
	}
	if run.readerURL != "" {
		if err := run.sess.Navigate(ctx, run.readerURL); err != nil {
			return err
		}
	}
	return session.Settle(ctx, w.opts.Crawl.PageSettle)
}
