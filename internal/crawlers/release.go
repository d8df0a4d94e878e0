package crawlers

import (
	"context"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// release 归还订阅借阅的条目
// 任何失败只记录警告,条目仍然完成
func (w *Worker) release(ctx context.Context, run *itemRun) models.ItemState {
	if !run.class.NeedsRelease() {
		return models.StateDone
	}
	if err := w.returnHeld(ctx, run); err != nil {
		utils.Warnf("归还条目 %s 失败: %v", run.entry.ItemID, err)
	}
	return models.StateDone
}

func (w *Worker) returnHeld(ctx context.Context, run *itemRun) error {
	site := w.opts.Site
	if site.HeldItemsURL == "" || site.HeldRowSelector == "" || site.ReturnSelector == "" {
		utils.Warnf("未配置归还页面,条目 %s 未归还", run.entry.ItemID)
		return nil
	}
	if run.title == "" {
		utils.Warnf("条目 %s 没有标题,无法在借阅列表中定位", run.entry.ItemID)
		return nil
	}

	if err := run.sess.Navigate(ctx, site.HeldItemsURL); err != nil {
		return err
	}
	if _, err := session.WaitFor(ctx, run.sess, site.HeldRowSelector, w.attempts(), w.opts.Crawl.RetryDelay); err != nil {
		return err
	}
	rows, err := run.sess.FindAll(ctx, site.HeldRowSelector)
	if err != nil {
		return err
	}

	for _, row := range rows {
		title, err := rowTitle(row, site.HeldTitleSelector)
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(title), run.title) {
			continue
		}

		btn, ok, err := row.Query(site.ReturnSelector)
		if err != nil {
			return err
		}
		if !ok {
			utils.Warnf("条目 %s 在借阅列表中没有归还按钮", run.entry.ItemID)
			return nil
		}
		if err := btn.Click(); err != nil {
			return err
		}

		if site.ReturnConfirmSelector != "" {
			confirm, err := session.WaitFor(ctx, run.sess, site.ReturnConfirmSelector, w.attempts(), w.opts.Crawl.RetryDelay)
			if err == nil {
				if err := confirm.Click(); err != nil {
					return err
				}
			}
		}
		utils.Infof("条目 %s 已归还", run.entry.ItemID)
		return session.Settle(ctx, w.opts.Crawl.PageSettle)
	}

	utils.Warnf("借阅列表中未找到条目 %s (%s)", run.entry.ItemID, run.title)
	return nil
}

func rowTitle(row session.Node, selector string) (string, error) {
	if selector == "" {
		return row.Text()
	}
	node, ok, err := row.Query(selector)
	if err != nil || !ok {
		return "", err
	}
	return node.Text()
}
