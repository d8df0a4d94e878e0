package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// discoverLayout 依次尝试候选地址,第一个渲染出布局的地址胜出
func (w *Worker) discoverLayout(ctx context.Context, run *itemRun) (models.ItemState, error) {
	site := w.opts.Site
	if len(run.entry.CandidateURLs) == 0 {
		return models.StateFailed, fmt.Errorf("%w: 条目没有候选地址", ErrPageStructureAbsent)
	}

	var lastErr error
	for _, u := range run.entry.CandidateURLs {
		if err := run.sess.Navigate(ctx, u); err != nil {
			if errors.Is(err, session.ErrBrowserCrashed) || ctx.Err() != nil {
				return models.StateFailed, err
			}
			lastErr = err
			utils.Debugf("候选地址打开失败 [%s]: %v", u, err)
			continue
		}

		layout, err := session.WaitFor(ctx, run.sess, site.LayoutSelector, w.attempts(), w.opts.Crawl.RetryDelay)
		if err != nil {
			if !session.IsTransient(err) {
				return models.StateFailed, err
			}
			lastErr = err
			continue
		}

		run.detailURL = u
		run.assetID = run.identity
		if site.AssetIDAttr != "" {
			if v, ok, err := layout.Attribute(site.AssetIDAttr); err == nil && ok && v != "" {
				run.assetID = v
			}
		}
		if site.TitleSelector != "" {
			if node, ok, err := run.sess.Find(ctx, site.TitleSelector); err == nil && ok {
				if t, err := node.Text(); err == nil {
					run.title = strings.TrimSpace(t)
				}
			}
		}
		return models.StateClassifyAvailability, nil
	}

	// 候选地址全部失败属于条目级错误,不再整体重试
	return models.StateFailed, fmt.Errorf("%w: 所有候选地址都未渲染出布局 (最后错误: %v)", ErrPageStructureAbsent, lastErr)
}

// classify 判定分类;不在本次获取范围内的条目记录后跳过
func (w *Worker) classify(ctx context.Context, run *itemRun) (models.ItemState, error) {
	markers, err := ProbeMarkers(ctx, run.sess, w.opts.Site)
	if err != nil {
		return models.StateFailed, err
	}
	run.class = Classify(markers)
	if markers.Purchase && markers.Price != "" {
		p := markers.Price
		run.price = &p
	}

	w.log.Info().Str("item", run.entry.ItemID).Str("class", string(run.class)).Msg("分类完成")

	zero := run.price != nil && IsZeroPrice(*run.price)
	if w.opts.Crawl.Pursues(run.class, zero) {
		return models.StateAcquire, nil
	}

	if err := w.recordCatalog(ctx, run); err != nil {
		return models.StateFailed, err
	}
	rec := &models.ExtractionRecord{ItemID: run.entry.ItemID, AssetID: run.identity, Status: models.ExtractionSkipped, UpdatedAt: w.now()}
	if err := w.deps.Catalog.UpsertExtraction(ctx, rec); err != nil {
		return models.StateFailed, processFatal(run, err)
	}
	utils.Infof("条目 %s 分类为 %s,不在获取范围内,跳过", run.entry.ItemID, run.class)
	return models.StateSkipped, nil
}

// acquire 借阅或免费购买,并等待确认标记
func (w *Worker) acquire(ctx context.Context, run *itemRun) (models.ItemState, error) {
	if !run.class.NeedsAcquire() {
		return models.StatePaginateAndExtract, nil
	}
	site := w.opts.Site

	// 上一次尝试可能已经成功
	if ok, err := session.Present(ctx, run.sess, site.AcquiredSelector); err != nil {
		return models.StateFailed, err
	} else if ok {
		return models.StatePaginateAndExtract, nil
	}

	selector := site.SubscriptionAcquireSelector
	if run.class == models.ClassPurchaseAvailable {
		selector = site.PurchaseAcquireSelector
	}
	if selector == "" {
		return models.StateFailed, fmt.Errorf("%w: 未配置 %s 的获取控件", ErrPageStructureAbsent, run.class)
	}

	btn, err := w.stepWait(ctx, run, selector)
	if err != nil {
		return models.StateFailed, err
	}
	if err := btn.Click(); err != nil {
		return models.StateFailed, err
	}

	if site.AcquiredSelector == "" {
		return models.StatePaginateAndExtract, nil
	}
	if err := session.Settle(ctx, w.opts.Crawl.PageSettle); err != nil {
		return models.StateFailed, err
	}
	if _, err := w.stepWait(ctx, run, site.AcquiredSelector); err != nil {
		if session.IsTransient(err) {
			// 重新进入acquire时先检查确认标记,不会重复点击
			return models.StateFailed, fmt.Errorf("%w: %w", ErrAcquireUnverified, session.ErrTimeout)
		}
		return models.StateFailed, err
	}
	utils.Infof("条目 %s 获取成功 (%s)", run.entry.ItemID, run.class)
	return models.StatePaginateAndExtract, nil
}

// recordCatalog 写入目录记录,失败属于进程级错误
func (w *Worker) recordCatalog(ctx context.Context, run *itemRun) error {
	entry := &models.CatalogEntry{
		AssetID:        run.identity,
		ItemID:         run.entry.ItemID,
		Title:          run.title,
		Classification: run.class,
		Price:          run.price,
		LastCheckedAt:  w.now(),
	}
	if err := w.deps.Catalog.UpsertCatalogEntry(ctx, entry); err != nil {
		return processFatal(run, err)
	}
	return nil
}

func processFatal(run *itemRun, err error) error {
	return &models.ItemError{ItemID: run.entry.ItemID, State: run.state, Class: models.ErrorProcessFatal, Cause: err}
}
