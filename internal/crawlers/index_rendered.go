package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// RenderedIndexSource 通过浏览器会话读取索引页
type RenderedIndexSource struct {
	sess     session.Session
	site     *models.SiteProfile
	attempts int
	delay    time.Duration
}

// NewRenderedIndexSource 创建渲染索引源
func NewRenderedIndexSource(sess session.Session, site *models.SiteProfile, attempts int, delay time.Duration) *RenderedIndexSource {
	return &RenderedIndexSource{sess: sess, site: site, attempts: attempts, delay: delay}
}

// FetchPage 读取第n页
// 没有条目且没有下一页标记时视为末页,返回空结果
func (s *RenderedIndexSource) FetchPage(ctx context.Context, n int) (IndexPage, error) {
	pageURL := s.site.IndexPageURL(n)
	if err := s.sess.Navigate(ctx, pageURL); err != nil {
		return IndexPage{}, fmt.Errorf("打开索引页失败: %w", err)
	}

	_, waitErr := session.WaitFor(ctx, s.sess, s.site.IndexItemSelector, s.attempts, s.delay)
	if waitErr != nil && !errors.Is(waitErr, session.ErrNotFound) {
		return IndexPage{}, waitErr
	}

	hasNext, err := s.hasNext(ctx)
	if err != nil {
		return IndexPage{}, err
	}
	if waitErr != nil {
		if !hasNext {
			return IndexPage{}, nil
		}
		return IndexPage{}, fmt.Errorf("索引页没有条目但存在下一页: %w", waitErr)
	}

	nodes, err := s.sess.FindAll(ctx, s.site.IndexItemSelector)
	if err != nil {
		return IndexPage{}, err
	}

	base, err := s.sess.CurrentURL(ctx)
	if err != nil {
		utils.Debugf("读取索引页地址失败,使用请求地址: %v", err)
	}
	if base == "" {
		base = pageURL
	}

	page := IndexPage{HasNext: hasNext, Entries: make([]models.FrontierEntry, 0, len(nodes))}
	for _, node := range nodes {
		entry, ok, err := s.readEntry(node, base)
		if err != nil {
			return IndexPage{}, err
		}
		if !ok {
			utils.Debugf("索引第%d页存在无法识别的条目,已跳过", n)
			continue
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (s *RenderedIndexSource) readEntry(node session.Node, base string) (models.FrontierEntry, bool, error) {
	var id, link, assetID string

	if s.site.IndexItemIDAttr != "" {
		v, _, err := node.Attribute(s.site.IndexItemIDAttr)
		if err != nil {
			return models.FrontierEntry{}, false, err
		}
		id = v
	}
	if s.site.IndexAssetIDAttr != "" {
		v, _, err := node.Attribute(s.site.IndexAssetIDAttr)
		if err != nil {
			return models.FrontierEntry{}, false, err
		}
		assetID = v
	}
	if s.site.IndexLinkSelector != "" {
		a, ok, err := node.Query(s.site.IndexLinkSelector)
		if err != nil {
			return models.FrontierEntry{}, false, err
		}
		if ok {
			href, _, err := a.Attribute("href")
			if err != nil {
				return models.FrontierEntry{}, false, err
			}
			link = href
		}
	}

	entry, ok := buildEntry(s.site, base, id, link, assetID)
	return entry, ok, nil
}

func (s *RenderedIndexSource) hasNext(ctx context.Context) (bool, error) {
	if s.site.IndexNextSelector == "" {
		return false, nil
	}
	node, ok, err := s.sess.Find(ctx, s.site.IndexNextSelector)
	if err != nil || !ok {
		return false, err
	}
	return !session.Disabled(node), nil
}
