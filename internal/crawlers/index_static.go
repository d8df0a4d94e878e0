package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// StaticIndexSource 直接抓取静态HTML索引页
// 适用于索引无需脚本渲染的站点,不占用浏览器会话
type StaticIndexSource struct {
	site           *models.SiteProfile
	headerProvider models.HeaderProvider
	timeout        time.Duration
	transport      http.RoundTripper
}

// NewStaticIndexSource 创建静态索引源
// insecureTLS 与资源下载共用 download.insecure_tls
func NewStaticIndexSource(site *models.SiteProfile, headerProvider models.HeaderProvider, timeout time.Duration, insecureTLS bool) *StaticIndexSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StaticIndexSource{
		site:           site,
		headerProvider: headerProvider,
		timeout:        timeout,
		transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig(insecureTLS),
		},
	}
}

// FetchPage 抓取并解析第n页
func (s *StaticIndexSource) FetchPage(ctx context.Context, n int) (IndexPage, error) {
	pageURL := s.site.IndexPageURL(n)

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)
	c.WithTransport(s.transport)

	var (
		page     IndexPage
		fetchErr error
		parsed   bool
	)

	c.OnRequest(func(r *colly.Request) {
		if s.headerProvider == nil {
			return
		}
		headers, err := s.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
			return
		}
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		parsed = true
		base := e.Request.URL.String()
		page = s.parse(e.DOM, base)
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("抓取索引页失败 [%s] (状态码=%d): %w", pageURL, r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("抓取索引页失败 [%s]: %w", pageURL, err)
	}
	if fetchErr != nil {
		return IndexPage{}, fetchErr
	}
	if !parsed {
		return IndexPage{}, fmt.Errorf("索引页不是HTML: %s", pageURL)
	}
	return page, nil
}

func (s *StaticIndexSource) parse(doc *goquery.Selection, base string) IndexPage {
	var page IndexPage

	doc.Find(s.site.IndexItemSelector).Each(func(_ int, item *goquery.Selection) {
		var id, link, assetID string
		if s.site.IndexItemIDAttr != "" {
			id = strings.TrimSpace(item.AttrOr(s.site.IndexItemIDAttr, ""))
		}
		if s.site.IndexAssetIDAttr != "" {
			assetID = strings.TrimSpace(item.AttrOr(s.site.IndexAssetIDAttr, ""))
		}
		if s.site.IndexLinkSelector != "" {
			link = strings.TrimSpace(item.Find(s.site.IndexLinkSelector).First().AttrOr("href", ""))
		}
		if entry, ok := buildEntry(s.site, base, id, link, assetID); ok {
			page.Entries = append(page.Entries, entry)
		}
	})

	if s.site.IndexNextSelector != "" {
		next := doc.Find(s.site.IndexNextSelector).First()
		_, disabled := next.Attr("disabled")
		page.HasNext = next.Length() > 0 && !disabled && next.AttrOr("aria-disabled", "") != "true"
	}
	return page
}
