package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session/sessiontest"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) { return http.Header(h), nil }

const indexHTML = `<html><body>
<ul>
  <li class="item" data-id="B01" data-asset="A01"><a class="link" href="/dp/B01">一</a></li>
  <li class="item"><a class="link" href="/dp/B02?ref=lib">二</a></li>
  <li class="item"></li>
</ul>
%s
</body></html>`

func TestStaticIndexSource_FetchPage(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprintf(w, indexHTML, `<a class="next" href="?page=2">下一页</a>`)
		case "2":
			fmt.Fprintf(w, indexHTML, `<a class="next" aria-disabled="true">下一页</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	site := &models.SiteProfile{
		IndexURL:          srv.URL + "/library?page=%d",
		IndexItemSelector: ".item",
		IndexItemIDAttr:   "data-id",
		IndexAssetIDAttr:  "data-asset",
		IndexLinkSelector: ".link",
		IndexNextSelector: ".next",
	}
	src := NewStaticIndexSource(site, staticHeaders{"Cookie": {"session=abc"}}, 5*time.Second, false)

	page, err := src.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, page.HasNext)
	assert.Equal(t, "session=abc", gotCookie)
	require.Len(t, page.Entries, 2, "没有标识也没有链接的条目应被忽略")

	assert.Equal(t, "B01", page.Entries[0].ItemID)
	assert.Equal(t, "A01", page.Entries[0].KnownAssetID)
	assert.Equal(t, []string{srv.URL + "/dp/B01"}, page.Entries[0].CandidateURLs)
	assert.Equal(t, "B02", page.Entries[1].ItemID)

	page, err = src.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, page.HasNext, "禁用的下一页标记视为末页")

	_, err = src.FetchPage(context.Background(), 3)
	assert.Error(t, err)
}

func TestStaticIndexSource_TLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, indexHTML, "")
	}))
	defer srv.Close()

	site := &models.SiteProfile{
		IndexURL:          srv.URL + "/library?page=%d",
		IndexItemSelector: ".item",
		IndexItemIDAttr:   "data-id",
	}

	_, err := NewStaticIndexSource(site, nil, 5*time.Second, false).FetchPage(context.Background(), 1)
	assert.Error(t, err, "默认应拒绝自签名证书")

	page, err := NewStaticIndexSource(site, nil, 5*time.Second, true).FetchPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
}

func TestRenderedIndexSource_FetchPage(t *testing.T) {
	ctx := context.Background()
	site := &models.SiteProfile{
		IndexURL:          "https://shop.example.com/library?page=%d",
		ItemURLTemplates:  []string{"https://shop.example.com/dp/%s"},
		IndexItemSelector: ".item",
		IndexItemIDAttr:   "data-id",
		IndexLinkSelector: ".link",
		IndexNextSelector: ".next",
	}
	fake := sessiontest.New()

	withLink := sessiontest.El("li", nil)
	withLink.Scoped = map[string]*sessiontest.Node{".link": sessiontest.El("a", map[string]string{"href": "/gp/B02"})}
	fake.Static("https://shop.example.com/library?page=1", map[string][]*sessiontest.Node{
		".item": {sessiontest.El("li", map[string]string{"data-id": "B01"}), withLink},
		".next": {sessiontest.El("a", nil)},
	})
	fake.Static("https://shop.example.com/library?page=2", map[string][]*sessiontest.Node{})
	fake.Static("https://shop.example.com/library?page=3", map[string][]*sessiontest.Node{
		".next": {sessiontest.El("a", nil)},
	})

	src := NewRenderedIndexSource(fake, site, 2, time.Millisecond)

	page, err := src.FetchPage(ctx, 1)
	require.NoError(t, err)
	assert.True(t, page.HasNext)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, []string{"https://shop.example.com/dp/B01"}, page.Entries[0].CandidateURLs)
	assert.Equal(t, "B02", page.Entries[1].ItemID)
	assert.Equal(t, []string{"https://shop.example.com/dp/B02", "https://shop.example.com/gp/B02"}, page.Entries[1].CandidateURLs)

	t.Run("空页且没有下一页为末页", func(t *testing.T) {
		page, err := src.FetchPage(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, page.Entries)
		assert.False(t, page.HasNext)
	})

	t.Run("空页但存在下一页视为失败", func(t *testing.T) {
		_, err := src.FetchPage(ctx, 3)
		assert.Error(t, err)
	})
}
