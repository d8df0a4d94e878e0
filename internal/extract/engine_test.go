package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session/sessiontest"
)

const readerURL = "https://reader.example.com/book/B001"

func newReader(t *testing.T) *sessiontest.Fake {
	t.Helper()
	fake := sessiontest.New()
	require.NoError(t, fake.Navigate(context.Background(), readerURL))
	return fake
}

func texts(r *models.ExtractionResult) []string {
	out := make([]string, 0, len(r.Fragments))
	for _, f := range r.Fragments {
		out = append(out, f.Line())
	}
	return out
}

func TestEngine_LeafRule(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)

	// p 的子节点全部是格式化标签 -> 叶子
	p := sessiontest.El("p", map[string]string{"id": "c:1"},
		sessiontest.El("i", nil), sessiontest.El("br", nil))
	p.HTML = "<i>Hello</i><br>World"

	// div 含有一个非格式化子节点 -> 递归
	div := sessiontest.El("div", map[string]string{"id": "c:0"},
		sessiontest.Leaf("p", "c:2", "第二段"),
		sessiontest.El("span", nil),
	)
	div.HTML = "不应被整体提取"
	div.Kids[1].HTML = "<b>span</b>"
	div.Kids[1].Attrs["id"] = "c:3"

	root := sessiontest.El("section", nil, p, div)

	e := NewEngine(Options{ItemID: "B001"})
	require.NoError(t, e.Extract(ctx, fake, root))

	assert.Equal(t, []string{"Hello\nWorld", "第二段", "span"}, texts(e.Result()))
	assert.False(t, e.Seen("c:0"))
}

func TestEngine_Dedup(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)
	root := sessiontest.El("div", nil,
		sessiontest.Leaf("p", "c:1", "一"),
		sessiontest.Leaf("p", "c:2", "二"),
	)

	e := NewEngine(Options{})
	require.NoError(t, e.Extract(ctx, fake, root))
	require.NoError(t, e.Extract(ctx, fake, root))

	assert.Len(t, e.Result().Fragments, 2)
}

func TestEngine_Hidden(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)

	hidden := sessiontest.Leaf("p", "c:1", "隐藏")
	hidden.Styles["visibility"] = "hidden"
	none := sessiontest.El("div", nil, sessiontest.Leaf("p", "c:2", "不显示"), sessiontest.El("div", nil))
	none.Styles["display"] = "none"
	// 隐藏节点即使id无效也不应报错
	bad := sessiontest.Leaf("p", "broken", "x")
	bad.Styles["display"] = "none"

	root := sessiontest.El("div", nil, hidden, none, bad, sessiontest.Leaf("p", "c:3", "可见"))

	e := NewEngine(Options{})
	require.NoError(t, e.Extract(ctx, fake, root))
	assert.Equal(t, []string{"可见"}, texts(e.Result()))
}

func TestEngine_StyleAndEmpty(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)
	style := sessiontest.Leaf("style", "", ".x{color:red}")
	empty := sessiontest.Leaf("p", "", "<b> </b>")

	e := NewEngine(Options{})
	require.NoError(t, e.Extract(ctx, fake, sessiontest.El("div", nil, style, empty, sessiontest.El("div", nil))))
	assert.Empty(t, e.Result().Fragments)
}

func TestEngine_DataIntegrity(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)
	root := sessiontest.El("div", nil,
		sessiontest.Leaf("p", "c:1", "正常"),
		sessiontest.Leaf("p", "legacy-7", "异常段落"),
	)

	e := NewEngine(Options{ItemID: "B001"})
	err := e.Extract(ctx, fake, root)
	require.Error(t, err)

	var die *models.DataIntegrityError
	require.True(t, errors.As(err, &die))
	assert.Equal(t, "B001", die.ItemID)
	assert.Equal(t, "legacy-7", die.NodeID)
	assert.True(t, errors.Is(err, ErrMalformedKey))
}

func TestEngine_Images(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)

	keyed := sessiontest.El("img", map[string]string{"id": "c:5", "src": "/img/cover.png"})
	anon := sessiontest.El("img", map[string]string{"src": "https://cdn.example.com/a/b/pic-0001.jpg?x=1"})
	bg := sessiontest.El("div", map[string]string{"id": "c:6"})
	bg.Styles["background-image"] = `url("https://cdn.example.com/bg.png")`
	inline := sessiontest.El("img", map[string]string{"src": "data:image/png;base64,AAAA"})

	root := sessiontest.El("div", nil,
		sessiontest.El("figure", nil, keyed, sessiontest.El("figcaption", nil)),
		sessiontest.El("div", nil, anon, sessiontest.El("div", nil)),
		bg,
		sessiontest.El("div", nil, inline, sessiontest.El("div", nil)),
	)

	e := NewEngine(Options{SourceFolder: "/out/B001", FallbackIDLength: 8})
	require.NoError(t, e.Extract(ctx, fake, root))

	res := e.Result()
	assert.Equal(t, "/img/cover.png", res.Images["c:5"])
	assert.Equal(t, "https://cdn.example.com/a/b/pic-0001.jpg?x=1", res.Images["001jpgx1"])
	assert.Contains(t, res.Images, "bg-c:6")

	urls := make([]string, 0)
	for _, a := range e.Assets() {
		urls = append(urls, a.URL)
		assert.Equal(t, "/out/B001", a.SourceFolder)
	}
	assert.ElementsMatch(t, []string{
		"https://reader.example.com/img/cover.png",
		"https://cdn.example.com/a/b/pic-0001.jpg?x=1",
		"https://cdn.example.com/bg.png",
	}, urls)

	// 只有带有效键的图片进入片段序列
	assert.Equal(t, []string{"[image:c:5]", "[image:bg-c:6]"}, texts(res))
}

func TestEngine_Frame(t *testing.T) {
	ctx := context.Background()
	fake := newReader(t)

	inner := sessiontest.New()
	innerURL := "https://reader.example.com/frame/1"
	body := sessiontest.El("body", nil,
		sessiontest.Leaf("p", "f:1", "框架内文本"),
		sessiontest.El("img", map[string]string{"id": "f:2", "src": "pic.gif"}),
	)
	inner.Static(innerURL, map[string][]*sessiontest.Node{"body": {body}})
	require.NoError(t, inner.Navigate(ctx, innerURL))

	frame := sessiontest.El("iframe", nil)
	frame.FrameDoc = inner
	// 没有内容文档的iframe被跳过
	dead := sessiontest.El("iframe", nil)

	root := sessiontest.El("div", nil,
		sessiontest.Leaf("p", "c:1", "框架前"),
		frame,
		dead,
		sessiontest.Leaf("p", "c:2", "框架后"),
	)

	e := NewEngine(Options{})
	require.NoError(t, e.Extract(ctx, fake, root))

	assert.Equal(t, []string{"框架前", "框架内文本", "[image:f:2]", "框架后"}, texts(e.Result()))
	require.Len(t, e.Assets(), 1)
	assert.Equal(t, "https://reader.example.com/frame/pic.gif", e.Assets()[0].URL)
}

// brokenURL 读取地址失败的会话
type brokenURL struct {
	*sessiontest.Fake
}

func (b brokenURL) CurrentURL(ctx context.Context) (string, error) {
	return "", session.ErrBrowserCrashed
}

func TestEngine_CurrentURLError(t *testing.T) {
	ctx := context.Background()

	t.Run("顶层会话失败时不提取", func(t *testing.T) {
		e := NewEngine(Options{})
		root := sessiontest.El("div", nil,
			sessiontest.El("img", map[string]string{"id": "c:1", "src": "pic.gif"}))

		err := e.Extract(ctx, brokenURL{newReader(t)}, root)
		assert.ErrorIs(t, err, session.ErrBrowserCrashed)
		assert.Empty(t, e.Assets(), "不应按空地址解析图片")
	})

	t.Run("iframe地址不可读时沿用上层地址", func(t *testing.T) {
		inner := sessiontest.New()
		inner.Static("", map[string][]*sessiontest.Node{"body": {sessiontest.El("body", nil,
			sessiontest.El("img", map[string]string{"id": "f:1", "src": "pic.gif"}))}})
		frame := sessiontest.El("iframe", nil)
		frame.FrameDoc = brokenURL{inner}

		e := NewEngine(Options{})
		require.NoError(t, e.Extract(ctx, newReader(t), sessiontest.El("div", nil, frame)))
		require.Len(t, e.Assets(), 1)
		assert.Equal(t, "https://reader.example.com/book/pic.gif", e.Assets()[0].URL)
	})
}

func TestEngine_Cancelled(t *testing.T) {
	fake := newReader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(Options{})
	err := e.Extract(ctx, fake, sessiontest.Leaf("p", "c:1", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackID(t *testing.T) {
	assert.Equal(t, "abc123", FallbackID("a-b/c.1_2:3", 20))
	assert.Equal(t, "0123", FallbackID("https://x/9-0123", 4))
	assert.Equal(t, "", FallbackID("///", 4))
}
