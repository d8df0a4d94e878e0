package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

const (
	// DefaultFallbackIDLength 由src派生标识时保留的字符数
	DefaultFallbackIDLength = 20

	// maxFrameDepth iframe嵌套上限
	maxFrameDepth = 5
)

// DefaultFormattingTags 视为"格式化"的子节点标签
// 子节点全部属于该集合时,父节点作为叶子整体提取
var DefaultFormattingTags = []string{
	"a", "abbr", "b", "bdi", "bdo", "br", "cite", "code", "em", "font", "i", "img",
	"kbd", "mark", "q", "rp", "rt", "ruby", "s", "small", "span", "strong", "sub",
	"sup", "u", "wbr",
}

var bgURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// Options 提取引擎参数
type Options struct {
	ItemID           string   // 用于错误上报
	FormattingTags   []string // 为空时使用DefaultFormattingTags
	IDAttribute      string   // 稳定标识属性,默认 "id"
	FallbackIDLength int      // 默认20
	SourceFolder     string   // 资源写入目录
}

// extractionContext 一层文档(顶层或iframe)的提取上下文
type extractionContext struct {
	sess    session.Session
	parent  *extractionContext
	baseURL string
	depth   int
}

type workItem struct {
	node session.Node
	ec   *extractionContext
}

// Engine 内容提取引擎
// 一个Engine对应一个条目的一次提取会话,多次Extract调用共享去重集合
type Engine struct {
	opts       Options
	formatting map[string]bool
	seen       map[string]bool
	result     *models.ExtractionResult
	assets     []models.AssetRef
}

// NewEngine 创建提取引擎
func NewEngine(opts Options) *Engine {
	if opts.IDAttribute == "" {
		opts.IDAttribute = "id"
	}
	if opts.FallbackIDLength <= 0 {
		opts.FallbackIDLength = DefaultFallbackIDLength
	}
	tags := opts.FormattingTags
	if len(tags) == 0 {
		tags = DefaultFormattingTags
	}
	formatting := make(map[string]bool, len(tags))
	for _, t := range tags {
		formatting[strings.ToLower(t)] = true
	}

	return &Engine{
		opts:       opts,
		formatting: formatting,
		seen:       make(map[string]bool),
		result:     models.NewExtractionResult(),
	}
}

// Result 当前提取结果(捕获顺序)
func (e *Engine) Result() *models.ExtractionResult {
	return e.result
}

// Assets 本次会话登记的资源
func (e *Engine) Assets() []models.AssetRef {
	return e.assets
}

// Seen 标识是否已捕获
func (e *Engine) Seen(id string) bool {
	return e.seen[id]
}

// Extract 提取root子树
// 使用显式的工作栈,iframe进入时压入新的上下文
func (e *Engine) Extract(ctx context.Context, sess session.Session, root session.Node) error {
	base, err := sess.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("读取页面地址失败: %w", err)
	}
	top := &extractionContext{sess: sess, baseURL: base}

	stack := []workItem{{node: root, ec: top}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pushed, err := e.visit(ctx, it)
		if err != nil {
			return err
		}
		// 逆序压栈,保证按文档顺序出栈
		for i := len(pushed) - 1; i >= 0; i-- {
			stack = append(stack, pushed[i])
		}
	}
	return nil
}

// visit 处理一个节点,返回需要继续遍历的子项
func (e *Engine) visit(ctx context.Context, it workItem) ([]workItem, error) {
	visible, err := isVisible(it.node)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, nil
	}

	kids, err := it.node.Children()
	if err != nil {
		return nil, fmt.Errorf("读取子节点失败: %w", err)
	}

	leaf, err := e.isLeaf(kids)
	if err != nil {
		return nil, err
	}
	if !leaf {
		items := make([]workItem, 0, len(kids))
		for _, k := range kids {
			items = append(items, workItem{node: k, ec: it.ec})
		}
		return items, nil
	}

	return e.leaf(ctx, it)
}

func isVisible(n session.Node) (bool, error) {
	visibility, err := n.ComputedStyle("visibility")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(visibility) == "hidden" {
		return false, nil
	}
	display, err := n.ComputedStyle("display")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(display) != "none", nil
}

func (e *Engine) isLeaf(kids []session.Node) (bool, error) {
	for _, k := range kids {
		tag, err := k.Tag()
		if err != nil {
			return false, err
		}
		if !e.formatting[strings.ToLower(tag)] {
			return false, nil
		}
	}
	return true, nil
}

// leaf 叶子节点按优先级处理: style -> iframe -> img -> 背景图 -> 文本
func (e *Engine) leaf(ctx context.Context, it workItem) ([]workItem, error) {
	tag, err := it.node.Tag()
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(tag) {
	case "style", "script":
		return nil, nil
	case "iframe", "frame":
		return e.enterFrame(ctx, it)
	case "img":
		src, _, err := it.node.Attribute("src")
		if err != nil {
			return nil, err
		}
		return nil, e.image(it, src, "")
	}

	bg, err := it.node.ComputedStyle("background-image")
	if err != nil {
		return nil, err
	}
	if ref := backgroundURL(bg); ref != "" {
		return nil, e.image(it, ref, "bg-")
	}

	return nil, e.text(it)
}

func (e *Engine) enterFrame(ctx context.Context, it workItem) ([]workItem, error) {
	if it.ec.depth >= maxFrameDepth {
		utils.Warnf("iframe嵌套超过%d层,跳过 [%s]", maxFrameDepth, e.opts.ItemID)
		return nil, nil
	}

	fs, err := it.node.Frame()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	body, ok, err := fs.Find(ctx, "body")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	base, err := fs.CurrentURL(ctx)
	if err != nil {
		utils.Debugf("读取iframe地址失败,沿用上层地址 [%s]: %v", e.opts.ItemID, err)
	}
	if base == "" || base == "about:blank" {
		base = it.ec.baseURL
	}
	child := &extractionContext{sess: fs, parent: it.ec, baseURL: base, depth: it.ec.depth + 1}
	return []workItem{{node: body, ec: child}}, nil
}

// image 登记图片资源;节点带有效键时同时生成图片片段
func (e *Engine) image(it workItem, ref, idPrefix string) error {
	nodeID, _, err := it.node.Attribute(e.opts.IDAttribute)
	if err != nil {
		return err
	}

	identifier := nodeID
	if identifier == "" || (idPrefix == "" && !IsKey(identifier)) {
		identifier = FallbackID(ref, e.opts.FallbackIDLength)
	}
	identifier = idPrefix + identifier
	if identifier == idPrefix || e.seen[identifier] {
		return nil
	}
	e.seen[identifier] = true
	e.result.Images[identifier] = ref

	asset := models.AssetRef{
		URL:          resolveURL(it.ec.baseURL, ref),
		SourceFolder: e.opts.SourceFolder,
		Identifier:   identifier,
	}
	if downloadable(asset.URL) {
		e.assets = append(e.assets, asset)
	} else {
		utils.Debugf("跳过不可下载的图片引用 [%s]: %.40s", e.opts.ItemID, ref)
	}

	if IsKey(nodeID) {
		a := asset
		e.result.Fragments = append(e.result.Fragments, models.ContentFragment{Key: nodeID, Image: &a})
	}
	return nil
}

func (e *Engine) text(it workItem) error {
	html, err := it.node.InnerHTML()
	if err != nil {
		return err
	}
	text := MarkupToText(html)
	if text == "" {
		return nil
	}

	id, _, err := it.node.Attribute(e.opts.IDAttribute)
	if err != nil {
		return err
	}
	if !IsKey(id) {
		return &models.DataIntegrityError{
			ItemID:  e.opts.ItemID,
			NodeID:  id,
			Excerpt: excerpt(text, 40),
			Cause:   ErrMalformedKey,
		}
	}
	if e.seen[id] {
		return nil
	}
	e.seen[id] = true
	e.result.Fragments = append(e.result.Fragments, models.ContentFragment{Key: id, Text: text})
	return nil
}

// FallbackID 由图片引用派生标识: 去除标点后取最后n个字符
func FallbackID(ref string, n int) string {
	var b strings.Builder
	for _, r := range ref {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := []rune(b.String())
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return string(s)
}

func backgroundURL(style string) string {
	if style == "" || style == "none" {
		return ""
	}
	m := bgURLPattern.FindStringSubmatch(style)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func resolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return b.ResolveReference(r).String()
}

func downloadable(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
