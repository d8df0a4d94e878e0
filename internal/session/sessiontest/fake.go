// Package sessiontest 提供内存中的会话实现,供其他包的测试使用
package sessiontest

import (
	"context"
	"sync"

	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
)

// Lookup 根据selector返回当前页面上的节点
type Lookup func(selector string) []*Node

// Fake 内存会话
type Fake struct {
	mu        sync.Mutex
	url       string
	pages     map[string]Lookup
	navErrs   map[string]error
	Navigated []string
	Width     int
	Height    int
}

// New 创建内存会话
func New() *Fake {
	return &Fake{
		pages:   make(map[string]Lookup),
		navErrs: make(map[string]error),
	}
}

// Handle 注册url对应的页面
func (f *Fake) Handle(url string, lookup Lookup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = lookup
}

// Static 注册静态页面: selector -> 节点列表
func (f *Fake) Static(url string, page map[string][]*Node) {
	f.Handle(url, func(sel string) []*Node { return page[sel] })
}

// FailNavigate 导航到url时返回err
func (f *Fake) FailNavigate(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErrs[url] = err
}

// SetURL 模拟页面内跳转(例如被重定向到登录页)
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Navigated = append(f.Navigated, url)
	if err, ok := f.navErrs[url]; ok {
		return err
	}
	f.url = url
	return nil
}

func (f *Fake) lookup(selector string) []*Node {
	f.mu.Lock()
	page := f.pages[f.url]
	f.mu.Unlock()

	if page == nil {
		return nil
	}
	return page(selector)
}

func (f *Fake) Find(ctx context.Context, selector string) (session.Node, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	nodes := f.lookup(selector)
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return nodes[0], true, nil
}

func (f *Fake) FindAll(ctx context.Context, selector string) ([]session.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes := f.lookup(selector)
	out := make([]session.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *Fake) SetViewport(width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Width, f.Height = width, height
	return nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

// Node 内存节点
type Node struct {
	TagName  string
	Attrs    map[string]string
	Styles   map[string]string
	Kids     []*Node
	HTML     string
	Content  string
	FrameDoc session.Session
	OnClick  func() error
	Scoped   map[string]*Node

	mu     sync.Mutex
	clicks int
	inputs []string
}

// El 构造节点
func El(tag string, attrs map[string]string, kids ...*Node) *Node {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Node{TagName: tag, Attrs: attrs, Styles: map[string]string{}, Kids: kids}
}

// Leaf 构造带标记的叶子节点
func Leaf(tag, id, html string) *Node {
	n := El(tag, map[string]string{"id": id})
	n.HTML = html
	return n
}

// Clicks 点击次数
func (n *Node) Clicks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clicks
}

// Inputs 已输入的文本
func (n *Node) Inputs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.inputs...)
}

func (n *Node) Tag() (string, error) { return n.TagName, nil }

func (n *Node) Attribute(name string) (string, bool, error) {
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (n *Node) ComputedStyle(property string) (string, error) {
	return n.Styles[property], nil
}

func (n *Node) Children() ([]session.Node, error) {
	out := make([]session.Node, 0, len(n.Kids))
	for _, k := range n.Kids {
		out = append(out, k)
	}
	return out, nil
}

func (n *Node) InnerHTML() (string, error) { return n.HTML, nil }

func (n *Node) Text() (string, error) {
	if n.Content != "" {
		return n.Content, nil
	}
	return n.HTML, nil
}

func (n *Node) Query(selector string) (session.Node, bool, error) {
	if k, ok := n.Scoped[selector]; ok && k != nil {
		return k, true, nil
	}
	return nil, false, nil
}

func (n *Node) Click() error {
	n.mu.Lock()
	n.clicks++
	n.mu.Unlock()
	if n.OnClick != nil {
		return n.OnClick()
	}
	return nil
}

func (n *Node) Input(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = append(n.inputs, text)
	return nil
}

func (n *Node) Frame() (session.Session, error) {
	if n.FrameDoc == nil {
		return nil, session.ErrNotFound
	}
	return n.FrameDoc, nil
}

// Lease 始终持有同一个会话的租约
type Lease struct {
	Sess session.Session

	mu       sync.Mutex
	Succeeds int
	Fails    int
	Renewals int
}

func (l *Lease) Session() session.Session { return l.Sess }

func (l *Lease) Succeeded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Succeeds++
}

func (l *Lease) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Fails++
	return false
}

func (l *Lease) Renew(ctx context.Context) (session.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Renewals++
	return l.Sess, nil
}
