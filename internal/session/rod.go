package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// DefaultOpTimeout 单次会话操作的默认超时
const DefaultOpTimeout = 15 * time.Second

// RodSession 基于go-rod页面的会话实现
type RodSession struct {
	ID      string
	page    *rod.Page
	timeout time.Duration
}

// NewRodSession 包装一个rod页面
func NewRodSession(page *rod.Page, timeout time.Duration) *RodSession {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &RodSession{
		ID:      uuid.New().String()[:8],
		page:    page,
		timeout: timeout,
	}
}

// Navigate 导航并等待load事件
func (s *RodSession) Navigate(ctx context.Context, url string) (err error) {
	defer recoverCrash(&err)

	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return mapErr(fmt.Errorf("导航失败 [%s]: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return mapErr(fmt.Errorf("等待页面加载失败 [%s]: %w", url, err))
	}
	return nil
}

// Find 查询单个元素
func (s *RodSession) Find(ctx context.Context, selector string) (node Node, ok bool, err error) {
	defer recoverCrash(&err)

	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()

	has, el, err := p.Has(selector)
	if err != nil {
		return nil, false, mapErr(err)
	}
	if !has {
		return nil, false, nil
	}
	return &rodNode{el: el, timeout: s.timeout}, true, nil
}

// FindAll 查询所有匹配元素
func (s *RodSession) FindAll(ctx context.Context, selector string) (nodes []Node, err error) {
	defer recoverCrash(&err)

	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()

	els, err := p.Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapElements(els, s.timeout), nil
}

// SetViewport 设置视口
func (s *RodSession) SetViewport(width, height int) error {
	err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	return mapErr(err)
}

// CurrentURL 当前地址 (iframe会话返回frame文档地址)
func (s *RodSession) CurrentURL(ctx context.Context) (u string, err error) {
	defer recoverCrash(&err)

	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()

	obj, err := p.Eval(`() => location.href`)
	if err != nil {
		return "", mapErr(err)
	}
	return obj.Value.Str(), nil
}

// rodNode 基于rod元素的节点
type rodNode struct {
	el      *rod.Element
	timeout time.Duration
}

func (n *rodNode) scoped() *rod.Element {
	return n.el.Timeout(n.timeout)
}

func (n *rodNode) eval(js string, args ...interface{}) (string, error) {
	e := n.scoped()
	defer e.CancelTimeout()

	obj, err := e.Eval(js, args...)
	if err != nil {
		return "", mapErr(err)
	}
	return obj.Value.Str(), nil
}

func (n *rodNode) Tag() (string, error) {
	return n.eval(`() => this.tagName.toLowerCase()`)
}

func (n *rodNode) Attribute(name string) (string, bool, error) {
	e := n.scoped()
	defer e.CancelTimeout()

	v, err := e.Attribute(name)
	if err != nil {
		return "", false, mapErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (n *rodNode) ComputedStyle(property string) (string, error) {
	return n.eval(`(p) => window.getComputedStyle(this).getPropertyValue(p)`, property)
}

func (n *rodNode) Children() ([]Node, error) {
	e := n.scoped()
	defer e.CancelTimeout()

	els, err := e.Elements(":scope > *")
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapElements(els, n.timeout), nil
}

func (n *rodNode) InnerHTML() (string, error) {
	return n.eval(`() => this.innerHTML`)
}

func (n *rodNode) Text() (string, error) {
	e := n.scoped()
	defer e.CancelTimeout()

	t, err := e.Text()
	return t, mapErr(err)
}

func (n *rodNode) Query(selector string) (Node, bool, error) {
	e := n.scoped()
	defer e.CancelTimeout()

	has, el, err := e.Has(selector)
	if err != nil {
		return nil, false, mapErr(err)
	}
	if !has {
		return nil, false, nil
	}
	return &rodNode{el: el, timeout: n.timeout}, true, nil
}

func (n *rodNode) Click() error {
	e := n.scoped()
	defer e.CancelTimeout()

	return mapErr(e.Click(proto.InputMouseButtonLeft, 1))
}

func (n *rodNode) Input(text string) error {
	e := n.scoped()
	defer e.CancelTimeout()

	if err := e.SelectAllText(); err != nil {
		return mapErr(err)
	}
	return mapErr(e.Input(text))
}

func (n *rodNode) Frame() (Session, error) {
	fp, err := n.el.Frame()
	if err != nil {
		return nil, mapErr(fmt.Errorf("进入iframe失败: %w", err))
	}
	return NewRodSession(fp, n.timeout), nil
}

func wrapElements(els rod.Elements, timeout time.Duration) []Node {
	nodes := make([]Node, 0, len(els))
	for _, el := range els {
		nodes = append(nodes, &rodNode{el: el, timeout: timeout})
	}
	return nodes
}

// mapErr 将rod错误映射为会话错误
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// recoverCrash rod在连接断开时可能panic,转换为ErrBrowserCrashed
func recoverCrash(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrBrowserCrashed, r)
	}
}
