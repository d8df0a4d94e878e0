// Package session 定义渲染会话边界及其使用协议
//
// 核心组件只依赖 Session / Node 两个接口,具体的自动化引擎
// (go-rod) 由 RodSession 适配。每个 worker 独占一个 Session,
// 会话之间不共享。
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 必需的元素不存在
	ErrNotFound = errors.New("元素不存在")
	// ErrTimeout 会话操作超时
	ErrTimeout = errors.New("会话操作超时")
	// ErrBrowserCrashed 浏览器崩溃或连接断开
	ErrBrowserCrashed = errors.New("浏览器崩溃")
)

// Session 单个页面的渲染会话
type Session interface {
	// Navigate 导航到url并等待页面加载
	Navigate(ctx context.Context, url string) error

	// Find 查询单个元素,不存在时返回 (nil, false, nil)
	Find(ctx context.Context, selector string) (Node, bool, error)

	// FindAll 查询所有匹配元素,不存在时返回空切片
	FindAll(ctx context.Context, selector string) ([]Node, error)

	// SetViewport 设置视口大小
	SetViewport(width, height int) error

	// CurrentURL 当前页面地址
	CurrentURL(ctx context.Context) (string, error)
}

// Node 渲染树中的一个元素
type Node interface {
	// Tag 小写标签名
	Tag() (string, error)

	// Attribute 读取属性,不存在时 ok=false
	Attribute(name string) (value string, ok bool, err error)

	// ComputedStyle 读取计算样式
	ComputedStyle(property string) (string, error)

	// Children 直接子元素
	Children() ([]Node, error)

	// InnerHTML 内部标记
	InnerHTML() (string, error)

	// Text 可见文本
	Text() (string, error)

	// Query 在子树内查询单个元素,不存在时返回 (nil, false, nil)
	Query(selector string) (Node, bool, error)

	// Click 点击元素
	Click() error

	// Input 向输入框填入文本
	Input(text string) error

	// Frame 进入iframe文档,返回以该文档为根的会话
	Frame() (Session, error)
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Retry 以固定间隔重试fn,最多attempts次
// 非瞬时错误立即返回;ctx取消时返回ctx.Err()
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return err
}

// WaitFor 等待selector出现,最多attempts次
func WaitFor(ctx context.Context, s Session, selector string, attempts int, delay time.Duration) (Node, error) {
	var node Node
	err := Retry(ctx, attempts, delay, func() error {
		n, ok, err := s.Find(ctx, selector)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Present 判断selector是否存在,空selector视为不存在
func Present(ctx context.Context, s Session, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	_, ok, err := s.Find(ctx, selector)
	return ok, err
}

// Settle 页面操作后的稳定等待
func Settle(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep 可被ctx打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Disabled 控件是否处于禁用状态
func Disabled(n Node) bool {
	if _, ok, _ := n.Attribute("disabled"); ok {
		return true
	}
	if v, ok, _ := n.Attribute("aria-disabled"); ok && v == "true" {
		return true
	}
	return false
}
