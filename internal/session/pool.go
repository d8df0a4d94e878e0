package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// dirtyThreshold 连续失败达到该次数后会话被视为"脏",应替换
const dirtyThreshold = 3

// Health 会话健康状态
type Health struct {
	ConsecutiveFailures int
	LastSuccessTime     time.Time
	IsDirty             bool
}

// Pool 会话池
// 为每个worker打开一个独占的标签页,跟踪健康状态并在崩溃后替换
type Pool struct {
	browser *rod.Browser
	monitor *ResourceMonitor
	headers http.Header
	timeout time.Duration

	mu       sync.Mutex
	sessions map[*RodSession]*Health
	closed   bool
}

// NewPool 创建会话池
func NewPool(browser *rod.Browser, monitor *ResourceMonitor, headers http.Header, timeout time.Duration) *Pool {
	return &Pool{
		browser:  browser,
		monitor:  monitor,
		headers:  headers,
		timeout:  timeout,
		sessions: make(map[*RodSession]*Health),
	}
}

// Open 打开一个新会话
// 资源不足时仍保证至少有一个会话
func (p *Pool) Open(ctx context.Context) (*RodSession, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("会话池已关闭")
	}
	current := len(p.sessions)
	p.mu.Unlock()

	if current > 0 && p.monitor != nil {
		if ok, reason := p.monitor.CheckResourceAvailability(); !ok {
			return nil, fmt.Errorf("资源不足,无法创建新会话: %s", reason)
		}
	}

	page, err := p.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		log.Error().Err(err).Msg("创建标签页失败,浏览器可能已崩溃")
		return nil, fmt.Errorf("%w: 创建标签页失败: %v", ErrBrowserCrashed, err)
	}
	// 标签页不应继承Open的ctx,否则ctx结束后页面不可用
	page = page.Context(context.Background())

	if len(p.headers) > 0 {
		dict := make([]string, 0, len(p.headers)*2)
		for name, values := range p.headers {
			if len(values) > 0 && name != "Accept-Encoding" {
				dict = append(dict, name, values[0])
			}
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			log.Warn().Err(err).Msg("设置额外请求头失败")
		}
	}

	s := NewRodSession(page, p.timeout)

	p.mu.Lock()
	p.sessions[s] = &Health{LastSuccessTime: time.Now()}
	size := len(p.sessions)
	p.mu.Unlock()

	log.Debug().Msgf("打开会话 %s,当前会话数: %d", s.ID, size)
	return s, nil
}

// MarkSuccess 记录一次成功
func (p *Pool) MarkSuccess(s *RodSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.sessions[s]; ok {
		h.ConsecutiveFailures = 0
		h.LastSuccessTime = time.Now()
		h.IsDirty = false
	}
}

// MarkFailure 记录一次失败,返回会话是否已变"脏"
func (p *Pool) MarkFailure(s *RodSession) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.sessions[s]
	if !ok {
		return true
	}
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= dirtyThreshold {
		h.IsDirty = true
		log.Warn().Msgf("会话 %s 连续失败%d次,标记为脏", s.ID, h.ConsecutiveFailures)
	}
	return h.IsDirty
}

// Replace 销毁旧会话并打开新会话
func (p *Pool) Replace(ctx context.Context, old *RodSession) (*RodSession, error) {
	p.Release(old)
	return p.Open(ctx)
}

// Release 关闭会话
func (p *Pool) Release(s *RodSession) {
	if s == nil {
		return
	}

	p.mu.Lock()
	delete(p.sessions, s)
	size := len(p.sessions)
	p.mu.Unlock()

	if err := s.page.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭标签页失败")
	}
	log.Debug().Msgf("关闭会话 %s,当前会话数: %d", s.ID, size)
}

// Size 当前会话数
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close 关闭所有会话
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	for s := range p.sessions {
		if err := s.page.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭标签页失败")
		}
	}
	p.sessions = make(map[*RodSession]*Health)
	p.closed = true

	log.Info().Msg("会话池已关闭")
	return nil
}

// Lease 一个worker独占的会话租约
// 崩溃或连续失败后通过Renew换成新会话,worker始终只持有一个会话
type Lease struct {
	pool    *Pool
	mu      sync.Mutex
	current *RodSession
}

// Lease 打开会话并包装为租约
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	s, err := p.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{pool: p, current: s}, nil
}

// Session 当前会话
func (l *Lease) Session() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	return l.current
}

// Succeeded 记录一次成功
func (l *Lease) Succeeded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.pool.MarkSuccess(l.current)
	}
}

// Failed 记录一次失败,返回会话是否应替换
func (l *Lease) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return true
	}
	return l.pool.MarkFailure(l.current)
}

// Renew 替换为新会话
func (l *Lease) Renew(ctx context.Context) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.pool.Replace(ctx, l.current)
	if err != nil {
		l.current = nil
		return nil, err
	}
	l.current = s
	return s, nil
}

// Close 归还会话
func (l *Lease) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.Release(l.current)
	l.current = nil
}
