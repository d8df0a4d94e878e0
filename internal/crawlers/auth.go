package crawlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// Authenticator 在会话上完成登录
type Authenticator interface {
	Authenticate(ctx context.Context, sess session.Session) error
}

// SignedOut 会话是否已被踢回登录页
func SignedOut(ctx context.Context, sess session.Session, cfg *models.AuthConfig) (bool, error) {
	if cfg == nil {
		return false, nil
	}
	if cfg.SignInURLFragment != "" {
		u, err := sess.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		if strings.Contains(u, cfg.SignInURLFragment) {
			return true, nil
		}
	}
	return session.Present(ctx, sess, cfg.SignInMarker)
}

// FormAuthenticator 通过登录表单认证
type FormAuthenticator struct {
	cfg      *models.AuthConfig
	attempts int
	delay    time.Duration
	settle   time.Duration
}

// NewFormAuthenticator 创建表单认证器
func NewFormAuthenticator(cfg *models.AuthConfig, attempts int, delay, settle time.Duration) *FormAuthenticator {
	return &FormAuthenticator{cfg: cfg, attempts: attempts, delay: delay, settle: settle}
}

// Authenticate 填写并提交登录表单
// 提交后仍停留在登录页视为失败
func (a *FormAuthenticator) Authenticate(ctx context.Context, sess session.Session) error {
	if !a.cfg.HasCredentials() {
		return fmt.Errorf("%w: 未配置登录凭据", ErrDeauthenticated)
	}

	if a.cfg.SignInURL != "" {
		if err := sess.Navigate(ctx, a.cfg.SignInURL); err != nil {
			return fmt.Errorf("打开登录页失败: %w", err)
		}
	}

	email, err := session.WaitFor(ctx, sess, a.cfg.EmailSelector, a.attempts, a.delay)
	if err != nil {
		return fmt.Errorf("等待邮箱输入框: %w", err)
	}
	if err := email.Input(a.cfg.Email); err != nil {
		return err
	}

	// 部分站点分两步提交,密码框在第一次提交后才出现
	if ok, _ := session.Present(ctx, sess, a.cfg.PasswordSelector); !ok && a.cfg.PasswordSelector != "" {
		if err := a.submit(ctx, sess); err != nil {
			return err
		}
	}
	if a.cfg.PasswordSelector != "" {
		pw, err := session.WaitFor(ctx, sess, a.cfg.PasswordSelector, a.attempts, a.delay)
		if err != nil {
			return fmt.Errorf("等待密码输入框: %w", err)
		}
		if err := pw.Input(a.cfg.Password); err != nil {
			return err
		}
	}
	if err := a.submit(ctx, sess); err != nil {
		return err
	}

	out, err := SignedOut(ctx, sess, a.cfg)
	if err != nil {
		return err
	}
	if out {
		return fmt.Errorf("%w: 提交后仍在登录页", ErrDeauthenticated)
	}
	utils.Infof("登录成功: %s", utils.NewHeaderRedactor().RedactEmail(a.cfg.Email))
	return nil
}

func (a *FormAuthenticator) submit(ctx context.Context, sess session.Session) error {
	btn, err := session.WaitFor(ctx, sess, a.cfg.SubmitSelector, a.attempts, a.delay)
	if err != nil {
		return fmt.Errorf("等待登录按钮: %w", err)
	}
	if err := btn.Click(); err != nil {
		return err
	}
	return session.Settle(ctx, a.settle)
}
