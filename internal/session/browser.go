package session

import (
	"fmt"
	"time"

	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	Headless    bool
	UserDataDir string // 非空时复用登录态
	ControlURL  string // 非空时连接已有浏览器,不启动新进程
	MaxRetries  int    // 启动失败重试次数
}

// LaunchBrowser 启动或连接浏览器,失败时按间隔重试
func LaunchBrowser(opts BrowserOptions) (*rod.Browser, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		browser, err := launchOnce(opts)
		if err == nil {
			return browser, nil
		}
		lastErr = err
		utils.Errorf("浏览器启动失败(重试%d/%d): %v", attempt, opts.MaxRetries, err)
		if attempt < opts.MaxRetries {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("浏览器启动失败,已达最大重试次数: %w", lastErr)
}

func launchOnce(opts BrowserOptions) (*rod.Browser, error) {
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		l = l.Set("ignore-certificate-errors")
		if opts.UserDataDir != "" {
			l = l.UserDataDir(opts.UserDataDir)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("启动浏览器失败: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	return browser, nil
}

// CloseBrowser 关闭浏览器,忽略已断开的连接
func CloseBrowser(browser *rod.Browser) {
	if browser == nil {
		return
	}
	if err := browser.Close(); err != nil {
		utils.Warnf("关闭浏览器失败: %v", err)
		return
	}
	utils.Debugf("浏览器已关闭")
}
