package models

import (
	"fmt"
	"strings"
)

// SiteProfile 目标站点的URL模板与选择器词汇
// 核心组件只消费这些值,不关心具体站点
type SiteProfile struct {
	// 索引页
	IndexURL          string `mapstructure:"index_url"`           // 含 %d 页码占位
	IndexItemSelector string `mapstructure:"index_item_selector"` // 每个条目的容器
	IndexItemIDAttr   string `mapstructure:"index_item_id_attr"`  // 条目标识属性
	IndexLinkSelector string `mapstructure:"index_link_selector"` // 条目内详情链接
	IndexAssetIDAttr  string `mapstructure:"index_asset_id_attr"` // 条目内资源标识属性(可选)
	IndexNextSelector string `mapstructure:"index_next_selector"` // "下一页"标记

	// 详情页
	ItemURLTemplates []string `mapstructure:"item_url_templates"` // 含 %s 条目标识占位
	LayoutSelector   string   `mapstructure:"layout_selector"`
	TitleSelector    string   `mapstructure:"title_selector"`
	AssetIDAttr      string   `mapstructure:"asset_id_attr"` // 布局节点上的资源标识属性(可选)

	// 可获取性标记
	OwnedSelector        string `mapstructure:"owned_selector"`
	BorrowedSelector     string `mapstructure:"borrowed_selector"`
	SubscriptionSelector string `mapstructure:"subscription_selector"`
	PurchaseSelector     string `mapstructure:"purchase_selector"`
	PriceSelector        string `mapstructure:"price_selector"`

	// 获取动作
	SubscriptionAcquireSelector string `mapstructure:"subscription_acquire_selector"`
	PurchaseAcquireSelector     string `mapstructure:"purchase_acquire_selector"`
	AcquiredSelector            string `mapstructure:"acquired_selector"`

	// 阅读器
	ReaderURLTemplate    string   `mapstructure:"reader_url_template"` // 含 %s 资源标识占位
	ReaderOpenSelector   string   `mapstructure:"reader_open_selector"`
	ContentRootSelector  string   `mapstructure:"content_root_selector"`
	TurnForwardSelector  string   `mapstructure:"turn_forward_selector"`
	TurnBackwardSelector string   `mapstructure:"turn_backward_selector"`
	ViewportWidth        int      `mapstructure:"viewport_width"`
	ViewportHeight       int      `mapstructure:"viewport_height"`
	ContentIDAttr        string   `mapstructure:"content_id_attr"`
	FormattingTags       []string `mapstructure:"formatting_tags"`

	// 归还
	HeldItemsURL          string `mapstructure:"held_items_url"`
	HeldRowSelector       string `mapstructure:"held_row_selector"`
	HeldTitleSelector     string `mapstructure:"held_title_selector"`
	ReturnSelector        string `mapstructure:"return_selector"`
	ReturnConfirmSelector string `mapstructure:"return_confirm_selector"`
}

// ItemURLs 根据模板生成候选详情页地址
func (p *SiteProfile) ItemURLs(itemID string) []string {
	urls := make([]string, 0, len(p.ItemURLTemplates))
	for _, tpl := range p.ItemURLTemplates {
		if strings.Contains(tpl, "%s") {
			urls = append(urls, fmt.Sprintf(tpl, itemID))
		}
	}
	return urls
}

// IndexPageURL 第n页索引地址
func (p *SiteProfile) IndexPageURL(n int) string {
	if strings.Contains(p.IndexURL, "%d") {
		return fmt.Sprintf(p.IndexURL, n)
	}
	return p.IndexURL
}

// Validate 检查必需的选择器
func (p *SiteProfile) Validate() error {
	required := map[string]string{
		"index_url":             p.IndexURL,
		"index_item_selector":   p.IndexItemSelector,
		"layout_selector":       p.LayoutSelector,
		"content_root_selector": p.ContentRootSelector,
		"turn_forward_selector": p.TurnForwardSelector,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("站点配置缺少必需项: site.%s", name)
		}
	}
	if len(p.ItemURLTemplates) == 0 && p.IndexLinkSelector == "" {
		return fmt.Errorf("站点配置必须提供 item_url_templates 或 index_link_selector")
	}
	return nil
}

// AuthConfig 登录凭据与登录页选择器
type AuthConfig struct {
	Email             string `mapstructure:"email"`
	Password          string `mapstructure:"password"`
	SignInURL         string `mapstructure:"sign_in_url"`
	SignInURLFragment string `mapstructure:"sign_in_url_fragment"` // 当前URL包含该片段即视为掉线
	SignInMarker      string `mapstructure:"sign_in_marker"`
	EmailSelector     string `mapstructure:"email_selector"`
	PasswordSelector  string `mapstructure:"password_selector"`
	SubmitSelector    string `mapstructure:"submit_selector"`
}

// HasCredentials 是否配置了凭据
func (a *AuthConfig) HasCredentials() bool {
	return a.Email != "" && a.Password != ""
}
