package crawlers

import (
	"context"
	"strings"
	"unicode"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
)

// Markers 详情页上互斥的可获取性标记
type Markers struct {
	Owned        bool   // 已拥有
	Borrowed     bool   // 订阅已借
	Subscription bool   // 可订阅借阅
	Purchase     bool   // 通用购买控件
	Price        string // 购买控件旁的价格文本
}

// Classify 由标记判定分类
// 优先级: 已拥有 > 已借 > 可借 > 购买;没有任何标记时为不可用
func Classify(m Markers) models.Classification {
	switch {
	case m.Owned:
		return models.ClassPurchaseOwned
	case m.Borrowed:
		return models.ClassSubscriptionHeld
	case m.Subscription:
		return models.ClassSubscriptionAvailable
	case m.Purchase:
		return models.ClassPurchaseAvailable
	default:
		return models.ClassUnavailable
	}
}

// IsZeroPrice 价格文本是否表示零费用
// 至少包含一个数字且所有数字都是0
func IsZeroPrice(price string) bool {
	digits := 0
	for _, r := range price {
		if !unicode.IsDigit(r) {
			continue
		}
		if r != '0' {
			return false
		}
		digits++
	}
	return digits > 0
}

// ProbeMarkers 在当前页面上探测标记
// 标记缺失是正常结果,不视为错误
func ProbeMarkers(ctx context.Context, sess session.Session, site *models.SiteProfile) (Markers, error) {
	var m Markers
	probes := []struct {
		selector string
		dst      *bool
	}{
		{site.OwnedSelector, &m.Owned},
		{site.BorrowedSelector, &m.Borrowed},
		{site.SubscriptionSelector, &m.Subscription},
		{site.PurchaseSelector, &m.Purchase},
	}
	for _, p := range probes {
		ok, err := session.Present(ctx, sess, p.selector)
		if err != nil {
			return Markers{}, err
		}
		*p.dst = ok
	}

	if m.Purchase && site.PriceSelector != "" {
		node, ok, err := sess.Find(ctx, site.PriceSelector)
		if err != nil {
			return Markers{}, err
		}
		if ok {
			text, err := node.Text()
			if err != nil {
				return Markers{}, err
			}
			m.Price = strings.TrimSpace(text)
		}
	}
	return m, nil
}
