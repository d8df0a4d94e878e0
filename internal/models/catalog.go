package models

import (
	"fmt"
	"time"
)

// DefaultStalenessWindow 不可用分类的默认有效期
const DefaultStalenessWindow = 7 * 24 * time.Hour

// Classification 条目可获取性分类
type Classification string

const (
	ClassUnavailable           Classification = "UNAVAILABLE"
	ClassSubscriptionAvailable Classification = "SUBSCRIPTION_AVAILABLE"
	ClassSubscriptionHeld      Classification = "SUBSCRIPTION_HELD"
	ClassPurchaseAvailable     Classification = "PURCHASE_AVAILABLE"
	ClassPurchaseOwned         Classification = "PURCHASE_OWNED"
)

// ParseClassification 从字符串解析分类
func ParseClassification(s string) (Classification, error) {
	c := Classification(s)
	switch c {
	case ClassUnavailable, ClassSubscriptionAvailable, ClassSubscriptionHeld,
		ClassPurchaseAvailable, ClassPurchaseOwned:
		return c, nil
	}
	return "", fmt.Errorf("未知的分类: %q", s)
}

// NeedsRelease 订阅借阅的条目处理完必须归还
func (c Classification) NeedsRelease() bool {
	return c == ClassSubscriptionAvailable || c == ClassSubscriptionHeld
}

// NeedsAcquire 需要执行获取动作的分类
func (c Classification) NeedsAcquire() bool {
	return c == ClassSubscriptionAvailable || c == ClassPurchaseAvailable
}

// CatalogEntry 目录记录
// 以AssetID为键upsert,从不删除
type CatalogEntry struct {
	AssetID        string         `json:"asset_id"`
	ItemID         string         `json:"item_id"`
	Title          string         `json:"title,omitempty"`
	Classification Classification `json:"classification"`
	Price          *string        `json:"price,omitempty"`
	LastCheckedAt  time.Time      `json:"last_checked_at"`
}

// FreshlyUnavailable 分类为不可用且仍在有效期内
func (e *CatalogEntry) FreshlyUnavailable(now time.Time, window time.Duration) bool {
	if e == nil || e.Classification != ClassUnavailable {
		return false
	}
	return now.Sub(e.LastCheckedAt) < window
}

// ExtractionStatus 提取状态
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionSkipped ExtractionStatus = "skipped"
	ExtractionFailed  ExtractionStatus = "failed"
)

// ExtractionRecord 每个条目的提取状态记录
type ExtractionRecord struct {
	ItemID    string           `json:"item_id"`
	AssetID   string           `json:"asset_id"`
	Status    ExtractionStatus `json:"status"`
	Fragments int              `json:"fragments"`
	Assets    int              `json:"assets"`
	UpdatedAt time.Time        `json:"updated_at"`
}
