package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效的HTTP URL", "http://example.com", false},
		{"有效的HTTPS URL", "https://example.com", false},
		{"带路径的URL", "https://example.com/path/to/resource", false},
		{"无效的协议", "ftp://example.com", true},
		{"无效的URL", "not a url", true},
		{"空URL", "", true},
		{"无协议", "example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCrawlConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  CrawlConfig
		wantErr bool
	}{
		{
			name:    "有效配置",
			config:  CrawlConfig{Threads: 2, MaxRetries: 3, RetryDelay: time.Second, Modes: []string{"subscription", "free"}},
			wantErr: false,
		},
		{
			name:    "worker数量为0",
			config:  CrawlConfig{Threads: 0, MaxRetries: 3},
			wantErr: true,
		},
		{
			name:    "重试次数过大",
			config:  CrawlConfig{Threads: 2, MaxRetries: 11},
			wantErr: true,
		},
		{
			name:    "未知获取模式",
			config:  CrawlConfig{Threads: 2, Modes: []string{"steal"}},
			wantErr: true,
		},
		{
			name:    "未知索引模式",
			config:  CrawlConfig{Threads: 2, FrontierMode: "ftp"},
			wantErr: true,
		},
		{
			name:    "模式大小写不敏感",
			config:  CrawlConfig{Threads: 1, Modes: []string{" Owned "}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCrawlConfig_Pursues(t *testing.T) {
	cfg := CrawlConfig{Modes: []string{"subscription", "free"}}

	tests := []struct {
		name  string
		class Classification
		zero  bool
		want  bool
	}{
		{"订阅可借", ClassSubscriptionAvailable, false, true},
		{"订阅已借", ClassSubscriptionHeld, false, true},
		{"零价格购买", ClassPurchaseAvailable, true, true},
		{"付费购买", ClassPurchaseAvailable, false, false},
		{"已拥有但未选择owned", ClassPurchaseOwned, false, false},
		{"不可用", ClassUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.Pursues(tt.class, tt.zero); got != tt.want {
				t.Errorf("Pursues(%s, %v) = %v, want %v", tt.class, tt.zero, got, tt.want)
			}
		})
	}
}

func TestCrawlConfig_PursuesAllByDefault(t *testing.T) {
	var cfg CrawlConfig
	if !cfg.Pursues(ClassPurchaseOwned, false) || !cfg.Pursues(ClassSubscriptionAvailable, false) {
		t.Error("未指定模式时应追求已拥有与订阅")
	}
	if cfg.Pursues(ClassPurchaseAvailable, false) {
		t.Error("付费购买永远不应被追求")
	}
	if cfg.Pursues(ClassUnavailable, false) {
		t.Error("不可用永远不应被追求")
	}
}

func TestCrawlConfig_StalenessWindow(t *testing.T) {
	var cfg CrawlConfig
	if cfg.StalenessWindow() != DefaultStalenessWindow {
		t.Errorf("默认有效期应为7天, 实际 %v", cfg.StalenessWindow())
	}
	cfg.StalenessDays = 2
	if cfg.StalenessWindow() != 48*time.Hour {
		t.Errorf("期望48h, 实际 %v", cfg.StalenessWindow())
	}
}

func TestCatalogEntry_FreshlyUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry *CatalogEntry
		want  bool
	}{
		{"空记录", nil, false},
		{"3天前检查为不可用", &CatalogEntry{Classification: ClassUnavailable, LastCheckedAt: now.Add(-72 * time.Hour)}, true},
		{"8天前检查为不可用", &CatalogEntry{Classification: ClassUnavailable, LastCheckedAt: now.Add(-8 * 24 * time.Hour)}, false},
		{"可借阅", &CatalogEntry{Classification: ClassSubscriptionAvailable, LastCheckedAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.FreshlyUnavailable(now, DefaultStalenessWindow); got != tt.want {
				t.Errorf("FreshlyUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	for _, s := range []string{"UNAVAILABLE", "SUBSCRIPTION_AVAILABLE", "SUBSCRIPTION_HELD", "PURCHASE_AVAILABLE", "PURCHASE_OWNED"} {
		if _, err := ParseClassification(s); err != nil {
			t.Errorf("解析 %s 失败: %v", s, err)
		}
	}
	if _, err := ParseClassification("borrowed"); err == nil {
		t.Error("未知分类应返回错误")
	}
}

func TestFrontierEntry(t *testing.T) {
	t.Run("身份优先使用资源标识", func(t *testing.T) {
		e := FrontierEntry{ItemID: "item-1", KnownAssetID: "B00X"}
		if e.Identity() != "B00X" {
			t.Errorf("期望 B00X, 实际 %s", e.Identity())
		}
		e.KnownAssetID = ""
		if e.Identity() != "item-1" {
			t.Errorf("期望 item-1, 实际 %s", e.Identity())
		}
	})

	t.Run("标识不能包含换行", func(t *testing.T) {
		if err := (FrontierEntry{ItemID: "a\nb"}).Validate(); err == nil {
			t.Error("期望返回错误")
		}
		if err := (FrontierEntry{ItemID: "  "}).Validate(); err == nil {
			t.Error("空标识应返回错误")
		}
		if err := (FrontierEntry{ItemID: "B1\r"}).Validate(); err == nil {
			t.Error("回车应返回错误")
		}
		if err := (FrontierEntry{ItemID: " B1"}).Validate(); err == nil {
			t.Error("首尾空白应返回错误")
		}
	})
}

func TestContentFragment_Line(t *testing.T) {
	text := ContentFragment{Key: "a:1", Text: "hello"}
	if text.Line() != "hello" {
		t.Errorf("文本片段行 = %q", text.Line())
	}
	img := ContentFragment{Key: "a:2", Image: &AssetRef{Identifier: "cover01"}}
	if img.Line() != "[image:cover01]" {
		t.Errorf("图片片段行 = %q", img.Line())
	}
}

func TestSiteProfile(t *testing.T) {
	p := SiteProfile{
		IndexURL:         "https://shop.example.com/list?page=%d",
		ItemURLTemplates: []string{"https://shop.example.com/dp/%s", "https://shop.example.com/broken"},
	}
	if got := p.IndexPageURL(3); got != "https://shop.example.com/list?page=3" {
		t.Errorf("IndexPageURL = %s", got)
	}
	urls := p.ItemURLs("B01")
	if len(urls) != 1 || urls[0] != "https://shop.example.com/dp/B01" {
		t.Errorf("ItemURLs = %v", urls)
	}
	if err := p.Validate(); err == nil {
		t.Error("缺少选择器应验证失败")
	}
}

func TestItemError(t *testing.T) {
	cause := errors.New("磁盘已满")
	err := &ItemError{ItemID: "x", State: StatePersist, Class: ErrorProcessFatal, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("ItemError 应能解包到原因")
	}
	if !IsProcessFatal(err) {
		t.Error("应识别为进程级错误")
	}
	if IsProcessFatal(&ItemError{Class: ErrorItemFatal, Cause: cause}) {
		t.Error("条目级错误不应识别为进程级")
	}
}

func TestRunReport_JSON(t *testing.T) {
	report := RunReport{
		RunID:    NewRunID(),
		IndexURL: "https://shop.example.com/list?page=%d",
		Stats:    StatsSnapshot{Discovered: 10, Done: 7, Skipped: 2, Failed: 1},
		FailedItems: []FailedItem{
			{ItemID: "B9", State: StateAcquire, ErrorClass: ErrorItemFatal, ErrorMsg: "超时"},
		},
	}

	data, err := report.ToJSON()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}

	var decoded RunReport
	if err := decoded.FromJSON(data); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if decoded.RunID != report.RunID || decoded.Stats.Done != 7 {
		t.Error("报告字段不一致")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["failed_items"]; !ok {
		t.Error("JSON中缺少 failed_items 字段")
	}
}

func TestAssetFile_ValidateSize(t *testing.T) {
	if err := (&AssetFile{Size: 0}).ValidateSize(); err == nil {
		t.Error("大小为0应失败")
	}
	if err := (&AssetFile{Size: MaxAssetSize + 1}).ValidateSize(); err == nil {
		t.Error("超出上限应失败")
	}
	if err := (&AssetFile{Size: 1024}).ValidateSize(); err != nil {
		t.Errorf("正常大小不应失败: %v", err)
	}
	if !IsImageExtension(".PNG") || IsImageExtension(".txt") {
		t.Error("扩展名识别错误")
	}
}
