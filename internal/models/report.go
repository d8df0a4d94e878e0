package models

import (
	"encoding/json"
	"time"
)

// RunReport 运行报告
type RunReport struct {
	RunID    string `json:"run_id"`
	IndexURL string `json:"index_url"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Stats       StatsSnapshot `json:"stats"`
	FailedItems []FailedItem  `json:"failed_items"`
	Assets      []AssetFile   `json:"assets"`

	OutputDir string      `json:"output_dir"`
	Config    CrawlConfig `json:"config"`
}

// FailedItem 失败条目信息
type FailedItem struct {
	ItemID     string     `json:"item_id"`
	State      ItemState  `json:"state"`
	ErrorClass ErrorClass `json:"error_class"`
	ErrorMsg   string     `json:"error_msg"`
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *RunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
