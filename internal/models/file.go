package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxAssetSize 单个资源最大 50MB
	MaxAssetSize = 50 * 1024 * 1024
)

// ImageExtensions 识别的图片扩展名
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg"}

// IsImageExtension 判断扩展名是否为已知图片类型
func IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// AssetFile 已下载的资源文件
type AssetFile struct {
	URL          string    `json:"url"`
	FilePath     string    `json:"file_path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	Sniffed      bool      `json:"sniffed"` // 扩展名由魔数判定
	DownloadedAt time.Time `json:"downloaded_at"`
}

// ValidateSize 验证资源大小
func (f *AssetFile) ValidateSize() error {
	if f.Size <= 0 {
		return fmt.Errorf("文件大小必须大于0")
	}
	if f.Size > MaxAssetSize {
		return fmt.Errorf("文件大小超过限制: %d > %d", f.Size, MaxAssetSize)
	}
	return nil
}

// DownloadConfig 资源下载参数
type DownloadConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`     // 建连超时 (默认:10s)
	ReadTimeout      time.Duration `mapstructure:"read_timeout" json:"read_timeout"`           // 单次读超时 (默认:30s)
	WriteTimeout     time.Duration `mapstructure:"write_timeout" json:"write_timeout"`         // 单次写超时 (默认:10s)
	Retries          int           `mapstructure:"retries" json:"retries"`                     // 失败重试次数 (默认:2)
	RetryWait        time.Duration `mapstructure:"retry_wait" json:"retry_wait"`               // 重试间隔 (默认:1s)
	CloudflareBypass bool          `mapstructure:"cloudflare_bypass" json:"cloudflare_bypass"` // 伪装浏览器TLS指纹
	ShowProgress     bool          `mapstructure:"show_progress" json:"show_progress"`         // 显示下载进度条
	InsecureTLS      bool          `mapstructure:"insecure_tls" json:"insecure_tls"`           // 跳过证书校验 (默认:false)
}
