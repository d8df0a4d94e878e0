package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/net/publicsuffix"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// magic 已知图片格式的文件头
var magic = []struct {
	prefix []byte
	ext    string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, ".jpg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, ".png"},
	{[]byte("GIF87a"), ".gif"},
	{[]byte("GIF89a"), ".gif"},
	{[]byte("BM"), ".bmp"},
}

var contentTypeExt = map[string]string{
	"image/jpeg":     ".jpg",
	"image/jpg":      ".jpg",
	"image/pjpeg":    ".jpg",
	"image/png":      ".png",
	"image/gif":      ".gif",
	"image/bmp":      ".bmp",
	"image/x-ms-bmp": ".bmp",
	"image/webp":     ".webp",
	"image/svg+xml":  ".svg",
}

// Downloader 资源下载器
// 消费资源队列直到队列关闭且取空;队列由最后退出的工作者关闭
type Downloader struct {
	client *resty.Client
	queue  *Queue[models.AssetRef]
	stats  *models.RunStats
	bar    *progressbar.ProgressBar

	mu    sync.Mutex
	files []models.AssetFile
}

// NewDownloader 创建下载器
func NewDownloader(queue *Queue[models.AssetRef], cfg models.DownloadConfig, headers http.Header, stats *models.RunStats) (*Downloader, error) {
	if stats == nil {
		stats = &models.RunStats{}
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: cfg.ReadTimeout, write: cfg.WriteTimeout}, nil
		},
		TLSClientConfig:     tlsConfig(cfg.InsecureTLS),
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 4,
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建cookie jar失败: %w", err)
	}

	client := resty.New()
	client.SetTransport(transport)
	client.SetCookieJar(jar)
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
		// AddCloudFlareByPass 会替换TLS配置
		transport.TLSClientConfig.InsecureSkipVerify = cfg.InsecureTLS
	}
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(cfg.RetryWait)
	client.SetHeader("User-Agent", defaultUserAgent)
	for name, values := range headers {
		if len(values) > 0 {
			client.SetHeader(name, values[0])
		}
	}

	d := &Downloader{client: client, queue: queue, stats: stats}
	if cfg.ShowProgress {
		d.bar = utils.NewProgressBar(-1, "下载资源")
	}
	return d, nil
}

// Run 下载循环
// 队列暂时为空时阻塞等待,队列关闭且取空后返回
func (d *Downloader) Run(ctx context.Context) error {
	for {
		ref, ok := d.queue.Pop(ctx)
		if !ok {
			if d.bar != nil {
				_ = d.bar.Finish()
			}
			return ctx.Err()
		}

		file, err := d.Download(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.stats.AssetFails.Add(1)
			utils.Warnf("下载资源失败 [%s]: %v", ref.URL, err)
			continue
		}
		if file == nil {
			continue
		}

		d.stats.Assets.Add(1)
		d.stats.AssetBytes.Add(file.Size)
		d.mu.Lock()
		d.files = append(d.files, *file)
		d.mu.Unlock()
		if d.bar != nil {
			_ = d.bar.Add(1)
		}
	}
}

// Files 已下载的资源
func (d *Downloader) Files() []models.AssetFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.AssetFile(nil), d.files...)
}

// Download 下载单个资源
// 目录中已有同名前缀的文件时跳过,返回 (nil, nil)
func (d *Downloader) Download(ctx context.Context, ref models.AssetRef) (*models.AssetFile, error) {
	stem, ext := CandidateFileName(ref.URL)
	if name, ok := existingWithPrefix(ref.SourceFolder, stem); ok {
		utils.Debugf("资源已存在,跳过: %s", filepath.Join(ref.SourceFolder, name))
		return nil, nil
	}

	resp, err := d.client.R().SetContext(ctx).Get(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("HTTP状态码 %d", resp.StatusCode())
	}

	body, err := decompressBody(resp.Header().Get("Content-Encoding"), resp.Body())
	if err != nil {
		utils.Warnf("解压响应失败 [%s]: %v", ref.URL, err)
		body = resp.Body()
	}

	contentType := resp.Header().Get("Content-Type")
	sniffed := false
	if ext == "" {
		ext = extFromContentType(contentType)
	}
	if ext == "" {
		ext = sniffExtension(body)
		sniffed = ext != ""
	}

	file := &models.AssetFile{
		URL:          ref.URL,
		FilePath:     filepath.Join(ref.SourceFolder, stem+ext),
		Size:         int64(len(body)),
		ContentType:  contentType,
		Sniffed:      sniffed,
		DownloadedAt: time.Now(),
	}
	if err := file.ValidateSize(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ref.SourceFolder, 0755); err != nil {
		return nil, fmt.Errorf("创建资源目录失败: %w", err)
	}
	if err := os.WriteFile(file.FilePath, body, 0644); err != nil {
		return nil, fmt.Errorf("写入资源失败: %w", err)
	}

	utils.Debugf("资源已保存: %s (%d bytes)", file.FilePath, file.Size)
	return file, nil
}

func extFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return contentTypeExt[mediaType]
}

// sniffExtension 按文件头判定图片格式
func sniffExtension(body []byte) string {
	for _, m := range magic {
		if bytes.HasPrefix(body, m.prefix) {
			return m.ext
		}
	}
	return ""
}

// decompressBody 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

// deadlineConn 每次读写前刷新超时
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// tlsConfig 默认校验证书;请求携带会话头部,跳过校验需显式配置
func tlsConfig(insecure bool) *tls.Config {
	if insecure {
		utils.Warnf("已关闭TLS证书校验 (download.insecure_tls)")
	}
	return &tls.Config{InsecureSkipVerify: insecure}
}
