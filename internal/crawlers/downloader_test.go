package crawlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

var pngBody = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("fake-png-data")...)

func testDownloadConfig() models.DownloadConfig {
	return models.DownloadConfig{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		Retries:        0,
	}
}

func newAssetServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/img/picture", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// 不带Content-Type,扩展名只能由文件头判定
		w.Header()["Content-Type"] = nil
		w.Write(pngBody)
	})
	mux.HandleFunc("/img/typed", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/gif")
		w.Write([]byte("GIF89a..."))
	})
	mux.HandleFunc("/img/cover.jpg", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	})
	mux.HandleFunc("/img/missing.png", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestDownloader_Download(t *testing.T) {
	srv, hits := newAssetServer(t)
	dir := t.TempDir()
	d, err := NewDownloader(NewQueue[models.AssetRef](), testDownloadConfig(), http.Header{"X-Test": {"1"}}, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		wantFile string
		sniffed  bool
	}{
		{"按文件头判定扩展名", "/img/picture", "picture.png", true},
		{"按Content-Type判定扩展名", "/img/typed", "typed.gif", false},
		{"URL带扩展名且去掉查询参数", "/img/cover.jpg?w=600&token=x", "cover.jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := d.Download(context.Background(), models.AssetRef{URL: srv.URL + tt.path, SourceFolder: dir})
			require.NoError(t, err)
			require.NotNil(t, file)
			assert.Equal(t, filepath.Join(dir, tt.wantFile), file.FilePath)
			assert.Equal(t, tt.sniffed, file.Sniffed)

			_, err = os.Stat(file.FilePath)
			assert.NoError(t, err)
		})
	}

	t.Run("已存在同名前缀的文件时跳过", func(t *testing.T) {
		before := hits.Load()
		file, err := d.Download(context.Background(), models.AssetRef{URL: srv.URL + "/img/picture", SourceFolder: dir})
		require.NoError(t, err)
		assert.Nil(t, file)
		assert.Equal(t, before, hits.Load(), "不应发起请求")
	})

	t.Run("HTTP错误", func(t *testing.T) {
		_, err := d.Download(context.Background(), models.AssetRef{URL: srv.URL + "/img/missing.png", SourceFolder: dir})
		assert.Error(t, err)
	})
}

func TestDownloader_RunUntilQueueClosed(t *testing.T) {
	srv, _ := newAssetServer(t)
	dir := t.TempDir()
	q := NewQueue[models.AssetRef]()
	stats := &models.RunStats{}
	d, err := NewDownloader(q, testDownloadConfig(), nil, stats)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.NoError(t, q.Push(models.AssetRef{URL: srv.URL + "/img/picture", SourceFolder: dir}))
	require.NoError(t, q.Push(models.AssetRef{URL: srv.URL + "/img/missing.png", SourceFolder: dir}))
	require.NoError(t, q.Push(models.AssetRef{URL: srv.URL + "/img/typed", SourceFolder: dir}))
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("队列关闭后下载器应退出")
	}

	assert.EqualValues(t, 2, stats.Assets.Load())
	assert.EqualValues(t, 1, stats.AssetFails.Load())
	assert.Len(t, d.Files(), 2)
}

func TestDownloader_TLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBody)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name     string
		insecure bool
		wantErr  bool
	}{
		{"默认校验自签名证书", false, true},
		{"显式关闭校验", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDownloadConfig()
			cfg.InsecureTLS = tt.insecure
			d, err := NewDownloader(NewQueue[models.AssetRef](), cfg, http.Header{"Cookie": {"session-id=1"}}, nil)
			require.NoError(t, err)

			_, err = d.Download(context.Background(), models.AssetRef{URL: srv.URL + "/img/p", SourceFolder: t.TempDir()})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecompressBody(t *testing.T) {
	plain := []byte("图片数据")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(plain)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(plain)
	require.NoError(t, bw.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"gzip", gz.Bytes()},
		{"br", br.Bytes()},
		{"", plain},
		{"identity", plain},
		{"zstd", plain},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			got, err := decompressBody(tt.encoding, tt.body)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}
}

func TestSniffExtension(t *testing.T) {
	assert.Equal(t, ".jpg", sniffExtension([]byte{0xFF, 0xD8, 0xFF, 0xDB}))
	assert.Equal(t, ".png", sniffExtension(pngBody))
	assert.Equal(t, ".gif", sniffExtension([]byte("GIF87a")))
	assert.Equal(t, ".bmp", sniffExtension([]byte("BM\x00\x00")))
	assert.Equal(t, "", sniffExtension([]byte("<svg")))
	assert.Equal(t, ".jpg", extFromContentType("image/jpeg; charset=binary"))
	assert.Equal(t, "", extFromContentType("application/octet-stream"))
}
