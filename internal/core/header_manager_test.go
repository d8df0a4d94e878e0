package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/core"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

// tempHeaderConfig 在临时目录下写入headers.yaml,content为空时只返回路径
func tempHeaderConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "headers.yaml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return path
}

func TestHeaderManager_MergeOrder(t *testing.T) {
	const fileHeaders = "headers:\n  User-Agent: file-agent\n  Referer: https://file.example.com/\n  X-File: f\n"

	cases := []struct {
		desc  string
		file  string
		cli   []string
		site  string
		field string
		want  string
	}{
		{desc: "只有默认值", field: "User-Agent", want: core.DefaultUserAgent},
		{desc: "配置文件覆盖默认", file: fileHeaders, field: "User-Agent", want: "file-agent"},
		{desc: "命令行覆盖配置文件", file: fileHeaders, cli: []string{"User-Agent: cli-agent"}, field: "User-Agent", want: "cli-agent"},
		{desc: "站点Referer覆盖配置文件", file: fileHeaders, site: "https://shop.example.com/library?page=%d", field: "Referer", want: "https://shop.example.com/"},
		{desc: "命令行Referer覆盖站点", site: "https://shop.example.com/library", cli: []string{"Referer: https://cli.example.com/"}, field: "Referer", want: "https://cli.example.com/"},
		{desc: "无效站点地址不设置Referer", site: "library", field: "Referer", want: ""},
		{desc: "各层头部同时保留", file: fileHeaders, cli: []string{"X-Cli: c"}, field: "X-File", want: "f"},
		{desc: "命令行新增头部", cli: []string{"X-Cli: c", "Cookie: session-id=abc"}, field: "Cookie", want: "session-id=abc"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			hm, err := core.NewHeaderManager(tempHeaderConfig(t, tc.file), tc.cli)
			require.NoError(t, err)
			require.NoError(t, hm.LoadConfig())
			if tc.site != "" {
				hm.UseSite(models.SiteProfile{IndexURL: tc.site})
			}

			merged := hm.GetMergedHeaders()
			assert.Equal(t, tc.want, merged.Get(tc.field))
			assert.NotEmpty(t, merged.Get("Accept-Encoding"), "默认头部应始终存在")
		})
	}
}

func TestHeaderManager_GetSafeHeaders(t *testing.T) {
	hm, err := core.NewHeaderManager(tempHeaderConfig(t, ""), []string{
		"User-Agent: CustomBot/1.0",
		"Authorization: Bearer secret-token-12345",
		"X-API-Key: api-key-67890",
		"Cookie: session-id=0123456789",
	})
	require.NoError(t, err)

	safe := hm.GetSafeHeaders()
	assert.Equal(t, "CustomBot/1.0", safe["User-Agent"])
	assert.Equal(t, "Bearer ***", safe["Authorization"])
	assert.Equal(t, "api-***7890", safe["X-Api-Key"])
	assert.Equal(t, "session-id=0123***6789", safe["Cookie"])
}

func TestHeaderManager_GetHeaders(t *testing.T) {
	t.Run("非法命令行参数", func(t *testing.T) {
		_, err := core.NewHeaderManager(tempHeaderConfig(t, ""), []string{"InvalidFormat"})
		assert.Error(t, err)
	})

	t.Run("禁止头部被拒绝", func(t *testing.T) {
		for _, tc := range []struct {
			file string
			cli  []string
		}{
			{cli: []string{"Host: shop.example.com"}},
			{file: "headers:\n  Content-Length: \"12\"\n"},
			{cli: []string{"Keep-Alive: timeout=5"}},
		} {
			hm, err := core.NewHeaderManager(tempHeaderConfig(t, tc.file), tc.cli)
			require.NoError(t, err)

			_, err = hm.GetHeaders()
			var ve *models.ValidationError
			assert.ErrorAs(t, err, &ve)
		}
	})

	t.Run("首次加载生成模板", func(t *testing.T) {
		path := tempHeaderConfig(t, "")
		hm, err := core.NewHeaderManager(path, []string{"User-Agent: TestBot/1.0"})
		require.NoError(t, err)

		headers, err := hm.GetHeaders()
		require.NoError(t, err)
		assert.Equal(t, "TestBot/1.0", headers.Get("User-Agent"))
		assert.FileExists(t, path)
	})
}
