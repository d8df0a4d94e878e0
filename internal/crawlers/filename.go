package crawlers

import (
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

// maxFileNameLength 文件名长度上限(字节)
const maxFileNameLength = 120

var illegalNameReplacer = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFileName 替换路径中的非法字符并限制长度
func SanitizeFileName(name string) string {
	name = illegalNameReplacer.Replace(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if len(name) > maxFileNameLength {
		name = truncateUTF8(name, maxFileNameLength)
	}
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}

// CandidateFileName 由资源URL推导文件名
// 去掉查询参数取最后一段;已知图片扩展名时返回 stem+ext,否则 ext 为空
func CandidateFileName(rawURL string) (stem, ext string) {
	u, err := url.Parse(rawURL)
	var last string
	if err == nil {
		last = path.Base(u.Path)
	} else {
		last = rawURL
		if i := strings.IndexAny(last, "?#"); i >= 0 {
			last = last[:i]
		}
		if i := strings.LastIndex(last, "/"); i >= 0 {
			last = last[i+1:]
		}
	}
	if last == "/" || last == "." {
		last = ""
	}
	if last == "" && err == nil {
		last = u.Host
	}

	e := path.Ext(last)
	if models.IsImageExtension(e) {
		return SanitizeFileName(strings.TrimSuffix(last, e)), strings.ToLower(e)
	}
	return SanitizeFileName(last), ""
}

// existingWithPrefix 目录中是否已有以stem开头的文件
func existingWithPrefix(dir, stem string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == stem || strings.HasPrefix(name, stem+".") {
			return name, true
		}
	}
	return "", false
}
