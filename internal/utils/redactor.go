package utils

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SensitiveKeywords 名称包含这些关键字的头部在日志中脱敏
var SensitiveKeywords = []string{
	"authorization",
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"cookie",
	"session",
}

// authSchemes 保留认证方案名,只隐藏凭据
var authSchemes = []string{"Bearer ", "Basic ", "Digest ", "Token "}

// HeaderRedactor 日志脱敏
// 覆盖附加头部、登录邮箱与目录库DSN
type HeaderRedactor struct {
	keywords []string
}

// NewHeaderRedactor 创建脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{keywords: SensitiveKeywords}
}

// IsSensitiveHeader 名称包含任一关键字即视为敏感,不区分大小写
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range hr.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值,非敏感头部原样返回
// Cookie 逐项脱敏以保留cookie名,便于排查登录态
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}
	if strings.EqualFold(name, "Cookie") && strings.Contains(value, "=") {
		return redactCookies(value)
	}
	for _, scheme := range authSchemes {
		if strings.HasPrefix(value, scheme) {
			return scheme + "***"
		}
	}
	return mask(value)
}

// Redact 返回用于日志的头部映射,每个头部只取第一个值
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		out[name] = hr.RedactHeaderValue(name, values[0])
	}
	return out
}

// RedactToString 按名称排序输出 "Name: value, ..."
func (hr *HeaderRedactor) RedactToString(headers http.Header) string {
	redacted := hr.Redact(headers)
	names := make([]string, 0, len(redacted))
	for name := range redacted {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+redacted[name])
	}
	return strings.Join(parts, ", ")
}

// RedactEmail 只保留首字符与域名
func (hr *HeaderRedactor) RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}

// RedactDSN 把连接串中的密码替换为 xxx
// sqlite 文件路径等非URL形式原样返回
func (hr *HeaderRedactor) RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxx")
	}
	return u.String()
}

// mask 长于8字节的值保留首尾各4字节,其余全部隐藏
func mask(value string) string {
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

func redactCookies(value string) string {
	pairs := strings.Split(value, ";")
	for i, pair := range pairs {
		name, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			pairs[i] = "***"
			continue
		}
		pairs[i] = name + "=" + mask(v)
	}
	return strings.Join(pairs, "; ")
}
