package extract

import (
	"regexp"
	"strings"
)

var (
	// <img ... alt="x" ...> -> x
	imgAltPattern = regexp.MustCompile(`(?i)<img\b[^>]*?\balt\s*=\s*(?:"([^"]*)"|'([^']*)')[^>]*>`)
	// <br>, <br/>, <br />
	brPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	// 开始/结束标签(不含自闭合)
	inlineTagPattern = regexp.MustCompile(`</?[a-zA-Z][\w-]*(?:\s[^>]*[^/>])?\s*>`)
	// 剩余的自闭合标签
	selfClosingPattern = regexp.MustCompile(`<[^>]*/>`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&quot;", `"`,
		"&lt;", "<",
		"&gt;", ">",
	)
)

// MarkupToText 将叶子节点的内部标记转换为纯文本
// 多行结果以 "\n" 连接,每行已去除首尾空白,空行被丢弃
func MarkupToText(markup string) string {
	s := imgAltPattern.ReplaceAllStringFunc(markup, func(m string) string {
		sub := imgAltPattern.FindStringSubmatch(m)
		if sub[1] != "" {
			return sub[1]
		}
		return sub[2]
	})
	s = brPattern.ReplaceAllString(s, "\n")
	s = inlineTagPattern.ReplaceAllString(s, "")
	s = selfClosingPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
