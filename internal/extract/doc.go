// Package extract 将渲染后的页面子树转换为有序的内容片段
//
// 主要组成:
//   - key.go: 稳定排序键 prefix:suffix 及比较器
//   - textify.go: 叶子节点内部标记到纯文本的转换
//   - engine.go: 遍历与叶子判定,图片资源登记,按标识去重
//
// 片段以捕获顺序收集,写出前由 SortFragments 恢复文档顺序。
package extract
