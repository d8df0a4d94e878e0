package models

import (
	"errors"
	"fmt"
)

// ErrorClass 错误分类
type ErrorClass string

const (
	// ErrorTransient 可重试(元素未渲染、超时、会话掉线)
	ErrorTransient ErrorClass = "transient"
	// ErrorItemFatal 单条目失败,worker继续处理下一个
	ErrorItemFatal ErrorClass = "item_fatal"
	// ErrorProcessFatal 无法写入日志/目录,终止当前goroutine并向上传递
	ErrorProcessFatal ErrorClass = "process_fatal"
)

// ItemError 单个条目处理失败
type ItemError struct {
	ItemID string
	State  ItemState
	Class  ErrorClass
	Cause  error
}

// Error 实现error接口
func (e *ItemError) Error() string {
	return fmt.Sprintf("条目处理失败 [%s] 状态=%s 类型=%s: %v", e.ItemID, e.State, e.Class, e.Cause)
}

// Unwrap 支持errors.Is/As
func (e *ItemError) Unwrap() error {
	return e.Cause
}

// IsProcessFatal 判断错误链中是否有进程级错误
func IsProcessFatal(err error) bool {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.Class == ErrorProcessFatal
	}
	return false
}

// DataIntegrityError 节点标识不符合 prefix:suffix 形状但带有文本
// 必须上报,由操作者对该文档做特殊处理
type DataIntegrityError struct {
	ItemID  string
	NodeID  string
	Excerpt string
	Cause   error
}

// Error 实现error接口
func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("数据完整性错误 [%s]: 节点标识 %q 格式无效 (文本: %q): %v",
		e.ItemID, e.NodeID, e.Excerpt, e.Cause)
}

// Unwrap 支持errors.Is
func (e *DataIntegrityError) Unwrap() error {
	return e.Cause
}

// ValidationError 头部验证错误
type ValidationError struct {
	// Field 出错的字段 ("name" 或 "value")
	Field string

	// HeaderName 头部名称
	HeaderName string

	// Reason 错误原因
	Reason string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
