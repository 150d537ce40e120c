package error

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 错误分类代码
type ErrorCode string

// Coder 由携带分类代码的错误实现。
// 嵌入 BaseError 的领域错误类型自动满足该接口。
type Coder interface {
	ErrCode() ErrorCode
}

// BaseError 基础错误类型，各领域包通过嵌入扩展出自己的错误类型
type BaseError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// NewError 创建新的基础错误
func NewError(code ErrorCode, message string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError 包装现有错误
func WrapError(code ErrorCode, message string, cause error) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Error 实现 error 接口
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// ErrCode 返回错误的分类代码
func (e *BaseError) ErrCode() ErrorCode {
	return e.Code
}

// Is 支持错误比较。按分类代码比较，目标可以是任何嵌入 BaseError 的领域错误。
func (e *BaseError) Is(target error) bool {
	if t, ok := target.(Coder); ok {
		return e.Code == t.ErrCode()
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// CodeOf 提取错误链中第一个分类代码；链上没有携带代码的错误时返回空串。
func CodeOf(err error) ErrorCode {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrCode()
	}
	return ""
}
