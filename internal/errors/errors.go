package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
//
// Recoverable 表示问题出在参数或配置，修正后重新运行即可；
// 其余错误需要排查链节点、宿主或存储。
type Attributes struct {
	Message     string
	Severity    Severity
	Recoverable bool
	Alert       bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeParseFailure          Code = "PARSE_FAILURE"
	CodeChainCallFailure      Code = "CHAIN_CALL_FAILURE"
	CodeHostFailure           Code = "HOST_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeNoEvent               Code = "NO_EVENT"
)

var registry = map[Code]Attributes{
	CodeUnknown: {
		Message:  "unknown error",
		Severity: SeverityCritical,
		Alert:    true,
	},
	CodeInvalidArgument: {
		Message:     "invalid argument",
		Severity:    SeverityInfo,
		Recoverable: true,
	},
	CodeInitializationFailure: {
		Message:     "agent not initialized",
		Severity:    SeverityWarning,
		Recoverable: true,
		Alert:       true,
	},
	CodeTimeout: {
		Message:  "operation timed out",
		Severity: SeverityWarning,
		Alert:    true,
	},
	CodeParseFailure: {
		Message:  "malformed payload",
		Severity: SeverityWarning,
	},
	CodeChainCallFailure: {
		Message:  "contract call failed",
		Severity: SeverityCritical,
		Alert:    true,
	},
	CodeHostFailure: {
		Message:  "host runtime failure",
		Severity: SeverityCritical,
		Alert:    true,
	},
	CodeStorageFailure: {
		Message:  "storage failure",
		Severity: SeverityCritical,
		Alert:    true,
	},
	CodeNoEvent: {
		Message:  "no inbound event",
		Severity: SeverityWarning,
	},
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Recoverable 判断错误能否通过修正输入后重试解决。
func (e *Error) Recoverable() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Recoverable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RecoverableError 判断任意 error 是否可通过修正输入后重试解决。
func RecoverableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Recoverable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// LogAttrs 返回记录错误时使用的结构化字段。
func LogAttrs(err error) []any {
	attrs := []any{
		"code", CodeOf(err),
		"severity", SeverityOf(err),
		"recoverable", RecoverableError(err),
		"alert", ShouldAlert(err),
	}
	if e, ok := From(err); ok {
		if md := e.Metadata(); len(md) > 0 {
			attrs = append(attrs, "metadata", md)
		}
	}
	return append(attrs, "error", err)
}
