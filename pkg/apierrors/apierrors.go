package apierrors

import (
	"errors"

	"google.golang.org/grpc/codes"
)

// Code 表示统一业务错误码。
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeRetryLater      Code = "RETRY_LATER"
	CodeInternal        Code = "INTERNAL_ERROR"

	// 配对阶段。
	CodeInvalidURI       Code = "INVALID_URI"
	CodeAlreadyPairing   Code = "ALREADY_PAIRING"
	CodeTransportFailure Code = "TRANSPORT_FAILURE"

	// 命名空间协商。
	CodeNoSupportedNamespace Code = "NO_SUPPORTED_NAMESPACE"
	CodeUserRejected         Code = "USER_REJECTED"

	// 会话注册表。
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeDuplicateTopic    Code = "DUPLICATE_TOPIC"
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// 请求分发与签名。
	CodeMethodNotSupported   Code = "METHOD_NOT_SUPPORTED"
	CodeMethodNotImplemented Code = "METHOD_NOT_IMPLEMENTED"
	CodeInvalidParams        Code = "INVALID_PARAMS"
	CodeSigningUnsupported   Code = "SIGNING_UNSUPPORTED"
	CodeSigningBackend       Code = "SIGNING_BACKEND_FAILURE"
)

var httpStatusMap = map[Code]int{
	CodeInvalidArgument:      400,
	CodeRetryLater:           429,
	CodeInternal:             500,
	CodeInvalidURI:           400,
	CodeAlreadyPairing:       409,
	CodeTransportFailure:     502,
	CodeNoSupportedNamespace: 422,
	CodeUserRejected:         403,
	CodeSessionNotFound:      404,
	CodeDuplicateTopic:       409,
	CodeInvalidTransition:    409,
	CodeMethodNotSupported:   403,
	CodeMethodNotImplemented: 501,
	CodeInvalidParams:        400,
	CodeSigningUnsupported:   501,
	CodeSigningBackend:       502,
}

var grpcStatusMap = map[Code]codes.Code{
	CodeInvalidArgument:      codes.InvalidArgument,
	CodeRetryLater:           codes.ResourceExhausted,
	CodeInternal:             codes.Internal,
	CodeInvalidURI:           codes.InvalidArgument,
	CodeAlreadyPairing:       codes.AlreadyExists,
	CodeTransportFailure:     codes.Unavailable,
	CodeNoSupportedNamespace: codes.FailedPrecondition,
	CodeUserRejected:         codes.PermissionDenied,
	CodeSessionNotFound:      codes.NotFound,
	CodeDuplicateTopic:       codes.AlreadyExists,
	CodeInvalidTransition:    codes.FailedPrecondition,
	CodeMethodNotSupported:   codes.PermissionDenied,
	CodeMethodNotImplemented: codes.Unimplemented,
	CodeInvalidParams:        codes.InvalidArgument,
	CodeSigningUnsupported:   codes.Unimplemented,
	CodeSigningBackend:       codes.Unavailable,
}

// wireCodeMap 对应 relay 协议中 JSON-RPC error.code 的取值。
var wireCodeMap = map[Code]int{
	CodeInvalidArgument:      -32602,
	CodeRetryLater:           -32000,
	CodeInternal:             -32603,
	CodeNoSupportedNamespace: 5000,
	CodeUserRejected:         5000,
	CodeSessionNotFound:      7001,
	CodeDuplicateTopic:       5000,
	CodeMethodNotSupported:   3001,
	CodeMethodNotImplemented: -32601,
	CodeInvalidParams:        -32602,
	CodeSigningUnsupported:   -32601,
	CodeSigningBackend:       -32603,
}

// Error 表示带统一错误码的业务错误。
type Error struct {
	Code    Code
	Message string
}

// New 创建一个新的业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// FromError 尝试从通用 error 中解析业务错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf 返回 err 链上的业务错误码，无法识别时为 CodeInternal。
func CodeOf(err error) Code {
	if apiErr, ok := FromError(err); ok {
		return apiErr.Code
	}
	return CodeInternal
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Internal。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Internal
}

// WireCode 返回回传给远端应用的 JSON-RPC 错误码，未知错误默认 -32603。
func WireCode(code Code) int {
	if wire, ok := wireCodeMap[code]; ok {
		return wire
	}
	return -32603
}
