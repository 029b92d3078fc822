package sdk

import (
	"errors"
	"fmt"
)

// Error represents an API error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}

// Is matches errors by code, so errors.Is(err, sdk.ErrConvBlocked) works on decoded responses
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new error
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// IsSuccess checks if the error code indicates success
func (e *Error) IsSuccess() bool {
	return e.Code == CodeSuccess
}

// CodeOf returns the API code carried by err, or -1
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return -1
}

// Error codes returned by the server
const (
	// Success
	CodeSuccess = 0

	// Common errors (1xxx)
	CodeInvalidParam    = 1001
	CodeInternalServer  = 1002
	CodeUnauthorized    = 1003
	CodeForbidden       = 1004
	CodeNotFound        = 1005
	CodeTooManyRequests = 1006
	CodeNoPermission    = 1007

	// Auth errors (2xxx)
	CodeTokenInvalid  = 2001
	CodeTokenExpired  = 2002
	CodeTokenMissing  = 2003
	CodeTokenMismatch = 2004

	// Message and conversation errors (4xxx)
	CodeMessageNotFound  = 4001
	CodeMessageDuplicate = 4002
	CodeConvNotFound     = 4003
	CodeSendFailed       = 4005
	CodeHistoryFailed    = 4006
	CodeConvBlocked      = 4007
	CodeNotMessageSender = 4008
	CodeSelfConversation = 4009
	CodeEmptyMessage     = 4010
	CodeNotBlockedByUser = 4011
	CodeInvalidReaction  = 4012

	// WebSocket errors (5xxx)
	CodeConnOverLimit   = 5001
	CodeConnClosed      = 5002
	CodeInvalidProtocol = 5003
	CodePushFailed      = 5004
	CodeRateLimited     = 5005

	// Call errors (6xxx)
	CodeCalleeUnavailable = 6001
)

// Predefined errors
var (
	ErrInvalidParam    = NewError(CodeInvalidParam, "invalid parameter")
	ErrInternalServer  = NewError(CodeInternalServer, "internal server error")
	ErrUnauthorized    = NewError(CodeUnauthorized, "unauthorized")
	ErrForbidden       = NewError(CodeForbidden, "forbidden")
	ErrNotFound        = NewError(CodeNotFound, "not found")
	ErrTooManyRequests = NewError(CodeTooManyRequests, "too many requests")
	ErrNoPermission    = NewError(CodeNoPermission, "no permission to access this resource")

	ErrTokenInvalid = NewError(CodeTokenInvalid, "token invalid")
	ErrTokenExpired = NewError(CodeTokenExpired, "token expired")
	ErrTokenMissing = NewError(CodeTokenMissing, "token missing")

	ErrMessageNotFound  = NewError(CodeMessageNotFound, "message not found")
	ErrConvNotFound     = NewError(CodeConvNotFound, "conversation not found")
	ErrConvBlocked      = NewError(CodeConvBlocked, "conversation is blocked")
	ErrNotMessageSender = NewError(CodeNotMessageSender, "only the sender can delete a message")
	ErrNotBlockedByUser = NewError(CodeNotBlockedByUser, "conversation was blocked by the other participant")
)
