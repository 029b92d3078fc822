package errcode

import (
	"errors"
	"fmt"
)

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// Is reports whether target carries the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")
	ErrNoPermission    = New(1007, "no permission to access this resource")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")

	// Message and conversation errors (4xxx)
	ErrMessageNotFound   = New(4001, "message not found")
	ErrMessageDuplicate  = New(4002, "duplicate message")
	ErrConvNotFound      = New(4003, "conversation not found")
	ErrSendFailed        = New(4005, "message send failed")
	ErrHistoryFailed     = New(4006, "message history failed")
	ErrConvBlocked       = New(4007, "conversation is blocked")
	ErrNotMessageSender  = New(4008, "only the sender can delete a message")
	ErrSelfConversation  = New(4009, "cannot start a conversation with yourself")
	ErrEmptyMessage      = New(4010, "message is empty")
	ErrNotBlockedByUser  = New(4011, "conversation was blocked by the other participant")
	ErrInvalidReaction   = New(4012, "invalid reaction")

	// WebSocket errors (5xxx)
	ErrConnOverLimit   = New(5001, "connection over max limit")
	ErrConnClosed      = New(5002, "connection closed")
	ErrInvalidProtocol = New(5003, "invalid protocol")
	ErrPushFailed      = New(5004, "push message failed")
	ErrRateLimited     = New(5005, "event rate limited")

	// Call errors (6xxx)
	ErrCalleeUnavailable = New(6001, "callee unavailable")
)
