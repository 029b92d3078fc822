package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: errcode.ErrSuccess.Code,
		Msg:  errcode.ErrSuccess.Msg,
		Data: data,
	})
}

// Error sends an error response. Business errors keep HTTP 200 and carry
// their code in the envelope; auth errors use 401/403 so HTTP interceptors
// on the client can react to them.
func Error(ctx context.Context, c *app.RequestContext, err error) {
	var e *errcode.Error
	if !errors.As(err, &e) {
		log.CtxError(ctx, "unexpected error: path=%s, error=%v", c.Path(), err)
		e = errcode.ErrInternalServer
	}
	c.JSON(statusOf(e), Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	c.JSON(statusOf(e), Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

func statusOf(e *errcode.Error) int {
	switch e.Code {
	case errcode.ErrUnauthorized.Code, errcode.ErrTokenInvalid.Code,
		errcode.ErrTokenExpired.Code, errcode.ErrTokenMissing.Code:
		return http.StatusUnauthorized
	case errcode.ErrForbidden.Code, errcode.ErrNoPermission.Code:
		return http.StatusForbidden
	case errcode.ErrTooManyRequests.Code:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}
