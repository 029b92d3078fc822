package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/estatechat/internal/middleware"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/response"
)

// MessageHandler handles message-related requests
type MessageHandler struct {
	msgService *service.MessageService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(msgService *service.MessageService) *MessageHandler {
	return &MessageHandler{msgService: msgService}
}

// SendMessage handles send message request (HTTP fallback)
func (h *MessageHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req service.SendMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	msg, err := h.msgService.Send(ctx, userId, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, msg)
}

// GetMessages handles conversation history request
func (h *MessageHandler) GetMessages(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	conversationId := c.Param("conversation_id")
	if conversationId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.msgService.History(ctx, userId, conversationId, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, messages)
}

// DeleteMessage handles delete message request
func (h *MessageHandler) DeleteMessage(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	messageId := c.Param("id")
	if messageId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.msgService.Delete(ctx, userId, messageId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}
