package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/estatechat/internal/middleware"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/response"
)

// ConversationHandler handles conversation-related requests
type ConversationHandler struct {
	convService *service.ConversationService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// ListConversations handles get conversation list request
func (h *ConversationHandler) ListConversations(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	convs, err := h.convService.List(ctx, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, convs)
}

// CreateConversation handles get-or-create of a direct conversation
func (h *ConversationHandler) CreateConversation(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req service.CreateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	conv, err := h.convService.GetOrCreate(ctx, userId, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, conv)
}

// DeleteConversation hides the conversation for the caller
func (h *ConversationHandler) DeleteConversation(ctx context.Context, c *app.RequestContext) {
	userId, conversationId, ok := conversationParams(ctx, c)
	if !ok {
		return
	}

	if err := h.convService.Hide(ctx, userId, conversationId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// MarkRead handles mark conversation as read request
func (h *ConversationHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	userId, conversationId, ok := conversationParams(ctx, c)
	if !ok {
		return
	}

	if err := h.convService.MarkRead(ctx, userId, conversationId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// Block handles block conversation request
func (h *ConversationHandler) Block(ctx context.Context, c *app.RequestContext) {
	userId, conversationId, ok := conversationParams(ctx, c)
	if !ok {
		return
	}

	conv, err := h.convService.Block(ctx, userId, conversationId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, conv)
}

// Unblock handles unblock conversation request
func (h *ConversationHandler) Unblock(ctx context.Context, c *app.RequestContext) {
	userId, conversationId, ok := conversationParams(ctx, c)
	if !ok {
		return
	}

	conv, err := h.convService.Unblock(ctx, userId, conversationId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, conv)
}

// conversationParams reads the caller and the :id path param, answering the
// request itself when either is missing
func conversationParams(ctx context.Context, c *app.RequestContext) (string, string, bool) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return "", "", false
	}

	conversationId := c.Param("id")
	if conversationId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return "", "", false
	}
	return userId, conversationId, true
}
