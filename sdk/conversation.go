package sdk

import (
	"context"
	"net/url"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

const conversationsPath = "/api/messages/conversations"

// ListConversations gets all conversations of the current user, most recent first
func (c *Client) ListConversations(ctx context.Context) ([]*protocol.Conversation, error) {
	var result []*protocol.Conversation
	if err := c.get(ctx, conversationsPath, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateConversation opens the thread with a partner, creating it on first contact
func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*protocol.Conversation, error) {
	var result protocol.Conversation
	if err := c.post(ctx, conversationsPath, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteConversation hides the conversation for the current user only
func (c *Client) DeleteConversation(ctx context.Context, conversationId string) error {
	return c.del(ctx, conversationsPath+"/"+url.PathEscape(conversationId), nil)
}

// MarkConversationRead resets the current user's unread counter
func (c *Client) MarkConversationRead(ctx context.Context, conversationId string) error {
	return c.post(ctx, conversationsPath+"/"+url.PathEscape(conversationId)+"/read", nil, nil)
}

// BlockConversation blocks the partner and returns the updated conversation
func (c *Client) BlockConversation(ctx context.Context, conversationId string) (*protocol.Conversation, error) {
	var result protocol.Conversation
	if err := c.post(ctx, conversationsPath+"/"+url.PathEscape(conversationId)+"/block", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnblockConversation lifts a block placed by the current user
func (c *Client) UnblockConversation(ctx context.Context, conversationId string) (*protocol.Conversation, error) {
	var result protocol.Conversation
	if err := c.post(ctx, conversationsPath+"/"+url.PathEscape(conversationId)+"/unblock", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
