package sdk

import (
	"context"
	"net/url"
	"strconv"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// GetMessages fetches the latest messages of a conversation in display order
func (c *Client) GetMessages(ctx context.Context, conversationId string, limit int) ([]*protocol.Message, error) {
	var params map[string]string
	if limit > 0 {
		params = map[string]string{"limit": strconv.Itoa(limit)}
	}
	var result []*protocol.Message
	if err := c.get(ctx, "/api/messages/"+url.PathEscape(conversationId), params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendMessage sends a message over HTTP. The realtime channel is the normal
// path; this is the fallback and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*protocol.Message, error) {
	var result protocol.Message
	if err := c.post(ctx, "/api/messages/send", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteMessage deletes a message sent by the current user
func (c *Client) DeleteMessage(ctx context.Context, messageId string) error {
	return c.del(ctx, "/api/messages/message/"+url.PathEscape(messageId), nil)
}
