package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk"
	"github.com/mbeoliero/estatechat/sdk/realtime/store"
)

// Send appends the message optimistically and publishes it with its temp id.
// When the socket is down the REST endpoint is tried; if that fails too the
// pending bubble stays in place.
func (s *Session) Send(ctx context.Context, text string) (*protocol.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	conv, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if conv.IsBlocked {
		s.mu.Unlock()
		return nil, ErrBlocked
	}
	receiverId := conv.PartnerId(s.cfg.SelfId)
	pending := s.msgs.AppendOptimistic(s.cfg.SelfId, receiverId, text, s.now())
	s.convs.Upsert(store.ConversationPatch{
		Id:                conv.Id,
		LastMessage:       &pending.Text,
		LastMessageSender: &pending.SenderId,
		UpdatedAt:         &pending.CreatedAt,
	})
	typing := s.typing
	s.mu.Unlock()

	if typing != nil {
		typing.Stop()
	}
	s.render()

	err = s.ch.Publish(ctx, &protocol.SendMessage{
		ConversationId: conv.Id,
		SenderId:       s.cfg.SelfId,
		ReceiverId:     receiverId,
		Text:           text,
		TempId:         pending.TempId,
	})
	if err == nil {
		log.CtxDebug(ctx, "message published: conversation_id=%s, temp_id=%s", conv.Id, pending.TempId)
		return pending, nil
	}

	log.CtxWarn(ctx, "publish message failed, falling back to http: conversation_id=%s, error=%v", conv.Id, err)
	confirmed, err := s.api.SendMessage(ctx, &sdk.SendMessageRequest{
		ConversationId: conv.Id,
		ReceiverId:     receiverId,
		Message:        text,
		TempId:         pending.TempId,
	})
	if err != nil {
		if errors.Is(err, sdk.ErrConvBlocked) {
			s.dropPending(conv.Id, pending.Id)
			s.toast(ToastError, "This conversation is blocked")
			return nil, ErrBlocked
		}
		log.CtxWarn(ctx, "send message failed: conversation_id=%s, temp_id=%s, error=%v", conv.Id, pending.TempId, err)
		s.toast(ToastError, "Message not delivered yet")
		return pending, fmt.Errorf("send message: %w", err)
	}
	if confirmed.TempId == "" {
		confirmed.TempId = pending.TempId
	}
	s.handleReceive(ctx, confirmed)
	return confirmed, nil
}

// Typing records a keystroke in the open conversation
func (s *Session) Typing() error {
	s.mu.Lock()
	conv, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if conv.IsBlocked {
		s.mu.Unlock()
		return ErrBlocked
	}
	typing := s.typing
	s.mu.Unlock()

	if typing != nil {
		typing.Notify()
	}
	return nil
}

// StopTyping ends the current typing burst, if any
func (s *Session) StopTyping() {
	s.mu.Lock()
	typing := s.typing
	s.mu.Unlock()
	if typing != nil {
		typing.Stop()
	}
}

// React is the picker toggle: choosing the emoji already set clears it
func (s *Session) React(ctx context.Context, messageId, emoji string) error {
	s.mu.Lock()
	cur := s.msgs.ReactionOf(messageId, s.cfg.SelfId)
	s.mu.Unlock()
	if cur == emoji {
		emoji = ""
	}
	return s.setReaction(ctx, messageId, emoji)
}

// SetReaction replaces this user's reaction on a message
func (s *Session) SetReaction(ctx context.Context, messageId, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", protocol.ErrInvalidPayload)
	}
	return s.setReaction(ctx, messageId, emoji)
}

// ClearReaction removes this user's reaction from a message
func (s *Session) ClearReaction(ctx context.Context, messageId string) error {
	return s.setReaction(ctx, messageId, "")
}

// setReaction applies the change locally, then publishes it. A failed
// publish puts the previous reaction back.
func (s *Session) setReaction(ctx context.Context, messageId, emoji string) error {
	s.mu.Lock()
	conv, m, err := s.targetLocked(messageId)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := m.Reactions[s.cfg.SelfId]
	if prev == emoji {
		s.mu.Unlock()
		return nil
	}
	s.msgs.ApplyReaction(messageId, s.cfg.SelfId, emoji)
	s.mu.Unlock()
	s.render()

	sig := protocol.ReactionSignal{
		ConversationId: conv.Id,
		MessageId:      messageId,
		UserId:         s.cfg.SelfId,
		ReceiverId:     conv.PartnerId(s.cfg.SelfId),
		Emoji:          emoji,
	}
	var p protocol.Payload = &protocol.AddReaction{ReactionSignal: sig}
	if emoji == "" {
		sig.Emoji = prev
		p = &protocol.RemoveReaction{ReactionSignal: sig}
	}
	if err := s.ch.Publish(ctx, p); err != nil {
		log.CtxWarn(ctx, "publish reaction failed: message_id=%s, error=%v", messageId, err)
		s.mu.Lock()
		if s.msgs.ReactionOf(messageId, s.cfg.SelfId) == emoji {
			s.msgs.ApplyReaction(messageId, s.cfg.SelfId, prev)
		}
		s.mu.Unlock()
		s.render()
		s.toast(ToastError, "Reaction not sent")
		return fmt.Errorf("react: %w", err)
	}
	return nil
}

// DeleteMessage removes one of this user's messages. The bubble disappears
// immediately; the network delete is fire-and-forget.
func (s *Session) DeleteMessage(ctx context.Context, messageId string) error {
	s.mu.Lock()
	conv, m, err := s.targetLocked(messageId)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if m.SenderId != s.cfg.SelfId {
		s.mu.Unlock()
		return ErrNotSender
	}
	s.msgs.Delete(messageId)
	s.mu.Unlock()
	s.render()

	err = s.ch.Publish(ctx, &protocol.DeleteMessage{
		ConversationId: conv.Id,
		MessageId:      messageId,
		ReceiverId:     conv.PartnerId(s.cfg.SelfId),
	})
	if err == nil {
		return nil
	}
	log.CtxWarn(ctx, "publish delete failed, falling back to http: message_id=%s, error=%v", messageId, err)
	if err := s.api.DeleteMessage(ctx, messageId); err != nil {
		log.CtxWarn(ctx, "delete message failed: message_id=%s, error=%v", messageId, err)
	}
	return nil
}

// openLocked returns the open conversation
func (s *Session) openLocked() (*protocol.Conversation, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.selected == "" {
		return nil, ErrNoConversation
	}
	conv, ok := s.convs.Get(s.selected)
	if !ok {
		return nil, ErrUnknownConversation
	}
	return conv, nil
}

// targetLocked resolves a confirmed message of the open conversation
func (s *Session) targetLocked(messageId string) (*protocol.Conversation, *protocol.Message, error) {
	conv, err := s.openLocked()
	if err != nil {
		return nil, nil, err
	}
	m, ok := s.msgs.Get(messageId)
	if !ok {
		return nil, nil, ErrUnknownMessage
	}
	if m.Pending {
		return nil, nil, ErrPending
	}
	return conv, m, nil
}

func (s *Session) dropPending(conversationId, id string) {
	s.mu.Lock()
	if s.msgs.ConversationId() == conversationId {
		s.msgs.Delete(id)
	}
	blocked := true
	s.convs.Update(conversationId, store.ConversationPatch{Id: conversationId, IsBlocked: &blocked})
	s.mu.Unlock()
	s.render()
}
