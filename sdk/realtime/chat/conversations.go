package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk"
	"github.com/mbeoliero/estatechat/sdk/realtime/presence"
	"github.com/mbeoliero/estatechat/sdk/realtime/store"
)

// LoadConversations fetches the list and replaces the local one. The open
// conversation keeps a zero unread count.
func (s *Session) LoadConversations(ctx context.Context) error {
	list, err := s.api.ListConversations(ctx)
	if err != nil {
		log.CtxWarn(ctx, "load conversations failed: user_id=%s, error=%v", s.cfg.SelfId, err)
		s.toast(ToastError, "Could not load conversations")
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.convs.Replace(list)
	if s.selected != "" {
		s.convs.MarkRead(s.selected)
	}
	s.mu.Unlock()

	log.CtxDebug(ctx, "conversations loaded: user_id=%s, count=%d", s.cfg.SelfId, len(list))
	s.render()
	return nil
}

// Open selects a conversation, joins its room and loads its history. A
// response that arrives after another conversation was opened is dropped.
func (s *Session) Open(ctx context.Context, conversationId string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	conv, ok := s.convs.Get(conversationId)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	partnerId := conv.PartnerId(s.cfg.SelfId)
	prevTyping := s.typing
	s.selected = conversationId
	s.historyGen++
	gen := s.historyGen
	s.loading = true
	s.msgs.Load(conversationId, nil)
	s.convs.MarkRead(conversationId)
	s.typing = s.newTypingLocked(conversationId, partnerId)
	s.mu.Unlock()

	if prevTyping != nil {
		prevTyping.Stop()
	}
	s.render()

	s.publish(ctx, &protocol.JoinConversation{ConversationId: conversationId})
	if err := s.api.MarkConversationRead(ctx, conversationId); err != nil {
		log.CtxWarn(ctx, "mark conversation read failed: conversation_id=%s, error=%v", conversationId, err)
	}

	history, err := s.api.GetMessages(ctx, conversationId, s.cfg.Portal.HistoryLimit)

	s.mu.Lock()
	if s.closed || gen != s.historyGen {
		s.mu.Unlock()
		log.CtxDebug(ctx, "dropping stale history: conversation_id=%s", conversationId)
		return nil
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		log.CtxWarn(ctx, "load history failed: conversation_id=%s, error=%v", conversationId, err)
		s.render()
		s.toast(ToastError, "Could not load messages")
		return fmt.Errorf("load history: %w", err)
	}
	// Messages that arrived live or were sent while the fetch was in flight
	// are kept on top of the fetched page.
	live := s.msgs.List()
	s.msgs.Load(conversationId, history)
	for _, m := range live {
		s.msgs.Restore(m)
	}
	seen := s.msgs.UnseenFrom(partnerId)
	s.msgs.MarkSeen(seen)
	s.convs.MarkRead(conversationId)
	s.mu.Unlock()

	if len(seen) > 0 {
		s.publish(ctx, &protocol.MessageSeen{ConversationId: conversationId, MessageIds: seen, UserId: s.cfg.SelfId})
	}
	s.render()
	return nil
}

// CreateConversation starts (or finds) the thread with partner and puts it on top
func (s *Session) CreateConversation(ctx context.Context, partner protocol.Participant) (*protocol.Conversation, error) {
	if partner.Id == "" || partner.Id == s.cfg.SelfId {
		return nil, fmt.Errorf("%w: bad partner %q", ErrUnknownConversation, partner.Id)
	}
	conv, err := s.api.CreateConversation(ctx, &sdk.CreateConversationRequest{
		PartnerId:      partner.Id,
		PartnerProfile: sdk.Profile{Name: partner.Name, Avatar: partner.Avatar, Email: partner.Email},
		SelfProfile:    s.cfg.Portal.Profile,
	})
	if err != nil {
		log.CtxWarn(ctx, "create conversation failed: partner_id=%s, error=%v", partner.Id, err)
		s.toast(ToastError, "Could not start the conversation")
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	out := s.convs.Put(conv)
	s.mu.Unlock()

	log.CtxInfo(ctx, "conversation ready: conversation_id=%s, partner_id=%s", conv.Id, partner.Id)
	s.render()
	return out, nil
}

// DeleteConversation hides a conversation for this user. The local removal
// is immediate; the server call is best effort.
func (s *Session) DeleteConversation(ctx context.Context, conversationId string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.convs.Remove(conversationId) {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	var prevTyping *presence.Debouncer
	if s.selected == conversationId {
		prevTyping = s.typing
		s.typing = nil
		s.selected = ""
		s.historyGen++
		s.loading = false
		s.msgs.Reset()
	}
	s.mu.Unlock()

	if prevTyping != nil {
		prevTyping.Stop()
	}
	s.render()

	if err := s.api.DeleteConversation(ctx, conversationId); err != nil {
		log.CtxWarn(ctx, "delete conversation failed: conversation_id=%s, error=%v", conversationId, err)
	}
	return nil
}

// Block stops both sides from composing in a conversation
func (s *Session) Block(ctx context.Context, conversationId string) error {
	return s.setBlocked(ctx, conversationId, true)
}

// Unblock lifts a block this user placed
func (s *Session) Unblock(ctx context.Context, conversationId string) error {
	return s.setBlocked(ctx, conversationId, false)
}

// setBlocked flips the flag locally first and restores the previous value
// when the server refuses.
func (s *Session) setBlocked(ctx context.Context, conversationId string, blocked bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur, ok := s.convs.Get(conversationId)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	if !blocked && cur.IsBlocked && cur.BlockedBy != "" && cur.BlockedBy != s.cfg.SelfId {
		s.mu.Unlock()
		return ErrBlockedByPartner
	}
	if cur.IsBlocked == blocked {
		s.mu.Unlock()
		return nil
	}
	by := ""
	if blocked {
		by = s.cfg.SelfId
	}
	s.convs.Update(conversationId, store.ConversationPatch{Id: conversationId, IsBlocked: &blocked, BlockedBy: &by})
	var typing *presence.Debouncer
	if blocked && s.selected == conversationId {
		typing = s.typing
	}
	s.mu.Unlock()

	if typing != nil {
		typing.Stop()
	}
	s.render()

	apply := s.api.BlockConversation
	if !blocked {
		apply = s.api.UnblockConversation
	}
	updated, err := apply(ctx, conversationId)

	s.mu.Lock()
	if err != nil {
		s.convs.Update(conversationId, store.ConversationPatch{Id: conversationId, IsBlocked: &cur.IsBlocked, BlockedBy: &cur.BlockedBy})
	} else if updated != nil {
		s.convs.Update(conversationId, store.ConversationPatch{Id: conversationId, IsBlocked: &updated.IsBlocked, BlockedBy: &updated.BlockedBy})
	}
	s.mu.Unlock()
	s.render()

	if err != nil {
		log.CtxWarn(ctx, "change block status failed: conversation_id=%s, blocked=%v, error=%v", conversationId, blocked, err)
		s.toast(ToastError, "Could not update the block status")
		return fmt.Errorf("set blocked: %w", err)
	}
	log.CtxInfo(ctx, "block status changed: conversation_id=%s, blocked=%v", conversationId, blocked)
	return nil
}

// newTypingLocked builds the outgoing typing debouncer for one conversation
func (s *Session) newTypingLocked(conversationId, partnerId string) *presence.Debouncer {
	sig := protocol.TypingSignal{ConversationId: conversationId, UserId: s.cfg.SelfId, ReceiverId: partnerId}
	return presence.NewDebouncer(s.cfg.TypingDebounce,
		func() { s.publish(context.Background(), &protocol.Typing{TypingSignal: sig}) },
		func() { s.publish(context.Background(), &protocol.StopTyping{TypingSignal: sig}) },
	).WithRefresh(typingRefresh(s.cfg.TypingDebounce, s.cfg.TypingFallback))
}

// typingRefresh repeats typing well inside the partner's fallback window
func typingRefresh(debounce, fallback time.Duration) time.Duration {
	interval := debounce
	if fallback > 0 && fallback < interval {
		interval = fallback
	}
	return interval / 2
}
