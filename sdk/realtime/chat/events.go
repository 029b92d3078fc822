package chat

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk/realtime/store"
)

func (s *Session) subscribeLocked() {
	on := func(event string, h func(ctx context.Context, p protocol.Payload)) {
		s.unsubs = append(s.unsubs, s.ch.Subscribe(event, h))
	}

	on(protocol.EventReceiveMessage, func(ctx context.Context, p protocol.Payload) {
		s.handleReceive(ctx, &p.(*protocol.ReceiveMessage).Message)
	})
	on(protocol.EventConversationUpdated, func(ctx context.Context, p protocol.Payload) {
		s.handleConversationUpdated(ctx, &p.(*protocol.ConversationUpdated).Conversation)
	})
	on(protocol.EventMessageSeen, func(ctx context.Context, p protocol.Payload) {
		s.handleSeen(p.(*protocol.MessageSeen))
	})
	on(protocol.EventOnlineUsers, func(_ context.Context, p protocol.Payload) {
		s.presence.ReplaceOnline(p.(*protocol.OnlineUsers).UserIds)
	})
	on(protocol.EventUserTyping, func(_ context.Context, p protocol.Payload) {
		ev := p.(*protocol.UserTyping)
		if ev.UserId != s.cfg.SelfId {
			s.presence.SetTyping(ev.ConversationId, ev.UserId)
		}
	})
	on(protocol.EventUserStopTyping, func(_ context.Context, p protocol.Payload) {
		ev := p.(*protocol.UserStopTyping)
		s.presence.ClearTyping(ev.ConversationId, ev.UserId)
	})
	on(protocol.EventReactionUpdate, func(ctx context.Context, p protocol.Payload) {
		s.handleReaction(p.(*protocol.ReactionUpdate))
	})
	on(protocol.EventMessageDeleted, func(ctx context.Context, p protocol.Payload) {
		s.handleDeleted(p.(*protocol.MessageDeleted))
	})
	on(protocol.EventCallUser, func(ctx context.Context, p protocol.Payload) {
		_ = s.calls.HandleIncoming(ctx, p.(*protocol.CallUser))
	})
	on(protocol.EventCallAccepted, func(ctx context.Context, p protocol.Payload) {
		if err := s.calls.HandleAccepted(ctx, p.(*protocol.CallAccepted)); err != nil {
			log.CtxWarn(ctx, "call negotiation failed: error=%v", err)
			s.toast(ToastError, "Call failed to connect")
		}
	})
	on(protocol.EventEndCall, func(ctx context.Context, p protocol.Payload) {
		s.calls.HandleEnded(ctx, p.(*protocol.EndCall))
	})
	on(protocol.EventCallMissed, func(ctx context.Context, p protocol.Payload) {
		s.calls.HandleMissed(ctx, p.(*protocol.CallMissed))
	})
	on(protocol.EventError, func(ctx context.Context, p protocol.Payload) {
		s.handleServerError(ctx, p.(*protocol.Error))
	})
}

// handleReceive folds an authoritative message into the stores. Unread
// increments only for a peer message on a conversation that is not open.
func (s *Session) handleReceive(ctx context.Context, m *protocol.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, known := s.convs.Get(m.ConversationId); !known {
		s.mu.Unlock()
		log.CtxInfo(ctx, "message for unknown conversation, resyncing: conversation_id=%s", m.ConversationId)
		s.resync(ctx)
		return
	}

	fresh := s.rememberLocked("msg:" + m.Id)
	fromPeer := m.SenderId != s.cfg.SelfId
	open := s.selected == m.ConversationId

	var seen []string
	if open {
		res := s.msgs.Reconcile(m)
		if res == store.Appended && fromPeer {
			seen = []string{m.Id}
			s.msgs.MarkSeen(seen)
		}
	}
	if fresh {
		text, sender, at := m.Text, m.SenderId, m.CreatedAt
		if at.IsZero() {
			at = s.now()
		}
		s.convs.Upsert(store.ConversationPatch{
			Id:                m.ConversationId,
			LastMessage:       &text,
			LastMessageSender: &sender,
			UpdatedAt:         &at,
		})
		if fromPeer && !open {
			s.convs.IncrementUnread(m.ConversationId)
		}
	}
	s.mu.Unlock()

	if fromPeer {
		s.presence.ClearTyping(m.ConversationId, m.SenderId)
	}
	if len(seen) > 0 {
		s.publish(ctx, &protocol.MessageSeen{ConversationId: m.ConversationId, MessageIds: seen, UserId: s.cfg.SelfId})
	}
	s.render()
}

// handleConversationUpdated applies the server's per-viewer summary. The
// open conversation stays read. Entries move to the top only when their
// activity time changed, so block status updates do not reorder the list.
func (s *Session) handleConversationUpdated(ctx context.Context, c *protocol.Conversation) {
	if !c.HasParticipant(s.cfg.SelfId) {
		log.CtxDebug(ctx, "ignoring conversation update for another user: conversation_id=%s", c.Id)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	cp := *c
	if s.selected == c.Id {
		cp.UnreadMessages = 0
	}
	if cur, ok := s.convs.Get(c.Id); ok && cur.UpdatedAt.Equal(cp.UpdatedAt) {
		s.convs.Update(c.Id, store.PatchOf(&cp))
	} else {
		s.convs.Put(&cp)
	}
	s.mu.Unlock()
	s.render()
}

func (s *Session) handleSeen(ev *protocol.MessageSeen) {
	s.mu.Lock()
	changed := s.selected == ev.ConversationId && s.msgs.MarkSeen(ev.MessageIds) > 0
	s.mu.Unlock()
	if changed {
		s.render()
	}
}

func (s *Session) handleReaction(ev *protocol.ReactionUpdate) {
	emoji := ev.Emoji
	if ev.Removed {
		emoji = ""
	}
	s.mu.Lock()
	changed := s.msgs.ApplyReaction(ev.MessageId, ev.UserId, emoji)
	s.mu.Unlock()
	if changed {
		s.render()
	}
}

func (s *Session) handleDeleted(ev *protocol.MessageDeleted) {
	s.mu.Lock()
	_, changed := s.msgs.Delete(ev.MessageId)
	s.mu.Unlock()
	if changed {
		s.render()
	}
}

// handleServerError reports a rejected event. A rejected send is dropped
// from the list since retrying cannot succeed.
func (s *Session) handleServerError(ctx context.Context, ev *protocol.Error) {
	log.CtxWarn(ctx, "server rejected event: event=%s, code=%d, msg=%s", ev.Event, ev.Code, ev.Msg)
	if ev.TempId != "" {
		s.mu.Lock()
		s.msgs.Delete(ev.TempId)
		s.mu.Unlock()
		s.render()
	}
	s.toast(ToastError, ev.Msg)
}

// resync reloads the list in the background. Handlers run on the channel's
// read goroutine, so the fetch happens elsewhere.
func (s *Session) resync(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.LoadConversations(context.WithoutCancel(ctx)); err != nil {
			log.CtxWarn(ctx, "resync conversations failed: error=%v", err)
		}
	}()
}
