package gateway

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/internal/entity"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// dispatch routes one decoded client event. Sender fields always come from
// the authenticated connection, never from the payload.
func (s *WsServer) dispatch(ctx context.Context, c *Client, p protocol.Payload) error {
	switch e := p.(type) {
	case *protocol.UserOnline:
		s.broadcastOnlineUsers(ctx)
		return nil

	case *protocol.JoinConversation:
		if _, err := partnerIn(e.ConversationId, c.UserId); err != nil {
			return err
		}
		c.SetRoom(e.ConversationId)
		return nil

	case *protocol.SendMessage:
		_, err := s.msgService.Send(ctx, c.UserId, &service.SendMessageRequest{
			ConversationId: e.ConversationId,
			ReceiverId:     e.ReceiverId,
			Message:        e.Text,
			TempId:         e.TempId,
		})
		return err

	case *protocol.MessageSeen:
		return s.msgService.MarkSeen(ctx, c.UserId, e.ConversationId, e.MessageIds)

	case *protocol.Typing:
		return s.relayTyping(ctx, c, e.TypingSignal, true)

	case *protocol.StopTyping:
		return s.relayTyping(ctx, c, e.TypingSignal, false)

	case *protocol.AddReaction:
		return s.msgService.React(ctx, c.UserId, e.MessageId, e.Emoji)

	case *protocol.RemoveReaction:
		return s.msgService.Unreact(ctx, c.UserId, e.MessageId)

	case *protocol.DeleteMessage:
		return s.msgService.Delete(ctx, c.UserId, e.MessageId)

	case *protocol.CallUser:
		return s.relayCall(ctx, c, e)

	case *protocol.AnswerCall:
		if e.To == "" || e.To == c.UserId {
			return errcode.ErrInvalidParam
		}
		s.PushToUsers(ctx, &protocol.CallAccepted{From: c.UserId, Signal: e.Signal}, e.To)
		return nil

	case *protocol.EndCall:
		if e.To == "" || e.To == c.UserId {
			return errcode.ErrInvalidParam
		}
		e.From = c.UserId
		if e.EndedAt.IsZero() {
			e.EndedAt = s.now()
		}
		s.PushToUsers(ctx, e, e.To)
		return nil

	case *protocol.CallMissed:
		if e.To == "" || e.To == c.UserId {
			return errcode.ErrInvalidParam
		}
		e.From = c.UserId
		if e.At.IsZero() {
			e.At = s.now()
		}
		s.PushToUsers(ctx, e, e.To)
		return nil

	default:
		// server to client events
		return errcode.ErrInvalidProtocol
	}
}

// relayTyping forwards a typing signal to the conversation partner
func (s *WsServer) relayTyping(ctx context.Context, c *Client, sig protocol.TypingSignal, typing bool) error {
	partnerId, err := partnerIn(sig.ConversationId, c.UserId)
	if err != nil {
		return err
	}
	if sig.ReceiverId != "" && sig.ReceiverId != partnerId {
		return errcode.ErrInvalidParam
	}

	out := protocol.TypingSignal{ConversationId: sig.ConversationId, UserId: c.UserId, ReceiverId: partnerId}
	if typing {
		s.PushToUsers(ctx, &protocol.UserTyping{TypingSignal: out}, partnerId)
	} else {
		s.PushToUsers(ctx, &protocol.UserStopTyping{TypingSignal: out}, partnerId)
	}
	return nil
}

// relayCall rings the callee, or ends the call at once when nobody can answer
func (s *WsServer) relayCall(ctx context.Context, c *Client, e *protocol.CallUser) error {
	if e.UserToCall == c.UserId {
		return errcode.ErrInvalidParam
	}
	e.From = c.UserId

	if !s.userMap.HasConnection(e.UserToCall) {
		log.CtxInfo(ctx, "callee unavailable: from=%s, to=%s", c.UserId, e.UserToCall)
		s.metrics.DroppedEvents.WithLabelValues(dropOffline).Inc()
		end := &protocol.EndCall{
			To:      c.UserId,
			From:    e.UserToCall,
			IsVideo: e.IsVideo,
			Reason:  constant.CallEndUnavailable,
			EndedAt: s.now(),
		}
		frame, err := protocol.Encode(end)
		if err != nil {
			return err
		}
		s.pushFrame(ctx, c, end.EventName(), frame)
		return nil
	}

	s.PushToUsers(ctx, e, e.UserToCall)
	return nil
}

// partnerIn returns the other participant of a direct conversation userId is part of
func partnerIn(conversationId, userId string) (string, error) {
	u1, u2, ok := entity.DirectParticipants(conversationId)
	switch {
	case !ok:
		return "", errcode.ErrInvalidParam
	case u1 == userId:
		return u2, nil
	case u2 == userId:
		return u1, nil
	default:
		return "", errcode.ErrConvNotFound
	}
}
