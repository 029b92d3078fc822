package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/mbeoliero/kit/log"
	"gorm.io/gorm"

	"github.com/mbeoliero/estatechat/internal/entity"
	"github.com/mbeoliero/estatechat/internal/repository"
	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/idgen"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

const maxEmojiLen = 16

// SendMessageRequest is shared by the HTTP fallback and the send_message event
type SendMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	ReceiverId     string `json:"receiver_id"`
	Message        string `json:"message"`
	TempId         string `json:"temp_id,omitempty"`
}

// MessageService handles message-related business logic
type MessageService struct {
	msgRepo  *repository.MessageRepo
	convRepo *repository.ConversationRepo
	repos    *repository.Repositories
	ids      idgen.IDGenerator
	pusher   Pusher
}

// NewMessageService creates a new MessageService
func NewMessageService(repos *repository.Repositories) *MessageService {
	return &MessageService{
		msgRepo:  repos.Message,
		convRepo: repos.Conversation,
		repos:    repos,
		pusher:   nopPusher{},
	}
}

// SetPusher sets the realtime pusher
func (s *MessageService) SetPusher(pusher Pusher) {
	s.pusher = pusher
}

// SetIDGenerator overrides the default sonyflake generator
func (s *MessageService) SetIDGenerator(ids idgen.IDGenerator) {
	s.ids = ids
}

// Send stores a message, updates the summary and pushes receive_message to
// both sides. A repeated temp id returns the stored message without a new push.
func (s *MessageService) Send(ctx context.Context, senderId string, req *SendMessageRequest) (*protocol.Message, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, errcode.ErrEmptyMessage
	}

	conv, err := s.conversation(ctx, senderId, req.ConversationId)
	if err != nil {
		return nil, err
	}
	receiverId := conv.PartnerOf(senderId)
	if req.ReceiverId != "" && req.ReceiverId != receiverId {
		return nil, errcode.ErrInvalidParam
	}
	if conv.IsBlocked {
		return nil, errcode.ErrConvBlocked
	}

	clientMsgId := req.TempId
	if clientMsgId == "" {
		clientMsgId = idgen.NewTempId()
	} else {
		existing, err := s.msgRepo.GetByClientMsgId(ctx, senderId, clientMsgId)
		if err != nil {
			log.CtxError(ctx, "check idempotency failed: %v", err)
			return nil, errcode.ErrInternalServer
		}
		if existing != nil {
			log.CtxDebug(ctx, "duplicate message: temp_id=%s", clientMsgId)
			return existing.ToProtocol(nil), nil
		}
	}

	id, err := s.nextId()
	if err != nil {
		log.CtxError(ctx, "alloc message id failed: %v", err)
		return nil, errcode.ErrSendFailed
	}
	msg := &entity.Message{
		Id:             id,
		ConversationId: conv.Id,
		SenderId:       senderId,
		ReceiverId:     receiverId,
		Text:           text,
		ClientMsgId:    clientMsgId,
		CreatedAt:      entity.NowUnixMilli(),
	}

	err = s.repos.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.msgRepo.Create(ctx, tx, msg); err != nil {
			return err
		}
		return s.convRepo.RecordMessage(ctx, tx, conv, msg)
	})
	if err != nil {
		log.CtxError(ctx, "send message failed: conversation_id=%s, error=%v", conv.Id, err)
		return nil, errcode.ErrSendFailed
	}

	out := msg.ToProtocol(nil)
	s.pusher.PushToUsers(ctx, &protocol.ReceiveMessage{Message: *out}, senderId, receiverId)
	if fresh, err := s.convRepo.Get(ctx, nil, conv.Id); err == nil && fresh != nil {
		pushConversation(ctx, s.pusher, fresh)
	}

	log.CtxInfo(ctx, "message sent: conversation_id=%s, sender_id=%s, message_id=%s", conv.Id, senderId, msg.Id)
	return out, nil
}

// History returns the latest messages of a conversation with their reactions
func (s *MessageService) History(ctx context.Context, userId, conversationId string, limit int) ([]*protocol.Message, error) {
	if _, err := s.conversation(ctx, userId, conversationId); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constant.DefaultHistoryLimit
	}
	if limit > constant.MaxHistoryLimit {
		limit = constant.MaxHistoryLimit
	}

	msgs, err := s.msgRepo.Latest(ctx, conversationId, limit)
	if err != nil {
		log.CtxError(ctx, "load history failed: conversation_id=%s, error=%v", conversationId, err)
		return nil, errcode.ErrHistoryFailed
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
	}
	reactions, err := s.msgRepo.Reactions(ctx, ids)
	if err != nil {
		log.CtxError(ctx, "load reactions failed: conversation_id=%s, error=%v", conversationId, err)
		return nil, errcode.ErrHistoryFailed
	}

	out := make([]*protocol.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToProtocol(reactions[m.Id])
	}
	return out, nil
}

// Delete removes a message for both sides. Only the sender may delete.
func (s *MessageService) Delete(ctx context.Context, userId, messageId string) error {
	msg, err := s.message(ctx, messageId)
	if err != nil {
		return err
	}
	if msg.SenderId != userId {
		return errcode.ErrNotMessageSender
	}
	if err := s.msgRepo.MarkDeleted(ctx, messageId); err != nil {
		log.CtxError(ctx, "delete message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}

	s.pusher.PushToUsers(ctx, &protocol.MessageDeleted{ConversationId: msg.ConversationId, MessageId: messageId}, msg.SenderId, msg.ReceiverId)
	log.CtxInfo(ctx, "message deleted: message_id=%s, user_id=%s", messageId, userId)
	return nil
}

// React sets userId's emoji on a message; the latest reaction wins
func (s *MessageService) React(ctx context.Context, userId, messageId, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLen {
		return errcode.ErrInvalidReaction
	}
	msg, err := s.participantMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}
	if err := s.msgRepo.SetReaction(ctx, messageId, userId, emoji); err != nil {
		log.CtxError(ctx, "set reaction failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}

	s.pusher.PushToUsers(ctx, &protocol.ReactionUpdate{
		ConversationId: msg.ConversationId,
		MessageId:      messageId,
		UserId:         userId,
		Emoji:          emoji,
	}, msg.SenderId, msg.ReceiverId)
	return nil
}

// Unreact clears userId's reaction on a message
func (s *MessageService) Unreact(ctx context.Context, userId, messageId string) error {
	msg, err := s.participantMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}
	removed, err := s.msgRepo.DeleteReaction(ctx, messageId, userId)
	if err != nil {
		log.CtxError(ctx, "delete reaction failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}
	if !removed {
		return nil
	}

	s.pusher.PushToUsers(ctx, &protocol.ReactionUpdate{
		ConversationId: msg.ConversationId,
		MessageId:      messageId,
		UserId:         userId,
		Removed:        true,
	}, msg.SenderId, msg.ReceiverId)
	return nil
}

// MarkSeen flags messages userId received as seen and tells the sender
func (s *MessageService) MarkSeen(ctx context.Context, userId, conversationId string, messageIds []string) error {
	conv, err := s.conversation(ctx, userId, conversationId)
	if err != nil {
		return err
	}
	changed, err := s.msgRepo.MarkSeen(ctx, conversationId, userId, messageIds)
	if err != nil {
		log.CtxError(ctx, "mark seen failed: conversation_id=%s, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}
	if err := s.convRepo.ResetUnread(ctx, conv, userId); err != nil {
		log.CtxWarn(ctx, "reset unread failed: conversation_id=%s, error=%v", conversationId, err)
	}
	if len(changed) == 0 {
		return nil
	}

	s.pusher.PushToUsers(ctx, &protocol.MessageSeen{
		ConversationId: conversationId,
		MessageIds:     changed,
		UserId:         userId,
	}, conv.PartnerOf(userId))
	return nil
}

func (s *MessageService) nextId() (string, error) {
	if s.ids != nil {
		return s.ids.NextID()
	}
	return idgen.NextID()
}

func (s *MessageService) conversation(ctx context.Context, userId, conversationId string) (*entity.Conversation, error) {
	if conversationId == "" {
		return nil, errcode.ErrInvalidParam
	}
	conv, err := s.convRepo.Get(ctx, nil, conversationId)
	if err != nil {
		log.CtxError(ctx, "get conversation failed: conversation_id=%s, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer
	}
	if conv == nil || !conv.HasParticipant(userId) {
		return nil, errcode.ErrConvNotFound
	}
	return conv, nil
}

func (s *MessageService) message(ctx context.Context, messageId string) (*entity.Message, error) {
	msg, err := s.msgRepo.Get(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%s, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil || msg.Deleted {
		return nil, errcode.ErrMessageNotFound
	}
	return msg, nil
}

func (s *MessageService) participantMessage(ctx context.Context, userId, messageId string) (*entity.Message, error) {
	msg, err := s.message(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if msg.SenderId != userId && msg.ReceiverId != userId {
		return nil, errcode.ErrMessageNotFound
	}
	return msg, nil
}
