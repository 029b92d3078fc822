package service

import (
	"context"
	"strings"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/internal/entity"
	"github.com/mbeoliero/estatechat/internal/repository"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// Profile is the display data one side shares with the other
type Profile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Email  string `json:"email,omitempty"`
}

// CreateConversationRequest represents the create conversation request
type CreateConversationRequest struct {
	PartnerId      string  `json:"partner_id"`
	PartnerProfile Profile `json:"partner_profile"`
	SelfProfile    Profile `json:"self_profile"`
}

// ConversationService handles conversation-related business logic
type ConversationService struct {
	convRepo *repository.ConversationRepo
	msgRepo  *repository.MessageRepo
	pusher   Pusher
}

// NewConversationService creates a new ConversationService
func NewConversationService(repos *repository.Repositories) *ConversationService {
	return &ConversationService{
		convRepo: repos.Conversation,
		msgRepo:  repos.Message,
		pusher:   nopPusher{},
	}
}

// SetPusher sets the realtime pusher
func (s *ConversationService) SetPusher(pusher Pusher) {
	s.pusher = pusher
}

// List gets the conversations userId has not hidden, most recent first
func (s *ConversationService) List(ctx context.Context, userId string) ([]*protocol.Conversation, error) {
	convs, err := s.convRepo.ListForUser(ctx, userId)
	if err != nil {
		log.CtxError(ctx, "list conversations failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}
	out := make([]*protocol.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ToProtocol(userId))
	}
	return out, nil
}

// GetOrCreate returns the thread between userId and the partner, creating it
// on first contact. A thread the user had hidden becomes visible again and
// the caller's own profile fields are refreshed.
func (s *ConversationService) GetOrCreate(ctx context.Context, userId string, req *CreateConversationRequest) (*protocol.Conversation, error) {
	partnerId := strings.TrimSpace(req.PartnerId)
	if partnerId == "" {
		return nil, errcode.ErrInvalidParam
	}
	if partnerId == userId {
		return nil, errcode.ErrSelfConversation
	}
	if role, ok := identity.RoleOf(partnerId); ok && !role.CanChat() {
		return nil, errcode.ErrNoPermission
	}

	u1, u2 := entity.OrderPair(userId, partnerId)
	conv := &entity.Conversation{
		Id:      entity.GenDirectConversationId(u1, u2),
		User1Id: u1,
		User2Id: u2,
	}
	p1, p2 := req.SelfProfile, req.PartnerProfile
	if u1 != userId {
		p1, p2 = p2, p1
	}
	conv.User1Name, conv.User1Avatar, conv.User1Email = p1.Name, p1.Avatar, p1.Email
	conv.User2Name, conv.User2Avatar, conv.User2Email = p2.Name, p2.Avatar, p2.Email

	stored, err := s.convRepo.CreateIfAbsent(ctx, conv)
	if err != nil {
		log.CtxError(ctx, "create conversation failed: user_id=%s, partner_id=%s, error=%v", userId, partnerId, err)
		return nil, errcode.ErrInternalServer
	}
	// the caller's own display data may have changed since first contact
	self := req.SelfProfile
	updates := stored.ProfileUpdates(userId, self.Name, self.Avatar, self.Email)
	if stored.DeletedFor(userId) {
		updates[stored.DeletedColumn(userId)] = false
	}
	if len(updates) > 0 {
		if err := s.convRepo.Update(ctx, nil, stored.Id, updates); err != nil {
			log.CtxError(ctx, "refresh conversation failed: conversation_id=%s, error=%v", stored.Id, err)
			return nil, errcode.ErrInternalServer
		}
		if stored, err = s.convRepo.Get(ctx, nil, stored.Id); err != nil || stored == nil {
			log.CtxError(ctx, "reload conversation failed: conversation_id=%s, error=%v", conv.Id, err)
			return nil, errcode.ErrInternalServer
		}
	}

	log.CtxInfo(ctx, "conversation ready: conversation_id=%s, user_id=%s", stored.Id, userId)
	return stored.ToProtocol(userId), nil
}

// Hide deletes the conversation for userId only
func (s *ConversationService) Hide(ctx context.Context, userId, conversationId string) error {
	conv, err := s.get(ctx, userId, conversationId)
	if err != nil {
		return err
	}
	if err := s.convRepo.Hide(ctx, conv, userId); err != nil {
		log.CtxError(ctx, "hide conversation failed: conversation_id=%s, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}
	return nil
}

// MarkRead resets userId's unread count and marks what they received as seen
func (s *ConversationService) MarkRead(ctx context.Context, userId, conversationId string) error {
	conv, err := s.get(ctx, userId, conversationId)
	if err != nil {
		return err
	}
	if err := s.convRepo.ResetUnread(ctx, conv, userId); err != nil {
		log.CtxError(ctx, "reset unread failed: conversation_id=%s, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}
	if err := s.msgRepo.MarkAllSeen(ctx, conversationId, userId); err != nil {
		log.CtxWarn(ctx, "mark all seen failed: conversation_id=%s, error=%v", conversationId, err)
	}
	return nil
}

// Block stops both sides from sending. Blocking twice is a no-op.
func (s *ConversationService) Block(ctx context.Context, userId, conversationId string) (*protocol.Conversation, error) {
	conv, err := s.get(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}
	if conv.IsBlocked {
		return conv.ToProtocol(userId), nil
	}
	return s.setBlocked(ctx, userId, conv, true)
}

// Unblock lifts a block placed by userId
func (s *ConversationService) Unblock(ctx context.Context, userId, conversationId string) (*protocol.Conversation, error) {
	conv, err := s.get(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}
	if !conv.IsBlocked {
		return conv.ToProtocol(userId), nil
	}
	if conv.BlockedBy != userId {
		return nil, errcode.ErrNotBlockedByUser
	}
	return s.setBlocked(ctx, userId, conv, false)
}

func (s *ConversationService) setBlocked(ctx context.Context, userId string, conv *entity.Conversation, blocked bool) (*protocol.Conversation, error) {
	by := ""
	if blocked {
		by = userId
	}
	if err := s.convRepo.SetBlocked(ctx, conv.Id, blocked, by); err != nil {
		log.CtxError(ctx, "set blocked failed: conversation_id=%s, error=%v", conv.Id, err)
		return nil, errcode.ErrInternalServer
	}
	conv.IsBlocked = blocked
	conv.BlockedBy = by

	log.CtxInfo(ctx, "conversation block changed: conversation_id=%s, user_id=%s, blocked=%v", conv.Id, userId, blocked)
	pushConversation(ctx, s.pusher, conv)
	return conv.ToProtocol(userId), nil
}

// get loads a conversation and checks userId takes part in it
func (s *ConversationService) get(ctx context.Context, userId, conversationId string) (*entity.Conversation, error) {
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

// pushConversation sends each participant their own view of the summary
func pushConversation(ctx context.Context, pusher Pusher, conv *entity.Conversation) {
	for _, userId := range []string{conv.User1Id, conv.User2Id} {
		pusher.PushToUsers(ctx, &protocol.ConversationUpdated{Conversation: *conv.ToProtocol(userId)}, userId)
	}
}
