package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbeoliero/estatechat/internal/entity"
)

// ConversationRepo is the repository for conversation operations
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Get gets a conversation by id, nil when missing
func (r *ConversationRepo) Get(ctx context.Context, tx *gorm.DB, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// CreateIfAbsent inserts conv unless the pair already has a row, then
// returns the stored row
func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, error) {
	now := entity.NowUnixMilli()
	if conv.CreatedAt == 0 {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt == 0 {
		conv.UpdatedAt = now
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, nil, conv.Id)
}

// ListForUser gets the conversations userId has not hidden, most recent first
func (r *ConversationRepo) ListForUser(ctx context.Context, userId string) ([]*entity.Conversation, error) {
	var convs []*entity.Conversation
	err := r.db.WithContext(ctx).
		Where("(user1_id = ? AND user1_deleted = ?) OR (user2_id = ? AND user2_deleted = ?)", userId, false, userId, false).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// Update applies column updates without touching updated_at
func (r *ConversationRepo) Update(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&entity.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// RecordMessage moves the summary to msg, bumps the receiver's unread count
// and un-hides the conversation for both sides
func (r *ConversationRepo) RecordMessage(ctx context.Context, tx *gorm.DB, conv *entity.Conversation, msg *entity.Message) error {
	unread := conv.UnreadColumn(msg.ReceiverId)
	return r.Update(ctx, tx, conv.Id, map[string]interface{}{
		"last_message":        msg.Text,
		"last_message_sender": msg.SenderId,
		"updated_at":          msg.CreatedAt,
		unread:                gorm.Expr(unread + " + 1"),
		"user1_deleted":       false,
		"user2_deleted":       false,
	})
}

// ResetUnread sets userId's unread count to zero
func (r *ConversationRepo) ResetUnread(ctx context.Context, conv *entity.Conversation, userId string) error {
	return r.Update(ctx, nil, conv.Id, map[string]interface{}{conv.UnreadColumn(userId): 0})
}

// Hide marks the conversation deleted for userId
func (r *ConversationRepo) Hide(ctx context.Context, conv *entity.Conversation, userId string) error {
	return r.Update(ctx, nil, conv.Id, map[string]interface{}{
		conv.DeletedColumn(userId): true,
		conv.UnreadColumn(userId):  0,
	})
}

// SetBlocked stores the block flag and who placed it
func (r *ConversationRepo) SetBlocked(ctx context.Context, id string, blocked bool, by string) error {
	return r.Update(ctx, nil, id, map[string]interface{}{
		"is_blocked": blocked,
		"blocked_by": by,
	})
}
