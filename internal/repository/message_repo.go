package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbeoliero/estatechat/internal/entity"
)

// MaxHistoryLimit caps one history page
const MaxHistoryLimit = 200

// MessageRepo is the repository for message and reaction operations
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create creates a new message
func (r *MessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *entity.Message) error {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = entity.NowUnixMilli()
	}
	return conn(r.db, tx).WithContext(ctx).Create(msg).Error
}

// Get gets a message by id, nil when missing
func (r *MessageRepo) Get(ctx context.Context, id string) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetByClientMsgId gets message by sender_id and client_msg_id (for idempotency check)
func (r *MessageRepo) GetByClientMsgId(ctx context.Context, senderId, clientMsgId string) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND client_msg_id = ?", senderId, clientMsgId).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// Latest gets the latest N visible messages of a conversation in ascending order
func (r *MessageRepo) Latest(ctx context.Context, conversationId string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND deleted = ?", conversationId, false).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse to ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkDeleted hides a message from history
func (r *MessageRepo) MarkDeleted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id = ?", id).
		Update("deleted", true).Error
}

// MarkSeen flags ids received by receiverId as seen and returns the ids that changed
func (r *MessageRepo) MarkSeen(ctx context.Context, conversationId, receiverId string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var changed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&entity.Message{}).
			Where("conversation_id = ? AND receiver_id = ? AND seen = ? AND id IN ?", conversationId, receiverId, false, ids)
		if err := q.Pluck("id", &changed).Error; err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.Model(&entity.Message{}).Where("id IN ?", changed).Update("seen", true).Error
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// MarkAllSeen flags every message receiverId got in a conversation as seen
func (r *MessageRepo) MarkAllSeen(ctx context.Context, conversationId, receiverId string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND seen = ?", conversationId, receiverId, false).
		Update("seen", true).Error
}

// SetReaction stores userId's emoji on a message, replacing any previous one
func (r *MessageRepo) SetReaction(ctx context.Context, messageId, userId, emoji string) error {
	reaction := &entity.MessageReaction{
		MessageId: messageId,
		UserId:    userId,
		Emoji:     emoji,
		UpdatedAt: entity.NowUnixMilli(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
	}).Create(reaction).Error
}

// DeleteReaction removes userId's reaction and reports whether one existed
func (r *MessageRepo) DeleteReaction(ctx context.Context, messageId, userId string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageId, userId).
		Delete(&entity.MessageReaction{})
	return res.RowsAffected > 0, res.Error
}

// Reactions loads reactions for a set of messages as message id -> user id -> emoji
func (r *MessageRepo) Reactions(ctx context.Context, messageIds []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	if len(messageIds) == 0 {
		return out, nil
	}

	var rows []*entity.MessageReaction
	err := r.db.WithContext(ctx).Where("message_id IN ?", messageIds).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if out[row.MessageId] == nil {
			out[row.MessageId] = make(map[string]string)
		}
		out[row.MessageId][row.UserId] = row.Emoji
	}
	return out, nil
}
