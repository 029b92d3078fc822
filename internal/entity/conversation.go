package entity

import "github.com/mbeoliero/estatechat/pkg/protocol"

// Conversation is the shared record of a two-party thread. Per-side state
// (unread count, delete-for-me) lives in user1_/user2_ columns.
type Conversation struct {
	Id                string `json:"id" gorm:"column:id;primaryKey;size:160"`
	User1Id           string `json:"user1_id" gorm:"column:user1_id;size:64;uniqueIndex:uk_pair,priority:1"`
	User2Id           string `json:"user2_id" gorm:"column:user2_id;size:64;uniqueIndex:uk_pair,priority:2"`
	User1Name         string `json:"user1_name" gorm:"column:user1_name"`
	User1Avatar       string `json:"user1_avatar" gorm:"column:user1_avatar"`
	User1Email        string `json:"user1_email" gorm:"column:user1_email"`
	User2Name         string `json:"user2_name" gorm:"column:user2_name"`
	User2Avatar       string `json:"user2_avatar" gorm:"column:user2_avatar"`
	User2Email        string `json:"user2_email" gorm:"column:user2_email"`
	LastMessage       string `json:"last_message" gorm:"column:last_message;type:text"`
	LastMessageSender string `json:"last_message_sender" gorm:"column:last_message_sender;size:64"`
	User1Unread       int    `json:"user1_unread" gorm:"column:user1_unread"`
	User2Unread       int    `json:"user2_unread" gorm:"column:user2_unread"`
	IsBlocked         bool   `json:"is_blocked" gorm:"column:is_blocked"`
	BlockedBy         string `json:"blocked_by" gorm:"column:blocked_by;size:64"`
	User1Deleted      bool   `json:"user1_deleted" gorm:"column:user1_deleted"`
	User2Deleted      bool   `json:"user2_deleted" gorm:"column:user2_deleted"`
	CreatedAt         int64  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         int64  `json:"updated_at" gorm:"column:updated_at;index"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userId is one of the two sides
func (c *Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.User1Id == userId || c.User2Id == userId)
}

// PartnerOf returns the other participant
func (c *Conversation) PartnerOf(userId string) string {
	if c.User1Id == userId {
		return c.User2Id
	}
	return c.User1Id
}

// UnreadFor returns the unread count of one side
func (c *Conversation) UnreadFor(userId string) int {
	if c.User1Id == userId {
		return c.User1Unread
	}
	return c.User2Unread
}

// DeletedFor reports whether userId hid the conversation
func (c *Conversation) DeletedFor(userId string) bool {
	if c.User1Id == userId {
		return c.User1Deleted
	}
	return c.User2Deleted
}

// UnreadColumn returns the unread column of one side
func (c *Conversation) UnreadColumn(userId string) string {
	if c.User1Id == userId {
		return "user1_unread"
	}
	return "user2_unread"
}

// DeletedColumn returns the delete-for-me column of one side
func (c *Conversation) DeletedColumn(userId string) string {
	if c.User1Id == userId {
		return "user1_deleted"
	}
	return "user2_deleted"
}

// ProfileUpdates returns the columns of userId's side whose stored value
// differs from a non-empty given one
func (c *Conversation) ProfileUpdates(userId, name, avatar, email string) map[string]interface{} {
	prefix := "user2_"
	current := [3]string{c.User2Name, c.User2Avatar, c.User2Email}
	if c.User1Id == userId {
		prefix = "user1_"
		current = [3]string{c.User1Name, c.User1Avatar, c.User1Email}
	}

	updates := make(map[string]interface{})
	for i, field := range [3]string{"name", "avatar", "email"} {
		v := [3]string{name, avatar, email}[i]
		if v != "" && v != current[i] {
			updates[prefix+field] = v
		}
	}
	return updates
}

// ToProtocol renders the record as seen by viewer
func (c *Conversation) ToProtocol(viewer string) *protocol.Conversation {
	return &protocol.Conversation{
		Id:                c.Id,
		User1Id:           c.User1Id,
		User2Id:           c.User2Id,
		User1Name:         c.User1Name,
		User1Avatar:       c.User1Avatar,
		User1Email:        c.User1Email,
		User2Name:         c.User2Name,
		User2Avatar:       c.User2Avatar,
		User2Email:        c.User2Email,
		LastMessage:       c.LastMessage,
		LastMessageSender: c.LastMessageSender,
		UpdatedAt:         FromUnixMilli(c.UpdatedAt),
		UnreadMessages:    c.UnreadFor(viewer),
		IsBlocked:         c.IsBlocked,
		BlockedBy:         c.BlockedBy,
	}
}
