package entity

import "github.com/mbeoliero/estatechat/pkg/protocol"

// Message is one chat message. (sender_id, client_msg_id) makes sends idempotent.
type Message struct {
	Id             string `json:"id" gorm:"column:id;primaryKey;size:32"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id;size:160;index:idx_conv_created,priority:1"`
	SenderId       string `json:"sender_id" gorm:"column:sender_id;size:64;uniqueIndex:uk_sender_client,priority:1"`
	ReceiverId     string `json:"receiver_id" gorm:"column:receiver_id;size:64"`
	Text           string `json:"message" gorm:"column:message;type:text"`
	ClientMsgId    string `json:"client_msg_id" gorm:"column:client_msg_id;size:64;uniqueIndex:uk_sender_client,priority:2"`
	Seen           bool   `json:"seen" gorm:"column:seen"`
	Deleted        bool   `json:"deleted" gorm:"column:deleted"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at;index:idx_conv_created,priority:2"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// ToProtocol converts the record to the wire shape
func (m *Message) ToProtocol(reactions map[string]string) *protocol.Message {
	return &protocol.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		ReceiverId:     m.ReceiverId,
		Text:           m.Text,
		CreatedAt:      FromUnixMilli(m.CreatedAt),
		Seen:           m.Seen,
		Reactions:      reactions,
		TempId:         m.ClientMsgId,
	}
}

// MessageReaction is one user's emoji on a message; a user holds at most one
type MessageReaction struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageId string `json:"message_id" gorm:"column:message_id;size:32;uniqueIndex:uk_message_user,priority:1"`
	UserId    string `json:"user_id" gorm:"column:user_id;size:64;uniqueIndex:uk_message_user,priority:2"`
	Emoji     string `json:"emoji" gorm:"column:emoji;size:32"`
	UpdatedAt int64  `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the table name for MessageReaction
func (MessageReaction) TableName() string {
	return "message_reactions"
}

// Models lists every table for auto migration
func Models() []any {
	return []any{&Conversation{}, &Message{}, &MessageReaction{}}
}
