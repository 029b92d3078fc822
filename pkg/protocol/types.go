package protocol

import "time"

// Participant is one side of a conversation as shown to the other side
type Participant struct {
	Id     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Conversation is the sidebar summary of a two-party thread. The record is
// symmetric: display fields are kept for both sides.
type Conversation struct {
	Id                string    `json:"id"`
	User1Id           string    `json:"user1_id"`
	User2Id           string    `json:"user2_id"`
	User1Name         string    `json:"user1_name,omitempty"`
	User1Avatar       string    `json:"user1_avatar,omitempty"`
	User1Email        string    `json:"user1_email,omitempty"`
	User2Name         string    `json:"user2_name,omitempty"`
	User2Avatar       string    `json:"user2_avatar,omitempty"`
	User2Email        string    `json:"user2_email,omitempty"`
	LastMessage       string    `json:"last_message"`
	LastMessageSender string    `json:"last_message_sender,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	UnreadMessages    int       `json:"unread_messages"`
	IsBlocked         bool      `json:"is_blocked"`
	BlockedBy         string    `json:"blocked_by,omitempty"`
}

// HasParticipant reports whether userId is one of the two sides
func (c *Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.User1Id == userId || c.User2Id == userId)
}

// PartnerId returns the participant that is not userId
func (c *Conversation) PartnerId(userId string) string {
	if c.User1Id == userId {
		return c.User2Id
	}
	return c.User1Id
}

// Partner returns the display fields of the participant that is not userId
func (c *Conversation) Partner(userId string) Participant {
	if c.User1Id == userId {
		return Participant{Id: c.User2Id, Name: c.User2Name, Avatar: c.User2Avatar, Email: c.User2Email}
	}
	return Participant{Id: c.User1Id, Name: c.User1Name, Avatar: c.User1Avatar, Email: c.User1Email}
}

// Message is a single chat bubble.
type Message struct {
	Id             string            `json:"id"`
	ConversationId string            `json:"conversation_id"`
	SenderId       string            `json:"sender_id"`
	ReceiverId     string            `json:"receiver_id,omitempty"`
	Text           string            `json:"message"`
	CreatedAt      time.Time         `json:"created_at"`
	Seen           bool              `json:"seen"`
	Reactions      map[string]string `json:"reactions,omitempty"`
	TempId         string            `json:"temp_id,omitempty"`

	// Pending is set on the client while the server has not confirmed the message
	Pending bool `json:"-"`
}

// Clone returns a deep copy of m
func (m *Message) Clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = v
		}
	}
	return &cp
}
