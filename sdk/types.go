package sdk

import "encoding/json"

// Response represents a standard API response
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Profile is the display data a participant shares with the other side
type Profile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Email  string `json:"email,omitempty"`
}

// CreateConversationRequest starts (or returns) the thread with PartnerId
type CreateConversationRequest struct {
	PartnerId      string  `json:"partner_id"`
	PartnerProfile Profile `json:"partner_profile"`
	SelfProfile    Profile `json:"self_profile"`
}

// SendMessageRequest sends over HTTP; TempId makes retries idempotent
type SendMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	ReceiverId     string `json:"receiver_id"`
	Message        string `json:"message"`
	TempId         string `json:"temp_id,omitempty"`
}
