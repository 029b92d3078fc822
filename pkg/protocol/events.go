package protocol

import (
	"encoding/json"
	"time"
)

// Event names on the realtime channel
const (
	EventUserOnline          = "user_online"
	EventOnlineUsers         = "online_users"
	EventJoinConversation    = "join_conversation"
	EventSendMessage         = "send_message"
	EventReceiveMessage      = "receive_message"
	EventMessageSeen         = "message_seen"
	EventConversationUpdated = "conversation_updated"
	EventTyping              = "typing"
	EventStopTyping          = "stop_typing"
	EventUserTyping          = "user_typing"
	EventUserStopTyping      = "user_stop_typing"
	EventAddReaction         = "add_reaction"
	EventRemoveReaction      = "remove_reaction"
	EventReactionUpdate      = "reaction_update"
	EventDeleteMessage       = "delete_message"
	EventMessageDeleted      = "message_deleted"
	EventCallUser            = "callUser"
	EventCallAccepted        = "callAccepted"
	EventAnswerCall          = "answerCall"
	EventEndCall             = "endCall"
	EventCallMissed          = "call_missed"
	EventError               = "error"
)

// UserOnline announces the connection's user. Sent on every (re)connect.
type UserOnline struct {
	UserId string `json:"user_id"`
}

func (UserOnline) EventName() string { return EventUserOnline }

func (e UserOnline) Validate() error {
	return require("user_id", e.UserId)
}

// OnlineUsers is the full online set; receivers replace, never merge.
type OnlineUsers struct {
	UserIds []string `json:"user_ids"`
}

func (OnlineUsers) EventName() string { return EventOnlineUsers }
func (OnlineUsers) Validate() error   { return nil }

// JoinConversation switches the connection's room
type JoinConversation struct {
	ConversationId string `json:"conversation_id"`
}

func (JoinConversation) EventName() string { return EventJoinConversation }

func (e JoinConversation) Validate() error {
	return require("conversation_id", e.ConversationId)
}

// SendMessage is an optimistic send carrying the client temp id
type SendMessage struct {
	ConversationId string `json:"conversation_id"`
	SenderId       string `json:"sender_id"`
	ReceiverId     string `json:"receiver_id"`
	Text           string `json:"message"`
	TempId         string `json:"temp_id"`
}

func (SendMessage) EventName() string { return EventSendMessage }

func (e SendMessage) Validate() error {
	return require(
		"conversation_id", e.ConversationId,
		"receiver_id", e.ReceiverId,
		"message", e.Text,
		"temp_id", e.TempId,
	)
}

// ReceiveMessage is the authoritative message pushed by the server
type ReceiveMessage struct {
	Message
}

func (ReceiveMessage) EventName() string { return EventReceiveMessage }

func (e ReceiveMessage) Validate() error {
	return require("id", e.Id, "conversation_id", e.ConversationId, "sender_id", e.SenderId)
}

// MessageSeen marks messages as seen by UserId
type MessageSeen struct {
	ConversationId string   `json:"conversation_id"`
	MessageIds     []string `json:"message_ids"`
	UserId         string   `json:"user_id,omitempty"`
}

func (MessageSeen) EventName() string { return EventMessageSeen }

func (e MessageSeen) Validate() error {
	if err := require("conversation_id", e.ConversationId); err != nil {
		return err
	}
	if len(e.MessageIds) == 0 {
		return invalid("message_ids", "empty")
	}
	return nil
}

// ConversationUpdated carries the full summary as seen by the receiver
type ConversationUpdated struct {
	Conversation
}

func (ConversationUpdated) EventName() string { return EventConversationUpdated }

func (e ConversationUpdated) Validate() error {
	return require("id", e.Id, "user1_id", e.User1Id, "user2_id", e.User2Id)
}

// TypingSignal is shared by the four typing events
type TypingSignal struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id,omitempty"`
	ReceiverId     string `json:"receiver_id,omitempty"`
}

func (e TypingSignal) Validate() error {
	return require("conversation_id", e.ConversationId)
}

// Typing is sent by the typist
type Typing struct{ TypingSignal }

func (Typing) EventName() string { return EventTyping }

// StopTyping is sent by the typist when the debounce window expires
type StopTyping struct{ TypingSignal }

func (StopTyping) EventName() string { return EventStopTyping }

// UserTyping is relayed to the partner
type UserTyping struct{ TypingSignal }

func (UserTyping) EventName() string { return EventUserTyping }

// UserStopTyping is relayed to the partner
type UserStopTyping struct{ TypingSignal }

func (UserStopTyping) EventName() string { return EventUserStopTyping }

// ReactionSignal is shared by add_reaction and remove_reaction
type ReactionSignal struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
	UserId         string `json:"user_id,omitempty"`
	ReceiverId     string `json:"receiver_id,omitempty"`
	Emoji          string `json:"emoji,omitempty"`
}

func (e ReactionSignal) Validate() error {
	return require("conversation_id", e.ConversationId, "message_id", e.MessageId)
}

// AddReaction sets the sender's reaction on a message
type AddReaction struct{ ReactionSignal }

func (AddReaction) EventName() string { return EventAddReaction }

func (e AddReaction) Validate() error {
	if err := e.ReactionSignal.Validate(); err != nil {
		return err
	}
	return require("emoji", e.Emoji)
}

// RemoveReaction clears the sender's reaction on a message
type RemoveReaction struct{ ReactionSignal }

func (RemoveReaction) EventName() string { return EventRemoveReaction }

// ReactionUpdate is one user's reaction change, applied with the same
// toggle function the sender used locally.
type ReactionUpdate struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
	UserId         string `json:"user_id"`
	Emoji          string `json:"emoji,omitempty"`
	Removed        bool   `json:"removed"`
}

func (ReactionUpdate) EventName() string { return EventReactionUpdate }

func (e ReactionUpdate) Validate() error {
	if err := require("message_id", e.MessageId, "user_id", e.UserId); err != nil {
		return err
	}
	if !e.Removed && e.Emoji == "" {
		return invalid("emoji", "missing")
	}
	return nil
}

// DeleteMessage asks the server to delete a message
type DeleteMessage struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
	ReceiverId     string `json:"receiver_id,omitempty"`
}

func (DeleteMessage) EventName() string { return EventDeleteMessage }

func (e DeleteMessage) Validate() error {
	return require("conversation_id", e.ConversationId, "message_id", e.MessageId)
}

// MessageDeleted notifies both sides of a deletion
type MessageDeleted struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

func (MessageDeleted) EventName() string { return EventMessageDeleted }

func (e MessageDeleted) Validate() error {
	return require("conversation_id", e.ConversationId, "message_id", e.MessageId)
}

// CallUser carries the caller's offer to UserToCall
type CallUser struct {
	UserToCall string          `json:"user_to_call"`
	From       string          `json:"from"`
	Name       string          `json:"name,omitempty"`
	Signal     json.RawMessage `json:"signal"`
	IsVideo    bool            `json:"is_video"`
}

func (CallUser) EventName() string { return EventCallUser }

func (e CallUser) Validate() error {
	if err := require("user_to_call", e.UserToCall); err != nil {
		return err
	}
	if len(e.Signal) == 0 {
		return invalid("signal", "missing")
	}
	return nil
}

// AnswerCall carries the callee's answer back to To
type AnswerCall struct {
	To     string          `json:"to"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

func (AnswerCall) EventName() string { return EventAnswerCall }

func (e AnswerCall) Validate() error {
	if err := require("to", e.To); err != nil {
		return err
	}
	if len(e.Signal) == 0 {
		return invalid("signal", "missing")
	}
	return nil
}

// CallAccepted delivers the answer to the caller
type CallAccepted struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

func (CallAccepted) EventName() string { return EventCallAccepted }

func (e CallAccepted) Validate() error {
	if len(e.Signal) == 0 {
		return invalid("signal", "missing")
	}
	return nil
}

// EndCall terminates a call in any state
type EndCall struct {
	To      string    `json:"to"`
	From    string    `json:"from,omitempty"`
	IsVideo bool      `json:"is_video"`
	Reason  string    `json:"reason,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

func (EndCall) EventName() string { return EventEndCall }

func (e EndCall) Validate() error {
	return require("to", e.To)
}

// CallMissed is emitted once by the caller when the ring timeout expires
type CallMissed struct {
	To      string    `json:"to"`
	From    string    `json:"from,omitempty"`
	IsVideo bool      `json:"is_video"`
	At      time.Time `json:"at"`
}

func (CallMissed) EventName() string { return EventCallMissed }

func (e CallMissed) Validate() error {
	return require("to", e.To)
}

// Error reports a rejected client event
type Error struct {
	Event  string `json:"event"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	TempId string `json:"temp_id,omitempty"`
}

func (Error) EventName() string { return EventError }
func (Error) Validate() error   { return nil }
