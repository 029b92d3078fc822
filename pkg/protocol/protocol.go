package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned when an envelope names an event with no registered payload
	ErrUnknownEvent = errors.New("protocol: unknown event")
	// ErrInvalidPayload is returned when a payload fails to decode or validate
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Payload is implemented by every event body
type Payload interface {
	EventName() string
	Validate() error
}

// Envelope is the frame exchanged on the websocket: a named event with a JSON body
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var registry = map[string]func() Payload{
	EventUserOnline:          func() Payload { return &UserOnline{} },
	EventOnlineUsers:         func() Payload { return &OnlineUsers{} },
	EventJoinConversation:    func() Payload { return &JoinConversation{} },
	EventSendMessage:         func() Payload { return &SendMessage{} },
	EventReceiveMessage:      func() Payload { return &ReceiveMessage{} },
	EventMessageSeen:         func() Payload { return &MessageSeen{} },
	EventConversationUpdated: func() Payload { return &ConversationUpdated{} },
	EventTyping:              func() Payload { return &Typing{} },
	EventStopTyping:          func() Payload { return &StopTyping{} },
	EventUserTyping:          func() Payload { return &UserTyping{} },
	EventUserStopTyping:      func() Payload { return &UserStopTyping{} },
	EventAddReaction:         func() Payload { return &AddReaction{} },
	EventRemoveReaction:      func() Payload { return &RemoveReaction{} },
	EventReactionUpdate:      func() Payload { return &ReactionUpdate{} },
	EventDeleteMessage:       func() Payload { return &DeleteMessage{} },
	EventMessageDeleted:      func() Payload { return &MessageDeleted{} },
	EventCallUser:            func() Payload { return &CallUser{} },
	EventCallAccepted:        func() Payload { return &CallAccepted{} },
	EventAnswerCall:          func() Payload { return &AnswerCall{} },
	EventEndCall:             func() Payload { return &EndCall{} },
	EventCallMissed:          func() Payload { return &CallMissed{} },
	EventError:               func() Payload { return &Error{} },
}

// Known reports whether event has a registered payload type
func Known(event string) bool {
	_, ok := registry[event]
	return ok
}

// Encode wraps p in an envelope and marshals it
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.EventName(), err)
	}
	return json.Marshal(Envelope{Event: p.EventName(), Data: data})
}

// Decode parses a frame into its typed payload. The returned value is a
// pointer to one of the event structs in this package.
func Decode(frame []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope resolves an already split envelope
func DecodeEnvelope(env Envelope) (Payload, error) {
	newPayload, ok := registry[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	p := newPayload()
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: %s: empty data", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return p, nil
}

// require checks name/value pairs and reports the first empty value
func require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return invalid(pairs[i], "missing")
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return fmt.Errorf("%s %s", field, reason)
}
