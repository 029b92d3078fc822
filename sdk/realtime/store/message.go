package store

import (
	"time"

	"github.com/mbeoliero/estatechat/pkg/idgen"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// ReconcileResult tells the caller what Reconcile did with a server message
type ReconcileResult int

const (
	// Ignored means the message was a duplicate or belongs to another conversation
	Ignored ReconcileResult = iota
	// Replaced means a pending temp message was swapped for the server copy in place
	Replaced
	// Appended means the message was new and added to the end
	Appended
)

func (r ReconcileResult) String() string {
	switch r {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	default:
		return "ignored"
	}
}

// MessageStore holds the messages of the open conversation in append order
type MessageStore struct {
	conversationId string
	list           []*protocol.Message
}

// NewMessageStore creates an empty store
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// ConversationId returns the conversation the store currently holds
func (s *MessageStore) ConversationId() string {
	return s.conversationId
}

// Load replaces the list with fetched history. Duplicate ids keep the first occurrence.
func (s *MessageStore) Load(conversationId string, msgs []*protocol.Message) {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]*protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Id == "" {
			continue
		}
		if _, ok := seen[m.Id]; ok {
			continue
		}
		seen[m.Id] = struct{}{}
		out = append(out, m.Clone())
	}
	s.conversationId = conversationId
	s.list = out
}

// Reset clears the store
func (s *MessageStore) Reset() {
	s.conversationId = ""
	s.list = nil
}

// AppendOptimistic adds a pending message with a fresh temp id and returns it
func (s *MessageStore) AppendOptimistic(senderId, receiverId, text string, now time.Time) *protocol.Message {
	tempId := idgen.NewTempId()
	m := &protocol.Message{
		Id:             tempId,
		TempId:         tempId,
		ConversationId: s.conversationId,
		SenderId:       senderId,
		ReceiverId:     receiverId,
		Text:           text,
		CreatedAt:      now,
		Pending:        true,
	}
	s.list = append(s.list, m)
	return m.Clone()
}

// Reconcile folds an authoritative server message into the list. A pending
// message with the same temp id is replaced at its index, keeping display
// order; an unknown id is appended; a known id is ignored.
func (s *MessageStore) Reconcile(m *protocol.Message) ReconcileResult {
	if m == nil || m.ConversationId != s.conversationId {
		return Ignored
	}
	if s.indexOf(m.Id) >= 0 {
		return Ignored
	}
	if m.TempId != "" {
		if i := s.indexOf(m.TempId); i >= 0 {
			cp := m.Clone()
			cp.Pending = false
			s.list[i] = cp
			return Replaced
		}
	}
	cp := m.Clone()
	cp.Pending = false
	s.list = append(s.list, cp)
	return Appended
}

// Restore appends a copy of m as is, pending flag included, unless it is
// already present by id or, for a pending message, by a confirmed copy.
func (s *MessageStore) Restore(m *protocol.Message) bool {
	if m == nil || m.ConversationId != s.conversationId || s.indexOf(m.Id) >= 0 {
		return false
	}
	if m.Pending && m.TempId != "" {
		for _, cur := range s.list {
			if cur.TempId == m.TempId {
				return false
			}
		}
	}
	s.list = append(s.list, m.Clone())
	return true
}

// ApplyReaction sets or clears userId's reaction on a message. An empty emoji clears.
func (s *MessageStore) ApplyReaction(messageId, userId, emoji string) bool {
	i := s.indexOf(messageId)
	if i < 0 {
		return false
	}
	s.list[i].Reactions = ToggleReaction(s.list[i].Reactions, userId, emoji)
	return true
}

// ReactionOf returns userId's current reaction on a message
func (s *MessageStore) ReactionOf(messageId, userId string) string {
	i := s.indexOf(messageId)
	if i < 0 {
		return ""
	}
	return s.list[i].Reactions[userId]
}

// ToggleReaction is the single reducer for reactions, used for local and
// remote updates alike. Each user holds at most one emoji; the latest wins.
func ToggleReaction(reactions map[string]string, userId, emoji string) map[string]string {
	out := make(map[string]string, len(reactions)+1)
	for k, v := range reactions {
		out[k] = v
	}
	if emoji == "" {
		delete(out, userId)
	} else {
		out[userId] = emoji
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Delete removes a message locally
func (s *MessageStore) Delete(messageId string) (*protocol.Message, bool) {
	i := s.indexOf(messageId)
	if i < 0 {
		return nil, false
	}
	m := s.list[i]
	s.list = append(s.list[:i:i], s.list[i+1:]...)
	return m, true
}

// MarkSeen flags the given ids as seen and returns how many changed
func (s *MessageStore) MarkSeen(ids []string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	n := 0
	for _, m := range s.list {
		if _, ok := want[m.Id]; ok && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n
}

// UnseenFrom lists ids of confirmed messages sent by senderId that are not seen yet
func (s *MessageStore) UnseenFrom(senderId string) []string {
	var ids []string
	for _, m := range s.list {
		if m.SenderId == senderId && !m.Seen && !m.Pending {
			ids = append(ids, m.Id)
		}
	}
	return ids
}

// Get returns a copy of one message
func (s *MessageStore) Get(messageId string) (*protocol.Message, bool) {
	i := s.indexOf(messageId)
	if i < 0 {
		return nil, false
	}
	return s.list[i].Clone(), true
}

// List returns copies of all messages in display order
func (s *MessageStore) List() []*protocol.Message {
	out := make([]*protocol.Message, len(s.list))
	for i, m := range s.list {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages
func (s *MessageStore) Len() int {
	return len(s.list)
}

func (s *MessageStore) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range s.list {
		if m.Id == id {
			return i
		}
	}
	return -1
}
