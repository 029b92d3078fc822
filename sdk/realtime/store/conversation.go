// Package store holds the client-side conversation and message reducers.
// Neither store is safe for concurrent use; the owning session serializes access.
package store

import (
	"time"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// ConversationPatch is a partial update. Nil fields are left untouched.
type ConversationPatch struct {
	Id                string
	User1Id           *string
	User2Id           *string
	User1Name         *string
	User1Avatar       *string
	User1Email        *string
	User2Name         *string
	User2Avatar       *string
	User2Email        *string
	LastMessage       *string
	LastMessageSender *string
	UpdatedAt         *time.Time
	UnreadMessages    *int
	IsBlocked         *bool
	BlockedBy         *string
}

// PatchOf turns a full conversation into a patch that overwrites every field
func PatchOf(c *protocol.Conversation) ConversationPatch {
	cp := *c
	return ConversationPatch{
		Id:                cp.Id,
		User1Id:           &cp.User1Id,
		User2Id:           &cp.User2Id,
		User1Name:         &cp.User1Name,
		User1Avatar:       &cp.User1Avatar,
		User1Email:        &cp.User1Email,
		User2Name:         &cp.User2Name,
		User2Avatar:       &cp.User2Avatar,
		User2Email:        &cp.User2Email,
		LastMessage:       &cp.LastMessage,
		LastMessageSender: &cp.LastMessageSender,
		UpdatedAt:         &cp.UpdatedAt,
		UnreadMessages:    &cp.UnreadMessages,
		IsBlocked:         &cp.IsBlocked,
		BlockedBy:         &cp.BlockedBy,
	}
}

func (p ConversationPatch) apply(c *protocol.Conversation) {
	setString(&c.User1Id, p.User1Id)
	setString(&c.User2Id, p.User2Id)
	setString(&c.User1Name, p.User1Name)
	setString(&c.User1Avatar, p.User1Avatar)
	setString(&c.User1Email, p.User1Email)
	setString(&c.User2Name, p.User2Name)
	setString(&c.User2Avatar, p.User2Avatar)
	setString(&c.User2Email, p.User2Email)
	setString(&c.LastMessage, p.LastMessage)
	setString(&c.LastMessageSender, p.LastMessageSender)
	setString(&c.BlockedBy, p.BlockedBy)
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	if p.UnreadMessages != nil {
		c.UnreadMessages = *p.UnreadMessages
	}
	if p.IsBlocked != nil {
		c.IsBlocked = *p.IsBlocked
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// ConversationStore keeps the sidebar list, most recently touched first.
// Order is maintained by prepend-and-filter, never by sorting on timestamps.
type ConversationStore struct {
	list []*protocol.Conversation
}

// NewConversationStore creates an empty store
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Replace swaps the whole list. Duplicate ids collapse to the last occurrence,
// kept at the position of the first.
func (s *ConversationStore) Replace(list []*protocol.Conversation) {
	index := make(map[string]int, len(list))
	out := make([]*protocol.Conversation, 0, len(list))
	for _, c := range list {
		if c == nil || c.Id == "" {
			continue
		}
		cp := *c
		if i, ok := index[c.Id]; ok {
			out[i] = &cp
			continue
		}
		index[c.Id] = len(out)
		out = append(out, &cp)
	}
	s.list = out
}

// Upsert merges patch into the existing entry, or creates one, and moves it to the top
func (s *ConversationStore) Upsert(patch ConversationPatch) *protocol.Conversation {
	if patch.Id == "" {
		return nil
	}
	merged := &protocol.Conversation{Id: patch.Id}
	if cur := s.find(patch.Id); cur != nil {
		*merged = *cur
	}
	patch.apply(merged)

	out := make([]*protocol.Conversation, 0, len(s.list)+1)
	out = append(out, merged)
	for _, c := range s.list {
		if c.Id != patch.Id {
			out = append(out, c)
		}
	}
	s.list = out
	return clone(merged)
}

// Put upserts a full conversation
func (s *ConversationStore) Put(c *protocol.Conversation) *protocol.Conversation {
	return s.Upsert(PatchOf(c))
}

// Update mutates an entry in place without reordering. It reports whether the id exists.
func (s *ConversationStore) Update(id string, patch ConversationPatch) bool {
	cur := s.find(id)
	if cur == nil {
		return false
	}
	patch.apply(cur)
	return true
}

// MarkRead zeroes the unread counter. Calling it again is a no-op.
func (s *ConversationStore) MarkRead(id string) bool {
	cur := s.find(id)
	if cur == nil {
		return false
	}
	cur.UnreadMessages = 0
	return true
}

// IncrementUnread bumps the unread counter by one
func (s *ConversationStore) IncrementUnread(id string) bool {
	cur := s.find(id)
	if cur == nil {
		return false
	}
	cur.UnreadMessages++
	return true
}

// Remove drops an entry
func (s *ConversationStore) Remove(id string) bool {
	for i, c := range s.list {
		if c.Id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the entry
func (s *ConversationStore) Get(id string) (*protocol.Conversation, bool) {
	cur := s.find(id)
	if cur == nil {
		return nil, false
	}
	return clone(cur), true
}

// List returns copies of all entries in display order
func (s *ConversationStore) List() []*protocol.Conversation {
	out := make([]*protocol.Conversation, len(s.list))
	for i, c := range s.list {
		out[i] = clone(c)
	}
	return out
}

// Len returns the number of entries
func (s *ConversationStore) Len() int {
	return len(s.list)
}

// TotalUnread sums unread counters over all conversations
func (s *ConversationStore) TotalUnread() int {
	total := 0
	for _, c := range s.list {
		total += c.UnreadMessages
	}
	return total
}

func (s *ConversationStore) find(id string) *protocol.Conversation {
	for _, c := range s.list {
		if c.Id == id {
			return c
		}
	}
	return nil
}

func clone(c *protocol.Conversation) *protocol.Conversation {
	cp := *c
	return &cp
}
