// Package presence tracks who is online and who is typing.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/estatechat/pkg/constant"
)

type typingKey struct {
	conversationId string
	userId         string
}

// Tracker holds the online set and remote typing flags. It is safe for
// concurrent use; onChange runs without the lock held.
type Tracker struct {
	mu       sync.Mutex
	online   map[string]struct{}
	typing   map[typingKey]*time.Timer
	fallback time.Duration
	onChange func()
	closed   bool
}

// NewTracker creates a tracker. A typing flag clears itself after fallback
// unless an explicit stop arrives first.
func NewTracker(fallback time.Duration, onChange func()) *Tracker {
	if fallback <= 0 {
		fallback = constant.TypingFallback
	}
	return &Tracker{
		online:   make(map[string]struct{}),
		typing:   make(map[typingKey]*time.Timer),
		fallback: fallback,
		onChange: onChange,
	}
}

// ReplaceOnline swaps the whole online set. Broadcasts are authoritative
// snapshots, so nothing is merged.
func (t *Tracker) ReplaceOnline(userIds []string) {
	set := make(map[string]struct{}, len(userIds))
	for _, id := range userIds {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	t.mu.Lock()
	t.online = set
	t.mu.Unlock()
	t.changed()
}

// IsOnline reports whether userId is in the last broadcast
func (t *Tracker) IsOnline(userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userId]
	return ok
}

// Online returns the current online set, sorted
func (t *Tracker) Online() []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

// SetTyping raises the flag for userId in a conversation and (re)arms its fallback timer
func (t *Tracker) SetTyping(conversationId, userId string) {
	key := typingKey{conversationId, userId}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if old, ok := t.typing[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.fallback, func() {
		t.mu.Lock()
		cur, ok := t.typing[key]
		if !ok || cur != timer {
			t.mu.Unlock()
			return
		}
		delete(t.typing, key)
		t.mu.Unlock()
		t.changed()
	})
	t.typing[key] = timer
	t.mu.Unlock()
	t.changed()
}

// ClearTyping drops the flag on an explicit stop
func (t *Tracker) ClearTyping(conversationId, userId string) {
	key := typingKey{conversationId, userId}
	t.mu.Lock()
	timer, ok := t.typing[key]
	if ok {
		timer.Stop()
		delete(t.typing, key)
	}
	t.mu.Unlock()
	if ok {
		t.changed()
	}
}

// IsTyping reports whether userId is typing in a conversation
func (t *Tracker) IsTyping(conversationId, userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[typingKey{conversationId, userId}]
	return ok
}

// Close stops every pending timer
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, timer := range t.typing {
		timer.Stop()
		delete(t.typing, key)
	}
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
