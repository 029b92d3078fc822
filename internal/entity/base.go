package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbeoliero/estatechat/pkg/constant"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMilli converts a stored timestamp to UTC time
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// OrderPair returns the two user ids with the smaller one first. Conversation
// rows always store user1_id < user2_id so a pair maps to exactly one row.
func OrderPair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

// GenDirectConversationId generates the conversation id for a pair of users
// Format: dm_{min(userA,userB)}:{max(userA,userB)}
// Uses ":" as separator between userIds to support userIds containing "_"
func GenDirectConversationId(userA, userB string) string {
	u1, u2 := OrderPair(userA, userB)
	return fmt.Sprintf("%s%s:%s", constant.DirectConversationPrefix, u1, u2)
}

// IsDirectConversation checks if conversation id was produced by GenDirectConversationId
func IsDirectConversation(conversationId string) bool {
	return strings.HasPrefix(conversationId, constant.DirectConversationPrefix) &&
		strings.Contains(conversationId, ":")
}

// DirectParticipants splits a direct conversation id into its two user ids
func DirectParticipants(conversationId string) (string, string, bool) {
	if !strings.HasPrefix(conversationId, constant.DirectConversationPrefix) {
		return "", "", false
	}
	u1, u2, ok := strings.Cut(strings.TrimPrefix(conversationId, constant.DirectConversationPrefix), ":")
	if !ok || u1 == "" || u2 == "" {
		return "", "", false
	}
	return u1, u2, true
}
