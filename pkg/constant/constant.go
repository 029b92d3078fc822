package constant

import "time"

// Online status
const (
	StatusOffline = 0
	StatusOnline  = 1
)

// Conversation id prefix for two-party threads
const DirectConversationPrefix = "dm_"

// History limits
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Timing defaults shared by client and server
const (
	// TypingDebounce is the idle window after the last keystroke before stop_typing is sent
	TypingDebounce = 2 * time.Second
	// TypingFallback clears a remote typing flag when stop_typing is lost
	TypingFallback = 3 * time.Second
	// RingTimeout ends an unanswered outgoing call as missed
	RingTimeout = 40 * time.Second
)

// Call end reasons
const (
	CallEndHangup      = "hangup"
	CallEndDeclined    = "declined"
	CallEndBusy        = "busy"
	CallEndUnavailable = "unavailable"
	CallEndFailed      = "failed"
)

// Redis key patterns (without prefix, use RedisKey*() to get full key)
const (
	redisKeyOnline      = "online:%s"       // online:{user_id}
	redisKeyOnlineConns = "online:conns:%s" // online:conns:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "estatechat:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

func RedisKeyOnline() string      { return redisKeyPrefix + redisKeyOnline }
func RedisKeyOnlineConns() string { return redisKeyPrefix + redisKeyOnlineConns }
