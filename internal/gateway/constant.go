package gateway

import "time"

// Timeout constants used when the config leaves them unset
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// PingPeriod is period between pings. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200

	// WriteChannelSize bounds the per connection outbound queue
	WriteChannelSize = 256
)

// Query parameter keys
const (
	QueryToken  = "token"
	QueryUserId = "user_id"
)

// Reasons recorded on the dropped events counter
const (
	dropOffline     = "offline"
	dropQueueFull   = "queue_full"
	dropRateLimited = "rate_limited"
	dropInvalid     = "invalid"
)
