package service

import (
	"context"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// Pusher delivers realtime events to every connection of the given users.
// The gateway implements it; delivery is best effort.
type Pusher interface {
	PushToUsers(ctx context.Context, p protocol.Payload, userIds ...string)
}

type nopPusher struct{}

func (nopPusher) PushToUsers(context.Context, protocol.Payload, ...string) {}
