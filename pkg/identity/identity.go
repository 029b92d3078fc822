package identity

import (
	"fmt"
	"strconv"
)

const (
	PrefixLength = 4
)

// RoleType is the marketplace portal a user signs in through.
type RoleType string

const (
	RoleBuyer      RoleType = "buyer"
	RoleAgent      RoleType = "agent"
	RoleOwner      RoleType = "owner"
	RoleAdmin      RoleType = "admin"
	RoleSuperAdmin RoleType = "super_admin"
)

var rolePrefixes = map[RoleType]string{
	RoleBuyer:      "by__",
	RoleAgent:      "ag__",
	RoleOwner:      "ow__",
	RoleAdmin:      "ad__",
	RoleSuperAdmin: "sa__",
}

// Valid reports whether r is a known role
func (r RoleType) Valid() bool {
	_, ok := rolePrefixes[r]
	return ok
}

// CanChat reports whether the role has access to the messaging feature.
// Admin portals moderate listings and never open conversations.
func (r RoleType) CanChat() bool {
	return r == RoleBuyer || r == RoleAgent || r == RoleOwner
}

// Actor is a marketplace account that maps to a chat user id.
type Actor struct {
	Id   int64
	Role RoleType
}

// ToChatUserId converts an Actor to the chat system's string user id.
//
//	Actor{Id: 42, Role: RoleBuyer}.ToChatUserId()  => "by__42"
//	Actor{Id: 7, Role: RoleAgent}.ToChatUserId()   => "ag__7"
func (a *Actor) ToChatUserId() (string, error) {
	prefix, ok := rolePrefixes[a.Role]
	if !ok {
		return "", fmt.Errorf("failed to transfer actor to user id, role: %s", a.Role)
	}
	if a.Id <= 0 {
		return "", fmt.Errorf("failed to transfer actor to user id, id: %d", a.Id)
	}
	return fmt.Sprintf("%s%d", prefix, a.Id), nil
}

// FromChatUserId parses a chat user id back into an Actor.
func (a *Actor) FromChatUserId(userId string) error {
	if a == nil {
		return fmt.Errorf("actor is nil")
	}
	if len(userId) < PrefixLength+1 {
		return fmt.Errorf("invalid userId: %q", userId)
	}
	prefix := userId[:PrefixLength]
	idStr := userId[PrefixLength:]

	role, ok := roleForPrefix(prefix)
	if !ok {
		return fmt.Errorf("unknown prefix: %q", prefix)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid id: %q", idStr)
	}
	a.Id = id
	a.Role = role
	return nil
}

// RoleOf returns the role encoded in a chat user id
func RoleOf(userId string) (RoleType, bool) {
	if len(userId) < PrefixLength+1 {
		return "", false
	}
	return roleForPrefix(userId[:PrefixLength])
}

func roleForPrefix(prefix string) (RoleType, bool) {
	for role, p := range rolePrefixes {
		if p == prefix {
			return role, true
		}
	}
	return "", false
}
