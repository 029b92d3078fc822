package chat

import (
	"fmt"

	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk"
	"github.com/mbeoliero/estatechat/sdk/realtime/call"
)

// Portal carries what differs between the buyer, agent and owner apps.
// Everything else about a session is shared.
type Portal struct {
	Role         identity.RoleType
	Profile      sdk.Profile
	HistoryLimit int
	// PartnerLabel renders the partner in the conversation list
	PartnerLabel func(p protocol.Participant) string
}

// NewPortal returns the portal for a role with its default list label
func NewPortal(role identity.RoleType, profile sdk.Profile) Portal {
	p := Portal{
		Role:         role,
		Profile:      profile,
		HistoryLimit: constant.DefaultHistoryLimit,
		PartnerLabel: nameLabel,
	}
	// Agents and owners deal with many leads; the email disambiguates them.
	if role == identity.RoleAgent || role == identity.RoleOwner {
		p.PartnerLabel = contactLabel
	}
	return p
}

func (p Portal) label(part protocol.Participant) string {
	if p.PartnerLabel == nil {
		return nameLabel(part)
	}
	return p.PartnerLabel(part)
}

func nameLabel(p protocol.Participant) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Email != "":
		return p.Email
	default:
		return p.Id
	}
}

func contactLabel(p protocol.Participant) string {
	if p.Name != "" && p.Email != "" {
		return fmt.Sprintf("%s <%s>", p.Name, p.Email)
	}
	return nameLabel(p)
}

// Toast severities
const (
	ToastInfo  = "info"
	ToastError = "error"
)

// View receives everything the session wants shown. Calls arrive from
// several goroutines and never while the session lock is held.
type View interface {
	Render(snap Snapshot)
	Toast(level, msg string)
	CallLogged(entry call.LogEntry)
}

// NopView discards everything
type NopView struct{}

func (NopView) Render(Snapshot)          {}
func (NopView) Toast(string, string)     {}
func (NopView) CallLogged(call.LogEntry) {}
