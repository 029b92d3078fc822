// Package call drives one audio or video call at a time over the realtime channel.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

var (
	// ErrBusy is returned when a call is requested while another one exists
	ErrBusy = errors.New("call: already in a call")
	// ErrNoCall is returned when an operation needs a call and there is none
	ErrNoCall = errors.New("call: no active call")
	// ErrInvalidState is returned when an operation does not fit the current state
	ErrInvalidState = errors.New("call: invalid state")
	// ErrAudioOnly is returned when toggling video on an audio call
	ErrAudioOnly = errors.New("call: audio-only call")
	// ErrNegotiation wraps media and peer setup failures
	ErrNegotiation = errors.New("call: negotiation failed")
)

// State of the call session
type State int

const (
	StateIdle State = iota
	StateRinging
	StateConnecting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// Snapshot is a read-only view of the call
type Snapshot struct {
	State        State
	PartnerId    string
	PartnerName  string
	Incoming     bool
	Video        bool
	Accepted     bool
	AudioEnabled bool
	VideoEnabled bool
	StartedAt    time.Time
}

// LogEntry describes a finished call for the chat log
type LogEntry struct {
	PartnerId string
	Incoming  bool
	Video     bool
	Missed    bool
	Reason    string
	At        time.Time
	Duration  time.Duration
}

// Publisher sends events on the realtime channel
type Publisher interface {
	Publish(ctx context.Context, p protocol.Payload) error
}

// LocalMedia is the captured microphone and camera
type LocalMedia interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Stop()
}

// MediaSource acquires local media. Video is requested only for video calls.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (LocalMedia, error)
}

// Peer is one side of the media negotiation. Signals are opaque to the manager.
type Peer interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	Close() error
}

// PeerFactory builds a peer bound to the given media
type PeerFactory interface {
	NewPeer(ctx context.Context, media LocalMedia) (Peer, error)
}

// Ringer plays the incoming ringtone
type Ringer interface {
	StartRinging()
	StopRinging()
}

type nopRinger struct{}

func (nopRinger) StartRinging() {}
func (nopRinger) StopRinging()  {}
