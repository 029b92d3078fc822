// Package webrtcpeer implements call.PeerFactory and call.MediaSource on pion/webrtc.
// Signals are complete session descriptions; ICE candidates are gathered
// before a description is sent, so no trickle events are needed.
package webrtcpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/mbeoliero/estatechat/sdk/realtime/call"
)

const streamId = "estatechat"

// Factory builds pion peer connections
type Factory struct {
	config  webrtc.Configuration
	onTrack func(*webrtc.TrackRemote)
}

// Option configures a Factory
type Option func(*Factory)

// WithRemoteTrack registers a callback for tracks sent by the partner
func WithRemoteTrack(fn func(*webrtc.TrackRemote)) Option {
	return func(f *Factory) { f.onTrack = fn }
}

// NewFactory creates a peer factory using the given STUN/TURN urls
func NewFactory(iceServers []string, opts ...Option) *Factory {
	f := &Factory{}
	if len(iceServers) > 0 {
		f.config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewPeer creates a connection and attaches the local tracks
func (f *Factory) NewPeer(ctx context.Context, local call.LocalMedia) (call.Peer, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if tracks, ok := local.(*Tracks); ok {
		for _, track := range tracks.all() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add track %s: %w", track.Kind(), err)
			}
		}
	}

	if f.onTrack != nil {
		onTrack := f.onTrack
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			onTrack(remote)
		})
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state: %s", state.String())
	})

	return &Peer{pc: pc}, nil
}

// Peer wraps a pion peer connection
type Peer struct {
	pc *webrtc.PeerConnection
}

// CreateOffer builds the caller's offer
func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

// AcceptOffer applies the caller's offer and builds the answer
func (p *Peer) AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

// AcceptAnswer applies the callee's answer
func (p *Peer) AcceptAnswer(_ context.Context, answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// Close tears down the connection
func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (json.RawMessage, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	data, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}
	return data, nil
}

// Source produces local sample tracks. Samples are written by whatever
// capture pipeline the host has; the tracks drop them while disabled.
type Source struct{}

// NewSource creates a media source
func NewSource() *Source {
	return &Source{}
}

// Acquire creates an opus audio track and, for video calls, a vp8 video track
func (s *Source) Acquire(_ context.Context, video bool) (call.LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamId)
	if err != nil {
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	t := &Tracks{audio: audio, audioOn: true}
	if video {
		v, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamId)
		if err != nil {
			return nil, fmt.Errorf("new video track: %w", err)
		}
		t.video = v
		t.videoOn = true
	}
	return t, nil
}

// Tracks is the local media of one call
type Tracks struct {
	mu      sync.Mutex
	audio   *webrtc.TrackLocalStaticSample
	video   *webrtc.TrackLocalStaticSample
	audioOn bool
	videoOn bool
	stopped bool
}

// SetAudioEnabled mutes or unmutes the microphone
func (t *Tracks) SetAudioEnabled(enabled bool) {
	t.mu.Lock()
	t.audioOn = enabled
	t.mu.Unlock()
}

// SetVideoEnabled turns the camera on or off
func (t *Tracks) SetVideoEnabled(enabled bool) {
	t.mu.Lock()
	t.videoOn = enabled
	t.mu.Unlock()
}

// Stop releases the tracks; later writes are dropped
func (t *Tracks) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// WriteAudio forwards one encoded audio frame unless muted
func (t *Tracks) WriteAudio(data []byte, d time.Duration) error {
	t.mu.Lock()
	ok := t.audioOn && !t.stopped
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.audio.WriteSample(media.Sample{Data: data, Duration: d})
}

// WriteVideo forwards one encoded video frame unless the camera is off
func (t *Tracks) WriteVideo(data []byte, d time.Duration) error {
	t.mu.Lock()
	ok := t.video != nil && t.videoOn && !t.stopped
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.video.WriteSample(media.Sample{Data: data, Duration: d})
}

// HasVideo reports whether a video track was acquired
func (t *Tracks) HasVideo() bool {
	return t.video != nil
}

func (t *Tracks) all() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{t.audio}
	if t.video != nil {
		out = append(out, t.video)
	}
	return out
}
