package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []protocol.Payload
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev protocol.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) named(name string) []protocol.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Payload
	for _, ev := range p.events {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	video   bool
	audioOn bool
	videoOn bool
	stopped bool
}

func (m *fakeMedia) SetAudioEnabled(v bool) { m.mu.Lock(); m.audioOn = v; m.mu.Unlock() }
func (m *fakeMedia) SetVideoEnabled(v bool) { m.mu.Lock(); m.videoOn = v; m.mu.Unlock() }
func (m *fakeMedia) Stop()                  { m.mu.Lock(); m.stopped = true; m.mu.Unlock() }

func (m *fakeMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	acquired []*fakeMedia
}

func (s *fakeSource) Acquire(_ context.Context, video bool) (LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := &fakeMedia{video: video, audioOn: true, videoOn: video}
	s.acquired = append(s.acquired, m)
	return m, nil
}

func (s *fakeSource) last() *fakeMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.acquired) == 0 {
		return nil
	}
	return s.acquired[len(s.acquired)-1]
}

type fakePeer struct {
	mu        sync.Mutex
	offerErr  error
	answerErr error
	closed    bool
	answer    json.RawMessage
	// delay stands in for ICE gathering
	delay time.Duration
}

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	time.Sleep(p.delay)
	if p.offerErr != nil {
		return nil, p.offerErr
	}
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (p *fakePeer) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	time.Sleep(p.delay)
	if p.offerErr != nil {
		return nil, p.offerErr
	}
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (p *fakePeer) AcceptAnswer(_ context.Context, answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = answer
	return p.answerErr
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakePeers struct {
	peer *fakePeer
}

func (f *fakePeers) NewPeer(context.Context, LocalMedia) (Peer, error) {
	return f.peer, nil
}

type fakeRinger struct {
	mu      sync.Mutex
	ringing bool
	starts  int
}

func (r *fakeRinger) StartRinging() { r.mu.Lock(); r.ringing = true; r.starts++; r.mu.Unlock() }
func (r *fakeRinger) StopRinging()  { r.mu.Lock(); r.ringing = false; r.mu.Unlock() }

func (r *fakeRinger) isRinging() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ringing
}

type harness struct {
	m      *Manager
	pub    *fakePublisher
	source *fakeSource
	peer   *fakePeer
	ringer *fakeRinger

	mu     sync.Mutex
	logs   []LogEntry
	states []State
}

func newHarness(t *testing.T, ringTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		pub:    &fakePublisher{},
		source: &fakeSource{},
		peer:   &fakePeer{},
		ringer: &fakeRinger{},
	}
	h.m = NewManager(
		Config{SelfId: "by__1", SelfName: "Buyer", RingTimeout: ringTimeout},
		h.pub, h.source, &fakePeers{peer: h.peer},
		WithRinger(h.ringer),
		OnCallLog(func(e LogEntry) {
			h.mu.Lock()
			h.logs = append(h.logs, e)
			h.mu.Unlock()
		}),
		OnStateChange(func(s Snapshot) {
			h.mu.Lock()
			h.states = append(h.states, s.State)
			h.mu.Unlock()
		}),
	)
	t.Cleanup(func() { h.m.Close(context.Background()) })
	return h
}

func (h *harness) callLogs() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogEntry(nil), h.logs...)
}

func TestManager_OutgoingTimeoutEmitsOneMissed(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.m.Call(ctx, "ag__2", true))
	offers := h.pub.named(protocol.EventCallUser)
	require.Len(t, offers, 1)
	offer := offers[0].(*protocol.CallUser)
	assert.Equal(t, "ag__2", offer.UserToCall)
	assert.Equal(t, "by__1", offer.From)
	assert.True(t, offer.IsVideo)
	assert.True(t, h.source.last().video, "media must match call type")

	assert.Eventually(t, func() bool { return h.m.Snapshot().State == StateIdle }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Len(t, h.pub.named(protocol.EventCallMissed), 1)
	assert.Empty(t, h.pub.named(protocol.EventEndCall))
	assert.True(t, h.source.last().isStopped())
	assert.True(t, h.peer.isClosed())

	logs := h.callLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Missed)
}

func TestManager_AcceptBeforeTimeoutCancelsTimer(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.m.Call(ctx, "ag__2", false))
	require.NoError(t, h.m.HandleAccepted(ctx, &protocol.CallAccepted{From: "ag__2", Signal: json.RawMessage(`{"type":"answer"}`)}))

	snap := h.m.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.Accepted)
	assert.False(t, snap.Video)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, h.pub.named(protocol.EventCallMissed))
	assert.Equal(t, StateActive, h.m.Snapshot().State)
	assert.JSONEq(t, `{"type":"answer"}`, string(h.peer.answer))
}

func TestManager_IncomingAcceptFlow(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{
		UserToCall: "by__1", From: "ag__2", Name: "Agent", Signal: json.RawMessage(`{"type":"offer"}`), IsVideo: true,
	}))
	snap := h.m.Snapshot()
	assert.Equal(t, StateRinging, snap.State)
	assert.True(t, snap.Incoming)
	assert.Equal(t, "Agent", snap.PartnerName)
	assert.True(t, h.ringer.isRinging())

	require.NoError(t, h.m.Accept(ctx))
	assert.False(t, h.ringer.isRinging())
	assert.Equal(t, StateActive, h.m.Snapshot().State)

	answers := h.pub.named(protocol.EventAnswerCall)
	require.Len(t, answers, 1)
	assert.Equal(t, "ag__2", answers[0].(*protocol.AnswerCall).To)
}

func TestManager_SecondIncomingWhileBusyIsRejected(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.Call(ctx, "ag__2", false))
	err := h.m.HandleIncoming(ctx, &protocol.CallUser{UserToCall: "by__1", From: "ow__3", Signal: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrBusy)

	ends := h.pub.named(protocol.EventEndCall)
	require.Len(t, ends, 1)
	end := ends[0].(*protocol.EndCall)
	assert.Equal(t, "ow__3", end.To)
	assert.Equal(t, constant.CallEndBusy, end.Reason)
	assert.Equal(t, "ag__2", h.m.Snapshot().PartnerId)
	assert.ErrorIs(t, h.m.Call(ctx, "ow__3", false), ErrBusy)
}

func TestManager_HangupFromAnyStatePublishesEndCall(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.Call(ctx, "ag__2", true))
	require.NoError(t, h.m.Hangup(ctx))

	ends := h.pub.named(protocol.EventEndCall)
	require.Len(t, ends, 1)
	end := ends[0].(*protocol.EndCall)
	assert.True(t, end.IsVideo)
	assert.False(t, end.EndedAt.IsZero())
	assert.Equal(t, StateIdle, h.m.Snapshot().State)
	assert.True(t, h.source.last().isStopped())

	require.NoError(t, h.m.Hangup(ctx))
	assert.Len(t, h.pub.named(protocol.EventEndCall), 1)
}

func TestManager_DeclineAndRemoteEnd(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	require.NoError(t, h.m.Decline(ctx))
	end := h.pub.named(protocol.EventEndCall)[0].(*protocol.EndCall)
	assert.Equal(t, constant.CallEndDeclined, end.Reason)
	assert.False(t, h.ringer.isRinging())
	assert.ErrorIs(t, h.m.Decline(ctx), ErrNoCall)

	require.NoError(t, h.m.Call(ctx, "ag__2", false))
	h.m.HandleEnded(ctx, &protocol.EndCall{To: "by__1", From: "ow__9"})
	assert.Equal(t, StateRinging, h.m.Snapshot().State, "endCall from a stranger is ignored")
	h.m.HandleEnded(ctx, &protocol.EndCall{To: "by__1", From: "ag__2", Reason: constant.CallEndBusy})
	assert.Equal(t, StateIdle, h.m.Snapshot().State)

	logs := h.callLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, constant.CallEndBusy, logs[1].Reason)
}

func TestManager_CalleeStopsRingingOnMissed(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	h.m.HandleMissed(ctx, &protocol.CallMissed{To: "by__1", From: "ag__2"})

	assert.Equal(t, StateIdle, h.m.Snapshot().State)
	assert.False(t, h.ringer.isRinging())
	assert.Empty(t, h.pub.events)
	require.Len(t, h.callLogs(), 1)
	assert.True(t, h.callLogs()[0].Missed)
}

func TestManager_CalleeRingTimeoutIsSilent(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	assert.Eventually(t, func() bool { return h.m.Snapshot().State == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.pub.named(protocol.EventCallMissed))
	assert.False(t, h.ringer.isRinging())
}

func TestManager_NegotiationFailureTearsDown(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	h.source.err = errors.New("permission denied")
	err := h.m.Call(ctx, "ag__2", true)
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.Equal(t, StateIdle, h.m.Snapshot().State)
	assert.Empty(t, h.pub.events)

	h.source.err = nil
	h.peer.offerErr = errors.New("sdp failure")
	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	err = h.m.Accept(ctx)
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.Equal(t, StateIdle, h.m.Snapshot().State)
	assert.True(t, h.source.last().isStopped(), "media released on failure")

	end := h.pub.named(protocol.EventEndCall)[0].(*protocol.EndCall)
	assert.Equal(t, constant.CallEndFailed, end.Reason)
}

func TestManager_TogglesArePresentationOnly(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	_, err := h.m.ToggleAudio()
	assert.ErrorIs(t, err, ErrNoCall)

	require.NoError(t, h.m.Call(ctx, "ag__2", false))
	on, err := h.m.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, h.source.last().audioOn)

	_, err = h.m.ToggleVideo()
	assert.ErrorIs(t, err, ErrAudioOnly)
	assert.False(t, h.m.Snapshot().Video)
}

func TestManager_StateSequence(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	require.NoError(t, h.m.Accept(ctx))
	require.NoError(t, h.m.Hangup(ctx))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []State{StateRinging, StateConnecting, StateActive, StateEnded, StateIdle}, h.states)
}

func TestManager_SnapshotDoesNotWaitForNegotiation(t *testing.T) {
	h := newHarness(t, time.Second)
	h.peer.delay = 200 * time.Millisecond
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.m.Call(ctx, "ag__2", true) }()
	assert.Eventually(t, func() bool { return h.m.Snapshot().State == StateRinging }, time.Second, time.Millisecond)

	start := time.Now()
	snap := h.m.Snapshot()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, "ag__2", snap.PartnerId)
	assert.Empty(t, h.pub.named(protocol.EventCallUser), "offer is still being built")

	assert.ErrorIs(t, h.m.Call(ctx, "ow__3", false), ErrBusy)

	require.NoError(t, <-done)
	assert.Len(t, h.pub.named(protocol.EventCallUser), 1)
	assert.Equal(t, StateRinging, h.m.Snapshot().State)
}

func TestManager_HangupDuringSetupReleasesResources(t *testing.T) {
	h := newHarness(t, time.Second)
	h.peer.delay = 100 * time.Millisecond
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.m.Call(ctx, "ag__2", false) }()
	assert.Eventually(t, func() bool { return h.m.Snapshot().State == StateRinging }, time.Second, time.Millisecond)
	require.NoError(t, h.m.Hangup(ctx))
	assert.Equal(t, StateIdle, h.m.Snapshot().State)

	assert.ErrorIs(t, <-done, ErrNoCall)
	assert.Empty(t, h.pub.named(protocol.EventCallUser))
	assert.True(t, h.source.last().isStopped())
	assert.True(t, h.peer.isClosed())
	assert.Equal(t, StateIdle, h.m.Snapshot().State)
}

func TestManager_AcceptDoesNotBlockRemoteEnd(t *testing.T) {
	h := newHarness(t, time.Second)
	h.peer.delay = 100 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, h.m.HandleIncoming(ctx, &protocol.CallUser{From: "ag__2", UserToCall: "by__1", Signal: json.RawMessage(`{}`)}))
	done := make(chan error, 1)
	go func() { done <- h.m.Accept(ctx) }()
	assert.Eventually(t, func() bool { return h.m.Snapshot().State == StateConnecting }, time.Second, time.Millisecond)

	h.m.HandleEnded(ctx, &protocol.EndCall{To: "by__1", From: "ag__2"})
	assert.Equal(t, StateIdle, h.m.Snapshot().State)

	assert.ErrorIs(t, <-done, ErrNoCall)
	assert.Empty(t, h.pub.named(protocol.EventAnswerCall))
	assert.True(t, h.source.last().isStopped())
}
