package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// Config configures a Manager
type Config struct {
	SelfId      string
	SelfName    string
	RingTimeout time.Duration
}

type session struct {
	partnerId    string
	partnerName  string
	incoming     bool
	video        bool
	signal       []byte
	accepted     bool
	state        State
	audioEnabled bool
	videoEnabled bool
	startedAt    time.Time
	connectedAt  time.Time
}

// Manager owns at most one call. All methods are safe for concurrent use;
// hooks are invoked after the internal lock is released.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	pub     Publisher
	media   MediaSource
	peers   PeerFactory
	ringer  Ringer
	now     func() time.Time
	session *session
	local   LocalMedia
	peer    Peer
	timer   *time.Timer
	gen     uint64
	pending []func()

	onState func(Snapshot)
	onLog   func(LogEntry)
}

// Option configures a Manager
type Option func(*Manager)

// WithRinger sets the ringtone player
func WithRinger(r Ringer) Option {
	return func(m *Manager) { m.ringer = r }
}

// OnStateChange registers a hook called after every state transition
func OnStateChange(fn func(Snapshot)) Option {
	return func(m *Manager) { m.onState = fn }
}

// OnCallLog registers a hook called once per finished call
func OnCallLog(fn func(LogEntry)) Option {
	return func(m *Manager) { m.onLog = fn }
}

// NewManager creates a call manager
func NewManager(cfg Config, pub Publisher, media MediaSource, peers PeerFactory, opts ...Option) *Manager {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = constant.RingTimeout
	}
	m := &Manager{
		cfg:    cfg,
		pub:    pub,
		media:  media,
		peers:  peers,
		ringer: nopRinger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Call starts an outgoing call. Media matching the call type is acquired
// before the offer is built; the call type cannot change afterwards. The lock
// is not held while media and the offer are prepared or the offer is sent.
func (m *Manager) Call(ctx context.Context, partnerId string, video bool) error {
	m.mu.Lock()
	if m.session != nil {
		m.unlock()
		return ErrBusy
	}
	if partnerId == "" || partnerId == m.cfg.SelfId {
		m.unlock()
		return fmt.Errorf("%w: bad partner %q", ErrInvalidState, partnerId)
	}

	m.session = &session{
		partnerId:    partnerId,
		video:        video,
		state:        StateRinging,
		audioEnabled: true,
		videoEnabled: video,
		startedAt:    m.now(),
	}
	m.gen++
	gen := m.gen
	m.notifyState()
	m.unlock()

	local, peer, offer, err := m.prepare(ctx, video, func(p Peer) (json.RawMessage, error) { return p.CreateOffer(ctx) })
	if err := m.attach(ctx, gen, local, peer, err, false); err != nil {
		return err
	}

	err = m.pub.Publish(ctx, &protocol.CallUser{
		UserToCall: partnerId,
		From:       m.cfg.SelfId,
		Name:       m.cfg.SelfName,
		Signal:     offer,
		IsVideo:    video,
	})

	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen {
		return fmt.Errorf("%w: call ended while sending the offer", ErrNoCall)
	}
	if err != nil {
		m.teardown(ctx, constant.CallEndFailed, false)
		return fmt.Errorf("%w: publish offer: %v", ErrNegotiation, err)
	}
	if m.session.state == StateRinging {
		m.armTimer(m.onOutgoingTimeout)
	}
	log.CtxInfo(ctx, "call started: partner=%s, video=%v", partnerId, video)
	return nil
}

// HandleIncoming processes a callUser event. A second call while one is in
// progress is rejected with endCall reason busy.
func (m *Manager) HandleIncoming(ctx context.Context, ev *protocol.CallUser) error {
	m.mu.Lock()
	defer m.unlock()

	if m.session != nil {
		log.CtxInfo(ctx, "rejecting call while busy: from=%s", ev.From)
		m.publishEnd(ctx, ev.From, ev.IsVideo, constant.CallEndBusy)
		return ErrBusy
	}

	m.session = &session{
		partnerId:    ev.From,
		partnerName:  ev.Name,
		incoming:     true,
		video:        ev.IsVideo,
		signal:       append([]byte(nil), ev.Signal...),
		state:        StateRinging,
		audioEnabled: true,
		videoEnabled: ev.IsVideo,
		startedAt:    m.now(),
	}
	m.gen++
	m.ringer.StartRinging()
	m.armTimer(m.onIncomingTimeout)
	m.notifyState()
	return nil
}

// Accept answers the ringing incoming call. Like Call, the answer is
// prepared and sent without holding the lock.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.unlock()
		return ErrNoCall
	}
	if !s.incoming || s.state != StateRinging {
		state := s.state
		m.unlock()
		return fmt.Errorf("%w: accept in %s", ErrInvalidState, state)
	}

	m.stopTimer()
	m.ringer.StopRinging()
	s.state = StateConnecting
	gen := m.gen
	offer, partnerId, video := s.signal, s.partnerId, s.video
	m.notifyState()
	m.unlock()

	local, peer, answer, err := m.prepare(ctx, video, func(p Peer) (json.RawMessage, error) { return p.AcceptOffer(ctx, offer) })
	if err := m.attach(ctx, gen, local, peer, err, true); err != nil {
		return err
	}

	err = m.pub.Publish(ctx, &protocol.AnswerCall{To: partnerId, From: m.cfg.SelfId, Signal: answer})

	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen {
		return fmt.Errorf("%w: call ended while sending the answer", ErrNoCall)
	}
	if err != nil {
		m.teardown(ctx, constant.CallEndFailed, true)
		return fmt.Errorf("%w: publish answer: %v", ErrNegotiation, err)
	}
	m.activate()
	return nil
}

// HandleAccepted applies the callee's answer to the outgoing call and cancels the ring timer
func (m *Manager) HandleAccepted(ctx context.Context, ev *protocol.CallAccepted) error {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil || s.incoming || s.state != StateRinging || m.peer == nil {
		log.CtxDebug(ctx, "ignoring callAccepted: from=%s", ev.From)
		return nil
	}
	if ev.From != "" && ev.From != s.partnerId {
		log.CtxDebug(ctx, "ignoring callAccepted from non-partner: from=%s", ev.From)
		return nil
	}

	m.stopTimer()
	s.state = StateConnecting
	m.notifyState()

	if err := m.peer.AcceptAnswer(ctx, ev.Signal); err != nil {
		m.teardown(ctx, constant.CallEndFailed, true)
		return fmt.Errorf("%w: apply answer: %v", ErrNegotiation, err)
	}

	m.activate()
	return nil
}

// Decline rejects the ringing incoming call
func (m *Manager) Decline(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil {
		return ErrNoCall
	}
	if !s.incoming || s.state != StateRinging {
		return fmt.Errorf("%w: decline in %s", ErrInvalidState, s.state)
	}
	m.teardown(ctx, constant.CallEndDeclined, true)
	return nil
}

// Hangup ends the call from any state. Without a call it does nothing.
func (m *Manager) Hangup(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()

	if m.session == nil {
		return nil
	}
	m.teardown(ctx, constant.CallEndHangup, true)
	return nil
}

// HandleEnded processes the partner's endCall
func (m *Manager) HandleEnded(ctx context.Context, ev *protocol.EndCall) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil || (ev.From != "" && ev.From != s.partnerId) {
		return
	}
	reason := ev.Reason
	if reason == "" {
		reason = constant.CallEndHangup
	}
	log.CtxInfo(ctx, "call ended by partner: partner=%s, reason=%s", s.partnerId, reason)
	m.teardown(ctx, reason, false)
}

// HandleMissed processes the caller's call_missed, which stops our ringing
func (m *Manager) HandleMissed(ctx context.Context, ev *protocol.CallMissed) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil || !s.incoming || s.state != StateRinging {
		return
	}
	if ev.From != "" && ev.From != s.partnerId {
		return
	}
	m.finish(ctx, true, "")
}

// ToggleAudio mutes or unmutes the microphone and returns the new state
func (m *Manager) ToggleAudio() (bool, error) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil || m.local == nil {
		return false, ErrNoCall
	}
	s.audioEnabled = !s.audioEnabled
	m.local.SetAudioEnabled(s.audioEnabled)
	m.notifyState()
	return s.audioEnabled, nil
}

// ToggleVideo turns the camera on or off. Audio calls cannot gain video.
func (m *Manager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if s == nil || m.local == nil {
		return false, ErrNoCall
	}
	if !s.video {
		return false, ErrAudioOnly
	}
	s.videoEnabled = !s.videoEnabled
	m.local.SetVideoEnabled(s.videoEnabled)
	m.notifyState()
	return s.videoEnabled, nil
}

// Snapshot returns the current call view
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close hangs up any call
func (m *Manager) Close(ctx context.Context) {
	_ = m.Hangup(ctx)
}

// prepare acquires media and a peer then runs the negotiation step. It does
// not touch manager state; on failure whatever was acquired is released.
func (m *Manager) prepare(ctx context.Context, video bool, step func(Peer) (json.RawMessage, error)) (LocalMedia, Peer, json.RawMessage, error) {
	local, err := m.media.Acquire(ctx, video)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: acquire media: %v", ErrNegotiation, err)
	}

	peer, err := m.peers.NewPeer(ctx, local)
	if err != nil {
		release(ctx, local, nil)
		return nil, nil, nil, fmt.Errorf("%w: new peer: %v", ErrNegotiation, err)
	}

	signal, err := step(peer)
	if err != nil {
		release(ctx, local, peer)
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	return local, peer, signal, nil
}

// attach stores the prepared media and peer if the call that asked for them
// is still the current one. A call ended meanwhile gets its resources
// released; a failed preparation tears the call down.
func (m *Manager) attach(ctx context.Context, gen uint64, local LocalMedia, peer Peer, prepErr error, notify bool) error {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.session == nil {
		release(ctx, local, peer)
		if prepErr != nil {
			return prepErr
		}
		return fmt.Errorf("%w: call ended during setup", ErrNoCall)
	}
	if prepErr != nil {
		m.teardown(ctx, constant.CallEndFailed, notify)
		return prepErr
	}
	m.local, m.peer = local, peer
	return nil
}

func release(ctx context.Context, local LocalMedia, peer Peer) {
	if peer != nil {
		if err := peer.Close(); err != nil {
			log.CtxWarn(ctx, "close peer failed: error=%v", err)
		}
	}
	if local != nil {
		local.Stop()
	}
}

func (m *Manager) activate() {
	s := m.session
	s.state = StateActive
	s.accepted = true
	s.connectedAt = m.now()
	m.notifyState()
}

// teardown ends the call and optionally tells the partner
func (m *Manager) teardown(ctx context.Context, reason string, notify bool) {
	s := m.session
	if s == nil {
		return
	}
	if notify {
		m.publishEnd(ctx, s.partnerId, s.video, reason)
	}
	m.finish(ctx, false, reason)
}

// finish releases every resource on every exit path and returns to idle
func (m *Manager) finish(ctx context.Context, missed bool, reason string) {
	s := m.session
	m.stopTimer()
	m.ringer.StopRinging()
	release(ctx, m.local, m.peer)
	m.peer, m.local = nil, nil

	s.state = StateEnded
	m.notifyState()

	entry := LogEntry{
		PartnerId: s.partnerId,
		Incoming:  s.incoming,
		Video:     s.video,
		Missed:    missed,
		Reason:    reason,
		At:        m.now(),
	}
	if !s.connectedAt.IsZero() {
		entry.Duration = entry.At.Sub(s.connectedAt)
	}
	if fn := m.onLog; fn != nil {
		m.pending = append(m.pending, func() { fn(entry) })
	}

	m.session = nil
	m.gen++
	m.notifyState()
}

func (m *Manager) publishEnd(ctx context.Context, to string, video bool, reason string) {
	err := m.pub.Publish(ctx, &protocol.EndCall{
		To:      to,
		From:    m.cfg.SelfId,
		IsVideo: video,
		Reason:  reason,
		EndedAt: m.now(),
	})
	if err != nil {
		log.CtxWarn(ctx, "publish endCall failed: to=%s, error=%v", to, err)
	}
}

func (m *Manager) armTimer(fire func(gen uint64)) {
	m.stopTimer()
	gen := m.gen
	m.timer = time.AfterFunc(m.cfg.RingTimeout, func() { fire(gen) })
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// onOutgoingTimeout emits call_missed once and drops the call
func (m *Manager) onOutgoingTimeout(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if gen != m.gen || s == nil || s.incoming || s.state != StateRinging {
		return
	}
	ctx := context.Background()
	err := m.pub.Publish(ctx, &protocol.CallMissed{
		To:      s.partnerId,
		From:    m.cfg.SelfId,
		IsVideo: s.video,
		At:      m.now(),
	})
	if err != nil {
		log.Warn("publish call_missed failed: to=%s, error=%v", s.partnerId, err)
	}
	m.timer = nil
	m.finish(ctx, true, "")
}

// onIncomingTimeout stops ringing quietly if the caller's call_missed never arrives
func (m *Manager) onIncomingTimeout(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	s := m.session
	if gen != m.gen || s == nil || !s.incoming || s.state != StateRinging {
		return
	}
	m.timer = nil
	m.finish(context.Background(), true, "")
}

func (m *Manager) snapshotLocked() Snapshot {
	s := m.session
	if s == nil {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{
		State:        s.state,
		PartnerId:    s.partnerId,
		PartnerName:  s.partnerName,
		Incoming:     s.incoming,
		Video:        s.video,
		Accepted:     s.accepted,
		AudioEnabled: s.audioEnabled,
		VideoEnabled: s.videoEnabled,
		StartedAt:    s.startedAt,
	}
}

func (m *Manager) notifyState() {
	if m.onState == nil {
		return
	}
	snap := m.snapshotLocked()
	fn := m.onState
	m.pending = append(m.pending, func() { fn(snap) })
}

// unlock releases the lock and runs queued hooks
func (m *Manager) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
