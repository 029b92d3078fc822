// Package chat is the conversation state machine shared by every portal.
// A Session owns the channel subscriptions, the stores, presence and the
// call manager for one authenticated user.
package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk"
	"github.com/mbeoliero/estatechat/sdk/realtime/call"
	"github.com/mbeoliero/estatechat/sdk/realtime/presence"
	"github.com/mbeoliero/estatechat/sdk/realtime/store"
	"github.com/mbeoliero/estatechat/sdk/realtime/transport"
)

var (
	// ErrBlocked is returned when composing in a blocked conversation
	ErrBlocked = errors.New("chat: conversation is blocked")
	// ErrNoConversation is returned when no conversation is open
	ErrNoConversation = errors.New("chat: no conversation open")
	// ErrUnknownConversation is returned for ids missing from the list
	ErrUnknownConversation = errors.New("chat: unknown conversation")
	// ErrUnknownMessage is returned for ids missing from the open conversation
	ErrUnknownMessage = errors.New("chat: unknown message")
	// ErrEmptyMessage is returned when sending blank text
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrPending is returned when acting on a message the server has not confirmed
	ErrPending = errors.New("chat: message not confirmed yet")
	// ErrNotSender is returned when deleting someone else's message
	ErrNotSender = errors.New("chat: only the sender can delete a message")
	// ErrBlockedByPartner is returned when unblocking a block the partner placed
	ErrBlockedByPartner = errors.New("chat: blocked by the other participant")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("chat: session closed")
)

// API is the REST surface the session needs; *sdk.Client implements it
type API interface {
	ListConversations(ctx context.Context) ([]*protocol.Conversation, error)
	CreateConversation(ctx context.Context, req *sdk.CreateConversationRequest) (*protocol.Conversation, error)
	DeleteConversation(ctx context.Context, conversationId string) error
	MarkConversationRead(ctx context.Context, conversationId string) error
	BlockConversation(ctx context.Context, conversationId string) (*protocol.Conversation, error)
	UnblockConversation(ctx context.Context, conversationId string) (*protocol.Conversation, error)
	GetMessages(ctx context.Context, conversationId string, limit int) ([]*protocol.Message, error)
	SendMessage(ctx context.Context, req *sdk.SendMessageRequest) (*protocol.Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
}

// Channel is the realtime surface the session needs; *transport.Channel implements it
type Channel interface {
	Publish(ctx context.Context, p protocol.Payload) error
	Subscribe(event string, h transport.Handler) func()
	OnConnect(fn func(ctx context.Context))
}

type runner interface {
	Run(ctx context.Context) error
}

// Config configures a Session
type Config struct {
	SelfId         string
	Portal         Portal
	TypingDebounce time.Duration
	TypingFallback time.Duration
	RingTimeout    time.Duration
}

// Deps are the collaborators of a Session
type Deps struct {
	API     API
	Channel Channel
	Media   call.MediaSource
	Peers   call.PeerFactory
	Ringer  call.Ringer
	View    View
}

// Snapshot is what a view renders
type Snapshot struct {
	SelfId        string
	Rows          []Row
	Selected      string
	Messages      []*protocol.Message
	Loading       bool
	PartnerTyping bool
	PartnerOnline bool
	TotalUnread   int
	Call          call.Snapshot
}

// Row is one entry of the conversation list
type Row struct {
	Conversation *protocol.Conversation
	PartnerId    string
	Label        string
	Online       bool
}

const dedupWindow = 512

// Session is the client state machine for one signed-in user
type Session struct {
	cfg      Config
	api      API
	ch       Channel
	view     View
	calls    *call.Manager
	presence *presence.Tracker
	now      func() time.Time

	mu         sync.Mutex
	convs      *store.ConversationStore
	msgs       *store.MessageStore
	selected   string
	historyGen uint64
	loading    bool
	typing     *presence.Debouncer
	recent     map[string]struct{}
	recentLog  []string
	unsubs     []func()
	started    bool
	closed     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wires a session. Nothing touches the network until Start.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.Portal.HistoryLimit <= 0 {
		cfg.Portal.HistoryLimit = NewPortal(cfg.Portal.Role, cfg.Portal.Profile).HistoryLimit
	}
	view := deps.View
	if view == nil {
		view = NopView{}
	}
	s := &Session{
		cfg:    cfg,
		api:    deps.API,
		ch:     deps.Channel,
		view:   view,
		now:    time.Now,
		convs:  store.NewConversationStore(),
		msgs:   store.NewMessageStore(),
		recent: make(map[string]struct{}),
	}
	s.presence = presence.NewTracker(cfg.TypingFallback, s.render)

	opts := []call.Option{
		call.OnStateChange(func(call.Snapshot) { s.render() }),
		call.OnCallLog(view.CallLogged),
	}
	if deps.Ringer != nil {
		opts = append(opts, call.WithRinger(deps.Ringer))
	}
	s.calls = call.NewManager(call.Config{
		SelfId:      cfg.SelfId,
		SelfName:    cfg.Portal.Profile.Name,
		RingTimeout: cfg.RingTimeout,
	}, deps.Channel, deps.Media, deps.Peers, opts...)
	return s
}

// Start subscribes to the channel, runs it when the channel can run itself,
// and loads the conversation list. Load failures are reported but do not
// stop the session; the next reconnect or resync retries.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.subscribeLocked()
	s.mu.Unlock()

	s.ch.OnConnect(s.onConnect)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if r, ok := s.ch.(runner); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				log.CtxWarn(runCtx, "realtime channel stopped: user_id=%s, error=%v", s.cfg.SelfId, err)
			}
		}()
	}

	return s.LoadConversations(ctx)
}

// Close tears down the call, timers and the channel
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	typing := s.typing
	s.typing = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	if typing != nil {
		typing.Stop()
	}
	s.calls.Close(ctx)
	s.presence.Close()

	var err error
	if c, ok := s.ch.(io.Closer); ok {
		err = c.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return err
}

// Calls exposes the call manager
func (s *Session) Calls() *call.Manager {
	return s.calls
}

// Snapshot returns the current view model
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return s.decorate(snap)
}

// onConnect re-announces presence and re-joins the open room after every (re)connect
func (s *Session) onConnect(ctx context.Context) {
	if err := s.ch.Publish(ctx, &protocol.UserOnline{UserId: s.cfg.SelfId}); err != nil {
		log.CtxWarn(ctx, "announce presence failed: user_id=%s, error=%v", s.cfg.SelfId, err)
	}

	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()
	if selected == "" {
		return
	}
	if err := s.ch.Publish(ctx, &protocol.JoinConversation{ConversationId: selected}); err != nil {
		log.CtxWarn(ctx, "rejoin conversation failed: conversation_id=%s, error=%v", selected, err)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	list := s.convs.List()
	rows := make([]Row, len(list))
	for i, c := range list {
		partner := c.Partner(s.cfg.SelfId)
		rows[i] = Row{Conversation: c, PartnerId: partner.Id, Label: s.cfg.Portal.label(partner)}
	}
	snap := Snapshot{
		SelfId:      s.cfg.SelfId,
		Rows:        rows,
		Selected:    s.selected,
		Loading:     s.loading,
		TotalUnread: s.convs.TotalUnread(),
	}
	if s.selected != "" {
		snap.Messages = s.msgs.List()
	}
	return snap
}

// decorate fills fields owned by components with their own locks
func (s *Session) decorate(snap Snapshot) Snapshot {
	for i := range snap.Rows {
		snap.Rows[i].Online = s.presence.IsOnline(snap.Rows[i].PartnerId)
		if snap.Rows[i].Conversation.Id == snap.Selected {
			snap.PartnerOnline = snap.Rows[i].Online
			snap.PartnerTyping = s.presence.IsTyping(snap.Selected, snap.Rows[i].PartnerId)
		}
	}
	snap.Call = s.calls.Snapshot()
	return snap
}

// render pushes a fresh snapshot to the view. Never call it with s.mu held.
func (s *Session) render() {
	s.view.Render(s.Snapshot())
}

func (s *Session) toast(level, msg string) {
	s.view.Toast(level, msg)
}

// remember records an event key and reports whether it was new
func (s *Session) rememberLocked(key string) bool {
	if _, ok := s.recent[key]; ok {
		return false
	}
	s.recent[key] = struct{}{}
	s.recentLog = append(s.recentLog, key)
	if len(s.recentLog) > dedupWindow {
		delete(s.recent, s.recentLog[0])
		s.recentLog = s.recentLog[1:]
	}
	return true
}

func (s *Session) publish(ctx context.Context, p protocol.Payload) {
	if err := s.ch.Publish(ctx, p); err != nil {
		log.CtxWarn(ctx, "publish failed: event=%s, error=%v", p.EventName(), err)
	}
}
