package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/internal/repository"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/constant"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/pkg/jwt"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

const (
	secret = "gateway-test"
	buyer  = "by__1"
	agent  = "ag__2"
	owner  = "ow__3"
)

type testEnv struct {
	server *WsServer
	http   *httptest.Server
	convId string
}

func newTestEnv(t *testing.T, rate float64, burst int) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))

	repos := repository.New(db, nil)
	msgService := service.NewMessageService(repos)
	convService := service.NewConversationService(repos)

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: secret},
		WebSocket: config.WebSocketConfig{
			MaxConnNum: 100,
			EventRate:  rate,
			EventBurst: burst,
		},
		Presence: config.PresenceConfig{OnlineTTL: time.Minute},
	}
	ws := NewWsServer(cfg, nil, msgService, nil)
	msgService.SetPusher(ws)
	convService.SetPusher(ws)

	ctx, cancel := context.WithCancel(context.Background())
	ws.Run(ctx)
	ts := httptest.NewServer(ws.HandleConnection(&websocket.Upgrader{}))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = sqlDB.Close()
	})

	conv, err := convService.GetOrCreate(ctx, buyer, &service.CreateConversationRequest{PartnerId: agent})
	require.NoError(t, err)
	return &testEnv{server: ws, http: ts, convId: conv.Id}
}

func (e *testEnv) url(token, userId string) string {
	q := url.Values{QueryToken: {token}, QueryUserId: {userId}}
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "?" + q.Encode()
}

type peer struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan protocol.Payload
}

func (e *testEnv) connect(t *testing.T, userId string, role identity.RoleType) *peer {
	t.Helper()
	token, err := jwt.GenerateToken(userId, role, secret, time.Hour)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(e.url(token, userId), nil)
	require.NoError(t, err)

	p := &peer{t: t, conn: conn, frames: make(chan protocol.Payload, 64)}
	go func() {
		defer close(p.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if payload, err := protocol.Decode(data); err == nil {
				p.frames <- payload
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return e.server.userMap.HasConnection(userId) }, time.Second, 5*time.Millisecond)
	return p
}

func (p *peer) send(payload protocol.Payload) {
	p.t.Helper()
	frame, err := protocol.Encode(payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

// expect skips other events until one named event arrives
func (p *peer) expect(event string) protocol.Payload {
	p.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case payload, ok := <-p.frames:
			require.True(p.t, ok, "connection closed while waiting for %s", event)
			if payload.EventName() == event {
				return payload
			}
		case <-timeout:
			require.FailNow(p.t, "timed out waiting for "+event)
		}
	}
}

func TestHandshake_Rejects(t *testing.T) {
	env := newTestEnv(t, 100, 100)

	_, resp, err := websocket.DefaultDialer.Dial(env.url("garbage", buyer), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jwt.GenerateToken(buyer, identity.RoleBuyer, secret, time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(env.url(token, agent), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	admin, err := jwt.GenerateToken("ad__9", identity.RoleAdmin, secret, time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(env.url(admin, "ad__9"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGateway_OnlineUsersBroadcast(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	b := env.connect(t, buyer, identity.RoleBuyer)
	a := env.connect(t, agent, identity.RoleAgent)

	require.Eventually(t, func() bool {
		select {
		case p := <-b.frames:
			online, ok := p.(*protocol.OnlineUsers)
			return ok && len(online.UserIds) == 2
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool { return !env.server.userMap.HasConnection(agent) }, time.Second, 5*time.Millisecond)
	online := b.expect(protocol.EventOnlineUsers).(*protocol.OnlineUsers)
	for len(online.UserIds) != 1 {
		online = b.expect(protocol.EventOnlineUsers).(*protocol.OnlineUsers)
	}
	assert.Equal(t, []string{buyer}, online.UserIds)
	assert.EqualValues(t, 1, env.server.GetOnlineUserCount())
}

// closedClient is a connection that dropped right after the handshake
func closedClient(s *WsServer, userId, connId string) *Client {
	c := NewClient(nil, userId, identity.RoleBuyer, connId, s)
	c.closed.Store(true)
	return c
}

func TestGateway_ImmediateDisconnectLeavesNoStaleUser(t *testing.T) {
	env := newTestEnv(t, 100, 100)

	for i := 0; i < 200; i++ {
		c := closedClient(env.server, owner, strconv.Itoa(i))
		env.server.RegisterClient(c)
		env.server.UnregisterClient(c)
	}

	require.Eventually(t, func() bool { return len(env.server.clientEvents) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return env.server.onlineConnNum.Load() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, env.server.userMap.HasConnection(owner))
	assert.Zero(t, env.server.GetOnlineUserCount())
}

func TestGateway_UnregisterOfUnknownConnectionIgnored(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	env.connect(t, buyer, identity.RoleBuyer)

	env.server.UnregisterClient(closedClient(env.server, buyer, "never-registered"))
	env.server.UnregisterClient(closedClient(env.server, agent, "never-registered"))
	require.Eventually(t, func() bool { return len(env.server.clientEvents) == 0 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, env.server.userMap.HasConnection(buyer))
	assert.EqualValues(t, 1, env.server.GetOnlineUserCount())
	assert.EqualValues(t, 1, env.server.onlineConnNum.Load())
}

func TestGateway_SendMessageReachesBothSides(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	b := env.connect(t, buyer, identity.RoleBuyer)
	a := env.connect(t, agent, identity.RoleAgent)

	b.send(&protocol.SendMessage{ConversationId: env.convId, SenderId: buyer, ReceiverId: agent, Text: "Is parking included?", TempId: "temp-42"})

	echo := b.expect(protocol.EventReceiveMessage).(*protocol.ReceiveMessage)
	assert.Equal(t, "temp-42", echo.TempId)
	got := a.expect(protocol.EventReceiveMessage).(*protocol.ReceiveMessage)
	assert.Equal(t, echo.Id, got.Id)
	assert.Equal(t, "Is parking included?", got.Text)

	summary := a.expect(protocol.EventConversationUpdated).(*protocol.ConversationUpdated)
	assert.Equal(t, 1, summary.UnreadMessages)

	a.send(&protocol.MessageSeen{ConversationId: env.convId, MessageIds: []string{got.Id}})
	seen := b.expect(protocol.EventMessageSeen).(*protocol.MessageSeen)
	assert.Equal(t, agent, seen.UserId)
	assert.Equal(t, []string{got.Id}, seen.MessageIds)

	a.send(&protocol.AddReaction{ReactionSignal: protocol.ReactionSignal{ConversationId: env.convId, MessageId: got.Id, Emoji: "👍"}})
	reaction := b.expect(protocol.EventReactionUpdate).(*protocol.ReactionUpdate)
	assert.Equal(t, agent, reaction.UserId)
	assert.Equal(t, "👍", reaction.Emoji)

	a.send(&protocol.DeleteMessage{ConversationId: env.convId, MessageId: got.Id})
	rejected := a.expect(protocol.EventError).(*protocol.Error)
	assert.Equal(t, errcode.ErrNotMessageSender.Code, rejected.Code)

	b.send(&protocol.DeleteMessage{ConversationId: env.convId, MessageId: got.Id})
	deleted := a.expect(protocol.EventMessageDeleted).(*protocol.MessageDeleted)
	assert.Equal(t, got.Id, deleted.MessageId)
}

func TestGateway_RejectedSendCarriesTempId(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	o := env.connect(t, owner, identity.RoleOwner)

	o.send(&protocol.SendMessage{ConversationId: env.convId, SenderId: owner, ReceiverId: agent, Text: "hi", TempId: "temp-x"})
	rejected := o.expect(protocol.EventError).(*protocol.Error)
	assert.Equal(t, protocol.EventSendMessage, rejected.Event)
	assert.Equal(t, "temp-x", rejected.TempId)
	assert.Equal(t, errcode.ErrConvNotFound.Code, rejected.Code)
}

func TestGateway_TypingRelayUsesConnectionIdentity(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	b := env.connect(t, buyer, identity.RoleBuyer)
	a := env.connect(t, agent, identity.RoleAgent)

	b.send(&protocol.Typing{TypingSignal: protocol.TypingSignal{ConversationId: env.convId, UserId: "someone_else", ReceiverId: agent}})
	typing := a.expect(protocol.EventUserTyping).(*protocol.UserTyping)
	assert.Equal(t, buyer, typing.UserId)
	assert.Equal(t, env.convId, typing.ConversationId)

	b.send(&protocol.StopTyping{TypingSignal: protocol.TypingSignal{ConversationId: env.convId, ReceiverId: agent}})
	a.expect(protocol.EventUserStopTyping)

	b.send(&protocol.Typing{TypingSignal: protocol.TypingSignal{ConversationId: env.convId, ReceiverId: owner}})
	rejected := b.expect(protocol.EventError).(*protocol.Error)
	assert.Equal(t, errcode.ErrInvalidParam.Code, rejected.Code)
}

func TestGateway_CallRelay(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	b := env.connect(t, buyer, identity.RoleBuyer)

	b.send(&protocol.CallUser{UserToCall: agent, From: buyer, Signal: []byte(`{"type":"offer"}`), IsVideo: true})
	end := b.expect(protocol.EventEndCall).(*protocol.EndCall)
	assert.Equal(t, constant.CallEndUnavailable, end.Reason)
	assert.Equal(t, agent, end.From)
	assert.True(t, end.IsVideo)

	a := env.connect(t, agent, identity.RoleAgent)
	b.send(&protocol.CallUser{UserToCall: agent, From: "spoofed", Signal: []byte(`{"type":"offer"}`)})
	ring := a.expect(protocol.EventCallUser).(*protocol.CallUser)
	assert.Equal(t, buyer, ring.From)

	a.send(&protocol.AnswerCall{To: buyer, Signal: []byte(`{"type":"answer"}`)})
	accepted := b.expect(protocol.EventCallAccepted).(*protocol.CallAccepted)
	assert.Equal(t, agent, accepted.From)
	assert.JSONEq(t, `{"type":"answer"}`, string(accepted.Signal))

	b.send(&protocol.EndCall{To: agent, Reason: constant.CallEndHangup})
	hangup := a.expect(protocol.EventEndCall).(*protocol.EndCall)
	assert.Equal(t, buyer, hangup.From)
	assert.False(t, hangup.EndedAt.IsZero())
}

func TestGateway_RejectsInvalidAndLimitsRate(t *testing.T) {
	env := newTestEnv(t, 0.001, 2)
	b := env.connect(t, buyer, identity.RoleBuyer)

	require.NoError(t, b.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"receive_message","data":{"id":"1"}}`)))
	invalid := b.expect(protocol.EventError).(*protocol.Error)
	assert.Equal(t, errcode.ErrInvalidProtocol.Code, invalid.Code)

	b.send(&protocol.UserOnline{UserId: buyer})
	b.send(&protocol.UserOnline{UserId: buyer})
	limited := b.expect(protocol.EventError).(*protocol.Error)
	assert.Equal(t, errcode.ErrRateLimited.Code, limited.Code)
	assert.Equal(t, protocol.EventUserOnline, limited.Event)
}
