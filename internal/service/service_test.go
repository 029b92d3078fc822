package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mbeoliero/estatechat/internal/repository"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

const (
	buyer = "by__1"
	agent = "ag__2"
	other = "by__3"
)

type pushed struct {
	payload protocol.Payload
	userIds []string
}

type recordingPusher struct {
	mu     sync.Mutex
	events []pushed
}

func (p *recordingPusher) PushToUsers(_ context.Context, payload protocol.Payload, userIds ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushed{payload: payload, userIds: userIds})
}

func (p *recordingPusher) named(event string) []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushed
	for _, e := range p.events {
		if e.payload.EventName() == event {
			out = append(out, e)
		}
	}
	return out
}

type seqIds struct{ n atomic.Int64 }

func (g *seqIds) NextID() (string, error) {
	return strconv.FormatInt(g.n.Add(1), 10), nil
}

type fixture struct {
	convs  *ConversationService
	msgs   *MessageService
	pusher *recordingPusher
	convId string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	repos := repository.New(db, nil)
	f := &fixture{
		convs:  NewConversationService(repos),
		msgs:   NewMessageService(repos),
		pusher: &recordingPusher{},
	}
	f.convs.SetPusher(f.pusher)
	f.msgs.SetPusher(f.pusher)
	f.msgs.SetIDGenerator(&seqIds{})

	conv, err := f.convs.GetOrCreate(context.Background(), buyer, &CreateConversationRequest{
		PartnerId:      agent,
		PartnerProfile: Profile{Name: "Alice Agent"},
		SelfProfile:    Profile{Name: "Bob Buyer"},
	})
	require.NoError(t, err)
	f.convId = conv.Id
	return f
}

func (f *fixture) send(t *testing.T, from, text, tempId string) *protocol.Message {
	t.Helper()
	msg, err := f.msgs.Send(context.Background(), from, &SendMessageRequest{ConversationId: f.convId, Message: text, TempId: tempId})
	require.NoError(t, err)
	return msg
}

func TestConversationService_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	fromAgent, err := f.convs.GetOrCreate(ctx, agent, &CreateConversationRequest{PartnerId: buyer})
	require.NoError(t, err)
	assert.Equal(t, f.convId, fromAgent.Id)
	assert.Equal(t, "Bob Buyer", fromAgent.Partner(agent).Name)

	_, err = f.convs.GetOrCreate(ctx, buyer, &CreateConversationRequest{PartnerId: buyer})
	assert.ErrorIs(t, err, errcode.ErrSelfConversation)
	_, err = f.convs.GetOrCreate(ctx, buyer, &CreateConversationRequest{PartnerId: " "})
	assert.ErrorIs(t, err, errcode.ErrInvalidParam)
	_, err = f.convs.GetOrCreate(ctx, buyer, &CreateConversationRequest{PartnerId: "ad__9"})
	assert.ErrorIs(t, err, errcode.ErrNoPermission)
}

func TestMessageService_SendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.send(t, buyer, "  Is the flat still available?  ", "temp-1")
	assert.Equal(t, "Is the flat still available?", first.Text)
	assert.Equal(t, agent, first.ReceiverId)
	assert.Equal(t, "temp-1", first.TempId)

	again := f.send(t, buyer, "Is the flat still available?", "temp-1")
	assert.Equal(t, first.Id, again.Id)

	received := f.pusher.named(protocol.EventReceiveMessage)
	require.Len(t, received, 1)
	assert.ElementsMatch(t, []string{buyer, agent}, received[0].userIds)

	updates := f.pusher.named(protocol.EventConversationUpdated)
	require.Len(t, updates, 2)
	for _, u := range updates {
		conv := u.payload.(*protocol.ConversationUpdated)
		assert.Equal(t, "Is the flat still available?", conv.LastMessage)
		if u.userIds[0] == agent {
			assert.Equal(t, 1, conv.UnreadMessages)
		} else {
			assert.Zero(t, conv.UnreadMessages)
		}
	}

	list, err := f.convs.List(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadMessages)
}

func TestMessageService_SendRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.msgs.Send(ctx, buyer, &SendMessageRequest{ConversationId: f.convId, Message: "   "})
	assert.ErrorIs(t, err, errcode.ErrEmptyMessage)
	_, err = f.msgs.Send(ctx, other, &SendMessageRequest{ConversationId: f.convId, Message: "hi"})
	assert.ErrorIs(t, err, errcode.ErrConvNotFound)
	_, err = f.msgs.Send(ctx, buyer, &SendMessageRequest{ConversationId: f.convId, ReceiverId: other, Message: "hi"})
	assert.ErrorIs(t, err, errcode.ErrInvalidParam)

	_, err = f.convs.Block(ctx, agent, f.convId)
	require.NoError(t, err)
	_, err = f.msgs.Send(ctx, buyer, &SendMessageRequest{ConversationId: f.convId, Message: "hi"})
	assert.ErrorIs(t, err, errcode.ErrConvBlocked)
	_, err = f.msgs.Send(ctx, agent, &SendMessageRequest{ConversationId: f.convId, Message: "hi"})
	assert.ErrorIs(t, err, errcode.ErrConvBlocked)
	assert.Empty(t, f.pusher.named(protocol.EventReceiveMessage))
}

func TestConversationService_BlockUnblock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	conv, err := f.convs.Block(ctx, agent, f.convId)
	require.NoError(t, err)
	assert.True(t, conv.IsBlocked)
	assert.Equal(t, agent, conv.BlockedBy)
	assert.Len(t, f.pusher.named(protocol.EventConversationUpdated), 2)

	_, err = f.convs.Unblock(ctx, buyer, f.convId)
	assert.ErrorIs(t, err, errcode.ErrNotBlockedByUser)

	conv, err = f.convs.Unblock(ctx, agent, f.convId)
	require.NoError(t, err)
	assert.False(t, conv.IsBlocked)
	assert.Empty(t, conv.BlockedBy)

	_, err = f.convs.Block(ctx, other, f.convId)
	assert.ErrorIs(t, err, errcode.ErrConvNotFound)
}

func TestMessageService_HistoryAndReactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m1 := f.send(t, buyer, "hello", "")
	m2 := f.send(t, agent, "hi, when can you visit?", "")

	require.NoError(t, f.msgs.React(ctx, agent, m1.Id, "👍"))
	require.NoError(t, f.msgs.React(ctx, agent, m1.Id, "❤️"))
	assert.ErrorIs(t, f.msgs.React(ctx, agent, m1.Id, " "), errcode.ErrInvalidReaction)
	assert.ErrorIs(t, f.msgs.React(ctx, other, m1.Id, "👍"), errcode.ErrMessageNotFound)

	history, err := f.msgs.History(ctx, buyer, f.convId, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, m1.Id, history[0].Id)
	assert.Equal(t, m2.Id, history[1].Id)
	assert.Equal(t, map[string]string{agent: "❤️"}, history[0].Reactions)

	require.NoError(t, f.msgs.Unreact(ctx, agent, m1.Id))
	require.NoError(t, f.msgs.Unreact(ctx, agent, m1.Id))
	updates := f.pusher.named(protocol.EventReactionUpdate)
	require.Len(t, updates, 3)
	last := updates[2].payload.(*protocol.ReactionUpdate)
	assert.True(t, last.Removed)

	_, err = f.msgs.History(ctx, other, f.convId, 10)
	assert.ErrorIs(t, err, errcode.ErrConvNotFound)
}

func TestMessageService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.send(t, buyer, "wrong flat, sorry", "")

	assert.ErrorIs(t, f.msgs.Delete(ctx, agent, msg.Id), errcode.ErrNotMessageSender)
	require.NoError(t, f.msgs.Delete(ctx, buyer, msg.Id))
	assert.ErrorIs(t, f.msgs.Delete(ctx, buyer, msg.Id), errcode.ErrMessageNotFound)

	deleted := f.pusher.named(protocol.EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.ElementsMatch(t, []string{buyer, agent}, deleted[0].userIds)

	history, err := f.msgs.History(ctx, agent, f.convId, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMessageService_MarkSeen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m1 := f.send(t, buyer, "one", "")
	m2 := f.send(t, buyer, "two", "")

	require.NoError(t, f.msgs.MarkSeen(ctx, agent, f.convId, []string{m1.Id, m2.Id}))
	seen := f.pusher.named(protocol.EventMessageSeen)
	require.Len(t, seen, 1)
	assert.Equal(t, []string{buyer}, seen[0].userIds)
	assert.ElementsMatch(t, []string{m1.Id, m2.Id}, seen[0].payload.(*protocol.MessageSeen).MessageIds)

	// already seen
	require.NoError(t, f.msgs.MarkSeen(ctx, agent, f.convId, []string{m1.Id}))
	assert.Len(t, f.pusher.named(protocol.EventMessageSeen), 1)

	list, err := f.convs.List(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadMessages)
}

func TestConversationService_HideAndReappear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.send(t, buyer, "hello", "")

	require.NoError(t, f.convs.Hide(ctx, agent, f.convId))
	list, err := f.convs.List(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, list)

	f.send(t, buyer, "still interested?", "")
	list, err = f.convs.List(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "still interested?", list[0].LastMessage)
	assert.Equal(t, 1, list[0].UnreadMessages)

	require.NoError(t, f.convs.MarkRead(ctx, agent, f.convId))
	history, err := f.msgs.History(ctx, buyer, f.convId, 10)
	require.NoError(t, err)
	for _, m := range history {
		assert.True(t, m.Seen)
	}
}

func TestConversationService_GetOrCreateRefreshesOwnProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.convs.Hide(ctx, agent, f.convId))

	conv, err := f.convs.GetOrCreate(ctx, agent, &CreateConversationRequest{
		PartnerId:      buyer,
		SelfProfile:    Profile{Name: "Alice A.", Email: "alice@realty.example"},
		PartnerProfile: Profile{Name: "Mallory"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob Buyer", conv.Partner(agent).Name, "the partner's side is not the caller's to change")

	list, err := f.convs.List(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1, "asking again un-hides the thread")

	list, err = f.convs.List(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Alice A.", list[0].Partner(buyer).Name)
	assert.Equal(t, "alice@realty.example", list[0].Partner(buyer).Email)
}
