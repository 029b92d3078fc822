package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mbeoliero/estatechat/internal/entity"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would otherwise get its own empty database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newPair(u1, u2 string) *entity.Conversation {
	a, b := entity.OrderPair(u1, u2)
	return &entity.Conversation{Id: entity.GenDirectConversationId(a, b), User1Id: a, User2Id: b}
}

func TestConversationRepo_CreateIfAbsentKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	repos := New(openTestDB(t), nil)

	first, err := repos.Conversation.CreateIfAbsent(ctx, newPair("by__1", "ag__2"))
	require.NoError(t, err)
	again := newPair("ag__2", "by__1")
	again.User1Name = "ignored"
	second, err := repos.Conversation.CreateIfAbsent(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Empty(t, second.User1Name)
	list, err := repos.Conversation.ListForUser(ctx, "by__1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConversationRepo_RecordMessageAndHide(t *testing.T) {
	ctx := context.Background()
	repos := New(openTestDB(t), nil)
	conv, err := repos.Conversation.CreateIfAbsent(ctx, newPair("ag__2", "by__1"))
	require.NoError(t, err)

	require.NoError(t, repos.Conversation.Hide(ctx, conv, "by__1"))
	list, err := repos.Conversation.ListForUser(ctx, "by__1")
	require.NoError(t, err)
	assert.Empty(t, list)

	msg := &entity.Message{Id: "1", ConversationId: conv.Id, SenderId: "ag__2", ReceiverId: "by__1", Text: "viewing at 5?", CreatedAt: 1000}
	require.NoError(t, repos.Transaction(ctx, func(tx *gorm.DB) error {
		if err := repos.Message.Create(ctx, tx, msg); err != nil {
			return err
		}
		return repos.Conversation.RecordMessage(ctx, tx, conv, msg)
	}))

	list, err = repos.Conversation.ListForUser(ctx, "by__1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "viewing at 5?", list[0].LastMessage)
	assert.Equal(t, 1, list[0].UnreadFor("by__1"))
	assert.Zero(t, list[0].UnreadFor("ag__2"))

	require.NoError(t, repos.Conversation.ResetUnread(ctx, list[0], "by__1"))
	got, err := repos.Conversation.Get(ctx, nil, conv.Id)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadFor("by__1"))

	missing, err := repos.Conversation.Get(ctx, nil, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageRepo_LatestSeenAndReactions(t *testing.T) {
	ctx := context.Background()
	repos := New(openTestDB(t), nil)
	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, repos.Message.Create(ctx, nil, &entity.Message{
			Id: id, ConversationId: "c", SenderId: "a", ReceiverId: "b", ClientMsgId: "t" + id, CreatedAt: int64(100 + i),
		}))
	}
	require.NoError(t, repos.Message.MarkDeleted(ctx, "2"))

	latest, err := repos.Message.Latest(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "1", latest[0].Id)
	assert.Equal(t, "3", latest[1].Id)

	dup, err := repos.Message.GetByClientMsgId(ctx, "a", "t3")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, "3", dup.Id)

	changed, err := repos.Message.MarkSeen(ctx, "c", "b", []string{"1", "3", "x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "3"}, changed)
	changed, err = repos.Message.MarkSeen(ctx, "c", "b", []string{"1"})
	require.NoError(t, err)
	assert.Empty(t, changed)

	require.NoError(t, repos.Message.SetReaction(ctx, "1", "b", "👍"))
	require.NoError(t, repos.Message.SetReaction(ctx, "1", "b", "❤️"))
	require.NoError(t, repos.Message.SetReaction(ctx, "1", "a", "😂"))
	reactions, err := repos.Message.Reactions(ctx, []string{"1", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "❤️", "a": "😂"}, reactions["1"])
	assert.Nil(t, reactions["3"])

	removed, err := repos.Message.DeleteReaction(ctx, "1", "b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repos.Message.DeleteReaction(ctx, "1", "b")
	require.NoError(t, err)
	assert.False(t, removed)
}
