package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
)

func seedConversation(t *testing.T, store storage.Storage, chatID, owner string, n int) []*model.Message {
	t.Helper()
	msgs := make([]*model.Message, 0, n)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs = append(msgs, &model.Message{
			ID:    model.NewMessageID(role),
			Role:  role,
			Parts: []model.Part{{Type: model.PartText, Text: strings.Repeat("x", i+1)}},
		})
	}
	seedChat(t, store, &model.Chat{ID: chatID, UserID: owner, Title: "Parent"}, msgs...)
	return msgs
}

func TestBranchCopiesPrefixWithRewrittenIDs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	p := NewTurnPersister(store, newFakeClock().Now)
	parent := seedConversation(t, store, "chat-a", testUser, 5)

	const k = 2
	branch, err := p.Branch(ctx, testUser, "chat-a", parent[k].ID)
	require.NoError(t, err)
	assert.True(t, branch.IsBranch)
	assert.Equal(t, "chat-a", branch.ParentChatID)
	assert.Equal(t, "Parent", branch.Title)
	assert.NotEqual(t, "chat-a", branch.ID)

	copied, err := store.GetMessages(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, copied, k+1)

	parentIDs := make(map[string]bool)
	for _, m := range parent {
		parentIDs[m.ID] = true
	}
	for i, m := range copied {
		assert.Equal(t, model.BranchMessageID(parent[i].ID, branch.ID), m.ID)
		assert.Contains(t, m.ID, branch.ID)
		assert.False(t, parentIDs[m.ID])
		assert.Equal(t, parent[i].Role, m.Role)
		assert.Equal(t, parent[i].Parts, m.Parts)
		assert.Equal(t, branch.ID, m.ChatID)
	}

	orig, err := store.GetMessages(ctx, "chat-a")
	require.NoError(t, err)
	assert.Len(t, orig, 5)
}

func TestBranchErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	p := NewTurnPersister(store, nil)
	seedConversation(t, store, "chat-a", testUser, 2)

	_, err := p.Branch(ctx, "intruder", "chat-a", "whatever")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = p.Branch(ctx, testUser, "chat-a", "missing")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)

	_, err = p.Branch(ctx, testUser, "nope", "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)

	chats, err := store.ListChats(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestForkRequiresOwnerOrShared(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	p := NewTurnPersister(store, nil)
	seedConversation(t, store, "chat-a", testUser, 3)

	_, err := p.Fork(ctx, "other", "chat-a")
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, store.Transaction(ctx, func(tx storage.Tx) error {
		return tx.UpsertChat(&model.Chat{ID: "chat-a", IsShared: true}, storage.ColumnIsShared)
	}))

	fork, err := p.Fork(ctx, "other", "chat-a")
	require.NoError(t, err)
	assert.Equal(t, "other", fork.UserID)
	assert.False(t, fork.IsShared)

	msgs, err := store.GetMessages(ctx, fork.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestDeleteMessagesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	clock := newFakeClock()
	p := NewTurnPersister(store, clock.Now)
	seedChat(t, store, &model.Chat{ID: "chat-a", UserID: testUser}, userMsg("m1", "hello"), userMsg("m3", "again"))

	err := p.DeleteMessages(ctx, testUser, "chat-a", []string{"m1", "m2"})
	require.ErrorIs(t, err, storage.ErrMessageNotFound)

	msgs, err := store.GetMessages(ctx, "chat-a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)

	assert.ErrorIs(t, p.DeleteMessages(ctx, "other", "chat-a", []string{"m1"}), ErrForbidden)
	assert.ErrorIs(t, p.DeleteMessages(ctx, testUser, "chat-a", nil), ErrInvalidRequest)

	clock.Advance(time.Minute)
	require.NoError(t, p.DeleteMessages(ctx, testUser, "chat-a", []string{"m1"}))
	msgs, err = store.GetMessages(ctx, "chat-a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m3", msgs[0].ID)

	chat, err := store.GetChat(ctx, "chat-a")
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), chat.UpdatedAt)
}

func TestCommitTurnIsIdempotentForStoredHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	p := NewTurnPersister(store, nil)

	u1 := userMsg("user-1a", "first")
	chat := model.Chat{ID: "chat-new", UserID: testUser}
	require.NoError(t, p.CommitTurn(ctx, TurnRecord{
		Chat:      chat,
		History:   []*model.Message{u1},
		Assistant: &model.Message{ID: "assistant-1", Role: model.RoleAssistant},
	}))

	stored, err := store.GetChat(ctx, "chat-new")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatTitle, stored.Title)

	require.NoError(t, p.CommitTurn(ctx, TurnRecord{
		Chat:      model.Chat{ID: "chat-new", UserID: testUser, Title: "ignored on conflict"},
		History:   []*model.Message{u1, {ID: "assistant-1", Role: model.RoleAssistant}, userMsg("user-2a", "second")},
		Assistant: &model.Message{ID: "assistant-2", Role: model.RoleAssistant},
	}))

	msgs, err := store.GetMessages(ctx, "chat-new")
	require.NoError(t, err)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"user-1a", "assistant-1", "user-2a", "assistant-2"}, ids)

	stored, err = store.GetChat(ctx, "chat-new")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatTitle, stored.Title)
}
