package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
)

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Go Concurrency Basics", cleanTitle("  \"Go Concurrency Basics.\"\nextra line"))
	assert.Equal(t, "Title", cleanTitle("## Title"))
	assert.Equal(t, "", cleanTitle("  \"\" "))
	assert.Len(t, []rune(cleanTitle(strings.Repeat("é", 200))), maxTitleRunes)
}

func TestTitleSurvivesCanceledTurn(t *testing.T) {
	store := storage.NewMemoryStorage()
	titleModel := &scriptedChat{text: "Weekend Plans"}
	resolver := testResolver(t, &fakeProvider{chats: map[string]llm.ChatModel{testTitle: titleModel}})
	g := NewTitleGenerator(resolver, store, testTitle, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-g.Start(ctx, model.Chat{ID: "chat-t", UserID: testUser, Title: model.DefaultChatTitle}, "what should I do this weekend")
	assert.True(t, res.Generated)
	assert.Equal(t, "Weekend Plans", res.Title)

	chat, err := store.GetChat(context.Background(), "chat-t")
	require.NoError(t, err)
	assert.Equal(t, "Weekend Plans", chat.Title)

	reqs := titleModel.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "what should I do this weekend", reqs[0].Messages[1].Content)
}

func TestTitleEmptyInputFallsBack(t *testing.T) {
	store := storage.NewMemoryStorage()
	resolver := testResolver(t, &fakeProvider{chats: map[string]llm.ChatModel{testTitle: &scriptedChat{text: "x"}}})
	g := NewTitleGenerator(resolver, store, testTitle, time.Second, nil)

	res := <-g.Start(context.Background(), model.Chat{ID: "chat-t", UserID: testUser}, "   ")
	assert.False(t, res.Generated)
	assert.Equal(t, model.DefaultChatTitle, res.Title)

	_, err := store.GetChat(context.Background(), "chat-t")
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
}
