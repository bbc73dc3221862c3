package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
)

// ChatService serves the non-streaming chat, usage and memory endpoints.
type ChatService struct {
	store     storage.Storage
	usage     storage.UsageStore
	persister *TurnPersister
}

func NewChatService(store storage.Storage, usage storage.UsageStore, persister *TurnPersister) *ChatService {
	if usage == nil {
		usage = store
	}
	return &ChatService{store: store, usage: usage, persister: persister}
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns the chat and its messages to its owner.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID string) (*model.ChatResponse, error) {
	chat, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return s.withMessages(ctx, chat)
}

// GetSharedChat returns a shared chat to anyone. Unshared chats look
// missing.
func (s *ChatService) GetSharedChat(ctx context.Context, chatID string) (*model.ChatResponse, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if !chat.IsShared {
		return nil, ErrChatNotFound
	}
	return s.withMessages(ctx, chat)
}

func (s *ChatService) withMessages(ctx context.Context, chat *model.Chat) (*model.ChatResponse, error) {
	msgs, err := s.store.GetMessages(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", mapStorageErr(err))
	}
	return &model.ChatResponse{Chat: chat, Messages: msgs}, nil
}

func (s *ChatService) ownedChat(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if chat.UserID != userID {
		return nil, ErrForbidden
	}
	return chat, nil
}

// UpdateChat applies a rename, pin or share toggle.
func (s *ChatService) UpdateChat(ctx context.Context, userID, chatID string, req *model.UpdateChatRequest) (*model.Chat, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	var updated *model.Chat
	err := s.store.Transaction(ctx, func(tx storage.Tx) error {
		chat, err := tx.GetChat(chatID)
		if err != nil {
			return mapStorageErr(err)
		}
		if chat.UserID != userID {
			return ErrForbidden
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return fmt.Errorf("%w: title must not be empty", ErrInvalidRequest)
			}
			chat.Title = title
		}
		if req.IsPinned != nil {
			chat.IsPinned = *req.IsPinned
		}
		if req.IsShared != nil {
			chat.IsShared = *req.IsShared
		}
		if err := tx.UpdateChat(chat); err != nil {
			return err
		}
		updated = chat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteChat removes the chat and its messages.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.store.Transaction(ctx, func(tx storage.Tx) error {
		chat, err := tx.GetChat(chatID)
		if err != nil {
			return mapStorageErr(err)
		}
		if chat.UserID != userID {
			return ErrForbidden
		}
		return tx.DeleteChat(chatID)
	})
}

func (s *ChatService) DeleteAllChats(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteUserChats(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chats: %w", err)
	}
	return n, nil
}

func (s *ChatService) Branch(ctx context.Context, userID, chatID, messageID string) (*model.Chat, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", ErrInvalidRequest)
	}
	return s.persister.Branch(ctx, userID, chatID, messageID)
}

func (s *ChatService) Fork(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	return s.persister.Fork(ctx, userID, chatID)
}

func (s *ChatService) DeleteMessages(ctx context.Context, userID, chatID string, ids []string) error {
	return s.persister.DeleteMessages(ctx, userID, chatID, ids)
}

func (s *ChatService) GetUsage(ctx context.Context, userID string) (*model.Usage, error) {
	return s.usage.GetUsage(ctx, userID)
}

func (s *ChatService) ResetUsage(ctx context.Context, userID string) error {
	return s.usage.ResetUsage(ctx, userID)
}

func (s *ChatService) ListMemories(ctx context.Context, userID string) ([]*model.Memory, error) {
	return s.store.ListMemories(ctx, userID)
}

func (s *ChatService) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	err := s.store.DeleteMemory(ctx, userID, memoryID)
	if errors.Is(err, storage.ErrMemoryNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

func (s *ChatService) DeleteMemories(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteMemories(ctx, userID)
}
