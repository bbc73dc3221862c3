package storage

import (
	"context"

	"speedchat-backend/internal/model"
)

// Chat columns that can be named in an upsert's conflict clause.
const (
	ColumnTitle     = "title"
	ColumnUpdatedAt = "updated_at"
	ColumnIsPinned  = "is_pinned"
	ColumnIsShared  = "is_shared"
)

// Tx is the write surface available inside a transaction.
type Tx interface {
	GetChat(chatID string) (*model.Chat, error)
	// UpsertChat inserts chat. On an id conflict only the named columns are
	// overwritten; with none named the existing row is left untouched.
	UpsertChat(chat *model.Chat, onConflict ...string) error
	UpdateChat(chat *model.Chat) error
	DeleteChat(chatID string) error

	GetMessages(chatID string) ([]*model.Message, error)
	// ExistingMessageIDs returns the subset of ids already stored.
	ExistingMessageIDs(ids []string) (map[string]bool, error)
	// InsertMessages appends messages after the chat's current last message.
	InsertMessages(msgs []*model.Message) error
	// DeleteMessages removes exactly ids from chatID, or nothing when any id
	// is missing.
	DeleteMessages(chatID string, ids []string) error
}

type UsageStore interface {
	IncrementUsage(ctx context.Context, userID string, delta model.Usage) error
	GetUsage(ctx context.Context, userID string) (*model.Usage, error)
	ResetUsage(ctx context.Context, userID string) error
}

type MemoryStore interface {
	AddMemory(ctx context.Context, mem *model.Memory) error
	ListMemories(ctx context.Context, userID string) ([]*model.Memory, error)
	DeleteMemory(ctx context.Context, userID, memoryID string) error
	DeleteMemories(ctx context.Context, userID string) (int64, error)
}

type Storage interface {
	// Transaction applies every write made through tx, or none of them.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	// ListChats returns userID's chats, pinned first, newest update first.
	ListChats(ctx context.Context, userID string) ([]*model.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]*model.Message, error)
	DeleteUserChats(ctx context.Context, userID string) (int64, error)

	UsageStore
	MemoryStore

	Init() error
	Close() error
	Backup() error
}
