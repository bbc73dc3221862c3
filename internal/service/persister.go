package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
)

// Turn persistence and the chat-copy operations. Every entry point runs in a
// single storage transaction.
type TurnPersister struct {
	store storage.Storage
	now   Clock
}

func NewTurnPersister(store storage.Storage, now Clock) *TurnPersister {
	if now == nil {
		now = time.Now
	}
	return &TurnPersister{store: store, now: now}
}

// TurnRecord is everything one turn writes.
type TurnRecord struct {
	Chat      model.Chat
	History   []*model.Message
	Assistant *model.Message
}

// CommitTurn upserts the chat, stores the history messages not yet stored
// and appends the assistant message. Client-supplied ids are kept as is.
func (p *TurnPersister) CommitTurn(ctx context.Context, rec TurnRecord) error {
	now := p.now()
	chat := rec.Chat
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.Title == "" {
		chat.Title = model.DefaultChatTitle
	}
	chat.UpdatedAt = now

	return p.store.Transaction(ctx, func(tx storage.Tx) error {
		if err := tx.UpsertChat(&chat, storage.ColumnUpdatedAt); err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}

		ids := make([]string, 0, len(rec.History))
		for _, m := range rec.History {
			ids = append(ids, m.ID)
		}
		existing, err := tx.ExistingMessageIDs(ids)
		if err != nil {
			return fmt.Errorf("check messages: %w", err)
		}

		var pending []*model.Message
		seen := make(map[string]bool, len(rec.History))
		for _, m := range rec.History {
			if existing[m.ID] || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			pending = append(pending, p.own(m, chat.ID, now))
		}
		if rec.Assistant != nil {
			pending = append(pending, p.own(rec.Assistant, chat.ID, now))
		}
		if len(pending) == 0 {
			return nil
		}
		if err := tx.InsertMessages(pending); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
}

func (p *TurnPersister) own(m *model.Message, chatID string, now time.Time) *model.Message {
	c := m.Clone()
	c.ChatID = chatID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return c
}

// Branch copies chatID's messages up to and including messageID into a new
// chat owned by userID.
func (p *TurnPersister) Branch(ctx context.Context, userID, chatID, messageID string) (*model.Chat, error) {
	return p.copyChat(ctx, userID, chatID, messageID, false)
}

// Fork copies the whole chat. Shared chats may be forked by anyone.
func (p *TurnPersister) Fork(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	return p.copyChat(ctx, userID, chatID, "", true)
}

func (p *TurnPersister) copyChat(ctx context.Context, userID, chatID, cutoffID string, fork bool) (*model.Chat, error) {
	var created *model.Chat
	err := p.store.Transaction(ctx, func(tx storage.Tx) error {
		parent, err := tx.GetChat(chatID)
		if err != nil {
			return mapStorageErr(err)
		}
		if parent.UserID != userID && !(fork && parent.IsShared) {
			return ErrForbidden
		}

		msgs, err := tx.GetMessages(chatID)
		if err != nil {
			return mapStorageErr(err)
		}
		if !fork {
			cut := -1
			for i, m := range msgs {
				if m.ID == cutoffID {
					cut = i
					break
				}
			}
			if cut < 0 {
				return fmt.Errorf("%w: %s", storage.ErrMessageNotFound, cutoffID)
			}
			msgs = msgs[:cut+1]
		}

		now := p.now()
		chat := &model.Chat{
			ID:           model.NewChatID(),
			Title:        parent.Title,
			UserID:       userID,
			CreatedAt:    now,
			UpdatedAt:    now,
			IsBranch:     true,
			ParentChatID: parent.ID,
		}
		if err := tx.UpsertChat(chat); err != nil {
			return fmt.Errorf("create chat: %w", err)
		}

		copies := make([]*model.Message, 0, len(msgs))
		for _, m := range msgs {
			c := m.Clone()
			c.ID = model.BranchMessageID(m.ID, chat.ID)
			c.ChatID = chat.ID
			copies = append(copies, c)
		}
		if len(copies) > 0 {
			if err := tx.InsertMessages(copies); err != nil {
				return fmt.Errorf("copy messages: %w", err)
			}
		}
		created = chat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteMessages removes exactly ids from the chat, or nothing at all.
func (p *TurnPersister) DeleteMessages(ctx context.Context, userID, chatID string, ids []string) error {
	if len(ids) == 0 {
		return ErrInvalidRequest
	}
	return p.store.Transaction(ctx, func(tx storage.Tx) error {
		chat, err := tx.GetChat(chatID)
		if err != nil {
			return mapStorageErr(err)
		}
		if chat.UserID != userID {
			return ErrForbidden
		}
		if err := tx.DeleteMessages(chatID, ids); err != nil {
			return err
		}
		chat.UpdatedAt = p.now()
		return tx.UpdateChat(chat)
	})
}

func mapStorageErr(err error) error {
	if errors.Is(err, storage.ErrChatNotFound) {
		return ErrChatNotFound
	}
	return err
}
