package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"speedchat-backend/internal/model"
)

type memState struct {
	chats    map[string]*model.Chat
	messages map[string][]*model.Message
	owner    map[string]string
}

func newMemState() *memState {
	return &memState{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]*model.Message),
		owner:    make(map[string]string),
	}
}

// clone copies the maps and slices. Stored chats and messages are replaced,
// never mutated in place, so the pointers can be shared.
func (s *memState) clone() *memState {
	c := &memState{
		chats:    make(map[string]*model.Chat, len(s.chats)),
		messages: make(map[string][]*model.Message, len(s.messages)),
		owner:    make(map[string]string, len(s.owner)),
	}
	for k, v := range s.chats {
		c.chats[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = append([]*model.Message(nil), v...)
	}
	for k, v := range s.owner {
		c.owner[k] = v
	}
	return c
}

// persistSink receives the next state before it becomes visible. A sink
// error aborts the write.
type persistSink interface {
	writeChats(st *memState, touched map[string]bool) error
	writeMemories(all map[string][]*model.Memory) error
	writeUsage(all map[string]*model.Usage) error
}

type MemoryStorage struct {
	mu       sync.RWMutex
	state    *memState
	memories map[string][]*model.Memory
	usage    map[string]*model.Usage
	sink     persistSink
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		state:    newMemState(),
		memories: make(map[string][]*model.Memory),
		usage:    make(map[string]*model.Usage),
		now:      time.Now,
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{st: m.state.clone(), touched: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	if m.sink != nil && len(tx.touched) > 0 {
		if err := m.sink.writeChats(tx.st, tx.touched); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	m.state = tx.st
	return nil
}

func (m *MemoryStorage) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.state.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	out := *c
	return &out, nil
}

func (m *MemoryStorage) ListChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Chat
	for _, c := range m.state.chats {
		if c.UserID == userID {
			cc := *c
			out = append(out, &cc)
		}
	}
	SortChats(out)
	return out, nil
}

func (m *MemoryStorage) GetMessages(ctx context.Context, chatID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.state.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}
	return cloneMessages(m.state.messages[chatID]), nil
}

func (m *MemoryStorage) DeleteUserChats(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := m.Transaction(ctx, func(tx Tx) error {
		t := tx.(*memTx)
		for id, c := range t.st.chats {
			if c.UserID != userID {
				continue
			}
			if err := t.DeleteChat(id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (m *MemoryStorage) IncrementUsage(ctx context.Context, userID string, delta model.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*model.Usage, len(m.usage)+1)
	for k, v := range m.usage {
		next[k] = v
	}
	u := model.Usage{UserID: userID}
	if cur, ok := m.usage[userID]; ok {
		u = *cur
	}
	u.PromptTokens += delta.PromptTokens
	u.CompletionTokens += delta.CompletionTokens
	u.ChatsCreated += delta.ChatsCreated
	u.MessagesSent += delta.MessagesSent
	u.UpdatedAt = m.now()
	next[userID] = &u

	return m.commitUsage(next)
}

func (m *MemoryStorage) GetUsage(ctx context.Context, userID string) (*model.Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.usage[userID]; ok {
		out := *u
		return &out, nil
	}
	return &model.Usage{UserID: userID}, nil
}

func (m *MemoryStorage) ResetUsage(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*model.Usage, len(m.usage))
	for k, v := range m.usage {
		if k != userID {
			next[k] = v
		}
	}
	return m.commitUsage(next)
}

func (m *MemoryStorage) commitUsage(next map[string]*model.Usage) error {
	if m.sink != nil {
		if err := m.sink.writeUsage(next); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	m.usage = next
	return nil
}

func (m *MemoryStorage) AddMemory(ctx context.Context, mem *model.Memory) error {
	if mem == nil || mem.ID == "" || mem.UserID == "" {
		return ErrInvalidData
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.copyMemories()
	cp := *mem
	next[mem.UserID] = append(next[mem.UserID], &cp)
	return m.commitMemories(next)
}

func (m *MemoryStorage) ListMemories(ctx context.Context, userID string) ([]*model.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Memory, 0, len(m.memories[userID]))
	for _, mem := range m.memories[userID] {
		cp := *mem
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStorage) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.copyMemories()
	list := next[userID]
	for i, mem := range list {
		if mem.ID == memoryID {
			next[userID] = append(list[:i:i], list[i+1:]...)
			return m.commitMemories(next)
		}
	}
	return ErrMemoryNotFound
}

func (m *MemoryStorage) DeleteMemories(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.memories[userID]))
	next := m.copyMemories()
	delete(next, userID)
	if err := m.commitMemories(next); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *MemoryStorage) copyMemories() map[string][]*model.Memory {
	next := make(map[string][]*model.Memory, len(m.memories))
	for k, v := range m.memories {
		next[k] = append([]*model.Memory(nil), v...)
	}
	return next
}

func (m *MemoryStorage) commitMemories(next map[string][]*model.Memory) error {
	if m.sink != nil {
		if err := m.sink.writeMemories(next); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	m.memories = next
	return nil
}

type memTx struct {
	st      *memState
	touched map[string]bool
}

func (t *memTx) GetChat(chatID string) (*model.Chat, error) {
	c, ok := t.st.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	out := *c
	return &out, nil
}

func (t *memTx) UpsertChat(chat *model.Chat, onConflict ...string) error {
	if chat == nil || chat.ID == "" {
		return ErrInvalidData
	}
	existing, ok := t.st.chats[chat.ID]
	if !ok {
		c := *chat
		t.st.chats[c.ID] = &c
		t.touched[c.ID] = true
		return nil
	}
	if len(onConflict) == 0 {
		return nil
	}
	c := *existing
	for _, col := range onConflict {
		switch col {
		case ColumnTitle:
			c.Title = chat.Title
		case ColumnUpdatedAt:
			c.UpdatedAt = chat.UpdatedAt
		case ColumnIsPinned:
			c.IsPinned = chat.IsPinned
		case ColumnIsShared:
			c.IsShared = chat.IsShared
		default:
			return fmt.Errorf("%w: unknown column %q", ErrInvalidData, col)
		}
	}
	t.st.chats[c.ID] = &c
	t.touched[c.ID] = true
	return nil
}

func (t *memTx) UpdateChat(chat *model.Chat) error {
	if _, ok := t.st.chats[chat.ID]; !ok {
		return ErrChatNotFound
	}
	c := *chat
	t.st.chats[c.ID] = &c
	t.touched[c.ID] = true
	return nil
}

func (t *memTx) DeleteChat(chatID string) error {
	if _, ok := t.st.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	for _, msg := range t.st.messages[chatID] {
		delete(t.st.owner, msg.ID)
	}
	delete(t.st.messages, chatID)
	delete(t.st.chats, chatID)
	t.touched[chatID] = true
	return nil
}

func (t *memTx) GetMessages(chatID string) ([]*model.Message, error) {
	if _, ok := t.st.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}
	return cloneMessages(t.st.messages[chatID]), nil
}

func (t *memTx) ExistingMessageIDs(ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := t.st.owner[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (t *memTx) InsertMessages(msgs []*model.Message) error {
	for _, msg := range msgs {
		if msg == nil || msg.ID == "" {
			return ErrInvalidData
		}
		if _, ok := t.st.chats[msg.ChatID]; !ok {
			return ErrChatNotFound
		}
		if _, dup := t.st.owner[msg.ID]; dup {
			return fmt.Errorf("%w: duplicate message id %s", ErrInvalidData, msg.ID)
		}
		t.st.messages[msg.ChatID] = append(t.st.messages[msg.ChatID], msg.Clone())
		t.st.owner[msg.ID] = msg.ChatID
		t.touched[msg.ChatID] = true
	}
	return nil
}

func (t *memTx) DeleteMessages(chatID string, ids []string) error {
	if _, ok := t.st.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if t.st.owner[id] != chatID {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		drop[id] = true
	}
	kept := make([]*model.Message, 0, len(t.st.messages[chatID]))
	for _, msg := range t.st.messages[chatID] {
		if drop[msg.ID] {
			delete(t.st.owner, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	t.st.messages[chatID] = kept
	t.touched[chatID] = true
	return nil
}

func cloneMessages(in []*model.Message) []*model.Message {
	out := make([]*model.Message, len(in))
	for i, msg := range in {
		out[i] = msg.Clone()
	}
	return out
}

// SortChats orders pinned chats first, then by most recent update.
func SortChats(chats []*model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].IsPinned != chats[j].IsPinned {
			return chats[i].IsPinned
		}
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
}
