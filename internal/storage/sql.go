package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"speedchat-backend/internal/model"
)

type chatRow struct {
	ID           string `gorm:"primaryKey"`
	Title        string
	UserID       string `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	IsBranch     bool
	ParentChatID string
	IsPinned     bool
	IsShared     bool
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	ID        string `gorm:"primaryKey"`
	ChatID    string `gorm:"index:idx_messages_chat_seq,priority:1"`
	Seq       int64  `gorm:"index:idx_messages_chat_seq,priority:2"`
	Role      string
	Parts     datatypes.JSON
	Metadata  datatypes.JSON
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "messages" }

type memoryRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Memory    string
	CreatedAt time.Time
}

func (memoryRow) TableName() string { return "memories" }

type usageRow struct {
	UserID           string `gorm:"primaryKey"`
	PromptTokens     int64
	CompletionTokens int64
	ChatsCreated     int64
	MessagesSent     int64
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (usageRow) TableName() string { return "usages" }

// SQLStorage persists through gorm. The same schema serves sqlite and
// postgres.
type SQLStorage struct {
	db *gorm.DB
}

func OpenSQLStorage(driver, dsn string) (*SQLStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown sql driver %q", ErrStorageInit, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return NewSQLStorage(db), nil
}

func NewSQLStorage(db *gorm.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) Init() error {
	if err := s.db.AutoMigrate(&chatRow{}, &messageRow{}, &memoryRow{}, &usageRow{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql handle")
	}
	return sqlDB.Close()
}

// Backup is left to the database's own tooling.
func (s *SQLStorage) Backup() error {
	return nil
}

func (s *SQLStorage) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		return fn(&sqlTx{db: txx})
	})
}

func (s *SQLStorage) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	return (&sqlTx{db: s.db.WithContext(ctx)}).GetChat(chatID)
}

func (s *SQLStorage) ListChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	var rows []chatRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_pinned DESC").Order("updated_at DESC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	out := make([]*model.Chat, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLStorage) GetMessages(ctx context.Context, chatID string) ([]*model.Message, error) {
	return (&sqlTx{db: s.db.WithContext(ctx)}).GetMessages(chatID)
}

func (s *SQLStorage) DeleteUserChats(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		sub := txx.Model(&chatRow{}).Select("id").Where("user_id = ?", userID)
		if err := txx.Where("chat_id IN (?)", sub).Delete(&messageRow{}).Error; err != nil {
			return errors.Wrap(err, "delete user messages")
		}
		res := txx.Where("user_id = ?", userID).Delete(&chatRow{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete user chats")
		}
		n = res.RowsAffected
		return nil
	})
	return n, err
}

func (s *SQLStorage) IncrementUsage(ctx context.Context, userID string, delta model.Usage) error {
	return s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Clauses(clause.OnConflict{DoNothing: true}).Create(&usageRow{UserID: userID, UpdatedAt: time.Now()}).Error; err != nil {
			return errors.Wrap(err, "ensure usage row")
		}
		err := txx.Model(&usageRow{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"prompt_tokens":     gorm.Expr("prompt_tokens + ?", delta.PromptTokens),
			"completion_tokens": gorm.Expr("completion_tokens + ?", delta.CompletionTokens),
			"chats_created":     gorm.Expr("chats_created + ?", delta.ChatsCreated),
			"messages_sent":     gorm.Expr("messages_sent + ?", delta.MessagesSent),
			"updated_at":        time.Now(),
		}).Error
		return errors.Wrap(err, "increment usage")
	})
}

func (s *SQLStorage) GetUsage(ctx context.Context, userID string) (*model.Usage, error) {
	var row usageRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Usage{UserID: userID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get usage")
	}
	return &model.Usage{
		UserID:           row.UserID,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		ChatsCreated:     row.ChatsCreated,
		MessagesSent:     row.MessagesSent,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (s *SQLStorage) ResetUsage(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&usageRow{}).Error
	return errors.Wrap(err, "reset usage")
}

func (s *SQLStorage) AddMemory(ctx context.Context, mem *model.Memory) error {
	if mem == nil || mem.ID == "" || mem.UserID == "" {
		return ErrInvalidData
	}
	row := memoryRow{ID: mem.ID, UserID: mem.UserID, Memory: mem.Memory, CreatedAt: mem.CreatedAt}
	return errors.Wrap(s.db.WithContext(ctx).Create(&row).Error, "add memory")
}

func (s *SQLStorage) ListMemories(ctx context.Context, userID string) ([]*model.Memory, error) {
	var rows []memoryRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list memories")
	}
	out := make([]*model.Memory, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.Memory{ID: r.ID, UserID: r.UserID, Memory: r.Memory, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *SQLStorage) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", memoryID, userID).Delete(&memoryRow{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete memory")
	}
	if res.RowsAffected == 0 {
		return ErrMemoryNotFound
	}
	return nil
}

func (s *SQLStorage) DeleteMemories(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&memoryRow{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete memories")
	}
	return res.RowsAffected, nil
}

type sqlTx struct {
	db *gorm.DB
}

func (t *sqlTx) GetChat(chatID string) (*model.Chat, error) {
	var row chatRow
	err := t.db.Where("id = ?", chatID).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get chat")
	}
	return row.toModel(), nil
}

func (t *sqlTx) UpsertChat(chat *model.Chat, onConflict ...string) error {
	if chat == nil || chat.ID == "" {
		return ErrInvalidData
	}
	for _, col := range onConflict {
		switch col {
		case ColumnTitle, ColumnUpdatedAt, ColumnIsPinned, ColumnIsShared:
		default:
			return fmt.Errorf("%w: unknown column %q", ErrInvalidData, col)
		}
	}
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}}
	if len(onConflict) == 0 {
		conflict.DoNothing = true
	} else {
		conflict.DoUpdates = clause.AssignmentColumns(onConflict)
	}
	row := chatRowFrom(chat)
	return errors.Wrap(t.db.Clauses(conflict).Create(&row).Error, "upsert chat")
}

func (t *sqlTx) UpdateChat(chat *model.Chat) error {
	res := t.db.Model(&chatRow{}).Where("id = ?", chat.ID).Updates(map[string]interface{}{
		"title":          chat.Title,
		"updated_at":     chat.UpdatedAt,
		"is_branch":      chat.IsBranch,
		"parent_chat_id": chat.ParentChatID,
		"is_pinned":      chat.IsPinned,
		"is_shared":      chat.IsShared,
	})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update chat")
	}
	if res.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (t *sqlTx) DeleteChat(chatID string) error {
	if err := t.db.Where("chat_id = ?", chatID).Delete(&messageRow{}).Error; err != nil {
		return errors.Wrap(err, "delete chat messages")
	}
	res := t.db.Where("id = ?", chatID).Delete(&chatRow{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete chat")
	}
	if res.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (t *sqlTx) GetMessages(chatID string) ([]*model.Message, error) {
	if _, err := t.GetChat(chatID); err != nil {
		return nil, err
	}
	var rows []messageRow
	if err := t.db.Where("chat_id = ?", chatID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "get messages")
	}
	out := make([]*model.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (t *sqlTx) ExistingMessageIDs(ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := t.db.Model(&messageRow{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, errors.Wrap(err, "lookup message ids")
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (t *sqlTx) InsertMessages(msgs []*model.Message) error {
	next := map[string]int64{}
	for _, msg := range msgs {
		if msg == nil || msg.ID == "" {
			return ErrInvalidData
		}
		seq, ok := next[msg.ChatID]
		if !ok {
			if _, err := t.GetChat(msg.ChatID); err != nil {
				return err
			}
			var maxSeq int64
			if err := t.db.Model(&messageRow{}).Where("chat_id = ?", msg.ChatID).
				Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
				return errors.Wrap(err, "next message seq")
			}
			seq = maxSeq
		}
		seq++
		next[msg.ChatID] = seq

		row, err := messageRowFrom(msg, seq)
		if err != nil {
			return err
		}
		if err := t.db.Create(&row).Error; err != nil {
			return errors.Wrapf(err, "insert message %s", msg.ID)
		}
	}
	return nil
}

func (t *sqlTx) DeleteMessages(chatID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := t.db.Model(&messageRow{}).Where("chat_id = ? AND id IN ?", chatID, ids).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count messages")
	}
	unique := map[string]bool{}
	for _, id := range ids {
		unique[id] = true
	}
	if count != int64(len(unique)) {
		return fmt.Errorf("%w: %d of %d ids missing", ErrMessageNotFound, int64(len(unique))-count, len(unique))
	}
	return errors.Wrap(t.db.Where("chat_id = ? AND id IN ?", chatID, ids).Delete(&messageRow{}).Error, "delete messages")
}

func chatRowFrom(c *model.Chat) chatRow {
	return chatRow{
		ID:           c.ID,
		Title:        c.Title,
		UserID:       c.UserID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		IsBranch:     c.IsBranch,
		ParentChatID: c.ParentChatID,
		IsPinned:     c.IsPinned,
		IsShared:     c.IsShared,
	}
}

func (r *chatRow) toModel() *model.Chat {
	return &model.Chat{
		ID:           r.ID,
		Title:        r.Title,
		UserID:       r.UserID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		IsBranch:     r.IsBranch,
		ParentChatID: r.ParentChatID,
		IsPinned:     r.IsPinned,
		IsShared:     r.IsShared,
	}
}

func messageRowFrom(m *model.Message, seq int64) (messageRow, error) {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return messageRow{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	row := messageRow{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Seq:       seq,
		Role:      string(m.Role),
		Parts:     datatypes.JSON(parts),
		CreatedAt: m.CreatedAt,
	}
	if m.Metadata != nil {
		md, err := json.Marshal(m.Metadata)
		if err != nil {
			return messageRow{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		row.Metadata = datatypes.JSON(md)
	}
	return row, nil
}

func (r *messageRow) toModel() (*model.Message, error) {
	msg := &model.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Role:      model.Role(r.Role),
		CreatedAt: r.CreatedAt,
	}
	if len(r.Parts) > 0 {
		if err := json.Unmarshal(r.Parts, &msg.Parts); err != nil {
			return nil, fmt.Errorf("%w: message %s parts: %v", ErrInvalidData, r.ID, err)
		}
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		msg.Metadata = &model.MessageMetadata{}
		if err := json.Unmarshal(r.Metadata, msg.Metadata); err != nil {
			return nil, fmt.Errorf("%w: message %s metadata: %v", ErrInvalidData, r.ID, err)
		}
	}
	return msg, nil
}
