package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"speedchat-backend/internal/model"
	"speedchat-backend/pkg/logger"
)

// DiskStorage keeps the working set in memory and mirrors every committed
// write to JSON files under dataDir.
type DiskStorage struct {
	*MemoryStorage
	dataDir string
}

type ChatIndex struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string) *DiskStorage {
	d := &DiskStorage{
		MemoryStorage: NewMemoryStorage(),
		dataDir:       dataDir,
	}
	d.sink = d
	return d
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadChats(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := readJSON(filepath.Join(d.dataDir, "memories.json"), &d.memories); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := readJSON(filepath.Join(d.dataDir, "usage.json"), &d.usage); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if d.memories == nil {
		d.memories = make(map[string][]*model.Memory)
	}
	if d.usage == nil {
		d.usage = make(map[string]*model.Usage)
	}

	logger.Infof("Disk storage initialized at %s with %d chats", d.dataDir, len(d.state.chats))
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "chats"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) loadChats() error {
	var indexes []*ChatIndex
	if err := readJSON(filepath.Join(d.dataDir, "chats.json"), &indexes); err != nil {
		return err
	}

	st := newMemState()
	for _, index := range indexes {
		chatPath, err := d.filePath("chats", index.ID)
		if err != nil {
			logger.Errorf("Skipping chat with invalid id %q", index.ID)
			continue
		}
		var chat model.Chat
		if err := readJSON(chatPath, &chat); err != nil || chat.ID == "" {
			logger.Errorf("Failed to load chat %s: %v", index.ID, err)
			continue
		}

		msgPath, _ := d.filePath("messages", index.ID)
		var messages []*model.Message
		if err := readJSON(msgPath, &messages); err != nil {
			logger.Errorf("Failed to load messages for chat %s: %v", index.ID, err)
			messages = nil
		}

		st.chats[chat.ID] = &chat
		st.messages[chat.ID] = messages
		for _, msg := range messages {
			st.owner[msg.ID] = chat.ID
		}
	}
	d.state = st
	return nil
}

func (d *DiskStorage) filePath(kind, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: unsafe id %q", ErrInvalidData, id)
	}
	return filepath.Join(d.dataDir, kind, id+".json"), nil
}

func (d *DiskStorage) writeChats(st *memState, touched map[string]bool) error {
	for id := range touched {
		chatPath, err := d.filePath("chats", id)
		if err != nil {
			return err
		}
		msgPath, _ := d.filePath("messages", id)

		chat, ok := st.chats[id]
		if !ok {
			if err := removeIfExists(chatPath); err != nil {
				return err
			}
			if err := removeIfExists(msgPath); err != nil {
				return err
			}
			continue
		}
		if err := writeJSON(chatPath, chat); err != nil {
			return err
		}
		msgs := st.messages[id]
		if msgs == nil {
			msgs = []*model.Message{}
		}
		if err := writeJSON(msgPath, msgs); err != nil {
			return err
		}
	}

	indexes := make([]*ChatIndex, 0, len(st.chats))
	for _, c := range st.chats {
		indexes = append(indexes, &ChatIndex{ID: c.ID, UserID: c.UserID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	return writeJSON(filepath.Join(d.dataDir, "chats.json"), indexes)
}

func (d *DiskStorage) writeMemories(all map[string][]*model.Memory) error {
	return writeJSON(filepath.Join(d.dataDir, "memories.json"), all)
}

func (d *DiskStorage) writeUsage(all map[string]*model.Usage) error {
	return writeJSON(filepath.Join(d.dataDir, "usage.json"), all)
}

func (d *DiskStorage) Close() error {
	logger.Info("Disk storage closed")
	return nil
}

func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().Unix()))
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	for _, dir := range []string{"chats", "messages"} {
		if err := copyDir(filepath.Join(d.dataDir, dir), filepath.Join(backupDir, dir)); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	for _, name := range []string{"chats.json", "memories.json", "usage.json"} {
		src := filepath.Join(d.dataDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(backupDir, name)); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

// readJSON leaves v untouched when path does not exist.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
