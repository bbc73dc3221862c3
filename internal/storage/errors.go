package storage

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrMemoryNotFound  = errors.New("memory not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrStorageInit     = errors.New("storage initialization failed")
	ErrFileOperation   = errors.New("file operation failed")
)
