package service

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrEmptyHistory   = errors.New("message history is empty")
	ErrChatNotFound   = errors.New("chat not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoActiveTurn   = errors.New("no active turn for chat")
)
