package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewMessageID returns an id of the form {role}-{random}.
func NewMessageID(role Role) string {
	return fmt.Sprintf("%s-%s", role, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func NewChatID() string {
	return uuid.NewString()
}

func NewMemoryID() string {
	return "memory-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BranchMessageID rewrites a copied message id so it cannot collide with the
// source chat while still pointing back at the original.
func BranchMessageID(originalID, newChatID string) string {
	return originalID + "-branch-" + newChatID
}
