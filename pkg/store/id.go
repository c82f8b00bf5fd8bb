package store

import "github.com/google/uuid"

// NewID returns a random identifier for persisted entities.
func NewID() string {
	return uuid.NewString()
}
