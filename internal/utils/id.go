package utils

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// palette holds the cursor/presence colors handed out to identities.
var palette = []string{
	"#6366f1", "#22c55e", "#f59e0b", "#ef4444",
	"#06b6d4", "#a855f7", "#ec4899", "#14b8a6",
}

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s is a well-formed UUID.
func IsID(s string) bool {
	return uuid.Validate(s) == nil
}

// ColorFor derives a stable display color from an identity id.
func ColorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}
