// Package model defines the engine's persisted row shapes.
package model

import "encoding/json"

// MigrationStatus tracks where a memory item is in its embedding lifecycle.
type MigrationStatus string

const (
	StatusPending   MigrationStatus = "pending"
	StatusCompleted MigrationStatus = "completed"
	StatusFailed    MigrationStatus = "failed"
)

// MemoryItem is one stored conversational memory. Once the background
// embedder completes, Status becomes StatusCompleted and the vector is
// stored in the single pgvector embedding column. store.LoadEmbedded
// fills EmbeddingJSON from that column; no store method sets
// EmbeddingBlob, and there is no separate blob column.
type MemoryItem struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"userId"`
	CharacterID     *string         `json:"characterId,omitempty"`
	Content         string          `json:"content"`
	CreatedAt       int64           `json:"createdAt"` // Unix seconds
	Importance      float64         `json:"importance"`
	EmotionalWeight float64         `json:"emotionalWeight"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	EmbeddingBlob   []byte          `json:"-"`
	EmbeddingJSON   []float32       `json:"-"`
	Status          MigrationStatus `json:"status"`
}
