package models

import (
	"encoding/json"
	"time"
)

// Board is the durable record behind a drawing session.
type Board struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PreviewImage string          `json:"previewImage,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"` // omitted in list views
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Summary returns the board without its snapshot.
func (b Board) Summary() Board {
	b.Snapshot = nil
	return b
}
