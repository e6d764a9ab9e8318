package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewBoardID returns a fresh board identifier.
func NewBoardID() string {
	return NewUUIDv7().String()
}

// NewConnID returns a fresh connection identifier. ULIDs sort by creation
// time, which keeps log lines for one process roughly ordered.
func NewConnID() string {
	return ulid.Make().String()
}
