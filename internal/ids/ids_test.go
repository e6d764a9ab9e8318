package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewBoardIDIsUUIDv7(t *testing.T) {
	id := NewBoardID()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("expected %q to parse as a UUID: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("expected UUID version 7, got %d", u.Version())
	}
}

func TestNewBoardIDsSortByCreation(t *testing.T) {
	a, b := NewBoardID(), NewBoardID()
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestNewConnIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewConnID()
		if len(id) != 26 {
			t.Fatalf("expected 26-char ULID, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate connection ID %q", id)
		}
		seen[id] = true
	}
}
