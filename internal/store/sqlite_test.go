package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "boards.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteCreateAndGetBoard(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	b, err := s.CreateBoard(ctx, "Sprint planning")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == "" || b.Name != "Sprint planning" {
		t.Fatalf("unexpected board %+v", b)
	}

	got, err := s.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Sprint planning" || got.Snapshot != nil {
		t.Fatalf("unexpected board %+v", got)
	}

	missing, err := s.GetBoard(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing board, got %v, %v", missing, err)
	}
}

func TestSQLiteSaveAndLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	b, _ := s.CreateBoard(ctx, "Diagram")
	snap := json.RawMessage(`{"objects":[{"type":"rect"}]}`)
	preview := "data:image/png;base64,AA=="

	if err := s.SaveSnapshot(ctx, b.ID, snap, &preview); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadSnapshot(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(snap) {
		t.Fatalf("expected %s, got %s", snap, got)
	}

	// A nil preview keeps the stored one.
	if err := s.SaveSnapshot(ctx, b.ID, json.RawMessage(`{"objects":[]}`), nil); err != nil {
		t.Fatal(err)
	}
	board, _ := s.GetBoard(ctx, b.ID)
	if board.PreviewImage != preview {
		t.Fatalf("expected preview to be kept, got %q", board.PreviewImage)
	}
	if board.Name != "Diagram" {
		t.Fatalf("upsert must not rename an existing board, got %q", board.Name)
	}

	// An explicit empty preview clears it.
	empty := ""
	if err := s.SaveSnapshot(ctx, b.ID, json.RawMessage(`{"objects":[]}`), &empty); err != nil {
		t.Fatal(err)
	}
	board, _ = s.GetBoard(ctx, b.ID)
	if board.PreviewImage != "" {
		t.Fatalf("expected preview cleared, got %q", board.PreviewImage)
	}
}

func TestSQLiteSaveSnapshotCreatesBoard(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.SaveSnapshot(ctx, "adhoc-room", json.RawMessage(`{"objects":[1]}`), nil); err != nil {
		t.Fatal(err)
	}
	b, err := s.GetBoard(ctx, "adhoc-room")
	if err != nil || b == nil {
		t.Fatalf("expected upserted board, got %v, %v", b, err)
	}
	if b.Name != "adhoc-room" {
		t.Fatalf("expected board named after its id, got %q", b.Name)
	}
}

func TestSQLiteLoadSnapshotMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	got, err := s.LoadSnapshot(ctx, "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil, got %s, %v", got, err)
	}

	b, _ := s.CreateBoard(ctx, "blank")
	got, err = s.LoadSnapshot(ctx, b.ID)
	if err != nil || got != nil {
		t.Fatalf("expected nil snapshot for fresh board, got %s, %v", got, err)
	}
}

func TestSQLiteListBoards(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	for _, name := range []string{"Roadmap", "road trip", "Retro", "100%_done"} {
		if _, err := s.CreateBoard(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	all, total, err := s.ListBoards(ctx, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 boards, got %d/%d", len(all), total)
	}

	road, total, err := s.ListBoards(ctx, "ROAD", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(road) != 2 {
		t.Fatalf("expected 2 matches for ROAD, got %d", total)
	}

	literal, total, err := s.ListBoards(ctx, "%_", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || literal[0].Name != "100%_done" {
		t.Fatalf("wildcards must match literally, got %+v", literal)
	}

	page, total, err := s.ListBoards(ctx, "", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(page) != 2 {
		t.Fatalf("expected page of 2 (total 4), got %d (total %d)", len(page), total)
	}
}

func TestSQLiteDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	b, _ := s.CreateBoard(ctx, "temp")
	if n, _ := s.CountBoards(ctx); n != 1 {
		t.Fatalf("expected 1 board, got %d", n)
	}

	deleted, err := s.DeleteBoard(ctx, b.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v, %v", deleted, err)
	}
	deleted, err = s.DeleteBoard(ctx, b.ID)
	if err != nil || deleted {
		t.Fatalf("expected no-op delete, got %v, %v", deleted, err)
	}
	if n, _ := s.CountBoards(ctx); n != 0 {
		t.Fatalf("expected 0 boards, got %d", n)
	}
}

func TestDatabaseName(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017/whiteboard":      "whiteboard",
		"mongodb://u:p@h1,h2/boards?replicaSet=rs0": "boards",
		"mongodb+srv://cluster.example.net/":        "boardsync",
		"mongodb://localhost:27017":                 "boardsync",
	}
	for uri, want := range cases {
		if got := databaseName(uri); got != want {
			t.Errorf("databaseName(%q) = %q, want %q", uri, got, want)
		}
	}
}
