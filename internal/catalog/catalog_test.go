package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordListCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []Entry{
		{Session: "s1", Counter: 1, EpisodeID: 1, Split: "train", Path: "/d/s1/train/episode_00001.npz", Samples: 10, SavedAt: base},
		{Session: "s1", Counter: 2, EpisodeID: 2, Split: "val", Path: "/d/s1/val/episode_00002.npz", Samples: 4, SavedAt: base.Add(time.Second)},
		{Session: "s2", Counter: 1, EpisodeID: 1, Split: "train", Path: "/d/s2/train/episode_00001.npz", Samples: 7, SavedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %+v: %v", e, err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries", len(all))
	}
	first := all[0]
	if first.Session != "s1" || first.Counter != 1 || first.Path != entries[0].Path ||
		first.Samples != 10 || !first.SavedAt.Equal(base) || all[2].Session != "s2" {
		t.Fatalf("unexpected order/content: %+v", all)
	}

	s1, err := s.List(ctx, "s1", 1)
	if err != nil || len(s1) != 1 || s1[0].Counter != 1 {
		t.Fatalf("filtered list: %+v err=%v", s1, err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["train"] != 2 || counts["val"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestRecordDuplicate(t *testing.T) {
	s := openTestStore(t)
	e := Entry{Session: "s", Counter: 1, Split: "train", Path: "/x"}
	if err := s.Record(context.Background(), e); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.Record(context.Background(), e); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	s := openTestStore(t)
	if err := s.Record(context.Background(), Entry{Counter: 1}); err == nil {
		t.Fatalf("expected error for missing session")
	}
	if err := s.Record(context.Background(), Entry{Session: "s"}); err == nil {
		t.Fatalf("expected error for zero counter")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Record(ctx, Entry{Session: "s", Counter: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record(context.Background(), Entry{Session: "s", Counter: 3, Split: "val", Path: "/p"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.List(context.Background(), "s", 0)
	if err != nil || len(got) != 1 || got[0].Counter != 3 {
		t.Fatalf("after reopen: %+v err=%v", got, err)
	}
}
