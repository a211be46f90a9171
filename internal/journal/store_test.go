package journal_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"picam/internal/journal"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "state", "picam.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picam.db")
	for i := 0; i < 2; i++ {
		store, err := journal.Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestSegmentLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	names := []string{"20261016_120000_cam0.mp4", "20261016_120030_cam0.mp4", "20261016_120100_cam0.mp4"}
	for i, name := range names {
		err := store.RecordSegment(ctx, journal.Segment{
			RunID:     "run-1",
			Name:      name,
			Path:      "/spool/" + name,
			ClosedAt:  base.Add(time.Duration(i) * 30 * time.Second),
			SizeBytes: 1000,
		})
		if err != nil {
			t.Fatalf("RecordSegment: %v", err)
		}
	}
	if err := store.MarkSegment(ctx, names[0], journal.StatusArchived, "/media/usb/recordings/"+names[0]); err != nil {
		t.Fatalf("MarkSegment: %v", err)
	}
	if err := store.MarkSegment(ctx, names[1], journal.StatusDropped, ""); err != nil {
		t.Fatalf("MarkSegment: %v", err)
	}
	if err := store.MarkSegment(ctx, "missing.mp4", journal.StatusArchived, ""); err == nil {
		t.Fatal("expected error for unknown segment")
	}

	all, err := store.ListSegments(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(all) != 3 || all[0].Name != names[2] {
		t.Fatalf("expected newest first, got %+v", all)
	}
	archived, err := store.ListSegments(ctx, journal.StatusArchived, 10)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(archived) != 1 || archived[0].Path != "/media/usb/recordings/"+names[0] {
		t.Fatalf("unexpected archived rows %+v", archived)
	}
	if !archived[0].ClosedAt.Equal(base) {
		t.Fatalf("closed_at round trip: %v", archived[0].ClosedAt)
	}

	counts, err := store.SegmentCounts(ctx)
	if err != nil {
		t.Fatalf("SegmentCounts: %v", err)
	}
	if counts[journal.StatusSpooled] != 1 || counts[journal.StatusArchived] != 1 || counts[journal.StatusDropped] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestTransitions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, state := range []string{"starting", "running", "failed"} {
		tr := journal.Transition{RunID: "run-1", State: state}
		if state == "failed" {
			tr.Error = "subprocess crashed"
		}
		if err := store.RecordTransition(ctx, tr); err != nil {
			t.Fatalf("RecordTransition: %v", err)
		}
	}
	got, err := store.ListTransitions(ctx, 2)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 2 || got[0].State != "failed" || got[0].Error != "subprocess crashed" || got[1].Error != "" {
		t.Fatalf("unexpected transitions %+v", got)
	}
}
