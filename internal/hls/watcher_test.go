package hls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"picam/internal/logging"
)

func playlist(seq, count int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", seq)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:2.000000,\nsegment_%05d.ts\n", seq+i)
	}
	return b.String()
}

// writePlaylist replaces the playlist the way the hls muxer does.
func writePlaylist(t *testing.T, dir, content string) {
	t.Helper()
	tmp := filepath.Join(dir, "stream.m3u8.tmp")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "stream.m3u8")); err != nil {
		t.Fatal(err)
	}
}

func TestReadPlaylist(t *testing.T) {
	dir := t.TempDir()
	writePlaylist(t, dir, playlist(42, 10))
	stats, err := ReadPlaylist(filepath.Join(dir, "stream.m3u8"))
	if err != nil {
		t.Fatalf("ReadPlaylist: %v", err)
	}
	if stats.MediaSequence != 42 || stats.Segments != 10 || stats.TargetDuration != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"segment_00001.ts", "segment_00002.ts", "stream.m3u8", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := CleanStale(dir)
	if err != nil || removed != 3 {
		t.Fatalf("CleanStale = %d, %v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Fatal("unrelated file removed")
	}
}

func TestWatcherWindowStaysBounded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	dir := t.TempDir()
	w := NewWatcher(dir, logging.NewNop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, ok := w.Stats(); ok {
		t.Fatal("no stats expected before the first playlist")
	}
	// Ten minutes of two second segments through a ten entry window.
	for seq := 0; seq < 300; seq += 50 {
		count := 10
		if seq == 0 {
			count = 3
		}
		writePlaylist(t, dir, playlist(seq, count))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, ok := w.Stats()
		if ok && stats.MediaSequence == 250 {
			if stats.Segments > 10 {
				t.Fatalf("window grew to %d segments", stats.Segments)
			}
			if stats.UpdatedAt.IsZero() {
				t.Fatal("missing update time")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never saw the final playlist, last %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
