package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func stamp(t time.Time) string {
	return "[" + t.Format(TimestampLayout) + "]"
}

func TestRetentionPolicyAge(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	old := now.Add(-8 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)
	data := "preamble without timestamp\n" +
		stamp(old) + " ERROR: old failure\n" +
		"    trace line\n" +
		"[2026-13-45 99:99:99] INFO: weird timestamp\n" +
		stamp(fresh) + " INFO: fresh\n"

	out, stats := RetentionPolicy{MaxAge: 7 * 24 * time.Hour}.Apply([]byte(data), now)
	want := "preamble without timestamp\n" +
		"[2026-13-45 99:99:99] INFO: weird timestamp\n" +
		stamp(fresh) + " INFO: fresh\n"
	if string(out) != want {
		t.Fatalf("out:\n%s\nwant:\n%s", out, want)
	}
	if stats.Processed != 5 || stats.Kept != 3 || stats.Removed != 2 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestRetentionPolicySize(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%s INFO: entry %d\n", stamp(now.Add(time.Duration(i)*time.Minute)), i)
	}
	lineLen := int64(len(stamp(now) + " INFO: entry 0\n"))

	out, stats := RetentionPolicy{MaxBytes: 3 * lineLen}.Apply([]byte(b.String()), now)
	if stats.Kept != 3 || stats.Removed != 7 {
		t.Fatalf("stats: %+v", stats)
	}
	if !strings.HasSuffix(string(out), "INFO: entry 9\n") || strings.Contains(string(out), "entry 6\n") {
		t.Fatalf("expected newest entries kept, got:\n%s", out)
	}
}

func TestRetentionPolicyNothingToRemove(t *testing.T) {
	now := time.Now()
	data := stamp(now) + " INFO: only\n"
	out, stats := RetentionPolicy{MaxAge: time.Hour, MaxBytes: 1 << 20}.Apply([]byte(data), now)
	if string(out) != data || stats.Removed != 0 {
		t.Fatalf("out: %q stats: %+v", out, stats)
	}
}

func TestRetentionPolicyEnabled(t *testing.T) {
	if (RetentionPolicy{}).Enabled() {
		t.Fatalf("zero policy should be disabled")
	}
	if !(RetentionPolicy{MaxBytes: 1}).Enabled() {
		t.Fatalf("size policy should be enabled")
	}
}

func TestFileSinkPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	seed := stamp(now.Add(-30*24*time.Hour)) + " INFO: ancient\n" + stamp(now) + " INFO: current\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	stats, err := Retention{Sink: sink, Policy: RetentionPolicy{MaxAge: 7 * 24 * time.Hour}}.Prune(now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if stats.Removed != 1 || stats.Kept != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if _, err := sink.Write([]byte(stamp(now) + " INFO: after prune\n")); err != nil {
		t.Fatalf("write after prune: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := stamp(now) + " INFO: current\n" + stamp(now) + " INFO: after prune\n"
	if string(data) != want {
		t.Fatalf("data: %q", data)
	}
}

func TestFileSinkConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	sink, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = fmt.Fprintf(sink, "[2026-03-10 12:00:00] INFO: writer=%d seq=%d\n", n, j)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("lines: %d", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[2026-03-10 12:00:00] INFO: writer=") {
			t.Fatalf("interleaved line: %q", line)
		}
	}
}

func TestFileSinkClosed(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "agent.log"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sink.Write([]byte("x")); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("err: %v", err)
	}
	if _, err := sink.Prune(RetentionPolicy{MaxAge: time.Hour}, time.Now()); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("err: %v", err)
	}
}

func TestRetentionDisabled(t *testing.T) {
	stats, err := Retention{}.Prune(time.Now())
	if err != nil || stats != (PruneStats{}) {
		t.Fatalf("stats: %+v err: %v", stats, err)
	}
}
