package camera

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hdgwatch/internal/storage"
)

type fakeSink struct {
	keys []string
	err  error
}

func (s *fakeSink) Put(_ context.Context, key string, data []byte) (string, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return "", s.err
	}
	if len(data) == 0 {
		return "", errors.New("empty upload")
	}
	return "hackbunker/" + key, nil
}

func TestTakeAndUploadOutcomes(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	tests := []struct {
		name     string
		address  string
		openErr  error
		sinkErr  error
		want     Outcome
		uploads  int
		guardSet bool
	}{
		{"uploaded", "rtsp://cam", nil, nil, OutcomeUploaded, 1, true},
		{"disabled", "", nil, nil, OutcomeDisabled, 0, false},
		{"capture failed", "rtsp://cam", errors.New("refused"), nil, OutcomeCaptureFailed, 0, false},
		{"upload failed", "rtsp://cam", nil, errors.New("500"), OutcomeUploadFailed, 1, false},
		{"conflict", "rtsp://cam", nil, fmt.Errorf("put: %w", storage.ErrObjectExists), OutcomeConflict, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &handleTracker{}
			c := newCapturer(fakeOpener(tracker, solidFrame(), nil, tt.openErr), now)
			c.Address = tt.address
			sink := &fakeSink{err: tt.sinkErr}
			svc := &Service{Capturer: c, Sink: sink, Log: quietLogger()}

			if got := svc.TakeAndUpload(context.Background()); got != tt.want {
				t.Fatalf("outcome: %s, want %s", got, tt.want)
			}
			if len(sink.keys) != tt.uploads {
				t.Fatalf("uploads: %d", len(sink.keys))
			}
			if got := c.guard.taken(now); got != tt.guardSet {
				t.Fatalf("guard: %v", got)
			}
		})
	}
}

func TestTakeAndUploadSuppressedAfterSuccess(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	tracker := &handleTracker{}
	svc := &Service{
		Capturer: newCapturer(fakeOpener(tracker, solidFrame(), nil, nil), now),
		Sink:     &fakeSink{},
		Log:      quietLogger(),
	}
	if got := svc.TakeAndUpload(context.Background()); got != OutcomeUploaded {
		t.Fatalf("first: %s", got)
	}
	if got := svc.TakeAndUpload(context.Background()); got != OutcomeSuppressed {
		t.Fatalf("second: %s", got)
	}
	if tracker.opened != 1 {
		t.Fatalf("opened: %d", tracker.opened)
	}
}

func TestTakeAndUploadNilCapturer(t *testing.T) {
	if got := (&Service{Log: quietLogger()}).TakeAndUpload(context.Background()); got != OutcomeDisabled {
		t.Fatalf("outcome: %s", got)
	}
}
