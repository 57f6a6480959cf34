package camera

import (
	"context"
	"errors"
	"log/slog"

	"hdgwatch/internal/metrics"
	"hdgwatch/internal/storage"
)

type ImageSink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

type Outcome string

const (
	OutcomeUploaded      Outcome = "uploaded"
	OutcomeSuppressed    Outcome = "suppressed"
	OutcomeDisabled      Outcome = "disabled"
	OutcomeCaptureFailed Outcome = "capture_failed"
	OutcomeUploadFailed  Outcome = "upload_failed"
	OutcomeConflict      Outcome = "conflict"
)

// Service captures a still and uploads it. Failures are logged and reported
// as an Outcome; nothing propagates to the caller's loop.
type Service struct {
	Capturer *Capturer
	Sink     ImageSink
	Log      *slog.Logger
}

func (s *Service) TakeAndUpload(ctx context.Context) Outcome {
	outcome := s.takeAndUpload(ctx)
	metrics.ScreenshotsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (s *Service) takeAndUpload(ctx context.Context) Outcome {
	log := s.logger()
	if s.Capturer == nil {
		return OutcomeDisabled
	}
	shot, err := s.Capturer.Capture(ctx)
	switch {
	case errors.Is(err, ErrConfigMissing):
		return OutcomeDisabled
	case errors.Is(err, ErrDuplicateSuppressed):
		return OutcomeSuppressed
	case err != nil:
		log.Error("screenshot capture failed", "err", err)
		return OutcomeCaptureFailed
	}

	location, err := s.Sink.Put(ctx, shot.Path, shot.Data)
	switch {
	case errors.Is(err, storage.ErrObjectExists):
		log.Warn("screenshot already exists in storage", "path", shot.Path)
		return OutcomeConflict
	case err != nil:
		log.Error("screenshot upload failed", "path", shot.Path, "err", err)
		return OutcomeUploadFailed
	}
	s.Capturer.MarkUploaded(shot)
	log.Info("screenshot uploaded", "mac", s.Capturer.MachineID, "path", location, "bytes", len(shot.Data))
	return OutcomeUploaded
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
