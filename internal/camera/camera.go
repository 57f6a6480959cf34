// Package camera grabs a single still from a network camera stream and hands
// it to an image sink.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"
)

var (
	ErrConfigMissing       = errors.New("camera stream address not configured")
	ErrDuplicateSuppressed = errors.New("screenshot already taken for this hour")
	ErrStreamUnavailable   = errors.New("camera stream unavailable")
	ErrReadFailed          = errors.New("frame read failed")
	ErrEmptyFrame          = errors.New("captured frame is empty")
	ErrEncodeFailed        = errors.New("frame encode failed")
)

const (
	DefaultWarmup  = 2 * time.Second
	DefaultQuality = 90
	shotLayout     = "20060102_150405"
)

// Stream is an open camera handle. Close must be safe to call once per
// successful Open.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context, address string) (Stream, error)
}

type OpenerFunc func(ctx context.Context, address string) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, address string) (Stream, error) {
	return f(ctx, address)
}

// Shot is an encoded still ready for upload.
type Shot struct {
	Data    []byte
	Path    string
	TakenAt time.Time
}

// Capturer owns the duplicate guard for its stream. The guard only advances
// through MarkUploaded, so a failed upload leaves the hour open for retry.
type Capturer struct {
	Address   string
	MachineID string
	Opener    Opener
	Warmup    time.Duration
	Quality   int
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	Log       *slog.Logger

	guard hourGuard
}

func (c *Capturer) Capture(ctx context.Context) (Shot, error) {
	log := c.logger()
	if c.Address == "" || c.Opener == nil {
		log.Info("camera stream not configured, skipping screenshot")
		return Shot{}, ErrConfigMissing
	}
	now := c.now()
	if c.guard.taken(now) {
		log.Info("screenshot already taken for this hour, skipping", "hour", now.Hour())
		return Shot{}, ErrDuplicateSuppressed
	}

	log.Info("attempting screenshot", "stream", redactAddress(c.Address))
	stream, err := c.Opener.Open(ctx, c.Address)
	if err != nil {
		return Shot{}, fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn("camera release failed", "err", err)
			return
		}
		log.Info("camera resource released")
	}()

	if err := c.sleep(ctx, c.warmup()); err != nil {
		return Shot{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	frame, err := stream.ReadFrame(ctx)
	if err != nil {
		return Shot{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return Shot{}, ErrEmptyFrame
	}
	log.Info("frame captured", "width", frame.Bounds().Dx(), "height", frame.Bounds().Dy())

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: c.quality()}); err != nil {
		return Shot{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return Shot{Data: buf.Bytes(), Path: ShotPath(c.MachineID, now), TakenAt: now}, nil
}

// MarkUploaded closes the shot's hour slot.
func (c *Capturer) MarkUploaded(shot Shot) {
	c.guard.mark(shot.TakenAt)
}

// ShotPath is the storage key of a still: {mac}/{mac}_{YYYYMMDD_HHMMSS}.jpg.
func ShotPath(machineID string, at time.Time) string {
	return machineID + "/" + machineID + "_" + at.Format(shotLayout) + ".jpg"
}

func (c *Capturer) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *Capturer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Capturer) warmup() time.Duration {
	if c.Warmup > 0 {
		return c.Warmup
	}
	return DefaultWarmup
}

func (c *Capturer) quality() int {
	if c.Quality > 0 {
		return c.Quality
	}
	return DefaultQuality
}

func (c *Capturer) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
