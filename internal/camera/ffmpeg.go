package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const DefaultOpenTimeout = 15 * time.Second

// process is a running frame producer.
type process struct {
	stdout io.Reader
	stop   func() error
	stderr func() string
}

// Swapped in tests.
var startProcess = func(path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{
		stdout: stdout,
		stop: func() error {
			_ = cmd.Process.Kill()
			err := cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil
			}
			return err
		},
		stderr: func() string { return strings.TrimSpace(stderr.String()) },
	}, nil
}

// FFmpegOpener decodes a camera stream with an ffmpeg child process that
// writes PNG frames to stdout.
type FFmpegOpener struct {
	Path    string
	Timeout time.Duration
}

func (o FFmpegOpener) Open(ctx context.Context, address string) (Stream, error) {
	path := o.Path
	if path == "" {
		path = "ffmpeg"
	}
	proc, err := startProcess(path, ffmpegArgs(address))
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	s := newFrameStream(proc.stdout, proc.stop)

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		_ = s.Close()
		return nil, fmt.Errorf("stream ended before first frame: %v%s", s.err, stderrSuffix(proc))
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("no frame within %s%s", timeout, stderrSuffix(proc))
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

func stderrSuffix(p *process) string {
	if p.stderr == nil {
		return ""
	}
	if msg := p.stderr(); msg != "" {
		return ": " + msg
	}
	return ""
}

func ffmpegArgs(address string) []string {
	args := []string{"-nostdin", "-loglevel", "error"}
	if strings.HasPrefix(strings.ToLower(address), "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args, "-i", address, "-f", "image2pipe", "-vcodec", "png", "-")
}

// frameStream keeps only the most recent decoded frame so a read after the
// warm-up returns a current picture rather than a buffered one.
type frameStream struct {
	frames chan image.Image
	ready  chan struct{}
	done   chan struct{}
	err    error

	stop      func() error
	closeOnce sync.Once
	closeErr  error
}

func newFrameStream(r io.Reader, stop func() error) *frameStream {
	s := &frameStream{
		frames: make(chan image.Image, 1),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		stop:   stop,
	}
	go s.pump(r)
	return s
}

func (s *frameStream) pump(r io.Reader) {
	defer close(s.done)
	br := bufio.NewReader(r)
	first := true
	for {
		img, err := png.Decode(br)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			s.err = err
			return
		}
		select {
		case <-s.frames:
		default:
		}
		s.frames <- img
		if first {
			close(s.ready)
			first = false
		}
	}
}

func (s *frameStream) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case img := <-s.frames:
		return img, nil
	case <-s.done:
		select {
		case img := <-s.frames:
			return img, nil
		default:
		}
		return nil, fmt.Errorf("stream ended: %w", s.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the producer and waits for the decoder to exit.
func (s *frameStream) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.closeErr = s.stop()
		}
		<-s.done
	})
	return s.closeErr
}
