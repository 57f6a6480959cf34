package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger for the given service.
// Format is determined by LOG_FORMAT env var: "line" (default) renders
// "[YYYY-MM-DD HH:MM:SS] LEVEL: message", "text" and "json" use the slog
// handlers of the same name.
// Level is determined by LOG_LEVEL env var: "debug", "info" (default), "warn", "error".
func Init(service string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	return install(slog.New(consoleHandler(service, w, opts)))
}

// InitWithFile is Init with a second destination that is always written in
// the line format, whatever LOG_FORMAT says. Retention dates entries by
// their bracketed timestamp, so the log file must keep that shape.
func InitWithFile(service string, console, file io.Writer) *slog.Logger {
	if console == nil {
		console = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	h := consoleHandler(service, console, opts)
	if file != nil {
		h = newTeeHandler(h, NewLineHandler(file, opts))
	}
	return install(slog.New(h))
}

func consoleHandler(service string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))) {
	case "json":
		return slog.NewJSONHandler(w, opts).WithAttrs([]slog.Attr{slog.String("service", service)})
	case "text":
		return slog.NewTextHandler(w, opts).WithAttrs([]slog.Attr{slog.String("service", service)})
	default:
		return NewLineHandler(w, opts)
	}
}

func install(logger *slog.Logger) *slog.Logger {
	slog.SetDefault(logger)

	// Redirect stdlib log to slog so any transitive log.Printf calls
	// still reach both the console and the log file.
	log.SetFlags(0)
	log.SetOutput(&slogWriter{logger: logger})

	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogWriter adapts slog.Logger to io.Writer for stdlib log redirection.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Info(msg, slog.String("source", "stdlib"))
	return len(p), nil
}
