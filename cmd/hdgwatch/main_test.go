package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hdgwatch/internal/config"
	"hdgwatch/internal/db"
)

type rowRecorder struct {
	mu   sync.Mutex
	rows []map[string]string
}

func (r *rowRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/rest/v1/hdg_meter" {
			t.Errorf("path: %s", req.URL.Path)
		}
		var row map[string]string
		if err := json.NewDecoder(req.Body).Decode(&row); err != nil {
			t.Errorf("decode: %v", err)
		}
		r.mu.Lock()
		r.rows = append(r.rows, row)
		r.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}
}

func (r *rowRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// setup points the agent at httptest fakes and returns the log path.
func setup(t *testing.T, env map[string]string) (string, *rowRecorder) {
	t.Helper()
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "info")
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil))) })

	boiler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_, _ = w.Write([]byte(`[{"text":"` + r.PostForm.Get("nodes") + `.5"}]`))
	}))
	t.Cleanup(boiler.Close)
	rec := &rowRecorder{}
	remote := httptest.NewServer(rec.handler(t))
	t.Cleanup(remote.Close)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "data.json")
	if err := os.WriteFile(catalogPath, []byte(`[{"id":"22003"},{"id":"22004"}]`), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	logPath := filepath.Join(dir, "hdg_script.log")

	vars := map[string]string{
		"HDGIP1":         boiler.URL,
		"HDGIP2":         boiler.URL,
		"SUPABASE_URL":   remote.URL,
		"SUPABASE_KEY":   "service-key",
		"CATALOG_FILE":   catalogPath,
		"LOG_FILE":       logPath,
		"FETCH_PAUSE_MS": "0",
	}
	for k, v := range env {
		vars[k] = v
	}
	oldLoad, oldMachine := loadConfig, machineID
	loadConfig = func(string) (config.Config, error) {
		cfg, err := config.FromEnv(func(k string) string { return vars[k] })
		if err != nil {
			return cfg, err
		}
		return cfg, cfg.Validate()
	}
	machineID = func(*slog.Logger) string { return "AA:BB:CC:DD:EE:FF" }
	t.Cleanup(func() { loadConfig, machineID = oldLoad, oldMachine })
	return logPath, rec
}

func noServe(*http.Server) error { return nil }

func TestRunBadFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-badflag"}, io.Discard, noServe); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunMissingEssentialConfig(t *testing.T) {
	setup(t, map[string]string{"HDGIP2": "", "SUPABASE_KEY": ""})
	err := run(context.Background(), nil, io.Discard, noServe)
	if err == nil || !strings.Contains(err.Error(), "HDGIP2, SUPABASE_KEY") {
		t.Fatalf("err: %v", err)
	}
}

func TestRunInvalidScreenshotHours(t *testing.T) {
	setup(t, map[string]string{"CAMERA": "rtsp://cam/1", "SCREENSHOT_HOURS": "25"})
	if err := run(context.Background(), []string{"-once"}, io.Discard, noServe); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunOnce(t *testing.T) {
	logPath, rec := setup(t, nil)
	var stdout bytes.Buffer

	if err := run(context.Background(), []string{"-once"}, &stdout, noServe); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.count() != 4 {
		t.Fatalf("rows: %d", rec.count())
	}
	first := rec.rows[0]
	if first["anlage"] != "Brenner 1" || first["key"] != "22003" || first["value"] != "22003.5" || first["mac"] != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("row: %v", first)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{"INFO: ==== hdgwatch starting ====", "INFO: cycle complete", "INFO: ==== hdgwatch stopped ===="} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("log missing %q:\n%s", want, data)
		}
	}
	if stdout.String() != string(data) {
		t.Fatalf("console and log file differ")
	}
}

func TestRunOnceJSONConsoleKeepsLineLogFile(t *testing.T) {
	logPath, _ := setup(t, nil)
	t.Setenv("LOG_FORMAT", "json")
	var stdout bytes.Buffer

	if err := run(context.Background(), []string{"-once"}, &stdout, noServe); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), `"msg":"cycle complete"`) {
		t.Fatalf("console:\n%s", stdout.String())
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if !strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "    ") {
			t.Fatalf("log line without timestamp: %q", line)
		}
	}
	if !strings.Contains(string(data), "INFO: cycle complete") {
		t.Fatalf("log:\n%s", data)
	}
}

func TestRunOnceCatalogOverride(t *testing.T) {
	setup(t, nil)
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := run(context.Background(), []string{"-once", "-catalog", missing}, io.Discard, noServe); err == nil {
		t.Fatalf("expected catalog error")
	}
}

func TestRunInterrupted(t *testing.T) {
	logPath, rec := setup(t, map[string]string{"METRICS_ADDR": "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	var servedAddr string
	serve := func(srv *http.Server) error {
		servedAddr = srv.Addr
		return http.ErrServerClosed
	}
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for rec.count() < 4 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	if err := run(ctx, nil, io.Discard, serve); err != nil {
		t.Fatalf("run: %v", err)
	}
	if servedAddr != "127.0.0.1:0" {
		t.Fatalf("metrics addr: %q", servedAddr)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{"INFO: interrupted", "screenshots disabled", "stopped"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("log missing %q:\n%s", want, data)
		}
	}
}

func TestRunPostgresUnavailable(t *testing.T) {
	setup(t, map[string]string{"SUPABASE_DB_DSN": "postgres://localhost/hdg"})
	oldOpen := openDB
	openDB = func(string) (*db.DB, error) { return nil, errors.New("dial refused") }
	defer func() { openDB = oldOpen }()

	err := run(context.Background(), []string{"-once"}, io.Discard, noServe)
	if err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("err: %v", err)
	}
}
