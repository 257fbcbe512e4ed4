package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSegmentName(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	got := segmentName(filepath.Join("logs", "agent.log"), at)
	if want := filepath.Join("logs", "agent-20260302T090000Z.log"); got != want {
		t.Fatalf("segmentName = %q, want %q", got, want)
	}
}

func TestRotateLogsKeepsSegmentsWithinRetention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	t.Setenv("INVENTARI_LOG_FILE", path)
	prev := slog.Default()
	t.Cleanup(func() {
		closeLogger()
		slog.SetDefault(prev)
	})

	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("agent-20260225T090000Z.log", "old\n")
	write("agent-20260301T090000Z.log", "recent\n")
	write("agent-notes.log", "not a segment\n")
	write("other.txt", "unrelated\n")

	setupLogger()
	slog.Info("Before rotation")
	rotateLogs(testNow, 72*time.Hour)
	slog.Info("After rotation")

	if _, err := os.Stat(filepath.Join(dir, "agent-20260225T090000Z.log")); !os.IsNotExist(err) {
		t.Fatalf("segment older than retention should be removed, stat err = %v", err)
	}
	for _, keep := range []string{"agent-20260301T090000Z.log", "agent-notes.log", "other.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("%s should be kept: %v", keep, err)
		}
	}

	seg, err := os.ReadFile(filepath.Join(dir, "agent-20260302T090000Z.log"))
	if err != nil {
		t.Fatalf("rotated segment missing: %v", err)
	}
	if !strings.Contains(string(seg), "Before rotation") || strings.Contains(string(seg), "After rotation") {
		t.Fatalf("unexpected segment content: %q", seg)
	}
	active, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active log: %v", err)
	}
	if !strings.Contains(string(active), "After rotation") || strings.Contains(string(active), "Before rotation") {
		t.Fatalf("unexpected active log content: %q", active)
	}
}

func TestRotateLogsDisabledWithoutRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	t.Setenv("INVENTARI_LOG_FILE", path)
	prev := slog.Default()
	t.Cleanup(func() {
		closeLogger()
		slog.SetDefault(prev)
	})

	setupLogger()
	rotateLogs(testNow, 0)
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "agent-*.log"))
	if len(matches) != 0 {
		t.Fatalf("no segment expected, got %v", matches)
	}
}

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { logLevel.Set(slog.LevelInfo) })

	setLogLevel("debug")
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", logLevel.Level())
	}
	setLogLevel("loud")
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("unknown level should keep the current one")
	}
}
