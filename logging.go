package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const segmentStamp = "20060102T150405Z"

var (
	logLevel  = new(slog.LevelVar)
	agentLogs = &logFiles{}
)

// logFiles is the persistent log: the active file plus the segments rotated
// out of it, named <base>-<rotation time>.log in the same directory.
type logFiles struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func persistentLogPath() string {
	if p := os.Getenv("INVENTARI_LOG_FILE"); p != "" {
		return p
	}
	return "inventariagent.log"
}

// setupLogger installs the default logger. Records go to stdout and, when
// the file can be opened, to the persistent log.
func setupLogger() {
	path := persistentLogPath()
	err := agentLogs.open(path)

	out := io.MultiWriter(os.Stdout, agentLogs)
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler).With("app", "inventariagent"))

	if err != nil {
		slog.Error("Persistent logging disabled", "file", path, "err", err)
		return
	}
	slog.Info("Persistent logging enabled", "file", path)
}

// setLogLevel applies a config level name. Unknown names keep the current level.
func setLogLevel(name string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("Unknown log level", "level", name)
		return
	}
	logLevel.Set(lvl)
}

func closeLogger() {
	agentLogs.close()
}

// rotateLogs starts a new segment and deletes the segments rotated out
// before now-retention. A zero retention keeps a single growing file.
func rotateLogs(now time.Time, retention time.Duration) {
	if retention <= 0 {
		return
	}
	seg, err := agentLogs.rotate(now)
	if err != nil {
		slog.Error("Log rotation failed", "err", err)
		return
	}
	removed, err := agentLogs.prune(now.Add(-retention))
	if err != nil {
		slog.Warn("Log segment cleanup incomplete", "err", err)
	}
	slog.Info("Logs rotated", "segment", seg, "removed", removed, "retention", retention.String())
}

func (l *logFiles) open(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	l.path = path
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func (l *logFiles) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return len(p), nil
	}
	return l.file.Write(p)
}

func (l *logFiles) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *logFiles) closeLocked() {
	if l.file == nil {
		return
	}
	_ = l.file.Sync()
	_ = l.file.Close()
	l.file = nil
}

// segmentParts splits path into the parts every segment name shares.
func segmentParts(path string) (dir, prefix, ext string) {
	dir = filepath.Dir(path)
	ext = filepath.Ext(path)
	prefix = strings.TrimSuffix(filepath.Base(path), ext) + "-"
	return dir, prefix, ext
}

func segmentName(path string, at time.Time) string {
	dir, prefix, ext := segmentParts(path)
	return filepath.Join(dir, prefix+at.UTC().Format(segmentStamp)+ext)
}

// rotate renames the active file to a segment stamped with now and reopens
// an empty one. An empty active file is left alone.
func (l *logFiles) rotate(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return "", nil
	}
	if info, err := l.file.Stat(); err == nil && info.Size() == 0 {
		return "", nil
	}

	// Windows refuses to rename an open file.
	l.closeLocked()
	seg := segmentName(l.path, now)
	renameErr := os.Rename(l.path, seg)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Join(renameErr, fmt.Errorf("reopen log: %w", err))
	}
	l.file = f
	if renameErr != nil {
		return "", fmt.Errorf("rotate log: %w", renameErr)
	}
	return seg, nil
}

// prune removes segments rotated before cutoff. Files that do not carry a
// segment stamp are never touched.
func (l *logFiles) prune(cutoff time.Time) (int, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	if path == "" {
		return 0, nil
	}

	dir, prefix, ext := segmentParts(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		at, err := time.Parse(segmentStamp, stamp)
		if err != nil || !at.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
