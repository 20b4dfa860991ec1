package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingFile is an io.Writer over a file that reopens itself at a
// new path whenever the local date changes, matching original_source
// log.cpp's toDay_ check and "%Y_%m_%d<suffix>" naming — a feature
// spec.md's distillation dropped (see SPEC_FULL.md §6).
type RotatingFile struct {
	mu     sync.Mutex
	dir    string
	suffix string
	day    string
	file   *os.File
}

// NewRotatingFile opens today's log file under dir with the given
// suffix (e.g. ".log" -> "2026_07_30.log").
func NewRotatingFile(dir, suffix string) (*RotatingFile, error) {
	rf := &RotatingFile{dir: dir, suffix: suffix}
	if err := rf.openFor(time.Now()); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) openFor(t time.Time) error {
	day := t.Format("2006_01_02")
	if err := os.MkdirAll(rf.dir, 0o755); err != nil {
		return fmt.Errorf("logging: mkdir %s: %w", rf.dir, err)
	}
	path := filepath.Join(rf.dir, day+rf.suffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	if rf.file != nil {
		rf.file.Close()
	}
	rf.file = f
	rf.day = day
	return nil
}

// Write implements io.Writer, rotating to a new day's file first if
// the local date has changed since the last write.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if today := time.Now().Format("2006_01_02"); today != rf.day {
		if err := rf.openFor(time.Now()); err != nil {
			return 0, err
		}
	}
	return rf.file.Write(p)
}

// Close releases the current file handle.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	return rf.file.Close()
}
