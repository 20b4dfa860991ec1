package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotatingFileWritesTodayFile(t *testing.T) {
	dir := t.TempDir()
	rf, err := NewRotatingFile(dir, ".log")
	if err != nil {
		t.Fatalf("NewRotatingFile: %v", err)
	}
	defer rf.Close()

	if _, err := rf.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	expected := filepath.Join(dir, time.Now().Format("2006_01_02")+".log")
	data, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("expected file %s: %v", expected, err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file contents = %q, want %q", data, "hello\n")
	}
}

func TestPruneOldLogsRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "2020_01_01.log")
	fresh := filepath.Join(dir, "2026_07_30.log")
	os.WriteFile(stale, []byte("old"), 0o644)
	os.WriteFile(fresh, []byte("new"), 0o644)
	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(stale, old, old)

	if err := PruneOldLogs(dir, 24*time.Hour); err != nil {
		t.Fatalf("PruneOldLogs: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file should still exist: %v", err)
	}
}
