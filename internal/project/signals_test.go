package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSignalWatcher_StopRequest(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ConfigDirName), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := NewSignalWatcher(root)
	if err != nil {
		t.Fatalf("NewSignalWatcher failed: %v", err)
	}
	defer w.Close()

	if w.StopRequested() {
		t.Fatal("stop requested before any signal")
	}

	if err := RequestStop(root); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !w.StopRequested() {
		if time.Now().After(deadline) {
			t.Fatal("stop signal not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignalWatcher_LeftoverStopFile(t *testing.T) {
	root := t.TempDir()
	if err := RequestStop(root); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}

	w, err := NewSignalWatcher(root)
	if err != nil {
		t.Fatalf("NewSignalWatcher failed: %v", err)
	}
	defer w.Close()

	if !w.StopRequested() {
		t.Error("leftover stop file not observed at startup")
	}
}

func TestClearSignals(t *testing.T) {
	root := t.TempDir()
	if err := RequestStop(root); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	if err := ClearSignals(root); err != nil {
		t.Fatalf("ClearSignals failed: %v", err)
	}
	// Clearing twice is fine.
	if err := ClearSignals(root); err != nil {
		t.Fatalf("repeat ClearSignals failed: %v", err)
	}

	w, err := NewSignalWatcher(root)
	if err != nil {
		t.Fatalf("NewSignalWatcher failed: %v", err)
	}
	defer w.Close()
	if w.StopRequested() {
		t.Error("cleared signal still observed")
	}
}
