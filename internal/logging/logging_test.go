package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"faasd/internal/logging"
)

func TestNewWritesGlobalAndFunctionSinks(t *testing.T) {
	dir := t.TempDir()
	l, err := logging.New(logging.Config{Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.WithFunction("hello").Info("handled request", "status", 200)
	l.Logger.Info("host started")

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	global, err := os.ReadFile(filepath.Join(dir, "main.log"))
	if err != nil {
		t.Fatalf("read global sink: %v", err)
	}
	if len(global) == 0 {
		t.Fatal("expected global sink to contain both records")
	}

	fnLog, err := os.ReadFile(filepath.Join(dir, "functions", "hello.log"))
	if err != nil {
		t.Fatalf("read function sink: %v", err)
	}
	var rec map[string]any
	lines := splitLines(fnLog)
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 line in function sink, got %d", len(lines))
	}
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["function"] != "hello" {
		t.Errorf("function = %v, want hello", rec["function"])
	}
}

func TestFunctionFilterLevelOverride(t *testing.T) {
	dir := t.TempDir()
	l, err := logging.New(logging.Config{Dir: dir, DefaultLevel: logging.LevelInfo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.WithFunction("quiet").Debug("should be dropped")
	l.SetLevel("quiet", logging.LevelDebug)
	l.WithFunction("quiet").Debug("should be kept")
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "functions", "quiet.log"))
	if err != nil {
		t.Fatalf("read function sink: %v", err)
	}
	lines := splitLines(data)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after level override, got %d", len(lines))
	}
}

func TestRecentReturnsBoundedHistory(t *testing.T) {
	dir := t.TempDir()
	l, err := logging.New(logging.Config{Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.WithFunction("burst").Info("tick")
	}

	recent := l.Recent("burst", "", 3)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(recent))
	}
	for _, r := range recent {
		if r.Function != "burst" {
			t.Errorf("record function = %q, want burst", r.Function)
		}
	}
}

func TestClearLevelRevertsToDefault(t *testing.T) {
	dir := t.TempDir()
	l, err := logging.New(logging.Config{Dir: dir, DefaultLevel: logging.LevelWarn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.SetLevel("f", logging.LevelDebug)
	if got := l.Level("f"); got != logging.LevelDebug {
		t.Fatalf("Level after SetLevel = %v, want DEBUG", got)
	}
	l.ClearLevel("f")
	if got := l.Level("f"); got != logging.LevelWarn {
		t.Fatalf("Level after ClearLevel = %v, want WARN", got)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
