package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Fatalf("DefaultLogDirPath() error = %v", err)
	}
	if got, want := path, filepath.Join("marketplace", "client", "logs"); !strings.HasSuffix(got, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", got, want)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", path, err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, decoded)
	}
	return out
}

func TestFileSinkWritesJSONLAndRotates(t *testing.T) {
	tmp := t.TempDir()
	sink, err := newFileSinkIn(tmp, 180)
	if err != nil {
		t.Fatalf("newFileSinkIn() error = %v", err)
	}

	event := Event{
		Time:    time.Unix(1700000000, 123456789),
		Level:   slog.LevelDebug,
		Message: "chat frame received",
		Fields: map[string]any{
			"item":  7,
			"delay": 5 * time.Second,
		},
	}
	for i := 0; i < 6; i++ {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(entries))
	}
	lines := readLines(t, filepath.Join(tmp, entries[0].Name()))
	if len(lines) == 0 {
		t.Fatalf("expected at least one JSON line")
	}
	fields, _ := lines[0]["fields"].(map[string]any)
	if fields["delay"] != "5s" {
		t.Fatalf("delay field = %#v", fields["delay"])
	}
}

func TestFileSinkPrunesOldFiles(t *testing.T) {
	tmp := t.TempDir()
	for i := 0; i < maxKeptLogFiles+5; i++ {
		name := filepath.Join(tmp, fmt.Sprintf("%s20200101-000000-%03d%s", logFilePrefix, i, logFileSuffix))
		if err := os.WriteFile(name, []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, "unrelated.txt"), nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	sink, err := newFileSinkIn(tmp, 0)
	if err != nil {
		t.Fatalf("newFileSinkIn() error = %v", err)
	}
	defer sink.Close()

	entries, _ := os.ReadDir(tmp)
	logs := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), logFileSuffix) {
			logs++
		}
	}
	if logs != maxKeptLogFiles {
		t.Fatalf("kept %d log files, want %d", logs, maxKeptLogFiles)
	}
	if _, err := os.Stat(sink.Path()); err != nil {
		t.Fatalf("current log file pruned: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "unrelated.txt")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func attachSink(t *testing.T, logger *Logger) string {
	t.Helper()
	sink, err := newFileSinkIn(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatalf("newFileSinkIn() error = %v", err)
	}
	logger.core.fileSink = sink
	return sink.Path()
}

func TestLoggerCloseStopsFilePersistence(t *testing.T) {
	logger := New(true)
	logger.SetTerminalOutputEnabled(false)
	path := attachSink(t, logger)

	logger.Info("before close")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "before close") {
		t.Fatalf("expected pre-close event in log content")
	}
	if strings.Contains(text, "after close") {
		t.Fatalf("did not expect post-close event in log content")
	}
}

func TestWithAddsFieldsAndSharesSinks(t *testing.T) {
	logger := New(false)
	logger.SetTerminalOutputEnabled(false)
	path := attachSink(t, logger)

	var seen []Event
	unsubscribe := logger.Subscribe(func(e Event) { seen = append(seen, e) })
	defer unsubscribe()

	chat := logger.With(Field("component", "chat"))
	chat.Info("connected", Field("queue", "/user/alice/queue/messages"))
	chat.Debug("hidden from subscribers")
	logger.Info("root event")

	if len(seen) != 2 {
		t.Fatalf("subscriber saw %d events, want 2", len(seen))
	}
	if seen[0].Fields["component"] != "chat" || seen[0].Fields["queue"] == nil {
		t.Fatalf("child event fields = %v", seen[0].Fields)
	}
	if _, ok := seen[1].Fields["component"]; ok {
		t.Fatalf("root event inherited child fields: %v", seen[1].Fields)
	}

	logger.SetDebugEnabled(true)
	if !chat.DebugEnabled() {
		t.Fatalf("child did not share debug level")
	}

	_ = logger.Close()
	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("file has %d lines, want 3 including debug", len(lines))
	}
}
