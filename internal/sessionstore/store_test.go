package sessionstore

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketplace-client/internal/logging"
	"marketplace-client/internal/session"
)

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokenStore.json")
	store, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	empty, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if !empty.Empty() {
		t.Fatalf("Load() on missing file = %+v", empty)
	}

	want := session.Snapshot{
		AccessToken: "T",
		Identity:    "u@x.com",
		ExpiresAt:   time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if !strings.Contains(string(raw), `"tokenStore"`) || !strings.Contains(string(raw), `"accessTokenExpiresAt"`) {
		t.Fatalf("unexpected file contents: %s", raw)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file mode = %v, want 0600", perm)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.Identity != want.Identity || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("session file still present after Clear(): %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenStore.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := store.Load(); err == nil {
		t.Fatalf("Load() expected decode error")
	}
}

func TestFileStore_PersistsRefreshCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenStore.json")
	cookieURL := "http://market.test/auth/refresh"
	u, _ := url.Parse(cookieURL)

	jar, _ := cookiejar.New(nil)
	jar.SetCookies(u, []*http.Cookie{{Name: "refreshToken", Value: "r-1"}})
	writer, err := New(path, Options{Jar: jar, CookieURL: cookieURL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := writer.Save(session.Snapshot{AccessToken: "T", Identity: "u@x.com"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	freshJar, _ := cookiejar.New(nil)
	reader, err := New(path, Options{Jar: freshJar, CookieURL: cookieURL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := reader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cookies := freshJar.Cookies(u)
	if len(cookies) != 1 || cookies[0].Name != "refreshToken" || cookies[0].Value != "r-1" {
		t.Fatalf("restored cookies = %v", cookies)
	}

	if err := reader.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if cookies := freshJar.Cookies(u); len(cookies) != 0 {
		t.Fatalf("cookies after Clear() = %v", cookies)
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	if _, err := New("  ", Options{}); err == nil {
		t.Fatalf("New() expected error for blank path")
	}
	jar, _ := cookiejar.New(nil)
	if _, err := New("/tmp/x.json", Options{Jar: jar, CookieURL: "not a url"}); err == nil {
		t.Fatalf("New() expected error for cookie URL without host")
	}
}

func TestWatch_ReportsChangesFromAnotherWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenStore.json")
	watched, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	other, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan session.Snapshot, 8)
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx, testLogger(), func(s session.Snapshot) { changes <- s })
	}()

	// The watcher registers asynchronously; keep writing until it reports.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-changes:
			if got.AccessToken == "" {
				continue
			}
			if got.AccessToken != "T" {
				t.Fatalf("change = %+v", got)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			return
		case <-tick.C:
			if err := other.Save(session.Snapshot{AccessToken: "T", Identity: "u@x.com"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for session change")
		}
	}
}
