// Package sessionstore persists the signed-in session between runs so the
// CLI and the chat view share one login.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"marketplace-client/internal/config"
	"marketplace-client/internal/session"
)

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fileContents struct {
	Session session.Snapshot `json:"tokenStore"`
	Cookies []storedCookie   `json:"cookies,omitempty"`
}

type Options struct {
	// Jar, when set, has its refresh cookies saved and restored alongside
	// the snapshot.
	Jar http.CookieJar
	// CookieURL scopes the cookies read from and written to Jar.
	CookieURL string
}

type FileStore struct {
	path      string
	lock      *flock.Flock
	jar       http.CookieJar
	cookieURL *url.URL
}

func New(path string, opts Options) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session file path is required")
	}
	store := &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
		jar:  opts.Jar,
	}
	if opts.Jar != nil {
		parsed, err := url.Parse(opts.CookieURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid cookie URL %q", opts.CookieURL)
		}
		store.cookieURL = parsed
	}
	return store, nil
}

// Open resolves the session path from an optional override.
func Open(override string, opts Options) (*FileStore, error) {
	path, err := config.SessionPath(override)
	if err != nil {
		return nil, fmt.Errorf("resolve session path: %w", err)
	}
	return New(path, opts)
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (session.Snapshot, error) {
	if err := s.ensureDir(); err != nil {
		return session.Snapshot{}, err
	}
	if err := s.lock.RLock(); err != nil {
		return session.Snapshot{}, fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	contents, err := s.read()
	if err != nil {
		return session.Snapshot{}, err
	}
	s.restoreCookies(contents.Cookies)
	return contents.Session, nil
}

func (s *FileStore) Save(snapshot session.Snapshot) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	payload, err := json.MarshalIndent(fileContents{
		Session: snapshot,
		Cookies: s.collectCookies(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+config.StoreName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create session temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the session file and expires any saved cookies in the jar.
func (s *FileStore) Clear() error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	contents, err := s.read()
	if err == nil {
		s.expireCookies(contents.Cookies)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (fileContents, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fileContents{}, nil
	}
	if err != nil {
		return fileContents{}, fmt.Errorf("read session file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fileContents{}, nil
	}
	var contents fileContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return fileContents{}, fmt.Errorf("decode session file %s: %w", s.path, err)
	}
	return contents, nil
}

func (s *FileStore) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return nil
}

func (s *FileStore) collectCookies() []storedCookie {
	if s.jar == nil {
		return nil
	}
	cookies := s.jar.Cookies(s.cookieURL)
	out := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, storedCookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func (s *FileStore) restoreCookies(stored []storedCookie) {
	if s.jar == nil || len(stored) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	s.jar.SetCookies(s.cookieURL, cookies)
}

func (s *FileStore) expireCookies(stored []storedCookie) {
	if s.jar == nil || len(stored) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, MaxAge: -1})
	}
	s.jar.SetCookies(s.cookieURL, cookies)
}
