// Package watchlist extracts tracked identifiers from a text blob and reloads
// them when the blob's modification time advances.
package watchlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "mirrorwatch/pkg/logx"
)

// DefaultPattern captures 1-15 identifier characters enclosed in double quotes.
const DefaultPattern = `"([A-Za-z0-9_]{1,15})"`

// DefaultDenylist holds tokens that match the pattern but are site sections,
// not accounts.
var DefaultDenylist = []string{
	"chat", "grok", "bookmarks", "communities", "premium_sign_up",
	"post", "home", "explore", "messages", "settings",
}

type Options struct {
	Path     string
	Pattern  string
	Denylist []string
}

type Store struct {
	log logx.Logger

	// mu serializes Refresh and Apply; readers never take it.
	mu       sync.Mutex
	path     string
	re       *regexp.Regexp
	deny     map[string]struct{}
	lastMod  time.Time
	hasMod   bool
	current  atomic.Pointer[[]string]
	version  atomic.Uint64
	onChange func(ids []string)
}

func New(opt Options, log logx.Logger) (*Store, error) {
	s := &Store{log: log}
	empty := []string{}
	s.current.Store(&empty)
	if err := s.Apply(opt); err != nil {
		return nil, err
	}
	return s, nil
}

// OnChange registers a callback invoked after each successful reload.
func (s *Store) OnChange(fn func(ids []string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Apply swaps path, pattern and denylist. The next Refresh reloads
// unconditionally.
func (s *Store) Apply(opt Options) error {
	pattern := strings.TrimSpace(opt.Pattern)
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("watchlist pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return errors.New("watchlist pattern needs one capture group")
	}
	list := opt.Denylist
	if list == nil {
		list = DefaultDenylist
	}
	deny := make(map[string]struct{}, len(list))
	for _, d := range list {
		deny[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = strings.TrimSpace(opt.Path)
	s.re = re
	s.deny = deny
	s.hasMod = false
	return nil
}

// Refresh reloads the set when the blob's mtime is strictly newer than the
// last one seen. A missing blob keeps the previous set and is not an error.
func (s *Store) Refresh() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat watchlist: %w", err)
	}
	mod := fi.ModTime()
	if s.hasMod && !mod.After(s.lastMod) {
		return false, nil
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read watchlist: %w", err)
	}
	ids := Extract(string(b), s.re, s.deny)
	s.current.Store(&ids)
	s.lastMod = mod
	s.hasMod = true
	s.version.Add(1)

	s.log.Info("watchlist reloaded", logx.Int("accounts", len(ids)), logx.String("path", s.path))
	if s.onChange != nil {
		s.onChange(slices.Clone(ids))
	}
	return true, nil
}

// Current returns a copy of the identifiers in file order.
func (s *Store) Current() []string {
	return slices.Clone(*s.current.Load())
}

// Version increments on every successful reload.
func (s *Store) Version() uint64 { return s.version.Load() }

// Extract returns capture group 1 of every match, dropping denylisted tokens
// (case-insensitive) and later duplicates.
func Extract(content string, re *regexp.Regexp, deny map[string]struct{}) []string {
	matches := re.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if len(m) < 2 || m[1] == "" {
			continue
		}
		tok := m[1]
		if _, bad := deny[strings.ToLower(tok)]; bad {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
