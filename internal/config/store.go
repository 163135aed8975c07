package config

import (
	"crypto/sha256"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Store owns the on-disk configuration: it loads it at startup, persists
// application-initiated changes, and watches the file for external edits.
// It uses polling (not inotify) to keep dependencies minimal; change
// detection is mtime first, then a SHA-256 content hash so touched-but-equal
// files and the store's own writes never re-emit commands.
type Store struct {
	path     string
	logger   *log.Logger
	interval time.Duration
	debounce time.Duration

	mu        sync.Mutex
	current   *Config
	lastHash  [sha256.Size]byte
	lastMtime time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithPollInterval sets the watch polling interval. The default is 500ms.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDebounce sets how long a changed file must stay quiet before it is
// processed, coalescing editor save bursts and drag-driven position writes.
// The default is 500ms.
func WithDebounce(d time.Duration) StoreOption {
	return func(s *Store) { s.debounce = d }
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// OpenStore loads the config at path. A missing file is created with
// defaults; a malformed one logs a warning and yields defaults without
// touching the file.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   log.Default(),
		interval: 500 * time.Millisecond,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		s.logger.Info("created default configuration", "path", path)
	case err != nil:
		s.logger.Warn("malformed configuration, using defaults", "path", path, "err", err)
		cfg = Default()
	}
	s.current = cfg
	s.lastHash, s.lastMtime = s.fileState()
	return s, nil
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Current returns the most recently loaded valid config. The returned value
// is treated as immutable; use Update to change it.
func (s *Store) Current() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies mutate to a copy of the current config, persists it, and
// installs it as current. The write is recorded so the watcher does not
// bounce it back as an external change.
func (s *Store) Update(mutate func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	mutate(next)
	next.normalize()

	if err := Save(s.path, next); err != nil {
		return err
	}
	s.current = next
	s.lastHash, s.lastMtime = s.fileState()
	return nil
}

// Watch starts polling the file and invokes onChange with the diff for every
// external edit that actually changes a watched value. Call Close to stop.
func (s *Store) Watch(onChange func(Diff, *Config)) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.check(onChange)
			}
		}
	}()
}

// Close stops the watcher.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// check processes one poll tick: quick mtime comparison, debounce, content
// hash, parse, diff, dispatch.
func (s *Store) check(onChange func(Diff, *Config)) {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}

	s.mu.Lock()
	mtime := s.lastMtime
	s.mu.Unlock()
	if info.ModTime().Equal(mtime) {
		return
	}

	// Let save bursts settle before reading.
	if time.Since(info.ModTime()) < s.debounce {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("config watcher: cannot read file", "path", s.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)

	s.mu.Lock()
	if hash == s.lastHash {
		// Touched but identical content (often our own write).
		s.lastMtime = info.ModTime()
		s.mu.Unlock()
		return
	}

	cfg, err := Parse(data)
	if err != nil {
		// Keep the previous config; a later fix shows up as a new hash.
		s.lastHash = hash
		s.lastMtime = info.ModTime()
		s.mu.Unlock()
		s.logger.Warn("config watcher: malformed change ignored", "path", s.path, "err", err)
		return
	}

	old := s.current
	s.current = cfg
	s.lastHash = hash
	s.lastMtime = info.ModTime()
	s.mu.Unlock()

	diff := Compare(old, cfg)
	if !diff.Changed() {
		s.logger.Debug("config changed on disk, no watched value affected", "path", s.path)
		return
	}
	s.logger.Info("configuration reloaded", "path", s.path)
	onChange(diff, cfg)
}

// fileState hashes the file as it exists on disk. Must be called with the
// lock held (or before the watcher starts).
func (s *Store) fileState() ([sha256.Size]byte, time.Time) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(s.path)
	if err != nil {
		return zero, time.Time{}
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return zero, time.Time{}
	}
	return sha256.Sum256(data), info.ModTime()
}
