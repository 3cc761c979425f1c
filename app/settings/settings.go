package settings

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
)

const (
	KeyMockMode     = "mock_mode"
	KeyEmailEnabled = "email_enabled"
)

// Snapshot is an immutable view of the runtime toggles.
type Snapshot struct {
	MockMode     bool
	EmailEnabled bool
	LoadedAt     time.Time
}

// Defaults apply until the first successful load and for keys missing from the source.
func Defaults() Snapshot {
	return Snapshot{MockMode: false, EmailEnabled: true}
}

type Source interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

type Store struct {
	source  Source
	current atomic.Pointer[Snapshot]
	stale   atomic.Bool
	wake    chan struct{}
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewStore(source Source) *Store {
	s := &Store{
		source: source,
		wake:   make(chan struct{}, 1),
		logger: factory.NewModuleLogger("settings"),
		now:    time.Now,
	}
	initial := Defaults()
	s.current.Store(&initial)
	s.stale.Store(true)
	return s
}

func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

func (s *Store) MockMode() bool {
	return s.Current().MockMode
}

func (s *Store) EmailEnabled() bool {
	return s.Current().EmailEnabled
}

// Refresh reloads the snapshot. On failure the previous snapshot is kept.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	values, err := s.source.LoadSettings(ctx)
	if err != nil {
		return s.Current(), err
	}

	next := Defaults()
	if v, ok := values[KeyMockMode]; ok {
		next.MockMode = parseBool(v, next.MockMode)
	}
	if v, ok := values[KeyEmailEnabled]; ok {
		next.EmailEnabled = parseBool(v, next.EmailEnabled)
	}
	next.LoadedAt = s.now().UTC()

	s.current.Store(&next)
	s.stale.Store(false)
	return next, nil
}

// Invalidate marks the snapshot stale and wakes Run for an immediate reload.
func (s *Store) Invalidate() {
	s.stale.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) RefreshIfStale(ctx context.Context) error {
	if !s.stale.Load() {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// Run refreshes on every tick, and right away after Invalidate, until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			if err := s.RefreshIfStale(ctx); err != nil {
				s.logger.WithError(err).Warn("settings reload after invalidate failed")
			}
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.WithError(err).Warn("settings refresh failed, keeping previous snapshot")
			}
		}
	}
}

func parseBool(raw string, fallback bool) bool {
	switch raw {
	case "1", "true", "TRUE", "True", "on", "yes":
		return true
	case "0", "false", "FALSE", "False", "off", "no":
		return false
	default:
		return fallback
	}
}
