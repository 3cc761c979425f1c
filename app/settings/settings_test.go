package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSource) LoadSettings(context.Context) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func TestStoreStartsWithDefaults(t *testing.T) {
	store := NewStore(&fakeSource{})

	assert.False(t, store.MockMode())
	assert.True(t, store.EmailEnabled())
}

func TestStoreRefreshAppliesValues(t *testing.T) {
	source := &fakeSource{values: map[string]string{KeyMockMode: "true", KeyEmailEnabled: "0"}}
	store := NewStore(source)

	snap, err := store.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.MockMode)
	assert.False(t, snap.EmailEnabled)
	assert.False(t, snap.LoadedAt.IsZero())
	assert.True(t, store.MockMode())
}

func TestStoreRefreshFailureKeepsSnapshot(t *testing.T) {
	source := &fakeSource{values: map[string]string{KeyMockMode: "1"}}
	store := NewStore(source)
	_, err := store.Refresh(context.Background())
	require.NoError(t, err)

	source.err = errors.New("db down")
	_, err = store.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, store.MockMode())
}

func TestStoreInvalidate(t *testing.T) {
	source := &fakeSource{values: map[string]string{}}
	store := NewStore(source)

	require.NoError(t, store.RefreshIfStale(context.Background()))
	require.NoError(t, store.RefreshIfStale(context.Background()))
	assert.Equal(t, 1, source.calls)

	store.Invalidate()
	require.NoError(t, store.RefreshIfStale(context.Background()))
	assert.Equal(t, 2, source.calls)
}

func TestParseBoolFallsBack(t *testing.T) {
	assert.True(t, parseBool("garbage", true))
	assert.False(t, parseBool("garbage", false))
	assert.True(t, parseBool("yes", false))
}

func TestStoreRunReloadsAfterInvalidate(t *testing.T) {
	source := &lockedSource{values: map[string]string{KeyMockMode: "true"}}
	store := NewStore(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Hour)
		close(done)
	}()

	store.Invalidate()
	require.Eventually(t, store.MockMode, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, source.count())

	cancel()
	<-done
}

type lockedSource struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
}

func (s *lockedSource) LoadSettings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.values, nil
}

func (s *lockedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
