package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/settings"
	"github.com/vibast-solutions/ms-go-esim/app/types"
)

type controllerSweeps struct {
	retryFn func(ctx context.Context) (service.RetryReport, error)
	syncFn  func(ctx context.Context) (service.SyncReport, error)
}

func (s *controllerSweeps) RunOrderRetryBatch(ctx context.Context) (service.RetryReport, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx)
	}
	return service.RetryReport{}, nil
}

func (s *controllerSweeps) RunProfileSyncBatch(ctx context.Context) (service.SyncReport, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx)
	}
	return service.SyncReport{}, nil
}

type controllerSettingsStore struct {
	snapshot    settings.Snapshot
	refreshErr  error
	invalidated int
	refreshed   int
}

func (s *controllerSettingsStore) Refresh(context.Context) (settings.Snapshot, error) {
	s.refreshed++
	return s.snapshot, s.refreshErr
}

func (s *controllerSettingsStore) Invalidate() {
	s.invalidated++
}

type controllerSettingsWriter struct {
	values map[string]string
	err    error
}

func (w *controllerSettingsWriter) Set(_ context.Context, key, value string, _ time.Time) error {
	if w.err != nil {
		return w.err
	}
	if w.values == nil {
		w.values = map[string]string{}
	}
	w.values[key] = value
	return nil
}

func TestRetryNow(t *testing.T) {
	sweeps := &controllerSweeps{retryFn: func(context.Context) (service.RetryReport, error) {
		return service.RetryReport{Selected: 2, Provisioned: 1, Pending: 1, CatchUp: service.CatchUpReport{Sent: 1}}, nil
	}}
	c := NewOpsController(sweeps, &controllerSettingsStore{}, &controllerSettingsWriter{})
	ctx, rec := newOrderContext(http.MethodPost, "/ops/retry-now", "", nil)

	if err := c.RetryNow(ctx); err != nil {
		t.Fatalf("RetryNow() error = %v", err)
	}
	var resp types.RetryReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Selected != 2 || resp.Provisioned != 1 || resp.CatchUpSent != 1 {
		t.Fatalf("unexpected report %+v", resp)
	}
}

func TestRetryNowSelectionFailure(t *testing.T) {
	sweeps := &controllerSweeps{retryFn: func(context.Context) (service.RetryReport, error) {
		return service.RetryReport{}, errors.New("db down")
	}}
	c := NewOpsController(sweeps, &controllerSettingsStore{}, &controllerSettingsWriter{})
	ctx, rec := newOrderContext(http.MethodPost, "/ops/retry-now", "", nil)

	_ = c.RetryNow(ctx)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSyncNow(t *testing.T) {
	sweeps := &controllerSweeps{syncFn: func(context.Context) (service.SyncReport, error) {
		return service.SyncReport{Profiles: 3, UsageRecorded: 2}, nil
	}}
	c := NewOpsController(sweeps, &controllerSettingsStore{}, &controllerSettingsWriter{})
	ctx, rec := newOrderContext(http.MethodPost, "/ops/sync-now", "", nil)

	_ = c.SyncNow(ctx)
	var resp types.SyncReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Profiles != 3 || resp.UsageRecorded != 2 {
		t.Fatalf("unexpected report %+v", resp)
	}
}

func TestRefreshSettings(t *testing.T) {
	store := &controllerSettingsStore{snapshot: settings.Snapshot{
		MockMode:     true,
		EmailEnabled: false,
		LoadedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
	c := NewOpsController(&controllerSweeps{}, store, &controllerSettingsWriter{})
	ctx, rec := newOrderContext(http.MethodPost, "/ops/settings/refresh", "", nil)

	_ = c.RefreshSettings(ctx)
	if store.invalidated != 0 || store.refreshed != 1 {
		t.Fatalf("expected a single direct refresh, got %d/%d", store.invalidated, store.refreshed)
	}
	var resp types.SettingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.MockMode || resp.EmailEnabled || resp.LoadedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected settings %+v", resp)
	}
}

func TestRefreshSettingsFailure(t *testing.T) {
	store := &controllerSettingsStore{refreshErr: errors.New("db down")}
	c := NewOpsController(&controllerSweeps{}, store, &controllerSettingsWriter{})
	ctx, rec := newOrderContext(http.MethodPost, "/ops/settings/refresh", "", nil)

	_ = c.RefreshSettings(ctx)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if store.invalidated != 1 {
		t.Fatalf("expected failed refresh to invalidate the store, got %d", store.invalidated)
	}
}

func TestUpdateSetting(t *testing.T) {
	store := &controllerSettingsStore{snapshot: settings.Snapshot{MockMode: true, EmailEnabled: true}}
	writer := &controllerSettingsWriter{}
	c := NewOpsController(&controllerSweeps{}, store, writer)

	ctx, rec := newOrderContext(http.MethodPut, "/ops/settings/mock_mode", `{"value":true}`, map[string]string{"key": "mock_mode"})
	_ = c.UpdateSetting(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if writer.values["mock_mode"] != "true" {
		t.Fatalf("expected stored value true, got %q", writer.values["mock_mode"])
	}
	if store.refreshed != 1 {
		t.Fatalf("expected settings reload after write")
	}

	ctx, rec = newOrderContext(http.MethodPut, "/ops/settings/email_enabled", `{"value":"OFF"}`, map[string]string{"key": "email_enabled"})
	_ = c.UpdateSetting(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-boolean value, got %d", rec.Code)
	}

	ctx, rec = newOrderContext(http.MethodPut, "/ops/settings/theme", `{"value":"true"}`, map[string]string{"key": "theme"})
	_ = c.UpdateSetting(ctx)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "unknown setting" {
		t.Fatalf("expected unknown setting, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateSettingWriteFailure(t *testing.T) {
	c := NewOpsController(&controllerSweeps{}, &controllerSettingsStore{}, &controllerSettingsWriter{err: errors.New("db down")})
	ctx, rec := newOrderContext(http.MethodPut, "/ops/settings/mock_mode", `{"value":"false"}`, map[string]string{"key": "mock_mode"})

	_ = c.UpdateSetting(ctx)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
