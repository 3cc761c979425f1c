package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/mapper"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/settings"
	"github.com/vibast-solutions/ms-go-esim/app/types"
)

type sweepRunner interface {
	RunOrderRetryBatch(ctx context.Context) (service.RetryReport, error)
	RunProfileSyncBatch(ctx context.Context) (service.SyncReport, error)
}

type settingsStore interface {
	Refresh(ctx context.Context) (settings.Snapshot, error)
	Invalidate()
}

type settingsWriter interface {
	Set(ctx context.Context, key, value string, now time.Time) error
}

// OpsController exposes the operator triggers: sweeps on demand and runtime toggles.
type OpsController struct {
	sweeps   sweepRunner
	settings settingsStore
	writer   settingsWriter
	logger   logrus.FieldLogger
}

func NewOpsController(sweeps sweepRunner, store settingsStore, writer settingsWriter) *OpsController {
	return &OpsController{
		sweeps:   sweeps,
		settings: store,
		writer:   writer,
		logger:   factory.NewModuleLogger("ops-controller"),
	}
}

func (c *OpsController) RetryNow(ctx echo.Context) error {
	report, err := c.sweeps.RunOrderRetryBatch(ctx.Request().Context())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Retry sweep failed")
		return writeError(ctx, http.StatusInternalServerError, "retry sweep could not select orders")
	}
	return ctx.JSON(http.StatusOK, mapper.RetryReportToResponse(report))
}

func (c *OpsController) SyncNow(ctx echo.Context) error {
	report, err := c.sweeps.RunProfileSyncBatch(ctx.Request().Context())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Profile sync failed")
		return writeError(ctx, http.StatusInternalServerError, "profile sync could not select profiles")
	}
	return ctx.JSON(http.StatusOK, mapper.SyncReportToResponse(report))
}

func (c *OpsController) RefreshSettings(ctx echo.Context) error {
	snapshot, err := c.settings.Refresh(ctx.Request().Context())
	if err != nil {
		// hand the reload to the background refresher
		c.settings.Invalidate()
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Settings refresh failed")
		return writeError(ctx, http.StatusInternalServerError, "settings refresh failed")
	}
	return ctx.JSON(http.StatusOK, settingsResponse(snapshot))
}

func (c *OpsController) UpdateSetting(ctx echo.Context) error {
	req, err := types.NewUpdateSettingRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	value, _ := strconv.ParseBool(req.Value)
	if err := c.writer.Set(ctx.Request().Context(), req.Key, strconv.FormatBool(value), time.Now().UTC()); err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Update setting failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return c.RefreshSettings(ctx)
}

func settingsResponse(snapshot settings.Snapshot) *types.SettingsResponse {
	resp := &types.SettingsResponse{
		MockMode:     snapshot.MockMode,
		EmailEnabled: snapshot.EmailEnabled,
	}
	if !snapshot.LoadedAt.IsZero() {
		resp.LoadedAt = snapshot.LoadedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
