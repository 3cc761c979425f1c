package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/vendor"
)

type RetryReport struct {
	Selected    int
	Provisioned int
	Pending     int
	Failed      int
	Skipped     int
	Errors      int
	CatchUp     CatchUpReport
}

type CatchUpReport struct {
	Candidates int
	Sent       int
	Mocked     int
	Skipped    int
	Failed     int
}

type SyncReport struct {
	Profiles           int
	ProfilesUpdated    int
	ProfileFailures    int
	UsageChunks        int
	UsageChunkFailures int
	UsageRecorded      int
}

// RunOrderRetryBatch re-attempts one bounded batch of stuck orders, then runs
// the catch-up notification pass. An item failure never aborts the batch; the
// returned error only reports a failed selection query. Cancelling ctx stops
// the batch between orders; an attempt already running is finished.
func (s *ProvisioningService) RunOrderRetryBatch(ctx context.Context) (RetryReport, error) {
	var report RetryReport

	staleBefore := s.now().UTC().Add(-s.cfg.LeaseTTL)
	orders, listErr := s.orders.ListRetryable(ctx, staleBefore, s.cfg.RetryBatchSize)
	if listErr != nil {
		s.logger.WithError(listErr).Error("failed to select retryable orders")
	}
	report.Selected = len(orders)

	for _, order := range orders {
		if order == nil {
			continue
		}
		if ctx.Err() != nil {
			s.logger.WithField("order_id", order.ID).Info("order retry batch interrupted, remaining orders left for the next run")
			break
		}
		status, err := s.runLeased(ctx, order.ID)
		switch {
		case errors.Is(err, ErrProvisioningInProgress):
			report.Skipped++
			continue
		case err != nil:
			report.Errors++
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("order retry failed")
			continue
		}

		switch status {
		case entity.OrderStatusProvisioned:
			report.Provisioned++
		case entity.OrderStatusProfilePending, entity.OrderStatusProvisioningRequested:
			report.Pending++
		default:
			report.Failed++
		}
	}

	catchUp, catchUpErr := s.RunCatchUpNotifications(ctx)
	report.CatchUp = catchUp

	s.logger.WithFields(logrus.Fields{
		"selected":    report.Selected,
		"provisioned": report.Provisioned,
		"pending":     report.Pending,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"catch_up":    catchUp.Candidates,
	}).Info("order retry batch finished")

	return report, keepFirstErr(listErr, catchUpErr)
}

// RunCatchUpNotifications sends the ready email for every order that already
// has a profile but no receipt, paging by id so orders that keep failing never
// hide the ones behind them. Each order goes through the gate, which re-checks
// the persisted flag before sending.
func (s *ProvisioningService) RunCatchUpNotifications(ctx context.Context) (CatchUpReport, error) {
	var report CatchUpReport
	if s.gate == nil {
		return report, nil
	}

	var afterID uint64
	for ctx.Err() == nil {
		orders, err := s.orders.ListAwaitingReceipt(ctx, afterID, s.catchUpLimit)
		if err != nil {
			s.logger.WithError(err).Error("failed to select orders awaiting receipt")
			return report, err
		}
		report.Candidates += len(orders)

		for _, order := range orders {
			if order == nil {
				continue
			}
			afterID = order.ID
			if ctx.Err() != nil {
				break
			}
			outcome, err := s.deliverReadySafely(context.WithoutCancel(ctx), order.ID)
			if err != nil {
				s.logger.WithError(err).WithField("order_id", order.ID).Warn("catch-up notification not delivered")
			}
			switch outcome {
			case OutcomeSent:
				report.Sent++
			case OutcomeMock:
				report.Mocked++
			case OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
		}

		if len(orders) < int(s.catchUpLimit) {
			break
		}
	}

	return report, nil
}

func (s *ProvisioningService) deliverReadySafely(ctx context.Context, orderID uint64) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("ready email panicked: %v", r)
		}
	}()
	return s.gate.DeliverReady(ctx, orderID)
}

// RunProfileSyncBatch refreshes every profile from the vendor, then pulls usage
// in fixed-size chunks. Per-profile and per-chunk failures are counted and
// skipped.
func (s *ProvisioningService) RunProfileSyncBatch(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	profileErr := s.syncProfiles(ctx, &report)
	usageErr := s.syncUsage(ctx, &report)

	s.logger.WithFields(logrus.Fields{
		"profiles":             report.Profiles,
		"profiles_updated":     report.ProfilesUpdated,
		"profile_failures":     report.ProfileFailures,
		"usage_chunks":         report.UsageChunks,
		"usage_chunk_failures": report.UsageChunkFailures,
		"usage_recorded":       report.UsageRecorded,
	}).Info("profile sync finished")

	return report, keepFirstErr(profileErr, usageErr)
}

func (s *ProvisioningService) syncProfiles(ctx context.Context, report *SyncReport) error {
	var afterID uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		targets, err := s.profiles.ListSyncTargets(ctx, afterID, s.cfg.SyncPageSize)
		if err != nil {
			s.logger.WithError(err).Error("failed to select profiles for sync")
			return err
		}
		if len(targets) == 0 {
			return nil
		}

		for _, target := range targets {
			report.Profiles++
			if err := s.syncProfileSafely(ctx, target); err != nil {
				report.ProfileFailures++
				s.logger.WithError(err).WithField("profile_id", target.Profile.ID).Warn("profile sync failed")
				continue
			}
			report.ProfilesUpdated++
		}

		afterID = targets[len(targets)-1].Profile.ID
		if int32(len(targets)) < s.cfg.SyncPageSize {
			return nil
		}
	}
}

func (s *ProvisioningService) syncProfileSafely(ctx context.Context, target entity.SyncTarget) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("profile sync panicked: %v", r)
		}
	}()

	profiles, err := s.vendor.QueryProfiles(ctx, target.VendorOrderNumber, 1)
	s.metrics.VendorCall("query_profiles", err)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}

	match := matchProfile(profiles, target.Profile.ICCID, target.Profile.VendorTransactionNo)
	return s.profiles.ApplySync(ctx, target.Profile.ID, profileUpdateFrom(match), s.now().UTC())
}

func (s *ProvisioningService) syncUsage(ctx context.Context, report *SyncReport) error {
	var afterID uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		profiles, err := s.profiles.ListWithTransactionNo(ctx, afterID, s.cfg.SyncPageSize)
		if err != nil {
			s.logger.WithError(err).Error("failed to select profiles for usage sync")
			return err
		}
		if len(profiles) == 0 {
			return nil
		}

		for start := 0; start < len(profiles); start += s.cfg.UsageChunkSize {
			end := start + s.cfg.UsageChunkSize
			if end > len(profiles) {
				end = len(profiles)
			}
			report.UsageChunks++
			recorded, err := s.syncUsageChunkSafely(ctx, profiles[start:end])
			report.UsageRecorded += recorded
			if err != nil {
				report.UsageChunkFailures++
				s.logger.WithError(err).WithField("chunk_size", end-start).Warn("usage chunk failed")
			}
		}

		afterID = profiles[len(profiles)-1].ID
		if int32(len(profiles)) < s.cfg.SyncPageSize {
			return nil
		}
	}
}

func (s *ProvisioningService) syncUsageChunkSafely(ctx context.Context, chunk []*entity.EsimProfile) (recorded int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usage chunk panicked: %v", r)
		}
	}()

	byTranNo := make(map[string]*entity.EsimProfile, len(chunk))
	tranNos := make([]string, 0, len(chunk))
	for _, profile := range chunk {
		if profile == nil || profile.VendorTransactionNo == "" {
			continue
		}
		if _, seen := byTranNo[profile.VendorTransactionNo]; seen {
			continue
		}
		byTranNo[profile.VendorTransactionNo] = profile
		tranNos = append(tranNos, profile.VendorTransactionNo)
	}
	if len(tranNos) == 0 {
		return 0, nil
	}

	items, err := s.vendor.QueryUsage(ctx, tranNos)
	s.metrics.VendorCall("query_usage", err)
	if err != nil {
		return 0, err
	}

	var firstErr error
	for _, item := range items {
		profile, ok := byTranNo[item.VendorTransactionNo]
		if !ok {
			continue
		}
		appended, err := s.usage.RecordIfChanged(ctx, profile.ID, item.UsedBytes, item.TotalBytes, s.now().UTC())
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if appended {
			recorded++
			s.metrics.UsageRecordAppended()
		}
	}

	return recorded, firstErr
}

// matchProfile picks the vendor profile for a stored one: ICCID first, then
// vendor transaction number, then the first entry.
func matchProfile(profiles []vendor.Profile, iccid, tranNo string) vendor.Profile {
	if iccid != "" {
		for _, p := range profiles {
			if p.ICCID == iccid {
				return p
			}
		}
	}
	if tranNo != "" {
		for _, p := range profiles {
			if p.VendorTransactionNo == tranNo {
				return p
			}
		}
	}
	return profiles[0]
}

func profileUpdateFrom(p vendor.Profile) entity.ProfileUpdate {
	return entity.ProfileUpdate{
		ICCID:               optionalString(p.ICCID),
		ActivationCode:      optionalString(p.ActivationCode),
		QRCodeURL:           optionalString(p.QRCodeURL),
		VendorTransactionNo: optionalString(p.VendorTransactionNo),
		Status:              optionalString(p.Status),
		TotalVolumeBytes:    p.TotalVolumeBytes,
		ExpiresAt:           p.ExpiresAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
