package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/types"
)

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		Id:                item.ID,
		PaymentReference:  item.PaymentReference,
		UserRef:           item.UserRef,
		CustomerEmail:     item.CustomerEmail,
		PlanCode:          item.PlanCode,
		AmountCents:       item.AmountCents,
		Currency:          item.Currency,
		Status:            string(item.Status),
		VendorOrderNumber: derefString(item.VendorOrderNumber),
		ProvisionAttempts: item.ProvisionAttempts,
		LastError:         derefString(item.LastError),
		ReceiptSent:       item.ReceiptSent,
		ReceiptSentAt:     formatTimePtr(item.ReceiptSentAt),
		CreatedAt:         formatTime(item.CreatedAt),
		UpdatedAt:         formatTime(item.UpdatedAt),
	}
}

func OrdersToResponse(items []*entity.Order) []*types.Order {
	result := make([]*types.Order, 0, len(items))
	for _, item := range items {
		result = append(result, OrderToResponse(item))
	}
	return result
}

func ProfileToResponse(item *entity.EsimProfile) *types.EsimProfile {
	if item == nil {
		return nil
	}

	return &types.EsimProfile{
		Id:                  item.ID,
		Iccid:               item.ICCID,
		ActivationCode:      item.ActivationCode,
		QrCodeUrl:           item.QRCodeURL,
		VendorTransactionNo: item.VendorTransactionNo,
		Status:              item.Status,
		TotalVolumeBytes:    item.TotalVolumeBytes,
		UsedBytes:           item.UsedBytes,
		ExpiresAt:           formatTimePtr(item.ExpiresAt),
		LastSyncedAt:        formatTimePtr(item.LastSyncedAt),
	}
}

func OrderDetailsToResponse(details *service.OrderDetails) *types.OrderDetailsResponse {
	if details == nil {
		return nil
	}

	resp := &types.OrderDetailsResponse{
		Order:         OrderToResponse(details.Order),
		Profile:       ProfileToResponse(details.Profile),
		Usage:         make([]*types.UsageRecord, 0, len(details.Usage)),
		Events:        make([]*types.OrderEvent, 0, len(details.Events)),
		Notifications: make([]*types.Notification, 0, len(details.Notifications)),
	}
	for _, rec := range details.Usage {
		resp.Usage = append(resp.Usage, &types.UsageRecord{
			UsedBytes:  rec.UsedBytes,
			RecordedAt: formatTime(rec.RecordedAt),
		})
	}
	for _, evt := range details.Events {
		item := &types.OrderEvent{
			EventType: evt.EventType,
			NewStatus: string(evt.NewStatus),
			Detail:    derefString(evt.Detail),
			CreatedAt: formatTime(evt.CreatedAt),
		}
		if evt.OldStatus != nil {
			item.OldStatus = string(*evt.OldStatus)
		}
		resp.Events = append(resp.Events, item)
	}
	for _, n := range details.Notifications {
		resp.Notifications = append(resp.Notifications, &types.Notification{
			Kind:      string(n.Kind),
			Status:    notificationStatusName(n.Status),
			Attempts:  n.Attempts,
			NextAt:    formatTimePtr(n.NextAt),
			LastError: derefString(n.LastError),
		})
	}
	return resp
}

func TopUpToResponse(item *entity.TopUp) *types.TopUp {
	if item == nil {
		return nil
	}

	return &types.TopUp{
		Id:                  item.ID,
		PackageCode:         item.PackageCode,
		PaymentReference:    item.PaymentReference,
		TransactionId:       item.TransactionID,
		RechargeOrderNumber: derefString(item.RechargeOrderNumber),
		Status:              topUpStatusName(item.Status),
		LastError:           derefString(item.LastError),
		CreatedAt:           formatTime(item.CreatedAt),
	}
}

func TopUpsToResponse(items []*entity.TopUp) []*types.TopUp {
	result := make([]*types.TopUp, 0, len(items))
	for _, item := range items {
		result = append(result, TopUpToResponse(item))
	}
	return result
}

func RetryReportToResponse(report service.RetryReport) *types.RetryReportResponse {
	return &types.RetryReportResponse{
		Selected:    report.Selected,
		Provisioned: report.Provisioned,
		Pending:     report.Pending,
		Failed:      report.Failed,
		Skipped:     report.Skipped,
		Errors:      report.Errors,
		CatchUpSent: report.CatchUp.Sent + report.CatchUp.Mocked,
	}
}

func SyncReportToResponse(report service.SyncReport) *types.SyncReportResponse {
	return &types.SyncReportResponse{
		Profiles:           report.Profiles,
		ProfilesUpdated:    report.ProfilesUpdated,
		ProfileFailures:    report.ProfileFailures,
		UsageChunks:        report.UsageChunks,
		UsageChunkFailures: report.UsageChunkFailures,
		UsageRecorded:      report.UsageRecorded,
	}
}

func notificationStatusName(status int32) string {
	switch status {
	case entity.NotificationStatusPending:
		return "pending"
	case entity.NotificationStatusDelivered:
		return "delivered"
	case entity.NotificationStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func topUpStatusName(status int32) string {
	switch status {
	case entity.TopUpStatusRequested:
		return "requested"
	case entity.TopUpStatusAccepted:
		return "accepted"
	case entity.TopUpStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
