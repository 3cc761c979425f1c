package mapper

import (
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/service"
)

func TestOrderDetailsToResponse(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("EET", 2*3600))
	vendorNo := "V-1"
	old := entity.OrderStatusPaid

	resp := OrderDetailsToResponse(&service.OrderDetails{
		Order: &entity.Order{
			ID:                5,
			PaymentReference:  "pi_5",
			Status:            entity.OrderStatusProvisioned,
			VendorOrderNumber: &vendorNo,
			CreatedAt:         created,
			UpdatedAt:         created,
		},
		Profile: &entity.EsimProfile{ID: 9, ICCID: "8901"},
		Events: []*entity.OrderEvent{{
			EventType: entity.OrderEventStatusChanged,
			OldStatus: &old,
			NewStatus: entity.OrderStatusProvisioned,
			CreatedAt: created,
		}},
		Notifications: []*entity.Notification{{
			Kind:   entity.NotificationKindEsimReadyEmail,
			Status: entity.NotificationStatusDelivered,
		}},
		Usage: []*entity.UsageRecord{{UsedBytes: 1024, RecordedAt: created}},
	})

	if resp.Order.VendorOrderNumber != "V-1" || resp.Order.Status != "provisioned" {
		t.Fatalf("unexpected order %+v", resp.Order)
	}
	if resp.Order.CreatedAt != "2026-03-01T08:00:00Z" {
		t.Fatalf("expected UTC timestamp, got %s", resp.Order.CreatedAt)
	}
	if resp.Profile == nil || resp.Profile.Iccid != "8901" {
		t.Fatalf("unexpected profile %+v", resp.Profile)
	}
	if resp.Events[0].OldStatus != "paid" {
		t.Fatalf("unexpected event %+v", resp.Events[0])
	}
	if resp.Notifications[0].Status != "delivered" {
		t.Fatalf("unexpected notification %+v", resp.Notifications[0])
	}
	if len(resp.Usage) != 1 || resp.Usage[0].UsedBytes != 1024 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestOrderToResponseNil(t *testing.T) {
	if OrderToResponse(nil) != nil {
		t.Fatal("expected nil for nil order")
	}
	if got := OrdersToResponse(nil); len(got) != 0 {
		t.Fatalf("expected empty slice, got %d", len(got))
	}
}

func TestTopUpStatusNames(t *testing.T) {
	item := TopUpToResponse(&entity.TopUp{ID: 1, Status: entity.TopUpStatusFailed})
	if item.Status != "failed" {
		t.Fatalf("expected failed, got %s", item.Status)
	}
}
