package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/events"
	"github.com/vibast-solutions/ms-go-esim/config"
)

func newDispatcherForTest(h *harness, publisher *fakePublisher, maxAttempts int32) (*NotificationService, *fakeNotificationRepo) {
	repo := &fakeNotificationRepo{store: h.store}
	svc := NewNotificationService(repo, h.orders, h.profiles, h.gate, publisher, config.NotificationsConfig{
		MaxAttempts:   maxAttempts,
		RetryInterval: time.Minute,
		BatchSize:     10,
	}, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func TestDispatchDeliversEmailAndEvent(t *testing.T) {
	h := newHarness()
	publisher := &fakePublisher{}
	svc, repo := newDispatcherForTest(h, publisher, 3)

	order := seedProvisionedOrder(h, "d1")
	for _, kind := range []entity.NotificationKind{entity.NotificationKindEsimReadyEmail, entity.NotificationKindOrderProvisionedEvent} {
		if _, err := repo.Enqueue(context.Background(), order.ID, kind, fixedNow); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	report, err := svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchNotificationsBatch() error = %v", err)
	}
	if report.Selected != 2 || report.Delivered != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if h.sender.count() != 1 {
		t.Fatalf("expected one email, got %d", h.sender.count())
	}
	if len(publisher.payloads) != 1 || publisher.keys[0] != strconv.FormatUint(order.ID, 10) {
		t.Fatalf("expected one event keyed by order id, got %v", publisher.keys)
	}

	var payload events.OrderProvisioned
	if err := json.Unmarshal(publisher.payloads[0], &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload.OrderID != order.ID || payload.ICCID != "8901d1" || payload.VendorOrderNumber != "V-d1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	items, _ := repo.ListByOrder(context.Background(), order.ID)
	for _, item := range items {
		if item.Status != entity.NotificationStatusDelivered {
			t.Fatalf("expected delivered, got %d for %s", item.Status, item.Kind)
		}
	}

	report, err = svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil || report.Selected != 0 {
		t.Fatalf("expected nothing due, got %+v err=%v", report, err)
	}
}

func TestDispatchSchedulesRetryThenFails(t *testing.T) {
	h := newHarness()
	publisher := &fakePublisher{err: errors.New("broker unreachable")}
	svc, repo := newDispatcherForTest(h, publisher, 2)

	order := seedProvisionedOrder(h, "d2")
	if _, err := repo.Enqueue(context.Background(), order.ID, entity.NotificationKindOrderProvisionedEvent, fixedNow); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchNotificationsBatch() error = %v", err)
	}
	if report.Retried != 1 {
		t.Fatalf("expected retry, got %+v", report)
	}
	items, _ := repo.ListByOrder(context.Background(), order.ID)
	item := items[0]
	if item.Status != entity.NotificationStatusPending || item.Attempts != 1 || item.NextAt == nil || !item.NextAt.Equal(fixedNow.Add(time.Minute)) {
		t.Fatalf("unexpected retry state %+v", item)
	}
	if item.LastError == nil {
		t.Fatalf("expected last error recorded")
	}

	svc.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	report, err = svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchNotificationsBatch() error = %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected terminal failure, got %+v", report)
	}
	items, _ = repo.ListByOrder(context.Background(), order.ID)
	if items[0].Status != entity.NotificationStatusFailed || items[0].NextAt != nil {
		t.Fatalf("unexpected failed state %+v", items[0])
	}
}

func TestDispatchEmailFailureDoesNotMarkFlag(t *testing.T) {
	h := newHarness()
	h.sender.err = errors.New("provider 503")
	svc, repo := newDispatcherForTest(h, &fakePublisher{}, 5)

	order := seedProvisionedOrder(h, "d3")
	if _, err := repo.Enqueue(context.Background(), order.ID, entity.NotificationKindEsimReadyEmail, fixedNow); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchNotificationsBatch() error = %v", err)
	}
	if report.Retried != 1 {
		t.Fatalf("expected retry, got %+v", report)
	}
	if h.store.order(order.ID).ReceiptSent {
		t.Fatalf("flag must stay unset")
	}

	h.sender.err = nil
	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	report, err = svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil || report.Delivered != 1 {
		t.Fatalf("expected delivery on retry, got %+v err=%v", report, err)
	}
	if !h.store.order(order.ID).ReceiptSent || h.sender.count() != 1 {
		t.Fatalf("expected one send with flag set")
	}
}

func TestDispatchUnknownKindFails(t *testing.T) {
	h := newHarness()
	svc, repo := newDispatcherForTest(h, &fakePublisher{}, 1)

	order := seedProvisionedOrder(h, "d4")
	if _, err := repo.Enqueue(context.Background(), order.ID, entity.NotificationKind("sms"), fixedNow); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := svc.RunDispatchNotificationsBatch(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchNotificationsBatch() error = %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected failure for unknown kind, got %+v", report)
	}
}
