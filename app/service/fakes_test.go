package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/lease"
	"github.com/vibast-solutions/ms-go-esim/app/mailer"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/settings"
	"github.com/vibast-solutions/ms-go-esim/app/vendor"
	"github.com/vibast-solutions/ms-go-esim/config"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore backs every fake repository so cross-table reads stay consistent.
type memStore struct {
	mu            sync.Mutex
	orders        map[uint64]*entity.Order
	profiles      map[uint64]*entity.EsimProfile
	usage         []*entity.UsageRecord
	events        []*entity.OrderEvent
	notifications map[uint64]*entity.Notification
	webhooks      []*entity.PaymentWebhook
	topUps        map[uint64]*entity.TopUp
	nextID        uint64
}

func newMemStore() *memStore {
	return &memStore{
		orders:        map[uint64]*entity.Order{},
		profiles:      map[uint64]*entity.EsimProfile{},
		notifications: map[uint64]*entity.Notification{},
		topUps:        map[uint64]*entity.TopUp{},
		nextID:        1,
	}
}

func (s *memStore) id() uint64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memStore) order(id uint64) *entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.orders[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (s *memStore) profileCount(orderID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.profiles {
		if p.OrderID == orderID {
			count++
		}
	}
	return count
}

func (s *memStore) eventTypes(orderID uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (s *memStore) seedOrder(order entity.Order) *entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.id()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = fixedNow
		order.UpdatedAt = fixedNow
	}
	s.orders[order.ID] = &order
	copyItem := order
	return &copyItem
}

func (s *memStore) seedProfile(profile entity.EsimProfile) *entity.EsimProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.ID = s.id()
	s.profiles[profile.ID] = &profile
	copyItem := profile
	return &copyItem
}

type fakeOrderRepo struct {
	store     *memStore
	createErr error
}

func (r *fakeOrderRepo) Create(_ context.Context, order *entity.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, item := range r.store.orders {
		if item.PaymentReference == order.PaymentReference {
			return repository.ErrOrderAlreadyExists
		}
	}
	order.ID = r.store.id()
	copyItem := *order
	r.store.orders[order.ID] = &copyItem
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, id uint64) (*entity.Order, error) {
	return r.store.order(id), nil
}

func (r *fakeOrderRepo) FindByPaymentReference(_ context.Context, paymentReference string) (*entity.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, item := range r.store.orders {
		if item.PaymentReference == paymentReference {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) List(_ context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.Order, 0)
	for _, item := range r.store.orders {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.UserRef != "" && item.UserRef != filter.UserRef {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (r *fakeOrderRepo) ListRetryable(_ context.Context, staleBefore time.Time, limit int32) ([]*entity.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.Order, 0)
	for _, item := range r.store.orders {
		stale := (item.Status == entity.OrderStatusPaid || item.Status == entity.OrderStatusProvisioningRequested) &&
			item.UpdatedAt.Before(staleBefore)
		if item.Status.IsRetryable() || stale {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *fakeOrderRepo) ListAwaitingReceipt(_ context.Context, afterID uint64, limit int32) ([]*entity.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.Order, 0)
	for _, item := range r.store.orders {
		if item.ReceiptSent || item.ID <= afterID {
			continue
		}
		for _, p := range r.store.profiles {
			if p.OrderID == item.ID {
				copyItem := *item
				items = append(items, &copyItem)
				break
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, id uint64, status entity.OrderStatus, lastError *string, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.orders[id]
	if !ok || item.Status == entity.OrderStatusProvisioned {
		return false, nil
	}
	item.Status = status
	item.LastError = lastError
	item.UpdatedAt = now
	return true, nil
}

func (r *fakeOrderRepo) MarkProvisioned(_ context.Context, id uint64, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.orders[id]
	if !ok || item.Status == entity.OrderStatusProvisioned {
		return false, nil
	}
	item.Status = entity.OrderStatusProvisioned
	item.LastError = nil
	item.UpdatedAt = now
	return true, nil
}

func (r *fakeOrderRepo) SetVendorOrderNumber(_ context.Context, id uint64, number string, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.orders[id]
	if !ok || item.Status == entity.OrderStatusProvisioned {
		return false, nil
	}
	if item.VendorOrderNumber != nil && *item.VendorOrderNumber != number {
		return false, nil
	}
	item.VendorOrderNumber = &number
	item.Status = entity.OrderStatusProvisioningRequested
	item.LastError = nil
	item.UpdatedAt = now
	return true, nil
}

func (r *fakeOrderRepo) IncrementProvisionAttempts(_ context.Context, id uint64, _ time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if item, ok := r.store.orders[id]; ok {
		item.ProvisionAttempts++
	}
	return nil
}

func (r *fakeOrderRepo) MarkReceiptSent(_ context.Context, id uint64, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.orders[id]
	if !ok || item.ReceiptSent {
		return false, nil
	}
	item.ReceiptSent = true
	item.ReceiptSentAt = &now
	return true, nil
}

type fakeProfileRepo struct {
	store    *memStore
	applyErr map[uint64]error
}

func (r *fakeProfileRepo) FindByOrderID(_ context.Context, orderID uint64) (*entity.EsimProfile, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.profiles {
		if p.OrderID == orderID {
			copyItem := *p
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeProfileRepo) Upsert(_ context.Context, profile *entity.EsimProfile, now time.Time) (*entity.EsimProfile, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.profiles {
		if p.OrderID == profile.OrderID {
			if profile.ICCID != "" {
				p.ICCID = profile.ICCID
			}
			if profile.ActivationCode != "" {
				p.ActivationCode = profile.ActivationCode
			}
			if profile.QRCodeURL != "" {
				p.QRCodeURL = profile.QRCodeURL
			}
			if profile.VendorTransactionNo != "" {
				p.VendorTransactionNo = profile.VendorTransactionNo
			}
			p.UpdatedAt = now
			copyItem := *p
			return &copyItem, nil
		}
	}
	copyItem := *profile
	copyItem.ID = r.store.id()
	copyItem.CreatedAt = now
	copyItem.UpdatedAt = now
	r.store.profiles[copyItem.ID] = &copyItem
	out := copyItem
	return &out, nil
}

func (r *fakeProfileRepo) ApplySync(_ context.Context, profileID uint64, update entity.ProfileUpdate, now time.Time) error {
	if err := r.applyErr[profileID]; err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.profiles[profileID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	if update.ICCID != nil {
		p.ICCID = *update.ICCID
	}
	if update.ActivationCode != nil {
		p.ActivationCode = *update.ActivationCode
	}
	if update.QRCodeURL != nil {
		p.QRCodeURL = *update.QRCodeURL
	}
	if update.VendorTransactionNo != nil {
		p.VendorTransactionNo = *update.VendorTransactionNo
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	if update.TotalVolumeBytes != nil {
		p.TotalVolumeBytes = update.TotalVolumeBytes
	}
	if update.ExpiresAt != nil {
		p.ExpiresAt = update.ExpiresAt
	}
	p.LastSyncedAt = &now
	return nil
}

func (r *fakeProfileRepo) sorted(afterID uint64, limit int32, keep func(*entity.EsimProfile) bool) []*entity.EsimProfile {
	items := make([]*entity.EsimProfile, 0)
	for _, p := range r.store.profiles {
		if p.ID > afterID && keep(p) {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *fakeProfileRepo) ListSyncTargets(_ context.Context, afterID uint64, limit int32) ([]entity.SyncTarget, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := r.sorted(afterID, limit, func(p *entity.EsimProfile) bool {
		order := r.store.orders[p.OrderID]
		return order != nil && order.VendorOrderNumber != nil
	})
	targets := make([]entity.SyncTarget, 0, len(items))
	for _, p := range items {
		copyItem := *p
		targets = append(targets, entity.SyncTarget{
			Profile:           &copyItem,
			VendorOrderNumber: *r.store.orders[p.OrderID].VendorOrderNumber,
		})
	}
	return targets, nil
}

func (r *fakeProfileRepo) ListWithTransactionNo(_ context.Context, afterID uint64, limit int32) ([]*entity.EsimProfile, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := r.sorted(afterID, limit, func(p *entity.EsimProfile) bool { return p.VendorTransactionNo != "" })
	out := make([]*entity.EsimProfile, 0, len(items))
	for _, p := range items {
		copyItem := *p
		out = append(out, &copyItem)
	}
	return out, nil
}

type fakeUsageRepo struct {
	store *memStore
}

func (r *fakeUsageRepo) RecordIfChanged(_ context.Context, profileID uint64, usedBytes int64, totalBytes *int64, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.profiles[profileID]
	if !ok {
		return false, repository.ErrProfileNotFound
	}
	if p.UsedBytes != nil && *p.UsedBytes == usedBytes {
		return false, nil
	}
	used := usedBytes
	p.UsedBytes = &used
	if totalBytes != nil {
		p.TotalVolumeBytes = totalBytes
	}
	r.store.usage = append(r.store.usage, &entity.UsageRecord{
		ID:         r.store.id(),
		ProfileID:  profileID,
		UsedBytes:  usedBytes,
		RecordedAt: now,
	})
	return true, nil
}

func (r *fakeUsageRepo) ListByProfile(_ context.Context, profileID uint64, _ int32) ([]*entity.UsageRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*entity.UsageRecord, 0)
	for _, rec := range r.store.usage {
		if rec.ProfileID == profileID {
			copyItem := *rec
			out = append(out, &copyItem)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	store *memStore
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.OrderEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	event.ID = r.store.id()
	copyItem := *event
	r.store.events = append(r.store.events, &copyItem)
	return nil
}

func (r *fakeEventRepo) ListByOrder(_ context.Context, orderID uint64, _ int32) ([]*entity.OrderEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*entity.OrderEvent, 0)
	for _, e := range r.store.events {
		if e.OrderID == orderID {
			copyItem := *e
			out = append(out, &copyItem)
		}
	}
	return out, nil
}

type fakeNotificationRepo struct {
	store *memStore
}

func (r *fakeNotificationRepo) Enqueue(_ context.Context, orderID uint64, kind entity.NotificationKind, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, n := range r.store.notifications {
		if n.OrderID == orderID && n.Kind == kind {
			return false, nil
		}
	}
	id := r.store.id()
	next := now
	r.store.notifications[id] = &entity.Notification{
		ID:        id,
		OrderID:   orderID,
		Kind:      kind,
		Status:    entity.NotificationStatusPending,
		NextAt:    &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (r *fakeNotificationRepo) Update(_ context.Context, notification *entity.Notification) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.notifications[notification.ID]; !ok {
		return errors.New("notification not found")
	}
	copyItem := *notification
	r.store.notifications[notification.ID] = &copyItem
	return nil
}

func (r *fakeNotificationRepo) ListDue(_ context.Context, now time.Time, limit int32) ([]*entity.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.Notification, 0)
	for _, n := range r.store.notifications {
		if n.Status == entity.NotificationStatusPending && n.NextAt != nil && !n.NextAt.After(now) {
			copyItem := *n
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *fakeNotificationRepo) ListByOrder(_ context.Context, orderID uint64) ([]*entity.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.Notification, 0)
	for _, n := range r.store.notifications {
		if n.OrderID == orderID {
			copyItem := *n
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

type fakeWebhookRepo struct {
	store *memStore
}

func (r *fakeWebhookRepo) Create(_ context.Context, webhook *entity.PaymentWebhook) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if webhook.ProviderEventID != nil {
		for _, w := range r.store.webhooks {
			if w.ProviderEventID != nil && *w.ProviderEventID == *webhook.ProviderEventID {
				return repository.ErrWebhookAlreadyExists
			}
		}
	}
	webhook.ID = r.store.id()
	copyItem := *webhook
	r.store.webhooks = append(r.store.webhooks, &copyItem)
	return nil
}

func (r *fakeWebhookRepo) UpdateOutcome(_ context.Context, id uint64, orderID *uint64, status int32, errMsg *string, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, w := range r.store.webhooks {
		if w.ID == id {
			w.OrderID = orderID
			w.Status = status
			w.Error = errMsg
			w.UpdatedAt = now
			return nil
		}
	}
	return errors.New("webhook not found")
}

type fakeTopUpRepo struct {
	store *memStore
}

func (r *fakeTopUpRepo) Create(_ context.Context, topUp *entity.TopUp) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range r.store.topUps {
		if t.PaymentReference == topUp.PaymentReference {
			return repository.ErrTopUpAlreadyExists
		}
	}
	topUp.ID = r.store.id()
	copyItem := *topUp
	r.store.topUps[topUp.ID] = &copyItem
	return nil
}

func (r *fakeTopUpRepo) Update(_ context.Context, topUp *entity.TopUp) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.topUps[topUp.ID]; !ok {
		return repository.ErrTopUpNotFound
	}
	copyItem := *topUp
	r.store.topUps[topUp.ID] = &copyItem
	return nil
}

func (r *fakeTopUpRepo) FindByPaymentReference(_ context.Context, paymentReference string) (*entity.TopUp, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range r.store.topUps {
		if t.PaymentReference == paymentReference {
			copyItem := *t
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeTopUpRepo) ListByOrder(_ context.Context, orderID uint64) ([]*entity.TopUp, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	items := make([]*entity.TopUp, 0)
	for _, t := range r.store.topUps {
		if t.OrderID == orderID {
			copyItem := *t
			items = append(items, &copyItem)
		}
	}
	return items, nil
}

// fakeVendor answers from canned data and counts calls.
type fakeVendor struct {
	mu sync.Mutex

	placeResult *vendor.OrderResult
	placeErr    error
	placeCalls  int
	lastPlace   *vendor.OrderRequest

	profiles     map[string][]vendor.Profile
	profilesErr  error
	profileCalls int
	panicOnQuery string

	usage        map[string]vendor.UsageItem
	usageErr     error
	usageFailFor string
	usageCalls   int

	topUpErr   error
	topUpCalls int
}

func (v *fakeVendor) PlaceOrder(_ context.Context, req *vendor.OrderRequest) (*vendor.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeCalls++
	v.lastPlace = req
	if v.placeErr != nil {
		return nil, v.placeErr
	}
	return v.placeResult, nil
}

func (v *fakeVendor) QueryProfiles(_ context.Context, vendorOrderNumber string, _ int) ([]vendor.Profile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.profileCalls++
	if v.panicOnQuery != "" && v.panicOnQuery == vendorOrderNumber {
		panic("unexpected vendor payload")
	}
	if v.profilesErr != nil {
		return nil, v.profilesErr
	}
	return v.profiles[vendorOrderNumber], nil
}

func (v *fakeVendor) QueryUsage(_ context.Context, tranNos []string) ([]vendor.UsageItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.usageCalls++
	if v.usageErr != nil {
		return nil, v.usageErr
	}
	for _, no := range tranNos {
		if no == v.usageFailFor {
			return nil, vendor.ErrVendorUnavailable
		}
	}
	out := make([]vendor.UsageItem, 0, len(tranNos))
	for _, no := range tranNos {
		if item, ok := v.usage[no]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (v *fakeVendor) TopUp(_ context.Context, req *vendor.TopUpRequest) (*vendor.TopUpResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.topUpCalls++
	if v.topUpErr != nil {
		return nil, v.topUpErr
	}
	return &vendor.TopUpResult{RechargeOrderNumber: "R-" + req.TransactionID}, nil
}

type fakeSender struct {
	mu               sync.Mutex
	messages         []mailer.Message
	err              error
	requireRecipient bool
}

func (s *fakeSender) SendTemplate(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.requireRecipient && msg.To == "" {
		return errors.New("recipient is required")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fakeSettings struct {
	snapshot settings.Snapshot
}

func (f *fakeSettings) Current() settings.Snapshot {
	return f.snapshot
}

type heldLeaser struct{}

func (heldLeaser) Acquire(context.Context, string, time.Duration) (func(context.Context), error) {
	return nil, lease.ErrLeaseHeld
}

type brokenLeaser struct{}

func (brokenLeaser) Acquire(context.Context, string, time.Duration) (func(context.Context), error) {
	return nil, errors.New("redis: connection refused")
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	keys     []string
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

type harness struct {
	store    *memStore
	orders   *fakeOrderRepo
	profiles *fakeProfileRepo
	vendor   *fakeVendor
	sender   *fakeSender
	settings *fakeSettings
	gate     *NotificationGate
	svc      *ProvisioningService
}

func newHarness() *harness {
	store := newMemStore()
	h := &harness{
		store:    store,
		orders:   &fakeOrderRepo{store: store},
		profiles: &fakeProfileRepo{store: store},
		vendor: &fakeVendor{
			placeResult: &vendor.OrderResult{VendorOrderNumber: "B-1"},
			profiles:    map[string][]vendor.Profile{},
			usage:       map[string]vendor.UsageItem{},
		},
		sender:   &fakeSender{},
		settings: &fakeSettings{snapshot: settings.Snapshot{EmailEnabled: true}},
	}

	leaser := lease.NewLocalLeaser()
	events := &fakeEventRepo{store: store}
	h.gate = NewNotificationGate(h.orders, h.profiles, events, h.sender, h.settings, leaser, time.Minute, "esim-ready", nil)
	h.gate.now = func() time.Time { return fixedNow }

	h.svc = NewProvisioningService(
		Repositories{
			Orders:        h.orders,
			Profiles:      h.profiles,
			Usage:         &fakeUsageRepo{store: store},
			Events:        events,
			Notifications: &fakeNotificationRepo{store: store},
		},
		h.vendor,
		leaser,
		h.gate,
		config.ProvisioningConfig{
			TransactionIDPrefix: "stripe_",
			PollAttempts:        3,
			PollInterval:        time.Second,
			RetryBatchSize:      10,
			SyncPageSize:        2,
			UsageChunkSize:      2,
		},
		config.NotificationsConfig{BatchSize: 50, MaxAttempts: 3, RetryInterval: time.Minute},
		100,
		nil,
	)
	h.svc.now = func() time.Time { return fixedNow }
	h.svc.sleep = func(context.Context, time.Duration) error { return nil }
	h.svc.spawn = func(fn func()) { fn() }
	return h
}

func (h *harness) readyProfile(vendorOrderNumber, iccid, tranNo string) {
	h.vendor.profiles[vendorOrderNumber] = []vendor.Profile{{
		ICCID:               iccid,
		VendorTransactionNo: tranNo,
		ActivationCode:      "LPA:1$smdp.example$" + iccid,
		QRCodeURL:           "https://qr.example/" + iccid,
		Status:              "GOT_RESOURCE",
	}}
}

func strPtr(v string) *string {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}
