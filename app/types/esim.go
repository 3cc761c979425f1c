package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const maxListLimit = 100

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Order struct {
	Id                uint64 `json:"id"`
	PaymentReference  string `json:"payment_reference"`
	UserRef           string `json:"user_ref,omitempty"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	PlanCode          string `json:"plan_code"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	VendorOrderNumber string `json:"vendor_order_number,omitempty"`
	ProvisionAttempts int32  `json:"provision_attempts"`
	LastError         string `json:"last_error,omitempty"`
	ReceiptSent       bool   `json:"receipt_sent"`
	ReceiptSentAt     string `json:"receipt_sent_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type EsimProfile struct {
	Id                  uint64 `json:"id"`
	Iccid               string `json:"iccid,omitempty"`
	ActivationCode      string `json:"activation_code,omitempty"`
	QrCodeUrl           string `json:"qr_code_url,omitempty"`
	VendorTransactionNo string `json:"vendor_transaction_no,omitempty"`
	Status              string `json:"status,omitempty"`
	TotalVolumeBytes    *int64 `json:"total_volume_bytes,omitempty"`
	UsedBytes           *int64 `json:"used_bytes,omitempty"`
	ExpiresAt           string `json:"expires_at,omitempty"`
	LastSyncedAt        string `json:"last_synced_at,omitempty"`
}

type UsageRecord struct {
	UsedBytes  int64  `json:"used_bytes"`
	RecordedAt string `json:"recorded_at"`
}

type OrderEvent struct {
	EventType string `json:"event_type"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Notification struct {
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Attempts  int32  `json:"attempts"`
	NextAt    string `json:"next_at,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type TopUp struct {
	Id                  uint64 `json:"id"`
	PackageCode         string `json:"package_code"`
	PaymentReference    string `json:"payment_reference"`
	TransactionId       string `json:"transaction_id"`
	RechargeOrderNumber string `json:"recharge_order_number,omitempty"`
	Status              string `json:"status"`
	LastError           string `json:"last_error,omitempty"`
	CreatedAt           string `json:"created_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type OrderDetailsResponse struct {
	Order         *Order          `json:"order"`
	Profile       *EsimProfile    `json:"profile,omitempty"`
	Usage         []*UsageRecord  `json:"usage"`
	Events        []*OrderEvent   `json:"events"`
	Notifications []*Notification `json:"notifications"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type TopUpEnvelopeResponse struct {
	TopUp *TopUp `json:"top_up"`
}

type ListTopUpsResponse struct {
	TopUps []*TopUp `json:"top_ups"`
}

type NotificationOutcomeResponse struct {
	OrderId uint64 `json:"order_id"`
	Outcome string `json:"outcome"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	OrderId uint64 `json:"order_id,omitempty"`
}

type RetryReportResponse struct {
	Selected    int `json:"selected"`
	Provisioned int `json:"provisioned"`
	Pending     int `json:"pending"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
	CatchUpSent int `json:"catch_up_sent"`
}

type SyncReportResponse struct {
	Profiles           int `json:"profiles"`
	ProfilesUpdated    int `json:"profiles_updated"`
	ProfileFailures    int `json:"profile_failures"`
	UsageChunks        int `json:"usage_chunks"`
	UsageChunkFailures int `json:"usage_chunk_failures"`
	UsageRecorded      int `json:"usage_recorded"`
}

type SettingsResponse struct {
	MockMode     bool   `json:"mock_mode"`
	EmailEnabled bool   `json:"email_enabled"`
	LoadedAt     string `json:"loaded_at,omitempty"`
}

type OrderIDRequest struct {
	Id uint64
}

func NewOrderIDRequestFromContext(ctx echo.Context) (*OrderIDRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &OrderIDRequest{Id: id}, nil
}

func (r *OrderIDRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

type ListOrdersRequest struct {
	Status  string
	UserRef string
	Limit   int32
	Offset  int32
}

func NewListOrdersRequestFromContext(ctx echo.Context) (*ListOrdersRequest, error) {
	req := &ListOrdersRequest{
		Status:  strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		UserRef: strings.TrimSpace(ctx.QueryParam("user_ref")),
		Limit:   maxListLimit,
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListOrdersRequest) Validate() error {
	if r.Limit <= 0 || r.Limit > maxListLimit {
		return errors.New("limit must be between 1 and 100")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

type CreateTopUpRequest struct {
	OrderId          uint64 `json:"-"`
	PackageCode      string `json:"package_code"`
	PaymentReference string `json:"payment_reference"`
}

func NewCreateTopUpRequestFromContext(ctx echo.Context) (*CreateTopUpRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body CreateTopUpRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.OrderId = id
	body.PackageCode = strings.TrimSpace(body.PackageCode)
	body.PaymentReference = strings.TrimSpace(body.PaymentReference)

	return &body, nil
}

func (r *CreateTopUpRequest) Validate() error {
	if r.OrderId == 0 {
		return errors.New("invalid order id")
	}
	if r.PackageCode == "" {
		return errors.New("package_code is required")
	}
	if r.PaymentReference == "" {
		return errors.New("payment_reference is required")
	}
	return nil
}

type UpdateSettingRequest struct {
	Key   string `json:"-"`
	Value string `json:"value"`
}

// NewUpdateSettingRequestFromContext accepts the value as a JSON boolean or string.
func NewUpdateSettingRequestFromContext(ctx echo.Context) (*UpdateSettingRequest, error) {
	var body struct {
		Value any `json:"value"`
	}
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	req := &UpdateSettingRequest{Key: strings.ToLower(strings.TrimSpace(ctx.Param("key")))}
	switch v := body.Value.(type) {
	case bool:
		req.Value = strconv.FormatBool(v)
	case string:
		req.Value = strings.ToLower(strings.TrimSpace(v))
	}
	return req, nil
}

func (r *UpdateSettingRequest) Validate() error {
	if r.Key != "mock_mode" && r.Key != "email_enabled" {
		return errors.New("unknown setting")
	}
	if _, err := strconv.ParseBool(r.Value); err != nil {
		return errors.New("value must be a boolean")
	}
	return nil
}

type StripeWebhookRequest struct {
	Signature string
	Payload   []byte
}

func NewStripeWebhookRequestFromContext(ctx echo.Context) (*StripeWebhookRequest, error) {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}
	return &StripeWebhookRequest{
		Signature: strings.TrimSpace(ctx.Request().Header.Get("Stripe-Signature")),
		Payload:   payload,
	}, nil
}

func (r *StripeWebhookRequest) Validate() error {
	if r.Signature == "" {
		return errors.New("signature header is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}
