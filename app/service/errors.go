package service

import "errors"

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrOrderNotFound           = errors.New("order not found")
	ErrProfileMissing          = errors.New("order has no esim profile")
	ErrOrderNotProvisioned     = errors.New("order is not provisioned")
	ErrProvisioningInProgress  = errors.New("provisioning already in progress")
	ErrNotificationInProgress  = errors.New("notification already in progress")
	ErrNotificationFailed      = errors.New("notification delivery failed")
	ErrWebhookRejected         = errors.New("webhook rejected")
	ErrTopUpRejected           = errors.New("top-up rejected by vendor")
	ErrUnknownNotificationKind = errors.New("unknown notification kind")
)
