package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/types"
)

type stripeWebhookHandler interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

type WebhookController struct {
	webhooks stripeWebhookHandler
	logger   logrus.FieldLogger
}

func NewWebhookController(webhooks stripeWebhookHandler) *WebhookController {
	return &WebhookController{
		webhooks: webhooks,
		logger:   factory.NewModuleLogger("webhook-controller"),
	}
}

// HandleStripe answers 200 for every verified event, including the ones it
// ignores, so the processor only retries deliveries that failed on our side.
func (c *WebhookController) HandleStripe(ctx echo.Context) error {
	req, err := types.NewStripeWebhookRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.webhooks.HandleStripe(ctx.Request().Context(), req.Payload, req.Signature)
	if err != nil {
		if errors.Is(err, service.ErrWebhookRejected) {
			return writeError(ctx, http.StatusBadRequest, "invalid signature")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Stripe webhook failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	resp := &types.WebhookResponse{Status: string(result.Status)}
	if result.Order != nil {
		resp.OrderId = result.Order.ID
	}
	return ctx.JSON(http.StatusOK, resp)
}
