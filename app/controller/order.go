package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/mapper"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/types"
)

type orderService interface {
	GetOrderDetails(ctx context.Context, id uint64) (*service.OrderDetails, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	Provision(ctx context.Context, orderID uint64) (*entity.Order, error)
}

type readyEmailResender interface {
	ResendReadyEmail(ctx context.Context, orderID uint64) (service.Outcome, error)
}

type topUpService interface {
	RequestTopUp(ctx context.Context, orderID uint64, packageCode, paymentReference string) (*entity.TopUp, error)
	ListTopUps(ctx context.Context, orderID uint64) ([]*entity.TopUp, error)
}

type OrderController struct {
	orders   orderService
	resender readyEmailResender
	topUps   topUpService
	logger   logrus.FieldLogger
}

func NewOrderController(orders orderService, resender readyEmailResender, topUps topUpService) *OrderController {
	return &OrderController{
		orders:   orders,
		resender: resender,
		topUps:   topUps,
		logger:   factory.NewModuleLogger("orders-controller"),
	}
}

func (c *OrderController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *OrderController) ListOrders(ctx echo.Context) error {
	req, err := types.NewListOrdersRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.orders.ListOrders(ctx.Request().Context(), repository.OrderFilter{
		Status:  entity.OrderStatus(req.Status),
		UserRef: req.UserRef,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return writeError(ctx, http.StatusBadRequest, "invalid status")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List orders failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListOrdersResponse{Orders: mapper.OrdersToResponse(items)})
}

func (c *OrderController) GetOrder(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	details, err := c.orders.GetOrderDetails(ctx.Request().Context(), req.Id)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return writeError(ctx, http.StatusNotFound, "order not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get order failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.OrderDetailsToResponse(details))
}

func (c *OrderController) ProvisionOrder(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, err := c.orders.Provision(ctx.Request().Context(), req.Id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrProvisioningInProgress):
			return writeError(ctx, http.StatusConflict, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Provision order failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(order)})
}

func (c *OrderController) ResendReadyEmail(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	outcome, err := c.resender.ResendReadyEmail(ctx.Request().Context(), req.Id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrProfileMissing):
			return writeError(ctx, http.StatusConflict, "order has no esim profile yet")
		case errors.Is(err, service.ErrNotificationInProgress):
			return writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrNotificationFailed):
			return writeError(ctx, http.StatusBadGateway, "email provider rejected the message")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Resend ready email failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.NotificationOutcomeResponse{OrderId: req.Id, Outcome: string(outcome)})
}

func (c *OrderController) CreateTopUp(ctx echo.Context) error {
	req, err := types.NewCreateTopUpRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	topUp, err := c.topUps.RequestTopUp(ctx.Request().Context(), req.OrderId, req.PackageCode, req.PaymentReference)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOrderNotFound):
			return writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrOrderNotProvisioned), errors.Is(err, service.ErrProfileMissing):
			return writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrTopUpRejected):
			return ctx.JSON(http.StatusBadGateway, &types.TopUpEnvelopeResponse{TopUp: mapper.TopUpToResponse(topUp)})
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create top-up failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.TopUpEnvelopeResponse{TopUp: mapper.TopUpToResponse(topUp)})
}

func (c *OrderController) ListTopUps(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.topUps.ListTopUps(ctx.Request().Context(), req.Id)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List top-ups failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListTopUpsResponse{TopUps: mapper.TopUpsToResponse(items)})
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
