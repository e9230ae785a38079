package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/service"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/types"
)

// backgroundPoller is satisfied by *service.Poller.
type backgroundPoller interface {
	StartBackground(entityType entity.EntityType, entityID string)
}

type PaymentController struct {
	paymentService *service.PaymentService
	poller         backgroundPoller
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService, poller backgroundPoller) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		poller:         poller,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{
		Status:            "ok",
		RejectedCallbacks: c.paymentService.RejectedCallbacks(),
	})
}

func (c *PaymentController) CreateInvoice(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CreateInvoice(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrEntityNotFound):
			return c.writeError(ctx, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrAlreadyPaid), errors.Is(err, service.ErrCreationInProgress):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrGatewayUnavailable), errors.Is(err, service.ErrGatewayRejected):
			l.WithError(err).Warn("Create invoice gateway failure")
			return c.writeError(ctx, http.StatusBadGateway, err.Error())
		default:
			l.WithError(err).Error("Create invoice failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, mapper.IntentToCreateResponse(item))
}

func (c *PaymentController) GetStatus(ctx echo.Context) error {
	req, err := types.NewPaymentStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetStatus(ctx.Request().Context(), req.GetEntityType(), req.GetEntityId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIntentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get payment status failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, mapper.IntentToStatusResponse(item))
}

// StartPolling kicks off a detached poll loop for the entity's latest intent.
func (c *PaymentController) StartPolling(ctx echo.Context) error {
	req, err := types.NewPaymentStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetStatus(ctx.Request().Context(), req.GetEntityType(), req.GetEntityId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIntentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Start polling failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	resp := &types.PollResponse{
		Success:    true,
		EntityType: string(item.EntityType),
		EntityId:   item.EntityID,
	}
	if item.Status.Terminal() {
		resp.Message = "payment already " + string(item.Status)
		return ctx.JSON(http.StatusOK, resp)
	}

	c.poller.StartBackground(item.EntityType, item.EntityID)
	resp.Message = "polling started"
	return ctx.JSON(http.StatusAccepted, resp)
}

func (c *PaymentController) HandleWebhook(ctx echo.Context) error {
	req, err := types.NewWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	result, err := c.paymentService.HandleWebhook(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCallbackUnauthorized):
			return c.writeError(ctx, http.StatusUnauthorized, "unauthorized")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Handle webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.WebhookResponse{
		Received:    true,
		Disposition: string(result.Disposition),
	})
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Success: false, Error: message})
}
