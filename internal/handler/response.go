package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/rs/zerolog/log"
)

// fail writes the failure document shared by every storefront endpoint
func fail(c *fiber.Ctx, status int, reason string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"reason":  reason,
	})
}

// failWith maps a service error to its HTTP status. Unknown errors are logged and hidden.
func failWith(c *fiber.Ctx, err error) error {
	var validation *domain.ValidationError
	var rejection *domain.GatewayRejection

	switch {
	case errors.As(err, &validation):
		return fail(c, fiber.StatusBadRequest, validation.Error())
	case errors.As(err, &rejection):
		return fail(c, fiber.StatusPaymentRequired, rejection.Message)
	case errors.Is(err, domain.ErrEmptyCart):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fail(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPaymentCancelled):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPaymentNotFound):
		return fail(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrGatewayTransport):
		return fail(c, fiber.StatusServiceUnavailable, "Couldn't connect to the payment gateway. Please try again later!")
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return fail(c, fiber.StatusInternalServerError, "internal server error")
}
