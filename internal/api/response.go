package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Meridian-Markets/engine/internal/order"
	"github.com/Meridian-Markets/engine/internal/store"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError maps pipeline errors onto HTTP statuses. Unrecognized errors
// collapse to a generic 500 so internals never leak to clients.
func respondError(c *fiber.Ctx, err error) error {
	var oe *order.Error
	if errors.As(err, &oe) {
		return c.Status(oe.HTTPStatus()).JSON(ErrorResponse{Error: oe.Message, Code: oe.Code})
	}
	if errors.Is(err, store.ErrDurableUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "durable store is not configured",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: "internal error",
	})
}
