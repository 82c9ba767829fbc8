package util

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// MessageServerError is shown for any failure without a public message.
const MessageServerError = "Error en el servidor"

type ErrorResponse struct {
	HasAccess bool   `json:"hasAccess"`
	Error     string `json:"error"`
}

// CustomErrorHandler renders every error in the portal response shape. Only
// fiber errors carry a message meant for clients, anything else is logged and
// answered with a generic one.
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := MessageServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		slog.Error("unhandled request error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}

	return c.Status(code).JSON(ErrorResponse{
		HasAccess: false,
		Error:     message,
	})
}
