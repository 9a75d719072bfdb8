package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/serverutils"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/service"
)

func statusFromError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrUpstreamModel):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(ctx *fiber.Ctx, err error) error {
	code := statusFromError(err)
	return ctx.Status(code).JSON(serverutils.ErrorResponse(code, err.Error()))
}
