package controller

import (
	"bufio"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/dto"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/serverutils"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/service"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/streamrelay"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	Stream(ctx *fiber.Ctx) error
}

type chatController struct {
	service service.IChatService
}

func NewChatController(service service.IChatService) IChatController {
	return &chatController{service: service}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat")
	h.Use(serverutils.JwtMiddleware)
	h.Post("/v1/stream", c.Stream)
}

// Stream runs one chat turn and forwards the model deltas as SSE frames.
// The turn is persisted by the service layer regardless of how the client
// side of this stream ends.
func (c *chatController) Stream(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Invalid token subject"))
	}

	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}

	stream, err := c.service.SendChat(ctx.Context(), userId, &req)
	if err != nil {
		return errorJSON(ctx, err)
	}

	ctx.Set("Content-Type", "text/event-stream")
	ctx.Set("Cache-Control", "no-cache")
	ctx.Set("Connection", "keep-alive")
	ctx.Set("X-Conversation-Id", stream.ConversationId)

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stream.Relay.Cancel()

		// Opening frame with a null delta, before any token arrives.
		if _, err := w.Write(streamrelay.EncodeChunk(nil)); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		for ev := range stream.Relay.Events() {
			if ev.Err != nil || ev.Done {
				break
			}
			content := ev.Content
			if _, err := w.Write(streamrelay.EncodeChunk(&content)); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}

		// The stream always terminates with [DONE], even after an upstream
		// failure; the persisted message carries whatever arrived.
		w.Write(streamrelay.EncodeDone())
		w.Flush()
	}))

	return nil
}
