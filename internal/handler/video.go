package handler

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/guardianai/api/internal/queue"
	"github.com/guardianai/api/pkg/response"
)

// VideoHandler streams stored preview media back to the player.
type VideoHandler struct {
	queue *queue.Queue
}

func NewVideoHandler(q *queue.Queue) *VideoHandler {
	return &VideoHandler{queue: q}
}

// Serve handles GET /api/videos/:id. The file lives only for the
// session; a released handle is indistinguishable from an unknown ID.
func (h *VideoHandler) Serve(c *fiber.Ctx) error {
	id := c.Params("id")
	handle, ok := h.queue.Preview(id)
	if !ok {
		return response.NotFound(c, "Video not found")
	}

	f, err := os.Open(handle.Path)
	if err != nil {
		return response.NotFound(c, "Video not found")
	}

	if handle.ContentType != "" {
		c.Set(fiber.HeaderContentType, handle.ContentType)
	}
	return c.SendStream(f, int(handle.Size))
}
