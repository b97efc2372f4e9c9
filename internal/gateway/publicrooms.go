package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/watchsync/engine/internal/watchparty"
)

// PublicRoomsLister lists non-private rooms with at least one participant.
type PublicRoomsLister interface {
	PublicRooms() []watchparty.Snapshot
}

// PublicRoomsHandler serves GET /public-rooms (spec §6.2). The handler sets no
// CORS headers itself; the route gets whatever CORS middleware the caller
// installs on the router, which in cmd/server is the ALLOWED_ORIGINS
// allow-list shared by every route, not a permissive any-origin policy.
type PublicRoomsHandler struct {
	rooms PublicRoomsLister
}

// NewPublicRoomsHandler builds a handler backed by the room registry.
func NewPublicRoomsHandler(rooms PublicRoomsLister) *PublicRoomsHandler {
	return &PublicRoomsHandler{rooms: rooms}
}

// List handles GET /public-rooms.
func (h *PublicRoomsHandler) List(c *gin.Context) {
	rooms := h.rooms.PublicRooms()
	if rooms == nil {
		rooms = []watchparty.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}
