// Package health exposes the process-level health endpoint consumed by
// whatever external orchestrator deploys the engine.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WatchPartyStats reports the counters the watch-party health response needs.
type WatchPartyStats interface {
	RoomCount() int
	ConnectionCount() int
}

// ChatStats reports the counters the chat health response needs.
type ChatStats interface {
	OnlineCount() int
}

// Handler serves GET /health for one or both domains. A deployment that
// hosts both registers a single Handler built with New, whose response
// carries both domains' counters.
type Handler struct {
	watchParty WatchPartyStats
	chat       ChatStats
}

// New builds a health handler for a process hosting both domains: the
// single documented GET /health response carries both the watch-party
// counters and the chat online count. Either argument may be nil when a
// deployment only hosts one domain.
func New(watchParty WatchPartyStats, chat ChatStats) *Handler {
	return &Handler{watchParty: watchParty, chat: chat}
}

// NewWatchPartyHandler builds a health handler backed by room/presence counts.
func NewWatchPartyHandler(stats WatchPartyStats) *Handler {
	return &Handler{watchParty: stats}
}

// NewChatHandler builds a health handler backed by the online-user count.
func NewChatHandler(stats ChatStats) *Handler {
	return &Handler{chat: stats}
}

// Check handles GET /health, reporting `{status:"ok", rooms, connections}`
// for the watch-party domain and/or `{status:"ok", online}` for the chat
// domain, merged into one object when a Handler carries both.
func (h *Handler) Check(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.watchParty != nil {
		resp["rooms"] = h.watchParty.RoomCount()
		resp["connections"] = h.watchParty.ConnectionCount()
	}
	if h.chat != nil {
		resp["online"] = h.chat.OnlineCount()
	}
	c.JSON(http.StatusOK, resp)
}
