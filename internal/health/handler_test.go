package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeWatchPartyStats struct {
	rooms       int
	connections int
}

func (f fakeWatchPartyStats) RoomCount() int       { return f.rooms }
func (f fakeWatchPartyStats) ConnectionCount() int { return f.connections }

type fakeChatStats struct {
	online int
}

func (f fakeChatStats) OnlineCount() int { return f.online }

func TestWatchPartyHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewWatchPartyHandler(fakeWatchPartyStats{rooms: 3, connections: 12})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	handler.Check(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"rooms":3`)
	assert.Contains(t, body, `"connections":12`)
}

func TestChatHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewChatHandler(fakeChatStats{online: 42})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	handler.Check(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"online":42`)
	assert.NotContains(t, body, "rooms")
}
