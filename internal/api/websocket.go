package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type snapshotMessage struct {
	Type    string           `json:"type"`
	At      time.Time        `json:"at"`
	Sensors []sensorResponse `json:"sensors"`
}

// StreamSensors handles GET /api/ws. The client receives the live table right
// away and then once per update interval until it disconnects.
func (h *Handler) StreamSensors(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithField("remote", c.ClientIP())
	log.Debug("websocket client connected")

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The read loop only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(snapshotMessage{Type: "snapshot", At: h.now().UTC(), Sensors: h.snapshot()})
	}

	if err := send(); err != nil {
		log.WithError(err).Debug("websocket write failed")
		return
	}

	updates := time.NewTicker(h.interval)
	defer updates.Stop()
	pings := time.NewTicker(wsPingPeriod)
	defer pings.Stop()

	for {
		select {
		case <-gone:
			log.Debug("websocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case <-updates.C:
			if err := send(); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
