// Package bridge pushes outbound events to the host UI over a local
// websocket and accepts turn dispatch over HTTP.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/session"
)

type Controller struct {
	Bus  *core.Bus
	Orch *session.Orchestrator
}

func NewController(bus *core.Bus, orch *session.Orchestrator) *Controller {
	return &Controller{Bus: bus, Orch: orch}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades to a websocket and streams every bus event to the
// host until it disconnects.
func (ctl *Controller) HandleEvents(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "bridge").Str("sid", sid).Msg("new events subscriber")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("ws upgrade")
		return
	}

	conn := newWSConn(ws)
	unsubscribe := ctl.Bus.Subscribe(func(ev core.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("module", "bridge").Msg("marshal event")
			return
		}
		if err := conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "bridge").Str("event", string(ev.Type)).Msg("event dropped")
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx)
	go conn.readPump(ctx, func() {
		unsubscribe()
		cancel()
	})
}

type turnRequest struct {
	Text string `json:"text"`
}

// HandleTurn dispatches one text turn.
func (ctl *Controller) HandleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid text"})
		return
	}
	if err := ctl.Orch.SendText(req.Text); err != nil {
		status := http.StatusInternalServerError
		if err == session.ErrResponsePending {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "dispatched"})
}

// HandleStatus reports guard state and the latest statistics snapshot.
func (ctl *Controller) HandleStatus(c *gin.Context) {
	pending, responseID := ctl.Orch.PendingResponse()
	c.JSON(http.StatusOK, gin.H{
		"pending_response": pending,
		"response_id":      responseID,
		"state":            ctl.Orch.State().String(),
		"stats":            ctl.Orch.Stats(),
	})
}
