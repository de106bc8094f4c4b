package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/gateway"
	"github.com/servo-bridge/backend/internal/hub"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
)

// WebSocket message types sent to stream clients
const (
	MsgTypeAck   = "ack"
	MsgTypeError = "error"
	MsgTypePong  = "pong"
)

// WSMessage is a reply to one inbound stream message
type WSMessage struct {
	Type      string                `json:"type" msgpack:"type"`
	ID        string                `json:"id,omitempty" msgpack:"id,omitempty"`
	Result    *models.CommandResult `json:"result,omitempty" msgpack:"result,omitempty"`
	Code      string                `json:"code,omitempty" msgpack:"code,omitempty"`
	Message   string                `json:"message,omitempty" msgpack:"message,omitempty"`
	Timestamp int64                 `json:"timestamp" msgpack:"timestamp"`
}

// StreamOptions tunes the stream endpoint
type StreamOptions struct {
	MaxMessageSize int64
}

// WebSocketHandler serves the telemetry stream and routes inbound commands
type WebSocketHandler struct {
	registry *hub.Registry
	gateway  CommandSubmitter
	upgrader websocket.Upgrader
	opts     StreamOptions
	log      *zap.Logger
}

// NewWebSocketHandler creates a new stream handler
func NewWebSocketHandler(reg *hub.Registry, gw CommandSubmitter, opts StreamOptions, log *zap.Logger) *WebSocketHandler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &WebSocketHandler{
		registry: reg,
		gateway:  gw,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		opts: opts,
		log:  logger.Component(log, "stream"),
	}
}

// HandleStream upgrades the connection, registers the client and reads
// commands until the client goes away
func (wsh *WebSocketHandler) HandleStream(c echo.Context) error {
	enc, err := hub.ParseEncoding(c.QueryParam("encoding"))
	if err != nil {
		return NewValidationError(err.Error())
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		wsh.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(wsh.opts.MaxMessageSize)

	client := wsh.registry.NewClient(ws, enc)
	ws.SetPongHandler(func(string) error {
		client.Touch()
		return nil
	})
	if err := wsh.registry.Register(client); err != nil {
		wsh.log.Warn("failed to register stream client", zap.String("remote", c.RealIP()), zap.Error(err))
		return nil
	}
	defer client.Close(hub.ReasonClientClosed)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				wsh.log.Debug("stream read failed", zap.String("client", client.ID), zap.Error(err))
			}
			return nil
		}
		client.Touch()
		wsh.handleMessage(c, client, mt, data)
	}
}

// handleMessage parses one frame and replies on the same client only
func (wsh *WebSocketHandler) handleMessage(c echo.Context, client *hub.Client, mt int, data []byte) {
	var (
		env gateway.Envelope
		cmd models.Command
		err error
	)
	if mt == websocket.BinaryMessage {
		env, cmd, err = gateway.ParseMsgpackEnvelope(data)
	} else {
		env, cmd, err = gateway.ParseEnvelope(data)
	}
	if err != nil {
		wsh.log.Warn("malformed stream message", zap.String("client", client.ID), zap.Error(err))
		wsh.sendError(client, env.ID, err)
		return
	}

	if cmd.Action == gateway.ActionPing {
		wsh.sendMessage(client, WSMessage{Type: MsgTypePong, ID: env.ID, Timestamp: time.Now().UnixMilli()})
		return
	}

	res, err := wsh.gateway.Submit(c.Request().Context(), cmd)
	if err != nil {
		wsh.sendError(client, env.ID, err)
		return
	}
	if res.Snapshot != nil {
		tel := res.Snapshot.Telemetry()
		tel.ID = env.ID
		wsh.sendMessage(client, tel)
		return
	}
	wsh.sendMessage(client, WSMessage{Type: MsgTypeAck, ID: env.ID, Result: &res, Timestamp: time.Now().UnixMilli()})
}

// Helper methods

func (wsh *WebSocketHandler) sendMessage(client *hub.Client, msg any) {
	if err := client.Send(msg); err != nil {
		wsh.log.Debug("failed to send stream reply", zap.String("client", client.ID), zap.Error(err))
	}
}

func (wsh *WebSocketHandler) sendError(client *hub.Client, id string, err error) {
	apiErr := FromError(err)
	wsh.sendMessage(client, WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Timestamp: time.Now().UnixMilli(),
	})
}
