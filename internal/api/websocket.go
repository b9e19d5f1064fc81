package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// WebSocket message types for the upload queue stream
const (
	// Client -> Server messages
	MsgTypeConflictResolve = "conflict:resolve"
	MsgTypePing            = "ping"

	// Server -> Client messages
	MsgTypeSnapshot         = "queue:snapshot"
	MsgTypeItem             = "queue:item"
	MsgTypeRemoved          = "queue:removed"
	MsgTypeCleared          = "queue:cleared"
	MsgTypeBatch            = "queue:batch"
	MsgTypeConflictPrompt   = "conflict:prompt"
	MsgTypeConflictResolved = "conflict:resolved"
	MsgTypeAck              = "ack"
	MsgTypeError            = "error"
	MsgTypePong             = "pong"
)

const (
	wsWriteWait             = 10 * time.Second
	defaultWSMaxMessageSize = 64 * 1024
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ConflictResolvePayload answers a conflict:prompt
type ConflictResolvePayload struct {
	ConflictID string                    `json:"conflictId"`
	Resolution models.ConflictResolution `json:"resolution"`
}

// WSErrorResponse is the payload of an error message
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type batchPayload struct {
	Uploading bool `json:"uploading"`
}

type removedPayload struct {
	ItemID string `json:"itemId"`
}

type resolvedPayload struct {
	ConflictID string                    `json:"conflictId"`
	ItemID     string                    `json:"itemId"`
	Resolution models.ConflictResolution `json:"resolution"`
}

// WebSocketHandler streams upload queue changes and accepts conflict
// resolutions
type WebSocketHandler struct {
	queue          UploadQueue
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *zap.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(queue UploadQueue, maxMessageSize int64, logger *zap.Logger) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultWSMaxMessageSize
	}
	return &WebSocketHandler{
		queue: queue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by the echo middleware
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
		logger:         logging.Component(logger, "websocket"),
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msgType, id string, payload interface{}) error {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) sendError(id, message, code string) error {
	return c.send(MsgTypeError, id, WSErrorResponse{Message: message, Code: code})
}

// HandleWebSocket upgrades the connection, sends a queue snapshot and then
// streams every change until the client goes away
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	conn := &wsConn{ws: ws}
	wsh.logger.Debug("client connected", zap.String("remote", c.RealIP()))

	done := make(chan struct{})
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := wsh.stream(conn, done); err != nil {
			wsh.logger.Debug("event write failed", zap.Error(err))
			ws.Close()
		}
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Debug("connection error", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(MsgTypePong, msg.ID, nil)
		case MsgTypeConflictResolve:
			wsh.handleResolve(conn, msg)
		default:
			conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	close(done)
	<-streamDone
	wsh.logger.Debug("client disconnected")
	return nil
}

// stream sends a snapshot followed by every queue event until done closes.
// When the queue drops the subscription for falling behind, it subscribes
// again and sends a fresh snapshot.
func (wsh *WebSocketHandler) stream(conn *wsConn, done <-chan struct{}) error {
	for {
		events, unsubscribe := wsh.queue.Subscribe()
		err := wsh.pump(conn, events, done)
		unsubscribe()
		if err != nil {
			return err
		}

		select {
		case <-done:
			return nil
		default:
		}
		wsh.logger.Debug("subscriber fell behind, resending snapshot")
	}
}

// pump returns nil when done closes or the subscription is dropped.
func (wsh *WebSocketHandler) pump(conn *wsConn, events <-chan upload.Event, done <-chan struct{}) error {
	// Subscribed before the snapshot so no change falls in between.
	if err := conn.send(MsgTypeSnapshot, "", queueSnapshot(wsh.queue)); err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsh.forward(conn, ev); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}

func (wsh *WebSocketHandler) handleResolve(conn *wsConn, msg WSMessage) {
	var payload ConflictResolvePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		conn.sendError(msg.ID, "Invalid resolve payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	err := wsh.queue.Resolve(payload.ConflictID, payload.Resolution)
	switch {
	case err == nil:
		conn.send(MsgTypeAck, msg.ID, nil)
	case errors.Is(err, upload.ErrInvalidResolution):
		conn.sendError(msg.ID, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, upload.ErrNoPendingConflict):
		conn.sendError(msg.ID, err.Error(), "CONFLICT")
	default:
		conn.sendError(msg.ID, err.Error(), "INTERNAL_ERROR")
	}
}

// forward translates a queue event into a websocket message.
func (wsh *WebSocketHandler) forward(conn *wsConn, ev upload.Event) error {
	switch ev.Kind {
	case upload.EventItem:
		return conn.send(MsgTypeItem, ev.ItemID, ev.Item)
	case upload.EventRemoved:
		return conn.send(MsgTypeRemoved, ev.ItemID, removedPayload{ItemID: ev.ItemID})
	case upload.EventCleared:
		return conn.send(MsgTypeCleared, "", queueSnapshot(wsh.queue))
	case upload.EventBatch:
		return conn.send(MsgTypeBatch, "", batchPayload{Uploading: ev.Uploading})
	case upload.EventConflict:
		return conn.send(MsgTypeConflictPrompt, ev.ItemID, ev.Conflict)
	case upload.EventResolved:
		p := resolvedPayload{ItemID: ev.ItemID, Resolution: ev.Resolution}
		if ev.Conflict != nil {
			p.ConflictID = ev.Conflict.ID
		}
		return conn.send(MsgTypeConflictResolved, ev.ItemID, p)
	}
	return nil
}
