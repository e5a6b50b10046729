package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"twitch-trivia-service/internal/app"
	"twitch-trivia-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// QuizGame is the slice of the game engine the transport drives.
type QuizGame interface {
	Activate(ctx context.Context, quizID string) error
	Advance(ctx context.Context) error
	Deactivate(ctx context.Context) error
	CloseRound(ctx context.Context) error
	SubmitAnswer(ctx context.Context, externalKey, questionID string, option int, marginMs int64)
	MergeIdentity(ctx context.Context, anonKey, authKey string) error
	HandleDisconnect(externalKey string, viewer bool)
}

type WSHandler struct {
	game     QuizGame
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(game QuizGame, hub *Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		game:   game,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	ResponseMargin int64  `json:"responseMargin"`
	ExternalKey    string `json:"externalUserKey"`
}

type startQuizPayload struct {
	QuizID string `json:"quizId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the connection and pumps viewer and control traffic into
// the game engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	opaqueID := r.URL.Query().Get("opaqueId")
	if opaqueID == "" {
		http.Error(w, "missing opaqueId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{
		send: make(chan outboundMessage, 16),
		key:  opaqueID,
	}
	h.hub.add(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleMessage(r.Context(), c, inbound)
	}

	wasControl := h.hub.isControl(c)
	h.hub.remove(c)
	h.game.HandleDisconnect(c.key, !wasControl)
	close(c.send)
	<-writerDone
}

func (h *WSHandler) handleMessage(ctx context.Context, c *client, inbound inboundMessage) {
	switch inbound.Type {
	case "submit-answer":
		h.handleAnswer(ctx, c, inbound.Payload)

	case "register-control-panel":
		h.hub.markControl(c)
		c.push(outboundMessage{Type: "control-registered", Payload: nil})

	case "start-quiz":
		if !h.requireControl(c) {
			return
		}
		var payload startQuizPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuizID == "" {
			c.push(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid start-quiz payload"}})
			return
		}
		h.reportCommand(c, h.game.Activate(ctx, payload.QuizID))

	case "next-question":
		if !h.requireControl(c) {
			return
		}
		h.reportCommand(c, h.game.Advance(ctx))

	case "close-question":
		if !h.requireControl(c) {
			return
		}
		h.reportCommand(c, h.game.CloseRound(ctx))

	case "stop-quiz":
		if !h.requireControl(c) {
			return
		}
		h.reportCommand(c, h.game.Deactivate(ctx))

	default:
		c.push(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, c *client, raw json.RawMessage) {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Malformed submissions are screened and dropped, never reflected.
		h.logger.Debug("malformed answer payload", zap.Error(err))
		return
	}

	key := payload.ExternalKey
	if key == "" {
		key = c.key
	}
	// A viewer who shares their Twitch identity mid-session starts sending
	// an authenticated key over a connection opened anonymously: merge the
	// anonymous identity into the authenticated one first.
	if key != c.key && app.IsAnonymousKey(c.key) && !app.IsAnonymousKey(key) {
		if err := h.game.MergeIdentity(ctx, c.key, key); err != nil {
			h.logger.Error("identity merge failed", zap.Error(err))
			// Keep the anonymous identity; the merge retries on a later answer.
			key = c.key
		} else {
			c.key = key
		}
	}

	h.game.SubmitAnswer(ctx, key, payload.QuestionID, payload.SelectedOption, payload.ResponseMargin)
}

func (h *WSHandler) requireControl(c *client) bool {
	if h.hub.isControl(c) {
		return true
	}
	c.push(outboundMessage{Type: "error", Payload: errorPayload{Message: "control panel not registered"}})
	return false
}

func (h *WSHandler) reportCommand(c *client, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrDegradedClose) {
		c.push(outboundMessage{Type: "degraded-close", Payload: errorPayload{Message: err.Error()}})
		return
	}
	c.push(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
}
