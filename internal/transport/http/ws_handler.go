package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"breach-session-service/internal/app"
	"breach-session-service/internal/domain"
	"github.com/gorilla/websocket"
)

// EventSource is the subscription side of the message bus; the engine
// publishes, connections subscribe.
type EventSource interface {
	Subscribe(code, recipientID string) (<-chan domain.Event, func())
}

type WSHandler struct {
	service  *app.GameService
	events   EventSource
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, events EventSource) *WSHandler {
	return &WSHandler{
		service: service,
		events:  events,
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

type createPayload struct {
	QuestionSetID string `json:"questionSetId"`
	GameType      string `json:"gameType"`
	TimeLimitSec  int    `json:"timeLimitSec"`
	TargetCredits int    `json:"targetCredits"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type rewardPayload struct {
	Type domain.RewardType `json:"type"`
}

type hackPayload struct {
	TargetID string `json:"targetId"`
	Guess    string `json:"guess"`
}

type joinedPayload struct {
	PlayerID string                 `json:"playerId"`
	Roster   []domain.PlayerSummary `json:"roster"`
}

type answerAck struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Stale      bool   `json:"stale,omitempty"`
}

type hackAck struct {
	Success        bool   `json:"success"`
	TargetShielded bool   `json:"targetShielded,omitempty"`
	CreditsStolen  int    `json:"creditsStolen,omitempty"`
	FailureCount   int    `json:"failureCount,omitempty"`
	Hint           string `json:"hint,omitempty"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// session engine. The caller identity arrives pre-authenticated in query
// parameters; teachers drive the session lifecycle, players play.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "teacher" {
		h.serveTeacher(w, r)
		return
	}
	h.servePlayer(w, r)
}

func (h *WSHandler) serveTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID := r.URL.Query().Get("teacherId")
	if teacherID == "" {
		http.Error(w, "missing teacherId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := newConnState(conn)
	defer c.shutdown()

	// A teacher may reattach to a session it already owns.
	code := r.URL.Query().Get("code")
	if code != "" {
		info, err := h.service.SessionInfo(r.Context(), code)
		if err != nil || info.TeacherID != teacherID {
			c.send <- outboundMessage{Type: "error", Payload: errorPayload{Message: domain.ErrSessionNotFound.Error()}}
			return
		}
		c.attach(h.events, code, teacherID)
		c.send <- outboundMessage{Type: "sessionInfo", Payload: info}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "create":
			var payload createPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.sendError("invalid create payload")
				continue
			}
			info, err := h.service.CreateSession(r.Context(), teacherID, payload.QuestionSetID, payload.GameType,
				time.Duration(payload.TimeLimitSec)*time.Second, payload.TargetCredits)
			if err != nil {
				c.sendError(err.Error())
				continue
			}
			code = info.Code
			c.attach(h.events, code, teacherID)
			c.send <- outboundMessage{Type: "sessionCreated", Payload: info}
		case "start":
			if err := h.service.Start(r.Context(), code, teacherID); err != nil {
				c.sendError(err.Error())
			}
		case "end":
			result, err := h.service.EndGame(r.Context(), code, teacherID)
			if err != nil {
				c.sendError(err.Error())
				continue
			}
			c.send <- outboundMessage{Type: "sessionResult", Payload: result}
		case "leaderboard":
			h.sendLeaderboard(r.Context(), c, code)
		case "info":
			info, err := h.service.SessionInfo(r.Context(), code)
			if err != nil {
				c.sendError(err.Error())
				continue
			}
			c.send <- outboundMessage{Type: "sessionInfo", Payload: info}
		default:
			c.sendError("unsupported message type")
		}
	}
}

func (h *WSHandler) servePlayer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	studentID := q.Get("studentId")
	name := q.Get("name")
	secret := q.Get("secret")
	avatar := q.Get("avatar")
	if code == "" || studentID == "" || name == "" || secret == "" {
		http.Error(w, "missing code, studentId, name, or secret", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := newConnState(conn)
	defer c.shutdown()

	joined, err := h.service.Join(r.Context(), code, studentID, name, secret, avatar)
	if err != nil {
		c.send <- outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
		return
	}
	playerID := joined.PlayerID

	c.attach(h.events, code, playerID)
	defer h.service.Leave(r.Context(), code, playerID)

	c.send <- outboundMessage{Type: "joined", Payload: joinedPayload{PlayerID: playerID, Roster: joined.Roster}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.sendError("invalid answer payload")
				continue
			}
			result, err := h.service.SubmitAnswer(r.Context(), code, playerID, payload.QuestionID, payload.Answer)
			if err != nil {
				c.sendError(err.Error())
				continue
			}
			c.send <- outboundMessage{Type: "answerAck", Payload: answerAck{
				QuestionID: payload.QuestionID,
				Correct:    result.Correct,
				Stale:      result.Stale,
			}}
		case "reward":
			var payload rewardPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.sendError("invalid reward payload")
				continue
			}
			if err := h.service.SelectReward(r.Context(), code, playerID, payload.Type); err != nil {
				c.sendError(err.Error())
			}
		case "hack":
			var payload hackPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.sendError("invalid hack payload")
				continue
			}
			result, err := h.service.AttemptHack(r.Context(), code, playerID, payload.TargetID, payload.Guess)
			if err != nil {
				c.sendError(err.Error())
				continue
			}
			c.send <- outboundMessage{Type: "hackResult", Payload: hackAck{
				Success:        result.Success,
				TargetShielded: result.TargetShielded,
				CreditsStolen:  result.CreditsStolen,
				FailureCount:   result.FailureCount,
				Hint:           result.Hint,
			}}
		case "leaderboard":
			h.sendLeaderboard(r.Context(), c, code)
		default:
			c.sendError("unsupported message type")
		}
	}
}

func (h *WSHandler) sendLeaderboard(ctx context.Context, c *connState, code string) {
	lb, err := h.service.Leaderboard(ctx, code)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.send <- outboundMessage{Type: "leaderboard", Payload: lb}
}

// connState owns the write side of one websocket: a single writer goroutine
// drains the send channel, and at most one bus subscription is pumped into it.
type connState struct {
	send         chan outboundMessage
	closeSignals chan struct{}
	writerDone   chan struct{}
	pumpDone     chan struct{}
	cancelSub    func()
}

func newConnState(conn *websocket.Conn) *connState {
	c := &connState{
		send:         make(chan outboundMessage, 16),
		closeSignals: make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	go func() {
		defer close(c.writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("ws write error: %v", err)
				}
				return
			}
		}
	}()
	return c
}

// attach subscribes the connection to its session topic and pumps bus events
// into the send channel. Re-attaching (a teacher creating a fresh session on
// the same connection) drops the previous subscription first.
func (c *connState) attach(events EventSource, code, recipientID string) {
	if c.cancelSub != nil {
		c.cancelSub()
		<-c.pumpDone
		c.cancelSub = nil
	}
	updates, cancel := events.Subscribe(code, recipientID)
	c.cancelSub = cancel
	c.pumpDone = make(chan struct{})
	go func() {
		defer close(c.pumpDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case c.send <- outboundMessage{Type: string(event.Type), Payload: event.Payload}:
				case <-c.closeSignals:
					return
				}
			case <-c.closeSignals:
				return
			}
		}
	}()
}

func (c *connState) sendError(message string) {
	c.send <- outboundMessage{Type: "error", Payload: errorPayload{Message: message}}
}

func (c *connState) shutdown() {
	close(c.closeSignals)
	if c.cancelSub != nil {
		c.cancelSub()
		<-c.pumpDone
	}
	close(c.send)
	<-c.writerDone
}
