package http

import (
	"encoding/json"
	"log"
	"net/http"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler is the websocket sync channel: answer deltas flow in,
// acks, verification results, and vote tallies flow out.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
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
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
	Verified   bool   `json:"verified"`
	Correct    bool   `json:"correct"`
}

type verifyPayload struct {
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
	IsRetry    bool   `json:"isRetry"`
}

type votePayload struct {
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
}

type ackPayload struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the connection and wires it into the session use
// cases. The first frame sent is the server's answer set for the
// session so the client can run its restore merge.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	sessionID := r.URL.Query().Get("sessionId")
	if userID == "" || sessionID == "" {
		http.Error(w, "missing userId or sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	answers, err := h.service.AnswersForSession(r.Context(), userID, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// A single writer goroutine keeps concurrent writes off the conn.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "restored", Payload: answers}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			err := h.service.RecordAnswer(r.Context(), userID, sessionID, domain.Answer{
				QuestionID: payload.QuestionID,
				Selected:   payload.Selected,
				Verified:   payload.Verified,
				Correct:    payload.Correct,
			})
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "ack", Payload: ackPayload{QuestionID: payload.QuestionID}}
		case "verify":
			var payload verifyPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid verify payload"}}
				continue
			}
			result, err := h.service.VerifyAnswer(r.Context(), userID, sessionID, payload.QuestionID, payload.Selected, payload.IsRetry)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "verifyResult", Payload: result}
		case "vote":
			var payload votePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid vote payload"}}
				continue
			}
			tally, err := h.service.CastVote(r.Context(), userID, payload.QuestionID, payload.Selected)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "voteTally", Payload: tally}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(send)
	<-writerDone
}
