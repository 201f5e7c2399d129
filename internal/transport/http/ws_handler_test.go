package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"exam-1": {
			ID: "exam-1",
			Questions: []domain.Question{
				{ID: "q1", Prompt: "Pick both", Options: []domain.Option{
					{Text: "a", Correct: true},
					{Text: "b"},
					{Text: "c", Correct: true},
				}},
			},
		},
	}
}

func newTestService() *app.SessionService {
	return app.NewSessionService(
		memory.NewStaticCatalog(sampleQuestionSets()),
		memory.NewAnswerRepository(),
		memory.NewPointLedger(),
		memory.NewVoteStore(),
	)
}

func TestWebSocketSyncFlow(t *testing.T) {
	service := newTestService()
	wsHandler := NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1&sessionId=exam-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The first frame is the server answer set for the restore merge.
	if typ, _ := readNext(t, conn); typ != "restored" {
		t.Fatalf("expected restored frame first, got %s", typ)
	}

	// Push an answer delta.
	writeMsg(t, conn, "answer", map[string]any{
		"questionId": "q1",
		"selected":   []int{0, 2},
	})
	typ, payload := readNext(t, conn)
	if typ != "ack" {
		t.Fatalf("expected ack, got %s: %s", typ, payload)
	}

	// Verify it.
	writeMsg(t, conn, "verify", map[string]any{
		"questionId": "q1",
		"selected":   []int{0, 2},
	})
	typ, payload = readNext(t, conn)
	if typ != "verifyResult" {
		t.Fatalf("expected verifyResult, got %s: %s", typ, payload)
	}
	var result struct {
		Correct       bool `json:"correct"`
		PointsAwarded int  `json:"pointsAwarded"`
		TotalPoints   int  `json:"totalPoints"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Correct || result.PointsAwarded != 1 || result.TotalPoints != 1 {
		t.Fatalf("unexpected verify result %+v", result)
	}

	// Cast a community vote.
	writeMsg(t, conn, "vote", map[string]any{
		"questionId": "q1",
		"selected":   []int{0},
	})
	typ, payload = readNext(t, conn)
	if typ != "voteTally" {
		t.Fatalf("expected voteTally, got %s: %s", typ, payload)
	}
	var tally domain.VoteTally
	if err := json.Unmarshal(payload, &tally); err != nil {
		t.Fatalf("decode tally: %v", err)
	}
	if tally.Counts["A"] != 1 || tally.TotalVotes != 1 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestWebSocketRejectsUnknownType(t *testing.T) {
	service := newTestService()
	wsHandler := NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1&sessionId=exam-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(t, conn) // restored

	writeMsg(t, conn, "bogus", map[string]any{})
	if typ, _ := readNext(t, conn); typ != "error" {
		t.Fatalf("expected error frame, got %s", typ)
	}
}

func writeMsg(t *testing.T, conn *websocket.Conn, msgType string, payload map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readNext(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}
