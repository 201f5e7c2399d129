// Package http exposes the session service over HTTP JSON endpoints
// and a websocket sync channel.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"
)

// RESTHandler serves the request/response operations the sync layer and
// the UI call.
type RESTHandler struct {
	service *app.SessionService
}

func NewRESTHandler(service *app.SessionService) *RESTHandler {
	return &RESTHandler{service: service}
}

// Register attaches all routes to the mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /questions", h.getQuestionSet)
	mux.HandleFunc("GET /sessions/answers", h.getAnswers)
	mux.HandleFunc("POST /sessions/answers", h.recordAnswer)
	mux.HandleFunc("POST /verify", h.verifyAnswer)
	mux.HandleFunc("GET /votes", h.getVotes)
	mux.HandleFunc("POST /votes", h.castVote)
	mux.HandleFunc("POST /explanations/approve", h.approveExplanation)
	mux.HandleFunc("GET /points", h.getPoints)
}

func (h *RESTHandler) getQuestionSet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	set, err := h.service.QuestionSet(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, set)
}

func (h *RESTHandler) getAnswers(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	sessionID := r.URL.Query().Get("sessionId")
	if userID == "" || sessionID == "" {
		http.Error(w, "missing userId or sessionId", http.StatusBadRequest)
		return
	}
	answers, err := h.service.AnswersForSession(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, answers)
}

type recordAnswerRequest struct {
	UserID    string        `json:"userId"`
	SessionID string        `json:"sessionId"`
	Answer    domain.Answer `json:"answer"`
}

func (h *RESTHandler) recordAnswer(w http.ResponseWriter, r *http.Request) {
	var req recordAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.service.RecordAnswer(r.Context(), req.UserID, req.SessionID, req.Answer); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type verifyRequest struct {
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
	IsRetry    bool   `json:"isRetry"`
}

func (h *RESTHandler) verifyAnswer(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := h.service.VerifyAnswer(r.Context(), req.UserID, req.SessionID, req.QuestionID, req.Selected, req.IsRetry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

type voteRequest struct {
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
}

func (h *RESTHandler) castVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	tally, err := h.service.CastVote(r.Context(), req.UserID, req.QuestionID, req.Selected)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tally)
}

func (h *RESTHandler) getVotes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	questionID := r.URL.Query().Get("questionId")
	if userID == "" || questionID == "" {
		http.Error(w, "missing userId or questionId", http.StatusBadRequest)
		return
	}
	votes, err := h.service.CommunityVotes(r.Context(), userID, questionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, votes)
}

type approveRequest struct {
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
}

func (h *RESTHandler) approveExplanation(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	tally, err := h.service.ApproveExplanation(r.Context(), req.UserID, req.QuestionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tally)
}

func (h *RESTHandler) getPoints(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	total, err := h.service.TotalPoints(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int{"totalPoints": total})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrCatalogLoad):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNotVerifiable),
		errors.Is(err, domain.ErrInvalidOption):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
