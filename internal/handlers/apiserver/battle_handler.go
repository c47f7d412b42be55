package apiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"orator-go/internal/battle"
	"orator-go/internal/graph"
	"orator-go/internal/middleware"
	"orator-go/internal/models"
)

// BattleHandler bundles the speech battle HTTP handlers.
type BattleHandler struct {
	coordinator battle.Coordinator
}

// NewBattleHandler creates a new BattleHandler.
func NewBattleHandler(c battle.Coordinator) *BattleHandler {
	return &BattleHandler{coordinator: c}
}

// CreateBattlePayload is the body for issuing a challenge.
type CreateBattlePayload struct {
	OpponentUID string                  `json:"opponentUid"`
	Context     models.InterviewContext `json:"interviewContext"`
}

// CreateBattleHandler handles POST /api/v1/battles
func (h *BattleHandler) CreateBattleHandler(w http.ResponseWriter, r *http.Request) {
	challenger, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload CreateBattlePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.OpponentUID == "" {
		writeJSONError(w, "missing opponentUid", http.StatusBadRequest)
		return
	}

	battleID, err := h.coordinator.Create(r.Context(), challenger, payload.OpponentUID, payload.Context)
	if err != nil {
		writeBattleError(w, "create battle", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]string{"battleId": battleID})
}

// GetBattleHandler handles GET /api/v1/battles/{battleId}
func (h *BattleHandler) GetBattleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	battleID := mux.Vars(r)["battleId"]
	b, err := h.coordinator.GetBattle(r.Context(), battleID)
	if err != nil {
		writeBattleError(w, "fetch battle", err)
		return
	}
	if _, isParticipant := b.SideOf(uid); !isParticipant {
		writeJSONError(w, "not a participant of this battle", http.StatusForbidden)
		return
	}
	writeJSONResponse(w, http.StatusOK, b)
}

// PendingBattlesHandler handles GET /api/v1/battles/pending
func (h *BattleHandler) PendingBattlesHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	pending, err := h.coordinator.PendingBattlesFor(r.Context(), uid)
	if err != nil {
		writeBattleError(w, "list pending battles", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, pending)
}

// RespondBattlePayload is the opponent's answer to a challenge.
type RespondBattlePayload struct {
	Accept bool `json:"accept"`
}

// RespondBattleHandler handles POST /api/v1/battles/{battleId}/respond
func (h *BattleHandler) RespondBattleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload RespondBattlePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	battleID := mux.Vars(r)["battleId"]
	if err := h.coordinator.Respond(r.Context(), battleID, uid, payload.Accept); err != nil {
		writeBattleError(w, "respond to battle", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "response recorded"})
}

// CancelBattleHandler handles POST /api/v1/battles/{battleId}/cancel
func (h *BattleHandler) CancelBattleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	battleID := mux.Vars(r)["battleId"]
	if err := h.coordinator.Cancel(r.Context(), battleID, uid); err != nil {
		writeBattleError(w, "cancel battle", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "battle cancelled"})
}

// SubmitTranscriptPayload is the body for submitting one side's answers.
type SubmitTranscriptPayload struct {
	Messages []models.TranscriptMessage `json:"messages"`
}

// SubmitTranscriptHandler handles POST /api/v1/battles/{battleId}/transcript
func (h *BattleHandler) SubmitTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload SubmitTranscriptPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	battleID := mux.Vars(r)["battleId"]
	if err := h.coordinator.SubmitTranscript(r.Context(), battleID, uid, payload.Messages); err != nil {
		writeBattleError(w, "submit transcript", err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "transcript submitted"})
}

// RetryEvaluationHandler handles POST /api/v1/battles/{battleId}/evaluate
func (h *BattleHandler) RetryEvaluationHandler(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["battleId"]
	if err := h.coordinator.RetryEvaluation(r.Context(), battleID); err != nil {
		writeBattleError(w, "retry evaluation", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "evaluation completed"})
}

// writeBattleError maps the coordinator's sentinel errors onto HTTP
// statuses.
func writeBattleError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, battle.ErrBattleNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, graph.ErrProfileNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, battle.ErrInvalidParticipants),
		errors.Is(err, battle.ErrEvaluationNotReady):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, battle.ErrUnknownParticipant):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, battle.ErrInvalidTransition):
		writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error during %s: %v", operation, err)
		writeJSONError(w, "operation failed", http.StatusInternalServerError)
	}
}
