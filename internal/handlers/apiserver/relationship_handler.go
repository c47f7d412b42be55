package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"orator-go/internal/graph"
	"orator-go/internal/middleware"
	"orator-go/internal/models"
)

// RelationshipHandler bundles the friend graph HTTP handlers.
type RelationshipHandler struct {
	graphService graph.Service
}

// NewRelationshipHandler creates a new RelationshipHandler.
func NewRelationshipHandler(gs graph.Service) *RelationshipHandler {
	return &RelationshipHandler{graphService: gs}
}

// SendRequestPayload is the body for sending a friend request.
type SendRequestPayload struct {
	TargetUID string `json:"targetUid"`
}

// SendRequestHandler handles POST /api/v1/friends/requests
func (h *RelationshipHandler) SendRequestHandler(w http.ResponseWriter, r *http.Request) {
	self, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload SendRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.TargetUID == "" {
		writeJSONError(w, "missing targetUid", http.StatusBadRequest)
		return
	}

	if err := h.graphService.SendRequest(r.Context(), self, payload.TargetUID); err != nil {
		writeGraphError(w, "send friend request", err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "friend request sent"})
}

// AcceptRequestHandler handles POST /api/v1/friends/requests/{uid}/accept
func (h *RelationshipHandler) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairOperation(w, r, h.graphService.AcceptRequest, "friend request accepted")
}

// DeclineRequestHandler handles POST /api/v1/friends/requests/{uid}/decline
func (h *RelationshipHandler) DeclineRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairOperation(w, r, h.graphService.DeclineRequest, "friend request declined")
}

// CancelRequestHandler handles DELETE /api/v1/friends/requests/{uid}
func (h *RelationshipHandler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairOperation(w, r, h.graphService.CancelRequest, "friend request cancelled")
}

// RemoveFriendHandler handles DELETE /api/v1/friends/{uid}
func (h *RelationshipHandler) RemoveFriendHandler(w http.ResponseWriter, r *http.Request) {
	h.pairOperation(w, r, h.graphService.RemoveFriend, "friend removed")
}

// pairOperation runs one two-user graph mutation where the counterparty UID
// comes from the URL.
func (h *RelationshipHandler) pairOperation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, self, other string) error, successMessage string) {
	self, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	other, ok := mux.Vars(r)["uid"]
	if !ok || other == "" {
		writeJSONError(w, "missing uid", http.StatusBadRequest)
		return
	}

	if err := op(r.Context(), self, other); err != nil {
		writeGraphError(w, successMessage, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": successMessage})
}

// FriendsHandler handles GET /api/v1/friends
func (h *RelationshipHandler) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	h.listRelated(w, r, h.graphService.Friends)
}

// SentRequestsHandler handles GET /api/v1/friends/requests/sent
func (h *RelationshipHandler) SentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	h.listRelated(w, r, h.graphService.SentRequests)
}

// ReceivedRequestsHandler handles GET /api/v1/friends/requests/received
func (h *RelationshipHandler) ReceivedRequestsHandler(w http.ResponseWriter, r *http.Request) {
	h.listRelated(w, r, h.graphService.ReceivedRequests)
}

func (h *RelationshipHandler) listRelated(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, uid string) ([]*models.UserBasicInfo, error)) {
	self, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	infos, err := list(r.Context(), self)
	if err != nil {
		writeGraphError(w, "list relationships", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, infos)
}

// writeGraphError maps the graph service's sentinel errors onto HTTP
// statuses.
func writeGraphError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, graph.ErrSelfRelation),
		errors.Is(err, graph.ErrNoSuchRequest),
		errors.Is(err, graph.ErrNotFriends):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, graph.ErrProfileNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, graph.ErrAlreadyFriends),
		errors.Is(err, graph.ErrRequestAlreadyPending),
		errors.Is(err, graph.ErrMutualRequestExists):
		writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error during %s: %v", operation, err)
		writeJSONError(w, "operation failed", http.StatusInternalServerError)
	}
}
