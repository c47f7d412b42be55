package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orator-go/internal/config"
	"orator-go/internal/middleware"
	"orator-go/internal/models"
	"orator-go/internal/services"
)

const defaultMaxMemory = 32 << 20 // max in-memory size for multipart forms

// ProfileHandler bundles the user profile HTTP handlers.
type ProfileHandler struct {
	profileService services.ProfileService
	storageCfg     config.StorageConfig
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(ps services.ProfileService, storageCfg config.StorageConfig) *ProfileHandler {
	return &ProfileHandler{profileService: ps, storageCfg: storageCfg}
}

// UpdateProfilePayload is the body for creating or updating one's profile.
type UpdateProfilePayload struct {
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
	Bio  string `json:"bio,omitempty"`
}

// GetMyProfileHandler handles GET /api/v1/users/me
func (h *ProfileHandler) GetMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}
	h.writeProfile(w, r, uid)
}

// GetProfileHandler handles GET /api/v1/users/{uid}
func (h *ProfileHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := mux.Vars(r)["uid"]
	if !ok || uid == "" {
		writeJSONError(w, "missing uid", http.StatusBadRequest)
		return
	}
	h.writeProfile(w, r, uid)
}

func (h *ProfileHandler) writeProfile(w http.ResponseWriter, r *http.Request, uid string) {
	profile, err := h.profileService.GetProfile(r.Context(), uid)
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			writeJSONError(w, "profile not found", http.StatusNotFound)
		} else {
			log.Printf("Error fetching profile %s: %v", uid, err)
			writeJSONError(w, "failed to fetch profile", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, profile)
}

// ListProfilesHandler handles GET /api/v1/users
func (h *ProfileHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profileService.ListProfiles(r.Context())
	if err != nil {
		log.Printf("Error listing profiles: %v", err)
		writeJSONError(w, "failed to list profiles", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, profiles)
}

// UpdateMyProfileHandler handles PUT /api/v1/users/me
func (h *ProfileHandler) UpdateMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload UpdateProfilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.Name == "" {
		writeJSONError(w, "name is required", http.StatusBadRequest)
		return
	}

	err := h.profileService.CreateOrUpdateProfile(r.Context(), &models.UserProfile{
		UID:  uid,
		Name: payload.Name,
		Age:  payload.Age,
		Bio:  payload.Bio,
	})
	if err != nil {
		log.Printf("Error updating profile %s: %v", uid, err)
		writeJSONError(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	h.writeProfile(w, r, uid)
}

// DeleteMyProfileHandler handles DELETE /api/v1/users/me
func (h *ProfileHandler) DeleteMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	if err := h.profileService.DeleteProfile(r.Context(), uid); err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			writeJSONError(w, "profile not found", http.StatusNotFound)
		} else {
			log.Printf("Error deleting profile %s: %v", uid, err)
			writeJSONError(w, "failed to delete profile", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "profile deleted"})
}

// UploadProfilePictureHandler handles POST /api/v1/users/me/picture
func (h *ProfileHandler) UploadProfilePictureHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	maxUploadSize := h.storageCfg.MaxFileSizeMB << 20
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxMemory
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSONError(w, fmt.Sprintf("file too large, limit is %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		}
		return
	}

	file, handler, err := r.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			writeJSONError(w, "missing 'file' field", http.StatusBadRequest)
		} else {
			writeJSONError(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	mimeType := handler.Header.Get("Content-Type")
	if handler.Size > maxUploadSize {
		writeJSONError(w, fmt.Sprintf("file too large, limit is %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}

	url, err := h.profileService.UpdateProfilePicture(r.Context(), uid, file, handler.Size, handler.Filename, mimeType)
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			writeJSONError(w, "profile not found", http.StatusNotFound)
			return
		}
		log.Printf("Error storing profile picture for %s: %v", uid, err)
		writeJSONError(w, "failed to store profile picture", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"profilePic": url})
}

// UpdateLoginStreakHandler handles POST /api/v1/users/me/streak
func (h *ProfileHandler) UpdateLoginStreakHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	streak, err := h.profileService.UpdateLoginStreak(r.Context(), uid, time.Now())
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			writeJSONError(w, "profile not found", http.StatusNotFound)
		} else {
			log.Printf("Error updating login streak for %s: %v", uid, err)
			writeJSONError(w, "failed to update login streak", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int64{"currentStreak": streak})
}

// AddSpeechSamplePayload is the body for recording one practice session.
type AddSpeechSamplePayload struct {
	PracticeType models.PracticeType `json:"practiceType"`
	Successful   bool                `json:"successful"`
	Sample       models.SpeechSample `json:"sample"`
}

// AddSpeechSampleHandler handles POST /api/v1/users/me/sessions
func (h *ProfileHandler) AddSpeechSampleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var payload AddSpeechSamplePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	switch payload.PracticeType {
	case models.SpeechPractice, models.InterviewPractice, models.NegotiationPractice:
	default:
		writeJSONError(w, "unknown practice type", http.StatusBadRequest)
		return
	}

	err := h.profileService.AddSpeechSample(r.Context(), uid, payload.PracticeType, payload.Sample, payload.Successful)
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			writeJSONError(w, "profile not found", http.StatusNotFound)
		} else {
			log.Printf("Error recording session for %s: %v", uid, err)
			writeJSONError(w, "failed to record session", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "session recorded"})
}
