package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"orator-go/internal/docstore"
	"orator-go/internal/events"
	"orator-go/internal/graph"
	"orator-go/internal/models"
	"orator-go/internal/storage"
)

// ErrProfileNotFound mirrors the graph sentinel so handlers can map either
// service's lookup failure to the same status.
var ErrProfileNotFound = graph.ErrProfileNotFound

const loginDateLayout = "2006-01-02"

// ProfileService manages user profile documents: the profile fields users
// edit themselves, the login streak, and the practice statistics. The
// relationship sets inside the profile belong to the graph service and are
// never written here, except when a profile is deleted outright.
type ProfileService interface {
	CreateOrUpdateProfile(ctx context.Context, profile *models.UserProfile) error
	GetProfile(ctx context.Context, uid string) (*models.UserProfile, error)
	ListProfiles(ctx context.Context) ([]*models.UserProfile, error)
	DeleteProfile(ctx context.Context, uid string) error

	UpdateProfilePicture(ctx context.Context, uid string, reader io.Reader, fileSize int64, fileName, mimeType string) (string, error)
	UpdateLoginStreak(ctx context.Context, uid string, now time.Time) (int64, error)
	AddSpeechSample(ctx context.Context, uid string, practiceType models.PracticeType, sample models.SpeechSample, successful bool) error

	ListenProfile(uid string, onChange func(*models.UserProfile), onError docstore.ErrorHandler) docstore.Subscription
}

type profileService struct {
	store docstore.Store
	files storage.FileStorage
}

// NewProfileService creates a ProfileService on top of the document store.
func NewProfileService(store docstore.Store, files storage.FileStorage) ProfileService {
	return &profileService{store: store, files: files}
}

// CreateOrUpdateProfile writes the user-editable profile fields. Existing
// relationship sets, streak and statistics are preserved; for a new UID the
// whole document is created.
func (s *profileService) CreateOrUpdateProfile(ctx context.Context, profile *models.UserProfile) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		ref := graph.ProfileRef(profile.UID)
		var existing models.UserProfile
		err := tx.Get(ref, &existing)
		if errors.Is(err, docstore.ErrNotFound) {
			fresh := models.NewUserProfile(profile.UID, profile.Name)
			fresh.Age = profile.Age
			fresh.Bio = profile.Bio
			fresh.ProfilePic = profile.ProfilePic
			return tx.Set(ref, fresh)
		}
		if err != nil {
			return err
		}
		return tx.Update(ref, map[string]interface{}{
			"name":       profile.Name,
			"age":        profile.Age,
			"bio":        profile.Bio,
			"profilePic": profile.ProfilePic,
		})
	})
}

// GetProfile returns one profile document.
func (s *profileService) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.store.Get(ctx, graph.ProfileRef(uid), &profile); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// ListProfiles returns every profile document.
func (s *profileService) ListProfiles(ctx context.Context) ([]*models.UserProfile, error) {
	docs, err := s.store.List(ctx, events.CollectionUserProfiles)
	if err != nil {
		return nil, err
	}
	profiles := make([]*models.UserProfile, 0, len(docs))
	for _, doc := range docs {
		var profile models.UserProfile
		if err := json.Unmarshal(doc.Data, &profile); err != nil {
			log.Printf("profiles: skipping malformed document %s: %v", doc.Ref.ID, err)
			continue
		}
		p := profile
		profiles = append(profiles, &p)
	}
	return profiles, nil
}

// DeleteProfile removes the profile and, in the same transaction, prunes
// every edge referencing it from the other side's sets, so the graph
// invariants hold after deletion.
func (s *profileService) DeleteProfile(ctx context.Context, uid string) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		ref := graph.ProfileRef(uid)
		var profile models.UserProfile
		if err := tx.Get(ref, &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		// Collect the distinct peers once; a UID may appear in several sets
		// only if the disjointness invariant was already broken, and pruning
		// all three sets repairs that too.
		peers := map[string]struct{}{}
		for _, set := range [][]string{profile.Friends, profile.SentReq, profile.RecReq} {
			for _, peer := range set {
				peers[peer] = struct{}{}
			}
		}

		for peer := range peers {
			peerRef := graph.ProfileRef(peer)
			var peerProfile models.UserProfile
			if err := tx.Get(peerRef, &peerProfile); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					continue
				}
				return err
			}
			if err := tx.Update(peerRef, map[string]interface{}{
				"friends": removeUID(peerProfile.Friends, uid),
				"sentReq": removeUID(peerProfile.SentReq, uid),
				"recReq":  removeUID(peerProfile.RecReq, uid),
			}); err != nil {
				return err
			}
		}

		tx.Delete(ref)
		return nil
	})
}

// UpdateProfilePicture stores the uploaded image and points the profile at
// its URL.
func (s *profileService) UpdateProfilePicture(ctx context.Context, uid string, reader io.Reader, fileSize int64, fileName, mimeType string) (string, error) {
	info, err := s.files.UploadFile(ctx, reader, fileSize, fileName, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to store profile picture: %w", err)
	}

	err = s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var profile models.UserProfile
		if err := tx.Get(graph.ProfileRef(uid), &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		return tx.Update(graph.ProfileRef(uid), map[string]interface{}{
			"profilePic": info.URL,
		})
	})
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// UpdateLoginStreak advances the consecutive-day login counter: a repeat
// login on the same calendar day changes nothing, a login on the following
// day increments, any gap resets the streak to 1. Returns the streak after
// the update.
func (s *profileService) UpdateLoginStreak(ctx context.Context, uid string, now time.Time) (int64, error) {
	var streak int64
	err := s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var profile models.UserProfile
		if err := tx.Get(graph.ProfileRef(uid), &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		today := now.Format(loginDateLayout)
		yesterday := now.AddDate(0, 0, -1).Format(loginDateLayout)

		switch profile.LastLoginDate {
		case today:
			streak = profile.CurrentStreak
			return nil
		case yesterday:
			streak = profile.CurrentStreak + 1
		default:
			streak = 1
		}
		return tx.Update(graph.ProfileRef(uid), map[string]interface{}{
			"currentStreak": streak,
			"lastLoginDate": today,
		})
	})
	if err != nil {
		return 0, err
	}
	return streak, nil
}

// AddSpeechSample records one practice session: bumps the session counters,
// appends the analyzer metrics to the rolling recent-data window and
// refreshes the improvement score.
func (s *profileService) AddSpeechSample(ctx context.Context, uid string, practiceType models.PracticeType, sample models.SpeechSample, successful bool) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var profile models.UserProfile
		if err := tx.Get(graph.ProfileRef(uid), &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		stats := profile.Statistics
		if stats.SessionsGiven == nil {
			stats.SessionsGiven = map[models.PracticeType]int64{}
		}
		if stats.SuccessfulSessions == nil {
			stats.SuccessfulSessions = map[models.PracticeType]int64{}
		}
		stats.SessionsGiven[practiceType]++
		if successful {
			stats.SuccessfulSessions[practiceType]++
		}

		previous := make([]float64, 0, len(stats.RecentData))
		for _, prior := range stats.RecentData {
			previous = append(previous, prior.SentimentScore)
		}
		stats.RecentData = append(stats.RecentData, sample)
		if len(stats.RecentData) > models.RecentDataLimit {
			stats.RecentData = stats.RecentData[len(stats.RecentData)-models.RecentDataLimit:]
		}
		if len(previous) > 0 {
			stats.Improvement = sample.SentimentScore - models.GetMetricMean(previous)
		}

		return tx.Update(graph.ProfileRef(uid), map[string]interface{}{
			"statistics": stats,
		})
	})
}

// ListenProfile delivers every committed state of one profile document.
func (s *profileService) ListenProfile(uid string, onChange func(*models.UserProfile), onError docstore.ErrorHandler) docstore.Subscription {
	var lastSeen int64
	return s.store.Listen(graph.ProfileRef(uid), func(evt events.ChangeEvent) {
		if evt.Kind != events.ChangeKindSet || evt.Version <= lastSeen {
			return
		}
		lastSeen = evt.Version
		var profile models.UserProfile
		if err := json.Unmarshal(evt.Data, &profile); err != nil {
			if onError != nil {
				onError(fmt.Errorf("decode profile change %s: %w", uid, err))
			}
			return
		}
		onChange(&profile)
	}, onError)
}

func removeUID(set []string, uid string) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		if v != uid {
			out = append(out, v)
		}
	}
	return out
}
