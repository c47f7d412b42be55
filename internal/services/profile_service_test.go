package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"orator-go/internal/docstore"
	"orator-go/internal/graph"
	"orator-go/internal/models"
	"orator-go/internal/storage"
)

// fakeFileStorage records the last upload and answers with a fixed URL.
type fakeFileStorage struct {
	lastFileName string
	lastMimeType string
	uploadErr    error
}

func (f *fakeFileStorage) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*storage.FileInfo, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return nil, err
	}
	f.lastFileName = fileName
	f.lastMimeType = mimeType
	return &storage.FileInfo{
		URL:      "/uploads/" + fileName,
		Path:     "/tmp/" + fileName,
		Size:     fileSize,
		MimeType: mimeType,
	}, nil
}

func newProfileFixture(t *testing.T, uids ...string) (ProfileService, *docstore.MemoryStore, *fakeFileStorage) {
	t.Helper()
	store := docstore.NewMemoryStore(8)
	for _, uid := range uids {
		if err := store.Set(context.Background(), graph.ProfileRef(uid), models.NewUserProfile(uid, "User "+uid)); err != nil {
			t.Fatalf("seed profile %s: %v", uid, err)
		}
	}
	files := &fakeFileStorage{}
	return NewProfileService(store, files), store, files
}

func mustGetProfile(t *testing.T, svc ProfileService, uid string) *models.UserProfile {
	t.Helper()
	profile, err := svc.GetProfile(context.Background(), uid)
	if err != nil {
		t.Fatalf("GetProfile %s: %v", uid, err)
	}
	return profile
}

func TestCreateOrUpdateProfileCreatesFresh(t *testing.T) {
	svc, _, _ := newProfileFixture(t)
	ctx := context.Background()

	err := svc.CreateOrUpdateProfile(ctx, &models.UserProfile{
		UID:  "alice",
		Name: "Alice",
		Age:  30,
		Bio:  "orator in training",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateProfile: %v", err)
	}

	profile := mustGetProfile(t, svc, "alice")
	if profile.Name != "Alice" || profile.Age != 30 || profile.Bio != "orator in training" {
		t.Errorf("profile fields wrong: %+v", profile)
	}
	if profile.Friends == nil || profile.Statistics.SessionsGiven == nil {
		t.Error("fresh profile missing initialized sets")
	}
}

func TestCreateOrUpdateProfilePreservesGraphAndStats(t *testing.T) {
	svc, store, _ := newProfileFixture(t, "alice", "bob")
	ctx := context.Background()

	// Put alice into a state only the graph and streak operations own.
	graphSvc := graph.NewService(store)
	if err := graphSvc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := graphSvc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if _, err := svc.UpdateLoginStreak(ctx, "alice", time.Now()); err != nil {
		t.Fatalf("UpdateLoginStreak: %v", err)
	}

	err := svc.CreateOrUpdateProfile(ctx, &models.UserProfile{
		UID:  "alice",
		Name: "Alice Renamed",
		Bio:  "new bio",
		// A hostile payload trying to smuggle graph edges in.
		Friends: []string{"mallory"},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateProfile: %v", err)
	}

	profile := mustGetProfile(t, svc, "alice")
	if profile.Name != "Alice Renamed" || profile.Bio != "new bio" {
		t.Errorf("editable fields not applied: %+v", profile)
	}
	if len(profile.Friends) != 1 || profile.Friends[0] != "bob" {
		t.Errorf("friend set not preserved: %v", profile.Friends)
	}
	if profile.CurrentStreak != 1 {
		t.Errorf("streak not preserved: %d", profile.CurrentStreak)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	svc, _, _ := newProfileFixture(t)
	if _, err := svc.GetProfile(context.Background(), "ghost"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("got %v, want ErrProfileNotFound", err)
	}
}

func TestListProfiles(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice", "bob", "carol")
	profiles, err := svc.ListProfiles(context.Background())
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 3 {
		t.Errorf("got %d profiles, want 3", len(profiles))
	}
}

func TestDeleteProfilePrunesPeerEdges(t *testing.T) {
	svc, store, _ := newProfileFixture(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	graphSvc := graph.NewService(store)

	// alice is bob's friend, has a request out to carol and one in from dave.
	if err := graphSvc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := graphSvc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := graphSvc.SendRequest(ctx, "alice", "carol"); err != nil {
		t.Fatal(err)
	}
	if err := graphSvc.SendRequest(ctx, "dave", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteProfile(ctx, "alice"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}

	if _, err := svc.GetProfile(ctx, "alice"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("deleted profile still readable: %v", err)
	}

	for _, uid := range []string{"bob", "carol", "dave"} {
		peer := mustGetProfile(t, svc, uid)
		for _, set := range [][]string{peer.Friends, peer.SentReq, peer.RecReq} {
			for _, member := range set {
				if member == "alice" {
					t.Errorf("%s still references deleted user: %+v", uid, peer)
				}
			}
		}
	}

	if err := svc.DeleteProfile(ctx, "alice"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("repeat delete: got %v, want ErrProfileNotFound", err)
	}
}

func TestUpdateProfilePicture(t *testing.T) {
	svc, _, files := newProfileFixture(t, "alice")
	ctx := context.Background()

	url, err := svc.UpdateProfilePicture(ctx, "alice", strings.NewReader("png bytes"), 9, "face.png", "image/png")
	if err != nil {
		t.Fatalf("UpdateProfilePicture: %v", err)
	}
	if url != "/uploads/face.png" {
		t.Errorf("got url %q", url)
	}
	if files.lastMimeType != "image/png" {
		t.Errorf("mime type not forwarded: %q", files.lastMimeType)
	}

	profile := mustGetProfile(t, svc, "alice")
	if profile.ProfilePic != url {
		t.Errorf("profile not updated: %q", profile.ProfilePic)
	}
}

func TestUpdateProfilePictureUploadFailure(t *testing.T) {
	svc, _, files := newProfileFixture(t, "alice")
	files.uploadErr = errors.New("disk full")

	if _, err := svc.UpdateProfilePicture(context.Background(), "alice", strings.NewReader("x"), 1, "face.png", "image/png"); err == nil {
		t.Fatal("expected upload error")
	}
	if pic := mustGetProfile(t, svc, "alice").ProfilePic; pic != "" {
		t.Errorf("failed upload must not touch the profile, got %q", pic)
	}
}

func TestUpdateLoginStreak(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice")
	ctx := context.Background()
	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	streak, err := svc.UpdateLoginStreak(ctx, "alice", day1)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if streak != 1 {
		t.Errorf("first login: got streak %d, want 1", streak)
	}

	// Same calendar day, later hour: unchanged.
	streak, err = svc.UpdateLoginStreak(ctx, "alice", day1.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("same-day login: %v", err)
	}
	if streak != 1 {
		t.Errorf("same-day login: got streak %d, want 1", streak)
	}

	// Next day: increments.
	streak, err = svc.UpdateLoginStreak(ctx, "alice", day1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next-day login: %v", err)
	}
	if streak != 2 {
		t.Errorf("next-day login: got streak %d, want 2", streak)
	}

	// A two-day gap resets.
	streak, err = svc.UpdateLoginStreak(ctx, "alice", day1.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("gap login: %v", err)
	}
	if streak != 1 {
		t.Errorf("gap login: got streak %d, want 1", streak)
	}

	if _, err := svc.UpdateLoginStreak(ctx, "ghost", day1); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("missing profile: got %v, want ErrProfileNotFound", err)
	}
}

func TestAddSpeechSampleCounters(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice")
	ctx := context.Background()

	sample := models.SpeechSample{Transcription: "hello", SentimentScore: 0.5, Pace: 120}
	if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, sample, true); err != nil {
		t.Fatalf("AddSpeechSample: %v", err)
	}
	if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, sample, false); err != nil {
		t.Fatalf("AddSpeechSample: %v", err)
	}
	if err := svc.AddSpeechSample(ctx, "alice", models.InterviewPractice, sample, true); err != nil {
		t.Fatalf("AddSpeechSample: %v", err)
	}

	stats := mustGetProfile(t, svc, "alice").Statistics
	if stats.SessionsGiven[models.SpeechPractice] != 2 || stats.SessionsGiven[models.InterviewPractice] != 1 {
		t.Errorf("sessionsGiven wrong: %v", stats.SessionsGiven)
	}
	if stats.SuccessfulSessions[models.SpeechPractice] != 1 || stats.SuccessfulSessions[models.InterviewPractice] != 1 {
		t.Errorf("successfulSessions wrong: %v", stats.SuccessfulSessions)
	}
	if len(stats.RecentData) != 3 {
		t.Errorf("got %d recent samples, want 3", len(stats.RecentData))
	}
}

func TestAddSpeechSampleImprovement(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice")
	ctx := context.Background()

	// First sample: no history, improvement stays zero.
	if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, models.SpeechSample{SentimentScore: 0.4}, true); err != nil {
		t.Fatal(err)
	}
	if got := mustGetProfile(t, svc, "alice").Statistics.Improvement; got != 0 {
		t.Errorf("improvement after first sample: got %v, want 0", got)
	}

	if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, models.SpeechSample{SentimentScore: 0.6}, true); err != nil {
		t.Fatal(err)
	}
	// 0.6 against a prior mean of 0.4.
	if got := mustGetProfile(t, svc, "alice").Statistics.Improvement; math.Abs(got-0.2) > 1e-9 {
		t.Errorf("improvement: got %v, want 0.2", got)
	}

	if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, models.SpeechSample{SentimentScore: 0.2}, false); err != nil {
		t.Fatal(err)
	}
	// 0.2 against a prior mean of (0.4+0.6)/2.
	if got := mustGetProfile(t, svc, "alice").Statistics.Improvement; math.Abs(got-(-0.3)) > 1e-9 {
		t.Errorf("improvement: got %v, want -0.3", got)
	}
}

func TestAddSpeechSampleRollingWindow(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice")
	ctx := context.Background()

	for i := 0; i < models.RecentDataLimit+5; i++ {
		sample := models.SpeechSample{Transcription: fmt.Sprintf("take %d", i)}
		if err := svc.AddSpeechSample(ctx, "alice", models.SpeechPractice, sample, true); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	recent := mustGetProfile(t, svc, "alice").Statistics.RecentData
	if len(recent) != models.RecentDataLimit {
		t.Fatalf("got %d recent samples, want %d", len(recent), models.RecentDataLimit)
	}
	if recent[0].Transcription != "take 5" {
		t.Errorf("oldest retained sample is %q, want take 5", recent[0].Transcription)
	}
	if recent[len(recent)-1].Transcription != fmt.Sprintf("take %d", models.RecentDataLimit+4) {
		t.Errorf("newest sample is %q", recent[len(recent)-1].Transcription)
	}
}

func TestListenProfileDeliversUpdates(t *testing.T) {
	svc, _, _ := newProfileFixture(t, "alice")
	ctx := context.Background()

	updates := make(chan *models.UserProfile, 16)
	sub := svc.ListenProfile("alice", func(p *models.UserProfile) {
		updates <- p
	}, nil)
	defer sub.Release()

	if _, err := svc.UpdateLoginStreak(ctx, "alice", time.Now()); err != nil {
		t.Fatalf("UpdateLoginStreak: %v", err)
	}

	select {
	case p := <-updates:
		if p.CurrentStreak != 1 {
			t.Errorf("got streak %d in update, want 1", p.CurrentStreak)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for profile update")
	}
}
